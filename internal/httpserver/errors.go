package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/nixcached/nixcached/internal/apierror"
)

// writeError renders err as the taxonomy's status code and a short text
// body, and logs it per the error handling design (info for 4xx, warn for
// 5xx; the underlying error's full text is logged, never sent to the
// client).
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierror.KindOf(err)
	status := kind.Status()

	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelWarn
	}
	s.log.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method), slog.String("path", r.URL.Path),
		slog.String("remote", r.RemoteAddr), slog.Int("status", status),
		slog.String("kind", kind.String()), slog.String("error", err.Error()))
	s.metrics.IncrementErrors(r.Context(), kind.String())

	http.Error(w, kind.String(), status)
}
