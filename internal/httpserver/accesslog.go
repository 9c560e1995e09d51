package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// accessLog wraps next so every response is logged with method, path,
// status, byte count, and duration - at info for 2xx/3xx/4xx, warn for
// 5xx, matching the error handling design's logging rule.
type accessLog struct {
	log  *slog.Logger
	next http.Handler
}

func newAccessLog(log *slog.Logger, next http.Handler) *accessLog {
	return &accessLog{log: log, next: next}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status        int
	size          int
	headerWritten bool
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if lrw.headerWritten {
		return
	}
	lrw.status = code
	lrw.headerWritten = true
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

func (a *accessLog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w}

	defer func() {
		dur := time.Since(start).Milliseconds()
		if rec := recover(); rec != nil {
			a.log.Error("panic serving request",
				slog.String("method", r.Method), slog.String("path", r.URL.Path),
				slog.Any("panic", rec), slog.Int("status", http.StatusInternalServerError), slog.Int64("ms", dur))
			if !lrw.headerWritten {
				http.Error(lrw, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		level := slog.LevelInfo
		if lrw.status >= 500 {
			level = slog.LevelWarn
		}
		a.log.Log(r.Context(), level, "request",
			slog.String("method", r.Method), slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", lrw.status), slog.Int("bytes", lrw.size), slog.Int64("ms", dur))
	}()

	a.next.ServeHTTP(lrw, r)
}
