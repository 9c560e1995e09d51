package httpserver

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/storepath"
)

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, drvBasename string) {
	drvBasename = filepath.Base(strings.TrimPrefix(filepath.Clean("/"+drvBasename), "/"))

	p, err := storepath.Parse(drvBasename)
	if err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.BadRequest, "malformed derivation path", err))
		return
	}

	rc, found, err := s.adapter.BuildLog(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, apierror.New(apierror.NotFound, "no log available"))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("log stream aborted", "path", r.URL.Path, "error", err)
	}
}
