package httpserver

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/listing"
)

func (s *Server) handleServe(w http.ResponseWriter, r *http.Request, rest string) {
	ctx := r.Context()

	hash32, subpathStr, _ := strings.Cut(rest, "/")
	var subpath []string
	if subpathStr != "" {
		subpath = strings.Split(subpathStr, "/")
	}

	p, found, err := s.adapter.ResolveHashPart(ctx, hash32)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, apierror.New(apierror.NotFound, "unknown store path"))
		return
	}

	// Try as a regular file first; a BadRequest result (OpenFile refusing a
	// directory) means we should render it as one instead.
	f, size, err := s.adapter.OpenFile(ctx, p, subpath)
	if err == nil {
		defer f.Close()
		name := subpathStr
		if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
			name = name[idx+1:]
		}
		w.Header().Set("Content-Type", listing.ContentTypeForName(name))
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		io.Copy(w, f)
		return
	}
	if apierror.KindOf(err) != apierror.BadRequest {
		s.writeError(w, r, err)
		return
	}

	if listing.HasIndexHTML(ctx, s.adapter, p, subpath) {
		s.handleServe(w, r, rest+"/index.html")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listing.ServeDirectory(ctx, w, s.adapter, p, subpath); err != nil {
		s.writeError(w, r, err)
	}
}
