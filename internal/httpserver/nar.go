package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/compress"
	"github.com/nixcached/nixcached/internal/nar"
	"github.com/nixcached/nixcached/internal/rangeheader"
)

// handleNar serves GET/HEAD /nar/<handle><ext>, where ext is one of .nar,
// .nar.xz, .nar.zst and <handle> is what a narinfo URL carries: the store
// path's hash32, optionally followed by "-<name>". Only the part before the
// first "-" is used, resolved through ResolveHashPart; a narHash used as the
// handle is not resolved to a store path.
func (s *Server) handleNar(w http.ResponseWriter, r *http.Request, rest string) {
	ctx := r.Context()

	ext, method, ok := splitNarSuffix(rest)
	if !ok {
		s.writeError(w, r, apierror.New(apierror.BadRequest, "unrecognized nar suffix"))
		return
	}
	handle := strings.TrimSuffix(rest, ext)
	hash32, _, _ := strings.Cut(handle, "-")

	p, found, err := s.adapter.ResolveHashPart(ctx, hash32)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, apierror.New(apierror.NotFound, "unknown store path"))
		return
	}

	root, err := s.adapter.RealPath(p, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	vpi, found, err := s.adapter.QueryInfo(ctx, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, apierror.New(apierror.NotFound, "path not registered"))
		return
	}

	etag := weakETag(vpi.NarHashBase32)
	if etagMatches(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/x-nix-nar")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("ETag", etag)

	if method == compress.None {
		s.serveIdentityNar(w, r, root, vpi.NarSize)
		return
	}

	// Compressed output doesn't have a content length known in advance
	// without fully compressing it first; per the design's resolution,
	// HEAD omits Content-Length and the body (when requested) streams
	// chunked. Range requests are only honored against the identity
	// encoding.
	if r.Header.Get("Range") != "" {
		s.writeError(w, r, apierror.New(apierror.BadRequest, "range requests require the uncompressed .nar encoding"))
		return
	}
	if r.Method == http.MethodHead {
		return
	}

	cw, err := compress.NewWriter(w, method)
	if err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.Internal, "create compressor", err))
		return
	}
	nw := nar.NewWriter(cw, nil)
	if err := nw.WriteTree(root); err != nil {
		s.log.Warn("nar stream aborted", "path", r.URL.Path, "error", err)
		return
	}
	if err := cw.Close(); err != nil {
		s.log.Warn("nar stream flush failed", "path", r.URL.Path, "error", err)
		return
	}
	s.metrics.IncrementNarRequest(ctx, string(method), vpi.NarSize)
}

// serveIdentityNar handles the one encoding that supports Range: the plain
// NAR stream, whose total size is already known from the store's metadata.
func (s *Server) serveIdentityNar(w http.ResponseWriter, r *http.Request, root string, narSize int64) {
	specs, err := rangeheader.Parse(r.Header.Get("Range"))
	if err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.BadRequest, "malformed range header", err))
		return
	}

	if len(specs) == 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(narSize, 10))
		if r.Method == http.MethodHead {
			return
		}
		if err := nar.WriteWindow(w, root, 0, narSize); err != nil {
			s.log.Warn("nar stream aborted", "path", r.URL.Path, "error", err)
			return
		}
		s.metrics.IncrementNarRequest(r.Context(), "none", narSize)
		return
	}

	if len(specs) > 1 {
		s.writeError(w, r, apierror.New(apierror.BadRequest, "multiple ranges are not supported"))
		return
	}

	resolved, ok := specs[0].Resolve(narSize)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", narSize))
		s.writeError(w, r, apierror.New(apierror.RangeNotSatisfiable, "range out of bounds"))
		return
	}

	start := resolved.Start()
	length := resolved.End() - start + 1

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, resolved.End(), narSize))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if err := nar.WriteWindow(w, root, start, length); err != nil {
		s.log.Warn("nar range stream aborted", "path", r.URL.Path, "error", err)
		return
	}
	s.metrics.IncrementNarRequest(r.Context(), "none", length)
}

// splitNarSuffix identifies which of the three known NAR extensions rest
// ends with.
func splitNarSuffix(rest string) (ext string, method compress.Method, ok bool) {
	for _, ext := range []string{".nar.xz", ".nar.zst", ".nar"} {
		if strings.HasSuffix(rest, ext) {
			m, _ := compress.ParseSuffix(ext)
			return ext, m, true
		}
	}
	return "", "", false
}
