package httpserver

import (
	"crypto/sha256"
	"io"
	"net/http"
	"strconv"

	"github.com/nix-community/go-nix/pkg/nixbase32"
	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/compress"
	"github.com/nixcached/nixcached/internal/nar"
	"github.com/nixcached/nixcached/internal/narinfo"
	"github.com/nixcached/nixcached/internal/signing"
)

// defaultNarinfoCompression is the compression the narinfo's advertised URL
// names when a client has no opportunity to negotiate one (narinfo itself
// carries no Accept-Encoding). xz matches what fetchers have historically
// received from binary caches with compression enabled.
const defaultNarinfoCompression = compress.XZ

func (s *Server) handleNarinfo(w http.ResponseWriter, r *http.Request, hash32 string) {
	ctx := r.Context()

	p, found, err := s.adapter.ResolveHashPart(ctx, hash32)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, apierror.New(apierror.NotFound, "unknown store path"))
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

	// The daemon's own record of narHash is enough to answer a conditional
	// request without walking the store: a real change to the path's
	// contents also changes its registered hash.
	if etagMatches(r, weakETag(vpi.NarHashBase32)) {
		w.Header().Set("ETag", weakETag(vpi.NarHashBase32))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	root, err := s.adapter.RealPath(p, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	narHashB32, narSize, fileHashB32, fileSize, err := computeNarinfoHashes(root, defaultNarinfoCompression)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	refs := vpi.SortedReferenceBasenames()
	fp := signing.Fingerprint(p.Under(s.virtualDir), narHashB32, narSize, refs)
	sigs, err := signing.SignAll(s.keys, fp, vpi.Sigs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	deriverBasename := ""
	if !vpi.Deriver.IsZero() {
		deriverBasename = vpi.Deriver.Base()
	}

	info := &narinfo.Info{
		StorePath:          p,
		VirtualDir:         s.virtualDir,
		Compression:        defaultNarinfoCompression,
		NarHashBase32:      narHashB32,
		NarSize:            narSize,
		FileHashBase32:     fileHashB32,
		FileSize:           fileSize,
		ReferenceBasenames: refs,
		DeriverBasename:    deriverBasename,
		Sigs:               sigs,
		CA:                 vpi.CA,
	}

	body := info.Render()
	w.Header().Set("Content-Type", "text/x-nix-narinfo")
	w.Header().Set("ETag", weakETag(vpi.NarHashBase32))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		return
	}
	s.metrics.IncrementNarinfoRequests(ctx)
	io.WriteString(w, body)
}

// computeNarinfoHashes streams root's NAR through both a plaintext hasher
// and the compressor in one pass, so narHash/narSize (plaintext) and
// FileHash/FileSize (post-compression, per the accepted fetcher
// interpretation) always describe the exact bytes /nar/ would serve for
// the same path.
func computeNarinfoHashes(root string, method compress.Method) (narHashB32 string, narSize int64, fileHashB32 string, fileSize int64, err error) {
	plainHash := sha256.New()
	plainCount := &byteCounter{}
	compHash := sha256.New()
	compCount := &byteCounter{}

	cw, err := compress.NewWriter(io.MultiWriter(compHash, compCount), method)
	if err != nil {
		return "", 0, "", 0, apierror.Wrap(apierror.Internal, "create compressor", err)
	}

	nw := nar.NewWriter(io.MultiWriter(plainHash, plainCount, cw), nil)
	if err := nw.WriteTree(root); err != nil {
		return "", 0, "", 0, err
	}
	if err := cw.Close(); err != nil {
		return "", 0, "", 0, apierror.Wrap(apierror.Internal, "close compressor", err)
	}

	return nixbase32.EncodeToString(plainHash.Sum(nil)), plainCount.n,
		nixbase32.EncodeToString(compHash.Sum(nil)), compCount.n, nil
}

type byteCounter struct{ n int64 }

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func weakETag(narHashB32 string) string { return `W/"` + narHashB32 + `"` }

// etagMatches reports whether r's If-None-Match header names etag, per the
// weak-comparison rules conditional GETs use (a bare "*" always matches).
func etagMatches(r *http.Request, etag string) bool {
	inm := r.Header.Get("If-None-Match")
	return inm == "*" || inm == etag
}
