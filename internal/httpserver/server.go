// Package httpserver implements the request router (C7): path parsing,
// method/range/HEAD handling, content-type selection, and wiring the store
// adapter, NAR serializer, compressor, narinfo builder, and listing engine
// into streaming HTTP responses.
package httpserver

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/metrics"
	"github.com/nixcached/nixcached/internal/signing"
	"github.com/nixcached/nixcached/internal/storeadapter"
)

// Adapter is everything the router needs from the store: hash resolution
// and metadata lookup, file and directory access, and log retrieval. The
// concrete *storeadapter.Adapter satisfies it by combining a daemon
// connection pool with direct filesystem reads; tests can satisfy it with
// a fake backed only by a temp directory.
type Adapter interface {
	storeadapter.Queryable
	storeadapter.Listable
	storeadapter.LogFetchable
}

// Server holds everything request handlers need: the store adapter, the
// configured signing keys, and where to advertise store paths. It carries
// no mutable state and is safe for concurrent use across every worker.
type Server struct {
	log        *slog.Logger
	adapter    Adapter
	keys       []signing.Key
	metrics    metrics.Metrics
	virtualDir string
	priority   int
	version    string
}

// Config bundles the values New needs, named rather than positional since
// the list is long enough to make call sites error-prone otherwise.
type Config struct {
	Log        *slog.Logger
	Adapter    Adapter
	Keys       []signing.Key
	Metrics    metrics.Metrics
	VirtualDir string
	Priority   int
	Version    string
}

// New builds the top-level HTTP handler: an access-log wrapper around a
// hand-dispatched router, the same shape as the store's original nix
// endpoint dispatcher, extended with the listing and serve endpoints.
func New(cfg Config) http.Handler {
	s := &Server{
		log:        cfg.Log,
		adapter:    cfg.Adapter,
		keys:       cfg.Keys,
		metrics:    cfg.Metrics,
		virtualDir: cfg.VirtualDir,
		priority:   cfg.Priority,
		version:    cfg.Version,
	}
	return newAccessLog(s.log, http.HandlerFunc(s.route))
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path

	switch {
	case p == "/":
		s.handleRoot(w, r)
	case p == "/version":
		s.handleVersion(w, r)
	case p == "/nix-cache-info":
		s.handleNixCacheInfo(w, r)
	case strings.HasSuffix(p, ".narinfo"):
		s.handleNarinfo(w, r, hashPartOf(p))
	case strings.HasPrefix(p, "/nar/"):
		s.handleNar(w, r, strings.TrimPrefix(p, "/nar/"))
	case strings.HasSuffix(p, ".ls"):
		s.handleListing(w, r, hashPartOf(p))
	case strings.HasPrefix(p, "/log/"):
		s.handleLog(w, r, strings.TrimPrefix(p, "/log/"))
	case strings.HasPrefix(p, "/serve/"):
		s.handleServe(w, r, strings.TrimPrefix(p, "/serve/"))
	default:
		s.writeError(w, r, apierror.New(apierror.NotFound, "not found"))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("nixcached binary cache\n"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.version + "\n"))
}

// hashPartOf extracts the hash32 handle from a request path's basename,
// i.e. everything before the first ".".
func hashPartOf(urlPath string) string {
	base := path.Base(urlPath)
	if before, _, ok := strings.Cut(base, "."); ok {
		return before
	}
	return base
}
