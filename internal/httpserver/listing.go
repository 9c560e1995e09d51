package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/listing"
)

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request, hash32 string) {
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

	tree, err := listing.Build(ctx, s.adapter, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tree)
}
