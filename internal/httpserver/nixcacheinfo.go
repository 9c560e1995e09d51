package httpserver

import (
	"fmt"
	"net/http"
)

func (s *Server) handleNixCacheInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-nix-cache-info")
	fmt.Fprintf(w, "StoreDir: %s\nWantMassQuery: 1\nPriority: %d\n", s.virtualDir, s.priority)
	for _, k := range s.keys {
		fmt.Fprintf(w, "PublicKey: %s\n", k.PublicKeyString())
	}
}
