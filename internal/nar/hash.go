package nar

import (
	"crypto/sha256"
	"io"

	"github.com/nix-community/go-nix/pkg/nixbase32"
)

// countingWriter tallies bytes written without retaining them.
type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// ComputeHash streams root's full NAR encoding through a SHA-256
// accumulator without retaining any of the bytes, returning the resulting
// narHash (bare nix32 base-32, no "sha256:" prefix) and the exact byte
// count. The narinfo handler does not call it: it computes the same
// narHash/narSize, together with the compressed file hash, in a single pass
// of its own over a Writer.
func ComputeHash(root string) (hashBase32 string, size int64, err error) {
	h := sha256.New()
	count := &countingWriter{}
	w := NewWriter(io.MultiWriter(h, count), nil)
	if err := w.WriteTree(root); err != nil {
		return "", 0, err
	}
	return nixbase32.EncodeToString(h.Sum(nil)), count.n, nil
}
