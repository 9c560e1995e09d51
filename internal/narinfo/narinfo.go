// Package narinfo renders the narinfo text block (C6): adapter metadata,
// computed NAR hash/size, references, deriver, and signatures, combined
// into the field-ordered, omission-aware text format fetchers parse.
package narinfo

import (
	"fmt"
	"strings"

	"github.com/nixcached/nixcached/internal/compress"
	"github.com/nixcached/nixcached/internal/storepath"
)

// Info holds everything needed to render one narinfo response. Fields map
// directly onto the text format's lines; optional ones are omitted by
// Render rather than written blank.
type Info struct {
	StorePath   storepath.Path
	VirtualDir  string
	Compression compress.Method

	NarHashBase32 string // bare base-32, no "sha256:" prefix
	NarSize       int64

	FileHashBase32 string // compressed-stream hash, bare base-32; ignored if Compression == none
	FileSize       int64  // compressed-stream size; ignored if Compression == none

	ReferenceBasenames []string // sorted basenames, no store-dir prefix
	DeriverBasename    string   // "" if absent
	Sigs               []string // "name:base64", in the order to emit
	CA                 string   // "" if absent
}

// URL renders the narinfo's URL field: nar/<hash32>-<name>.nar[.ext]. The
// handle is the store path's own hash part rather than narHash, so that
// /nar/ can resolve it the same way every other endpoint does - through
// resolve_hash_part - without needing a separate narHash index.
func (i *Info) URL() string {
	ext := ""
	switch i.Compression {
	case compress.XZ:
		ext = ".xz"
	case compress.Zstd:
		ext = ".zst"
	}
	return fmt.Sprintf("nar/%s.nar%s", i.StorePath.Base(), ext)
}

// Render writes the narinfo text block in the exact field order and
// omission rules of the wire format: References/Deriver/CA are dropped
// entirely (not emitted blank) when absent, FileHash/FileSize are dropped
// when Compression is none, and Sig is repeated once per signature.
func (i *Info) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "StorePath: %s\n", i.StorePath.Under(i.VirtualDir))
	fmt.Fprintf(&b, "URL: %s\n", i.URL())
	fmt.Fprintf(&b, "Compression: %s\n", i.Compression)

	if i.Compression != compress.None {
		fmt.Fprintf(&b, "FileHash: sha256:%s\n", i.FileHashBase32)
		fmt.Fprintf(&b, "FileSize: %d\n", i.FileSize)
	}

	fmt.Fprintf(&b, "NarHash: sha256:%s\n", i.NarHashBase32)
	fmt.Fprintf(&b, "NarSize: %d\n", i.NarSize)

	if len(i.ReferenceBasenames) > 0 {
		fmt.Fprintf(&b, "References: %s\n", strings.Join(i.ReferenceBasenames, " "))
	}

	if i.DeriverBasename != "" {
		fmt.Fprintf(&b, "Deriver: %s\n", i.DeriverBasename)
	}

	for _, sig := range i.Sigs {
		fmt.Fprintf(&b, "Sig: %s\n", sig)
	}

	if i.CA != "" {
		fmt.Fprintf(&b, "CA: %s\n", i.CA)
	}

	return b.String()
}
