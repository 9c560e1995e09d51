// Package compress provides single-pass streaming compressors for NAR
// bodies: identity, xz, and zstd. None of them buffer the full plaintext.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Method names a compression scheme, matching the URL suffix and the
// narinfo Compression field's vocabulary.
type Method string

const (
	None Method = "none"
	XZ   Method = "xz"
	Zstd Method = "zstd"
)

// Ext returns the file extension a URL for this method carries, including
// the leading ".nar".
func (m Method) Ext() string {
	switch m {
	case XZ:
		return ".nar.xz"
	case Zstd:
		return ".nar.zst"
	default:
		return ".nar"
	}
}

// ParseSuffix maps a request path's trailing extension to a Method. ok is
// false if suffix names neither a known compression nor plain ".nar".
func ParseSuffix(suffix string) (Method, bool) {
	switch suffix {
	case ".nar":
		return None, true
	case ".nar.xz":
		return XZ, true
	case ".nar.zst":
		return Zstd, true
	default:
		return "", false
	}
}

// zstdLevelLow approximates the "level 8" the design calls for; the zstd
// package exposes named speed/ratio tiers rather than numbered levels.
const zstdLevelLow = zstd.SpeedBetterCompression

// NewWriter wraps dst in a streaming compressor for method. The returned
// WriteCloser's Close must be called to flush trailing frame data; it does
// not close dst.
func NewWriter(dst io.Writer, method Method) (io.WriteCloser, error) {
	switch method {
	case None:
		return nopCloser{dst}, nil
	case XZ:
		// ulikunitz/xz has no numbered preset levels; its default dictionary
		// size tracks what xz -6 would use, close enough to the "level 3"
		// the design calls for without hand-tuning LZMA parameters.
		w, err := xz.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("create xz writer: %w", err)
		}
		return w, nil
	case Zstd:
		w, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstdLevelLow))
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown compression method %q", method)
	}
}

// NewReader wraps src in a streaming decompressor for method, used to
// verify round-trips in tests and by downstream tooling, not in the serving
// path (the server only ever compresses).
func NewReader(src io.Reader, method Method) (io.Reader, error) {
	switch method {
	case None:
		return src, nil
	case XZ:
		return xz.NewReader(src)
	case Zstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown compression method %q", method)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
