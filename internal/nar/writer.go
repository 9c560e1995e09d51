// Package nar serializes a store path's filesystem subtree into the
// canonical Nix Archive (NAR) binary format: a sequence of length-prefixed
// string tokens, with directory entries in sorted order and file contents
// streamed straight from disk. See Writer for the full-stream encoder and
// WriteWindow for the range-restricted one.
package nar

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nixcached/nixcached/internal/apierror"
)

const magic = "nix-archive-1"

// padLen returns how many zero bytes pad n up to the next multiple of 8.
func padLen(n int64) int64 {
	if r := n % 8; r != 0 {
		return 8 - r
	}
	return 0
}

var zeroes [8]byte

// writeString emits a NAR string token: an 8-byte little-endian length,
// the raw bytes, and zero-padding to the next 8-byte boundary.
func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	if p := padLen(int64(len(s))); p > 0 {
		if _, err := w.Write(zeroes[:p]); err != nil {
			return err
		}
	}
	return nil
}

// Writer serializes a single store path subtree to w as a full NAR stream.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer that emits the NAR encoding of root to w. If
// tee is non-nil every byte written to w is also written to tee (used to
// compute narHash on the fly).
func NewWriter(w io.Writer, tee io.Writer) *Writer {
	out := w
	if tee != nil {
		out = io.MultiWriter(w, tee)
	}
	return &Writer{w: out}
}

// WriteTree serializes the filesystem tree rooted at root (an absolute,
// already-validated real path) as the NAR for a single store path. Symlinks
// are emitted as-is: their targets are recorded verbatim and never
// followed, per the NAR format's semantics.
func (nw *Writer) WriteTree(root string) error {
	if err := writeString(nw.w, magic); err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "write nar magic", err)
	}
	return nw.writeNode(root)
}

func (nw *Writer) writeNode(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "lstat", err)
	}

	if err := writeString(nw.w, "("); err != nil {
		return err
	}
	if err := writeString(nw.w, "type"); err != nil {
		return err
	}

	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		if err := nw.writeSymlink(path); err != nil {
			return err
		}
	case fi.IsDir():
		if err := nw.writeDirectory(path); err != nil {
			return err
		}
	case fi.Mode().IsRegular():
		if err := nw.writeRegular(path, fi); err != nil {
			return err
		}
	default:
		return apierror.New(apierror.Internal, fmt.Sprintf("unsupported file type at %s", path))
	}

	return writeString(nw.w, ")")
}

func (nw *Writer) writeSymlink(path string) error {
	target, err := os.Readlink(path)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "readlink", err)
	}
	for _, s := range []string{"symlink", "target", target} {
		if err := writeString(nw.w, s); err != nil {
			return apierror.Wrap(apierror.BackendUnavailable, "write symlink node", err)
		}
	}
	return nil
}

func (nw *Writer) writeRegular(path string, fi os.FileInfo) error {
	if err := writeString(nw.w, "regular"); err != nil {
		return err
	}
	if fi.Mode()&0o111 != 0 {
		if err := writeString(nw.w, "executable"); err != nil {
			return err
		}
		if err := writeString(nw.w, ""); err != nil {
			return err
		}
	}
	if err := writeString(nw.w, "contents"); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "open file", err)
	}
	defer f.Close()

	declared := fi.Size()
	if err := binary.Write(nw.w, binary.LittleEndian, uint64(declared)); err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "write file length", err)
	}
	n, err := io.Copy(nw.w, f)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "copy file contents", err)
	}
	if n != declared {
		return apierror.New(apierror.Internal, fmt.Sprintf("%s: declared size %d, read %d", path, declared, n))
	}
	if p := padLen(declared); p > 0 {
		if _, err := nw.w.Write(zeroes[:p]); err != nil {
			return apierror.Wrap(apierror.BackendUnavailable, "write padding", err)
		}
	}
	return nil
}

func (nw *Writer) writeDirectory(path string) error {
	if err := writeString(nw.w, "directory"); err != nil {
		return err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "readdir", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	for _, name := range names {
		if err := writeString(nw.w, "entry"); err != nil {
			return err
		}
		if err := writeString(nw.w, "("); err != nil {
			return err
		}
		if err := writeString(nw.w, "name"); err != nil {
			return err
		}
		if err := writeString(nw.w, name); err != nil {
			return err
		}
		if err := writeString(nw.w, "node"); err != nil {
			return err
		}
		if err := nw.writeNode(filepath.Join(path, name)); err != nil {
			return err
		}
		if err := writeString(nw.w, ")"); err != nil {
			return err
		}
	}
	return nil
}
