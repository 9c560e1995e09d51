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

// clipWriter walks the NAR byte stream the same way Writer does but only
// actually writes the bytes that fall inside [start, end) of the
// conceptual full stream; everything before start is skipped without being
// materialized (for file contents, via seek rather than read-and-discard).
type clipWriter struct {
	w          io.Writer
	start, end int64
	pos        int64
}

func (c *clipWriter) advance(n int64) (writeLo, writeHi int64) {
	segStart := c.pos
	c.pos += n
	lo := maxInt64(segStart, c.start)
	hi := minInt64(c.pos, c.end)
	if lo >= hi {
		return 0, 0
	}
	return lo - segStart, hi - segStart
}

func (c *clipWriter) writeBytes(b []byte) error {
	lo, hi := c.advance(int64(len(b)))
	if lo >= hi {
		return nil
	}
	_, err := c.w.Write(b[lo:hi])
	return err
}

func (c *clipWriter) writeString(s string) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	if err := c.writeBytes(lenBuf[:]); err != nil {
		return err
	}
	if err := c.writeBytes([]byte(s)); err != nil {
		return err
	}
	if p := padLen(int64(len(s))); p > 0 {
		if err := c.writeBytes(zeroes[:p]); err != nil {
			return err
		}
	}
	return nil
}

// writeFileContents advances the cursor past a file's content region
// (length prefix + bytes + padding), seeking in f and copying only the
// portion that overlaps the window.
func (c *clipWriter) writeFileContents(f *os.File, declared int64) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(declared))
	if err := c.writeBytes(lenBuf[:]); err != nil {
		return err
	}

	contentStart := c.pos
	c.pos += declared
	lo := maxInt64(contentStart, c.start)
	hi := minInt64(c.pos, c.end)
	if lo < hi {
		if _, err := f.Seek(lo-contentStart, io.SeekStart); err != nil {
			return apierror.Wrap(apierror.BackendUnavailable, "seek file", err)
		}
		if _, err := io.CopyN(c.w, f, hi-lo); err != nil {
			return apierror.Wrap(apierror.BackendUnavailable, "copy windowed file contents", err)
		}
	}

	if p := padLen(declared); p > 0 {
		if err := c.writeBytes(zeroes[:p]); err != nil {
			return err
		}
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// WriteWindow emits the [start, start+length) slice of root's full NAR
// stream to w, without materializing or re-transmitting bytes outside that
// range. File content outside the window is skipped via seek.
func WriteWindow(w io.Writer, root string, start, length int64) error {
	c := &clipWriter{w: w, start: start, end: start + length}
	if err := c.writeString(magic); err != nil {
		return err
	}
	return writeNodeWindowed(c, root)
}

func writeNodeWindowed(c *clipWriter, path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "lstat", err)
	}

	if err := c.writeString("("); err != nil {
		return err
	}
	if err := c.writeString("type"); err != nil {
		return err
	}

	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return apierror.Wrap(apierror.BackendUnavailable, "readlink", err)
		}
		for _, s := range []string{"symlink", "target", target} {
			if err := c.writeString(s); err != nil {
				return err
			}
		}
	case fi.IsDir():
		if err := writeDirectoryWindowed(c, path); err != nil {
			return err
		}
	case fi.Mode().IsRegular():
		if err := writeRegularWindowed(c, path, fi); err != nil {
			return err
		}
	default:
		return apierror.New(apierror.Internal, fmt.Sprintf("unsupported file type at %s", path))
	}

	return c.writeString(")")
}

func writeRegularWindowed(c *clipWriter, path string, fi os.FileInfo) error {
	if err := c.writeString("regular"); err != nil {
		return err
	}
	if fi.Mode()&0o111 != 0 {
		if err := c.writeString("executable"); err != nil {
			return err
		}
		if err := c.writeString(""); err != nil {
			return err
		}
	}
	if err := c.writeString("contents"); err != nil {
		return err
	}

	// Skip opening (and seeking in) the file entirely once the window has
	// been fully satisfied - a common case once a Range request's tail end
	// has been reached in a store path with many remaining files.
	if c.pos >= c.end {
		c.pos += 8 + fi.Size() + padLen(fi.Size())
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return apierror.Wrap(apierror.BackendUnavailable, "open file", err)
	}
	defer f.Close()
	return c.writeFileContents(f, fi.Size())
}

func writeDirectoryWindowed(c *clipWriter, path string) error {
	if err := c.writeString("directory"); err != nil {
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
		for _, s := range []string{"entry", "(", "name", name, "node"} {
			if err := c.writeString(s); err != nil {
				return err
			}
		}
		if err := writeNodeWindowed(c, filepath.Join(path, name)); err != nil {
			return err
		}
		if err := c.writeString(")"); err != nil {
			return err
		}
	}
	return nil
}
