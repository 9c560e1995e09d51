package storeadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/storepath"
)

// validateSubpath checks each component of subpath: none may be "", ".",
// or "..". The caller still must confirm the final joined path stays under
// realStoreDir, since a component can itself be a symlink escaping it.
func validateSubpath(subpath []string) error {
	for _, c := range subpath {
		switch c {
		case "", ".", "..":
			return apierror.New(apierror.BadRequest, fmt.Sprintf("invalid path component %q", c))
		}
	}
	return nil
}

// RealPath resolves p and subpath to an absolute filesystem path under
// realStoreDir, rejecting traversal attempts before ever touching the
// filesystem. It does not resolve symlinks; see resolveSymlinks for that.
func (a *Adapter) RealPath(p storepath.Path, subpath []string) (string, error) {
	if err := validateSubpath(subpath); err != nil {
		return "", err
	}
	parts := append([]string{a.realStoreDir, p.Base()}, subpath...)
	full := filepath.Join(parts...)
	if !isUnder(full, a.realStoreDir) {
		return "", apierror.New(apierror.Forbidden, "path escapes store directory")
	}
	return full, nil
}

// OpenFile opens the regular file at p/subpath for reading, resolving
// symlinks encountered along the way per the containment policy. It returns
// the file and its declared size.
func (a *Adapter) OpenFile(ctx context.Context, p storepath.Path, subpath []string) (*os.File, int64, error) {
	real, err := a.resolveSymlinks(p, subpath)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(real)
	if os.IsNotExist(err) {
		return nil, 0, apierror.Wrap(apierror.NotFound, "open file", err)
	}
	if err != nil {
		return nil, 0, apierror.Wrap(apierror.BackendUnavailable, "open file", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apierror.Wrap(apierror.BackendUnavailable, "stat file", err)
	}
	if st.IsDir() {
		f.Close()
		return nil, 0, apierror.New(apierror.BadRequest, "path is a directory")
	}
	return f, st.Size(), nil
}

// Readdir lists the directory at p/subpath, in the order the filesystem
// returns entries. Callers needing the spec's lexicographic order sort the
// result themselves (the listing engine does; the NAR serializer reads the
// backing directory independently and sorts there too).
func (a *Adapter) Readdir(ctx context.Context, p storepath.Path, subpath []string) ([]DirEntry, error) {
	real, err := a.resolveSymlinks(p, subpath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(real)
	if os.IsNotExist(err) {
		return nil, apierror.Wrap(apierror.NotFound, "readdir", err)
	}
	if err != nil {
		return nil, apierror.Wrap(apierror.BackendUnavailable, "readdir", err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := KindRegular
		executable := false
		switch {
		case e.Type()&os.ModeSymlink != 0:
			kind = KindSymlink
		case e.IsDir():
			kind = KindDirectory
		default:
			info, err := e.Info()
			if err != nil {
				return nil, apierror.Wrap(apierror.BackendUnavailable, "stat entry", err)
			}
			executable = info.Mode()&0o111 != 0
		}
		out = append(out, DirEntry{Name: e.Name(), Kind: kind, Executable: executable})
	}
	return out, nil
}

// Readlink returns the raw target of the symlink at p/subpath, without
// following it.
func (a *Adapter) Readlink(ctx context.Context, p storepath.Path, subpath []string) (string, error) {
	real, err := a.RealPath(p, subpath)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(real)
	if os.IsNotExist(err) {
		return "", apierror.Wrap(apierror.NotFound, "readlink", err)
	}
	if err != nil {
		return "", apierror.Wrap(apierror.BackendUnavailable, "readlink", err)
	}
	return target, nil
}

// resolveSymlinks walks p/subpath component by component, following
// symlinks per the containment policy in §4.1: a relative target is followed
// as long as it stays under realStoreDir, an absolute target is followed
// only if it lies under realStoreDir, and anything else is Forbidden. Unlike filepath.EvalSymlinks, this never escapes the
// configured root even transiently.
func (a *Adapter) resolveSymlinks(p storepath.Path, subpath []string) (string, error) {
	if err := validateSubpath(subpath); err != nil {
		return "", err
	}

	base := filepath.Join(a.realStoreDir, p.Base())
	current := base

	const maxLinkDepth = 40
	links := 0

	for _, comp := range subpath {
		next := filepath.Join(current, comp)
		if !isUnder(next, a.realStoreDir) {
			return "", apierror.New(apierror.Forbidden, "path escapes store directory")
		}

		for {
			fi, err := os.Lstat(next)
			if os.IsNotExist(err) {
				return "", apierror.Wrap(apierror.NotFound, "stat path component", err)
			}
			if err != nil {
				return "", apierror.Wrap(apierror.BackendUnavailable, "stat path component", err)
			}
			if fi.Mode()&os.ModeSymlink == 0 {
				break
			}

			links++
			if links > maxLinkDepth {
				return "", apierror.New(apierror.Forbidden, "too many levels of symlinks")
			}

			target, err := os.Readlink(next)
			if err != nil {
				return "", apierror.Wrap(apierror.BackendUnavailable, "readlink", err)
			}

			if filepath.IsAbs(target) {
				if !isUnder(target, a.realStoreDir) {
					return "", apierror.New(apierror.Forbidden, "absolute symlink escapes store directory")
				}
				next = filepath.Clean(target)
			} else {
				next = filepath.Join(filepath.Dir(next), target)
				if !isUnder(next, a.realStoreDir) {
					return "", apierror.New(apierror.Forbidden, "symlink escapes store directory")
				}
			}
		}

		current = next
	}

	return current, nil
}

// isUnder reports whether path is equal to or lies within root.
func isUnder(path, root string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
