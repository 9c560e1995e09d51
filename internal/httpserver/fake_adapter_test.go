package httpserver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/storeadapter"
	"github.com/nixcached/nixcached/internal/storepath"
)

// fakeAdapter backs the Adapter interface with an in-memory registry and a
// real temp directory for file content, so handler tests never need a live
// nix daemon.
type fakeAdapter struct {
	root  string // realStoreDir-equivalent
	paths map[string]storepath.Path
	infos map[string]*storeadapter.ValidPathInfo
	logs  map[string]string
}

func newFakeAdapter(root string) *fakeAdapter {
	return &fakeAdapter{
		root:  root,
		paths: make(map[string]storepath.Path),
		infos: make(map[string]*storeadapter.ValidPathInfo),
		logs:  make(map[string]string),
	}
}

func (f *fakeAdapter) register(p storepath.Path, info *storeadapter.ValidPathInfo) {
	f.paths[p.HashPart()] = p
	f.infos[p.HashPart()] = info
}

func (f *fakeAdapter) ResolveHashPart(ctx context.Context, hash32 string) (storepath.Path, bool, error) {
	p, ok := f.paths[hash32]
	return p, ok, nil
}

func (f *fakeAdapter) QueryInfo(ctx context.Context, p storepath.Path) (*storeadapter.ValidPathInfo, bool, error) {
	vpi, ok := f.infos[p.HashPart()]
	return vpi, ok, nil
}

func (f *fakeAdapter) RealPath(p storepath.Path, subpath []string) (string, error) {
	parts := append([]string{f.root, p.Base()}, subpath...)
	return filepath.Join(parts...), nil
}

func (f *fakeAdapter) OpenFile(ctx context.Context, p storepath.Path, subpath []string) (*os.File, int64, error) {
	full, err := f.RealPath(p, subpath)
	if err != nil {
		return nil, 0, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, apierror.New(apierror.NotFound, "not found")
		}
		return nil, 0, apierror.Wrap(apierror.Internal, "stat", err)
	}
	if fi.IsDir() {
		return nil, 0, apierror.New(apierror.BadRequest, "is a directory")
	}
	file, err := os.Open(full)
	if err != nil {
		return nil, 0, apierror.Wrap(apierror.Internal, "open", err)
	}
	return file, fi.Size(), nil
}

func (f *fakeAdapter) Readdir(ctx context.Context, p storepath.Path, subpath []string) ([]storeadapter.DirEntry, error) {
	full, err := f.RealPath(p, subpath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "readdir", err)
	}
	out := make([]storeadapter.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := storeadapter.KindRegular
		executable := false
		switch {
		case e.Type()&os.ModeSymlink != 0:
			kind = storeadapter.KindSymlink
		case e.IsDir():
			kind = storeadapter.KindDirectory
		default:
			fi, err := e.Info()
			if err == nil {
				executable = fi.Mode()&0o111 != 0
			}
		}
		out = append(out, storeadapter.DirEntry{Name: e.Name(), Kind: kind, Executable: executable})
	}
	return out, nil
}

func (f *fakeAdapter) Readlink(ctx context.Context, p storepath.Path, subpath []string) (string, error) {
	full, err := f.RealPath(p, subpath)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(full)
	if err != nil {
		return "", apierror.Wrap(apierror.Internal, "readlink", err)
	}
	return target, nil
}

func (f *fakeAdapter) BuildLog(ctx context.Context, drv storepath.Path) (io.ReadCloser, bool, error) {
	contents, ok := f.logs[drv.HashPart()]
	if !ok {
		return nil, false, nil
	}
	return io.NopCloser(strings.NewReader(contents)), true, nil
}
