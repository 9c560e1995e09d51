// Package storeadapter implements the store's capability surface (C1): hash
// resolution and metadata come from a pool of daemon connections, file
// content comes from direct reads under the real store directory.
package storeadapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/nix-community/go-nix/pkg/nixbase32"
	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/daemon"
	"github.com/nixcached/nixcached/internal/storepath"
)

// EntryKind classifies a directory entry's filesystem type.
type EntryKind int

const (
	KindRegular EntryKind = iota
	KindSymlink
	KindDirectory
)

// DirEntry is one entry returned by Readdir, in the order the backend
// reported it (callers that need lexicographic order sort explicitly).
type DirEntry struct {
	Name       string
	Kind       EntryKind
	Executable bool
}

// ValidPathInfo is the metadata the data model describes for a realized
// store path, translated from the daemon's wire representation into typed
// StorePaths.
type ValidPathInfo struct {
	Path             storepath.Path
	NarHashBase32    string
	NarSize          int64
	References       []storepath.Path
	Deriver          storepath.Path // IsZero() if absent
	Sigs             []string
	CA               string
	RegistrationTime int64
}

// SortedReferenceBasenames returns the references' "<hash32>-<name>" basenames in
// sorted order, as required by the fingerprint and the narinfo References
// field.
func (v *ValidPathInfo) SortedReferenceBasenames() []string {
	out := make([]string, len(v.References))
	for i, r := range v.References {
		out[i] = r.Base()
	}
	sort.Strings(out)
	return out
}

// Queryable resolves hashes to store paths and reads their metadata.
type Queryable interface {
	ResolveHashPart(ctx context.Context, hash32 string) (storepath.Path, bool, error)
	QueryInfo(ctx context.Context, p storepath.Path) (*ValidPathInfo, bool, error)
}

// Listable reads file content and directory structure under a store path.
type Listable interface {
	OpenFile(ctx context.Context, p storepath.Path, subpath []string) (*os.File, int64, error)
	Readdir(ctx context.Context, p storepath.Path, subpath []string) ([]DirEntry, error)
	Readlink(ctx context.Context, p storepath.Path, subpath []string) (string, error)
	RealPath(p storepath.Path, subpath []string) (string, error)
}

// LogFetchable streams a derivation's build log, if one is available.
type LogFetchable interface {
	BuildLog(ctx context.Context, drv storepath.Path) (io.ReadCloser, bool, error)
}

// Adapter implements Queryable, Listable, and LogFetchable by combining a
// pool of daemon connections (metadata, hash resolution) with direct
// filesystem access under realStoreDir (content). It is safe for concurrent
// use.
type Adapter struct {
	pool         *pool
	realStoreDir string
}

// New constructs an Adapter. socketPath is the nix-daemon Unix socket;
// poolSize bounds how many concurrent daemon RPCs are in flight at once.
func New(socketPath, realStoreDir string, poolSize int) (*Adapter, error) {
	p, err := newPool(socketPath, poolSize)
	if err != nil {
		return nil, err
	}
	return &Adapter{pool: p, realStoreDir: realStoreDir}, nil
}

// Close releases the daemon connection pool.
func (a *Adapter) Close() error { return a.pool.close() }

// ResolveHashPart looks up the store path whose hash part is hash32.
func (a *Adapter) ResolveHashPart(ctx context.Context, hash32 string) (storepath.Path, bool, error) {
	if err := storepath.ValidateHashPart(hash32); err != nil {
		return storepath.Path{}, false, apierror.Wrap(apierror.BadRequest, "malformed hash", err)
	}

	var full string
	err := a.pool.use(ctx, func(c *daemon.Client) error {
		s, err := c.QueryPathFromHashPart(ctx, hash32)
		full = s
		return err
	})
	if err != nil {
		return storepath.Path{}, false, apierror.Wrap(apierror.BackendUnavailable, "query path from hash part", err)
	}
	if full == "" {
		return storepath.Path{}, false, nil
	}

	p, err := storepath.Parse(baseName(full))
	if err != nil {
		return storepath.Path{}, false, apierror.Wrap(apierror.Internal, "daemon returned malformed store path", err)
	}
	return p, true, nil
}

// QueryInfo returns the metadata the daemon holds for p.
func (a *Adapter) QueryInfo(ctx context.Context, p storepath.Path) (*ValidPathInfo, bool, error) {
	var info *daemon.PathInfo
	err := a.pool.use(ctx, func(c *daemon.Client) error {
		i, err := c.QueryPathInfo(ctx, p.Under(a.realStoreDir))
		info = i
		return err
	})
	if err != nil {
		return nil, false, apierror.Wrap(apierror.BackendUnavailable, "query path info", err)
	}
	if info == nil {
		return nil, false, nil
	}

	vpi := &ValidPathInfo{
		Path:             p,
		NarHashBase32:    toBase32Hash(info.NarHash),
		NarSize:          info.NarSize,
		Sigs:             info.Sigs,
		CA:               info.CA,
		RegistrationTime: info.RegistrationTime,
	}
	for _, ref := range info.References {
		rp, err := storepath.Parse(baseName(ref))
		if err != nil {
			return nil, false, apierror.Wrap(apierror.Internal, "daemon returned malformed reference", err)
		}
		vpi.References = append(vpi.References, rp)
	}
	if info.Deriver != "" {
		dp, err := storepath.Parse(baseName(info.Deriver))
		if err != nil {
			return nil, false, apierror.Wrap(apierror.Internal, "daemon returned malformed deriver", err)
		}
		vpi.Deriver = dp
	}
	return vpi, true, nil
}

// BuildLog streams drv's build log, if the daemon's log store has one.
// There is no dedicated worker-protocol RPC for this in the subset this
// client speaks, so it falls back to the conventional per-derivation log path
// under the daemon's state directory; a missing file is reported as "no
// log available" rather than an error.
func (a *Adapter) BuildLog(ctx context.Context, drv storepath.Path) (io.ReadCloser, bool, error) {
	hash := drv.HashPart()
	logPath := fmt.Sprintf("%s/../var/log/nix/drvs/%s/%s-%s.bz2", a.realStoreDir, hash[:2], hash[2:], drv.Name())
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierror.Wrap(apierror.BackendUnavailable, "open build log", err)
	}
	return f, true, nil
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// toBase32Hash normalizes a daemon-reported "sha256:<hex|base32>" hash into
// its bare nix32 base-32 digest. Older daemon protocol versions report
// narHash in hex; this adapter always emits the base-32 form the narinfo
// grammar expects.
func toBase32Hash(s string) string {
	const prefix = "sha256:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		s = s[len(prefix):]
	}
	if len(s) == 64 {
		if raw, err := hex.DecodeString(s); err == nil {
			return nixbase32.EncodeToString(raw)
		}
	}
	return s
}
