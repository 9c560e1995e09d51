// Package signing loads signing keys and computes the detached ed25519
// signatures that narinfo responses are signed with, per §4.3.
package signing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nix-community/go-nix/pkg/narinfo/signature"
)

// Key is a single configured signing key: a name and the ed25519 secret key
// material backing it. Keys are loaded once at startup and shared read-only
// across every worker.
type Key struct {
	Name   string
	secret signature.SecretKey
}

// PublicKeyString renders the key's public half in the "name:base64" form
// clients expect in /nix-cache-info's PublicKey line.
func (k Key) PublicKeyString() string {
	return k.secret.ToPublicKey().String()
}

// Sign computes a detached signature over fingerprint using k's secret key,
// returning the "name:base64sig" string stored in a narinfo's Sig field.
func (k Key) Sign(fingerprint string) (string, error) {
	sig, err := k.secret.Sign(nil, fingerprint)
	if err != nil {
		return "", fmt.Errorf("sign fingerprint with key %q: %w", k.Name, err)
	}
	return sig.String(), nil
}

// LoadKeys reads one signing key per path. Each file holds a single line of
// the form "<name>:<base64-64-byte-secret>", trailing newline allowed - the
// exact format github.com/nix-community/go-nix/pkg/narinfo/signature.LoadSecretKey parses.
func LoadKeys(paths []string) ([]Key, error) {
	keys := make([]Key, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load signing key %q: %w", p, err)
		}
		secret, err := signature.LoadSecretKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("load signing key %q: %w", p, err)
		}
		keys = append(keys, Key{Name: secret.ToPublicKey().Name, secret: secret})
	}
	return keys, nil
}

// Fingerprint computes the exact byte sequence signed by cache keys:
//
//	1;<storepath>;sha256:<narHash-base32>;<narSize>;<ref1>,<ref2>,...
//
// narHashBase32 is passed without the "sha256:" prefix. References must already be in sorted order; an empty reference set yields
// a trailing empty field (the format ends in ";" with nothing after it).
func Fingerprint(storePath, narHashBase32 string, narSize int64, sortedReferences []string) string {
	var b strings.Builder
	b.WriteString("1;")
	b.WriteString(storePath)
	b.WriteByte(';')
	b.WriteString("sha256:")
	b.WriteString(narHashBase32)
	b.WriteByte(';')
	fmt.Fprintf(&b, "%d", narSize)
	b.WriteByte(';')
	b.WriteString(strings.Join(sortedReferences, ","))
	return b.String()
}

// SignAll signs fingerprint with every configured key and merges the result
// into existing, a set of pre-existing "name:base64" signatures from the
// backend. Duplicates by key name are collapsed, the freshly computed one
// winning. The result is not re-sorted; freshly computed signatures are
// appended after existing ones whose key name isn't being replaced, sorted
// as strings among themselves.
func SignAll(keys []Key, fingerprint string, existing []string) ([]string, error) {
	keep := existing[:0:0]
	replaced := make(map[string]bool, len(keys))
	for _, k := range keys {
		replaced[k.Name] = true
	}
	for _, sig := range existing {
		name, _, ok := strings.Cut(sig, ":")
		if ok && replaced[name] {
			continue
		}
		keep = append(keep, sig)
	}

	fresh := make([]string, 0, len(keys))
	for _, k := range keys {
		sig, err := k.Sign(fingerprint)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, sig)
	}
	sort.Strings(fresh)

	return append(keep, fresh...), nil
}
