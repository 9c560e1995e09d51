package daemon

import (
	"io"

	"github.com/nix-community/go-nix/pkg/wire"
)

// PathInfo is the metadata the daemon returns for a valid store path via
// QueryPathInfo, in the order the worker protocol puts it on the wire.
type PathInfo struct {
	Path             string
	Deriver          string
	NarHash          string // "sha256:<base16>", as the daemon reports it
	References       []string
	RegistrationTime int64
	NarSize          int64
	Ultimate         bool
	Sigs             []string
	CA               string
}

// ReadPathInfo reads a QueryPathInfo response body. path is the store path
// that was queried, echoed back into the result since the daemon's wire
// format for this operation does not repeat it.
func ReadPathInfo(r io.Reader, path string) (*PathInfo, error) {
	info := &PathInfo{Path: path}

	deriver, err := wire.ReadString(r, MaxStringSize)
	if err != nil {
		return nil, err
	}
	info.Deriver = deriver

	narHash, err := wire.ReadString(r, MaxStringSize)
	if err != nil {
		return nil, err
	}
	info.NarHash = narHash

	refs, err := ReadStrings(r, MaxStringSize)
	if err != nil {
		return nil, err
	}
	info.References = refs

	regTime, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	info.RegistrationTime = int64(regTime)

	narSize, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	info.NarSize = int64(narSize)

	ultimate, err := wire.ReadBool(r)
	if err != nil {
		return nil, err
	}
	info.Ultimate = ultimate

	sigs, err := ReadStrings(r, MaxStringSize)
	if err != nil {
		return nil, err
	}
	info.Sigs = sigs

	ca, err := wire.ReadString(r, MaxStringSize)
	if err != nil {
		return nil, err
	}
	info.CA = ca

	return info, nil
}
