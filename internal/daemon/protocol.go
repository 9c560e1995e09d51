package daemon

import (
	"fmt"
	"io"

	"github.com/nix-community/go-nix/pkg/wire"
)

// Protocol constants from the Nix daemon worker protocol. The client speaks
// enough of this protocol to query store path metadata and build logs; it
// never writes to the store, so operations like AddToStoreNar are not
// implemented here.
const (
	workerMagic1 uint64 = 0x6e697863 // "nixc"
	workerMagic2 uint64 = 0x6478696f // "dxio"

	clientVersion uint64 = 0x115 // protocol 1.21, matches modern nix-daemon

	// Framed stderr message tags.
	stderrNext       uint64 = 0x6f6c6d67 // "gmlo" reversed: next chunk of raw output
	stderrRead       uint64 = 0x64617461 // "atad" reversed: daemon wants input
	stderrWrite      uint64 = 0x64617416 // "\x16tad" reversed: daemon has output for a write request
	stderrLast       uint64 = 0x616c7473 // "stla" reversed: end of stderr stream
	stderrError      uint64 = 0x63787470 // "ptxc" reversed: error, message follows
	stderrStartActiv uint64 = 0x53545254 // "TRTS" reversed: structured activity start
	stderrStopActiv  uint64 = 0x53544f50 // "POTS" reversed: structured activity stop
	stderrResult     uint64 = 0x52534c54 // "TLSR" reversed: structured activity result
)

// MaxStringSize bounds any single string or byte blob read off the wire,
// guarding against a misbehaving or malicious daemon forcing unbounded
// allocation.
const MaxStringSize = 256 * 1024 * 1024

// Operation identifies a worker protocol RPC.
type Operation uint64

// Operations the client knows how to issue. Numeric values match the Nix
// daemon worker protocol; operations this client never calls (AddToStore,
// BuildPaths, ...) are intentionally omitted.
const (
	OpIsValidPath              Operation = 1
	OpQueryPathInfo            Operation = 26
	OpQueryPathFromHashPart    Operation = 29
	OpQueryValidDerivers       Operation = 33
	OpQueryDerivationOutputMap Operation = 41
	OpQueryMissing             Operation = 40
)

func (o Operation) String() string {
	switch o {
	case OpIsValidPath:
		return "IsValidPath"
	case OpQueryPathInfo:
		return "QueryPathInfo"
	case OpQueryPathFromHashPart:
		return "QueryPathFromHashPart"
	case OpQueryValidDerivers:
		return "QueryValidDerivers"
	case OpQueryDerivationOutputMap:
		return "QueryDerivationOutputMap"
	case OpQueryMissing:
		return "QueryMissing"
	default:
		return fmt.Sprintf("Operation(%d)", uint64(o))
	}
}

// ProtocolError reports a failure talking to the daemon: a malformed
// handshake, a connection drop mid-RPC, or a framing violation. It is
// distinct from DaemonError, which reports an error the daemon itself
// returned in band.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("nix daemon: %s: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// DaemonError is the structured error the daemon sends back in place of a
// normal response, surfaced via the stderr channel's STDERR_ERROR message.
type DaemonError struct {
	Message string
}

func (e *DaemonError) Error() string { return e.Message }

// HandshakeInfo records what the daemon told the client during the initial
// handshake.
type HandshakeInfo struct {
	ProtocolVersion uint64
	Nonce           string
}

// LogMessage is one line of build or substituter output relayed by the
// daemon while an operation is in flight.
type LogMessage struct {
	Text string
}

// ProcessStderr drains the framed stderr channel that follows every request
// on the wire, relaying raw text lines to logs (if non-nil) until it sees
// STDERR_LAST, and returning a *DaemonError if the daemon reports one.
// Structured activity frames (start/stop/result) are read and discarded:
// this client has no use for build progress reporting.
func ProcessStderr(r io.Reader, logs chan<- LogMessage) error {
	for {
		tag, err := wire.ReadUint64(r)
		if err != nil {
			return &ProtocolError{Op: "read stderr tag", Err: err}
		}

		switch tag {
		case stderrLast:
			return nil
		case stderrError:
			msg, err := wire.ReadString(r, MaxStringSize)
			if err != nil {
				return &ProtocolError{Op: "read stderr error message", Err: err}
			}
			// Newer protocol versions attach an exit status; discard it.
			if _, err := wire.ReadUint64(r); err != nil {
				return &ProtocolError{Op: "read stderr error status", Err: err}
			}
			return &DaemonError{Message: msg}
		case stderrNext:
			line, err := wire.ReadString(r, MaxStringSize)
			if err != nil {
				return &ProtocolError{Op: "read stderr line", Err: err}
			}
			if logs != nil {
				select {
				case logs <- LogMessage{Text: line}:
				default:
				}
			}
		case stderrRead, stderrWrite:
			return &ProtocolError{Op: "read stderr", Err: fmt.Errorf("unsupported interactive I/O frame %#x", tag)}
		case stderrStartActiv:
			if err := skipActivityStart(r); err != nil {
				return err
			}
		case stderrStopActiv:
			if _, err := wire.ReadUint64(r); err != nil {
				return &ProtocolError{Op: "read stderr activity stop", Err: err}
			}
		case stderrResult:
			if err := skipActivityResult(r); err != nil {
				return err
			}
		default:
			return &ProtocolError{Op: "read stderr", Err: fmt.Errorf("unknown frame tag %#x", tag)}
		}
	}
}

func skipActivityStart(r io.Reader) error {
	for _, read := range []func() error{
		func() (err error) { _, err = wire.ReadUint64(r); return }, // activity id
		func() (err error) { _, err = wire.ReadUint64(r); return }, // level
		func() (err error) { _, err = wire.ReadUint64(r); return }, // type
		func() (err error) { _, err = wire.ReadString(r, MaxStringSize); return }, // text
	} {
		if err := read(); err != nil {
			return &ProtocolError{Op: "read stderr activity start", Err: err}
		}
	}
	if err := skipFields(r); err != nil {
		return &ProtocolError{Op: "read stderr activity start", Err: err}
	}
	return nil
}

func skipActivityResult(r io.Reader) error {
	if _, err := wire.ReadUint64(r); err != nil { // activity id
		return &ProtocolError{Op: "read stderr activity result", Err: err}
	}
	if _, err := wire.ReadUint64(r); err != nil { // result type
		return &ProtocolError{Op: "read stderr activity result", Err: err}
	}
	if err := skipFields(r); err != nil {
		return &ProtocolError{Op: "read stderr activity result", Err: err}
	}
	return nil
}

// Activity field type tags, as carried in both STDERR_START_ACTIVITY and
// STDERR_RESULT frames.
const (
	fieldInt    uint64 = 0
	fieldString uint64 = 1
)

// skipFields consumes a length-prefixed array of typed activity fields
// (each an int or a string) without interpreting them.
func skipFields(r io.Reader) error {
	n, err := wire.ReadUint64(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		tag, err := wire.ReadUint64(r)
		if err != nil {
			return err
		}
		switch tag {
		case fieldInt:
			if _, err := wire.ReadUint64(r); err != nil {
				return err
			}
		case fieldString:
			if _, err := wire.ReadString(r, MaxStringSize); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown activity field type %#x", tag)
		}
	}
	return nil
}

// ReadStrings reads a length-prefixed array of length-prefixed strings, each
// bounded by maxLen.
func ReadStrings(r io.Reader, maxLen int) ([]string, error) {
	n, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := wire.ReadString(r, maxLen)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteStrings writes a length-prefixed array of length-prefixed strings.
func WriteStrings(w io.Writer, ss []string) error {
	if err := wire.WriteUint64(w, uint64(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := wire.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringMap reads a length-prefixed array of key/value string pairs.
func ReadStringMap(r io.Reader, maxLen int) (map[string]string, error) {
	n, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := wire.ReadString(r, maxLen)
		if err != nil {
			return nil, err
		}
		v, err := wire.ReadString(r, maxLen)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
