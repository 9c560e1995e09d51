// Package daemon implements a client for the subset of the Nix daemon
// worker protocol a read-only binary cache needs: validity checks and path
// metadata lookups over the daemon's Unix socket. It never issues a
// mutating operation.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nix-community/go-nix/pkg/wire"
)

var noDeadline time.Time

// Client is a connection to a nix-daemon worker process. A Client is safe
// for concurrent use; operations are serialized on an internal mutex since
// the worker protocol multiplexes nothing over a single connection.
type Client struct {
	conn net.Conn
	r    io.Reader
	w    *bufio.Writer
	info *HandshakeInfo
	logs chan LogMessage
	mu   sync.Mutex
}

// ConnectOption configures a Client at connect time.
type ConnectOption func(*Client)

// WithLogChannel relays the daemon's build/substituter log lines onto ch.
// Messages are dropped rather than blocking if ch is unbuffered and nobody
// is reading.
func WithLogChannel(ch chan LogMessage) ConnectOption {
	return func(c *Client) { c.logs = ch }
}

// Connect dials socketPath and performs the worker protocol handshake.
func Connect(socketPath string, opts ...ConnectOption) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, &ProtocolError{Op: "connect", Err: err}
	}
	c, err := newClient(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func newClient(conn net.Conn, opts ...ConnectOption) (*Client, error) {
	c := &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.handshake(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	if err := wire.WriteUint64(c.w, workerMagic1); err != nil {
		return &ProtocolError{Op: "handshake write magic", Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return &ProtocolError{Op: "handshake flush", Err: err}
	}

	magic2, err := wire.ReadUint64(c.r)
	if err != nil {
		return &ProtocolError{Op: "handshake read magic", Err: err}
	}
	if magic2 != workerMagic2 {
		return &ProtocolError{Op: "handshake", Err: fmt.Errorf("unexpected magic %#x from daemon", magic2)}
	}

	daemonVersion, err := wire.ReadUint64(c.r)
	if err != nil {
		return &ProtocolError{Op: "handshake read version", Err: err}
	}

	if err := wire.WriteUint64(c.w, clientVersion); err != nil {
		return &ProtocolError{Op: "handshake write version", Err: err}
	}
	// Protocol >= 1.14 exchanges cpu affinity and reserved-space flags,
	// both of which this client declines.
	if err := wire.WriteUint64(c.w, 0); err != nil {
		return &ProtocolError{Op: "handshake write cpu-affinity", Err: err}
	}
	if err := wire.WriteUint64(c.w, 0); err != nil {
		return &ProtocolError{Op: "handshake write reserve-space", Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return &ProtocolError{Op: "handshake flush", Err: err}
	}

	// At this protocol version the daemon sends no version string; it ends
	// the handshake with a stderr stream, drained the same way a normal
	// operation's is.
	if err := ProcessStderr(c.r, c.logs); err != nil {
		return err
	}

	c.info = &HandshakeInfo{ProtocolVersion: daemonVersion}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Info returns the negotiated handshake information.
func (c *Client) Info() *HandshakeInfo { return c.info }

func (c *Client) lockForCtx(ctx context.Context) func() bool {
	c.mu.Lock()
	return context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
}

func (c *Client) release(cancel func() bool) {
	cancel()
	c.conn.SetDeadline(noDeadline)
	c.mu.Unlock()
}

// doOp serializes one request/response cycle: write the opcode, write the
// request body, flush, drain stderr, read the response body.
func (c *Client) doOp(ctx context.Context, op Operation, writeReq func(w io.Writer) error, readResp func(r io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cancel := c.lockForCtx(ctx)
	defer c.release(cancel)

	if err := wire.WriteUint64(c.w, uint64(op)); err != nil {
		return &ProtocolError{Op: op.String() + " write op", Err: err}
	}
	if writeReq != nil {
		if err := writeReq(c.w); err != nil {
			return &ProtocolError{Op: op.String() + " write request", Err: err}
		}
	}
	if err := c.w.Flush(); err != nil {
		return &ProtocolError{Op: op.String() + " flush", Err: err}
	}
	if err := ProcessStderr(c.r, c.logs); err != nil {
		return err
	}
	if readResp != nil {
		if err := readResp(c.r); err != nil {
			return &ProtocolError{Op: op.String() + " read response", Err: err}
		}
	}
	return nil
}

// IsValidPath reports whether path is a known, valid store path.
func (c *Client) IsValidPath(ctx context.Context, path string) (bool, error) {
	var valid bool
	err := c.doOp(ctx, OpIsValidPath,
		func(w io.Writer) error { return wire.WriteString(w, path) },
		func(r io.Reader) (err error) { valid, err = wire.ReadBool(r); return },
	)
	return valid, err
}

// QueryPathInfo retrieves metadata for path. A nil result with a nil error
// means the path is not known to the store.
func (c *Client) QueryPathInfo(ctx context.Context, path string) (*PathInfo, error) {
	var info *PathInfo
	err := c.doOp(ctx, OpQueryPathInfo,
		func(w io.Writer) error { return wire.WriteString(w, path) },
		func(r io.Reader) error {
			found, err := wire.ReadBool(r)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			info, err = ReadPathInfo(r, path)
			return err
		},
	)
	return info, err
}

// QueryPathFromHashPart looks up the full store path for a hash part. An
// empty result with a nil error means nothing in the store matches.
func (c *Client) QueryPathFromHashPart(ctx context.Context, hashPart string) (string, error) {
	var storePath string
	err := c.doOp(ctx, OpQueryPathFromHashPart,
		func(w io.Writer) error { return wire.WriteString(w, hashPart) },
		func(r io.Reader) (err error) { storePath, err = wire.ReadString(r, MaxStringSize); return },
	)
	return storePath, err
}

// QueryValidDerivers returns the derivations known to have produced path.
func (c *Client) QueryValidDerivers(ctx context.Context, path string) ([]string, error) {
	var derivers []string
	err := c.doOp(ctx, OpQueryValidDerivers,
		func(w io.Writer) error { return wire.WriteString(w, path) },
		func(r io.Reader) (err error) { derivers, err = ReadStrings(r, MaxStringSize); return },
	)
	return derivers, err
}

// QueryDerivationOutputMap returns a map from output name to store path for
// the derivation at drvPath.
func (c *Client) QueryDerivationOutputMap(ctx context.Context, drvPath string) (map[string]string, error) {
	var outputs map[string]string
	err := c.doOp(ctx, OpQueryDerivationOutputMap,
		func(w io.Writer) error { return wire.WriteString(w, drvPath) },
		func(r io.Reader) (err error) { outputs, err = ReadStringMap(r, MaxStringSize); return },
	)
	return outputs, err
}
