package storeadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/nixcached/nixcached/internal/daemon"
)

// pool is a small fixed-size set of daemon connections. The path-info cache
// inside each connection is not a thing this client maintains at all -
// every RPC goes straight to the daemon, matching the no-caching discipline
// the rest of the server follows.
type pool struct {
	socketPath string

	mu    sync.Mutex
	conns []*daemon.Client
	sem   chan struct{}
}

func newPool(socketPath string, size int) (*pool, error) {
	if size < 1 {
		size = 1
	}
	p := &pool{
		socketPath: socketPath,
		sem:        make(chan struct{}, size),
	}
	// Fail fast if the daemon is unreachable at startup.
	c, err := daemon.Connect(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to nix daemon at %q: %w", socketPath, err)
	}
	p.conns = append(p.conns, c)
	return p, nil
}

// use borrows a connection for the duration of fn, serialized against the
// pool's concurrency cap. A connection broken by fn's error is dropped and
// replaced on the next use rather than reused in a possibly-corrupt state.
func (p *pool) use(ctx context.Context, fn func(*daemon.Client) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	c, err := p.acquire()
	if err != nil {
		return err
	}

	err = fn(c)
	if err != nil {
		c.Close()
		return err
	}

	p.release(c)
	return nil
}

func (p *pool) acquire() (*daemon.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.conns); n > 0 {
		c := p.conns[n-1]
		p.conns = p.conns[:n-1]
		return c, nil
	}
	return daemon.Connect(p.socketPath)
}

func (p *pool) release(c *daemon.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = append(p.conns, c)
}

func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.conns = nil
	return firstErr
}
