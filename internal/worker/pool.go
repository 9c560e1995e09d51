// Package worker implements the concurrency shell: a fixed-size pool of
// W workers sharing one listening socket, each multiplexing up to M
// connections in flight. It exists so the admission policy described in
// the resource model - bounded workers, bounded per-worker concurrency,
// prompt cancellation on disconnect - is enforced at the listener, not
// left to whatever net/http's defaults happen to be.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config sizes the pool.
type Config struct {
	Workers           int // W: number of acceptor/server goroutines
	MaxConnectionRate int // M: connections any one worker serves concurrently
}

// Defaults per the external interfaces config file.
const (
	DefaultWorkers           = 4
	DefaultMaxConnectionRate = 256
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxConnectionRate <= 0 {
		c.MaxConnectionRate = DefaultMaxConnectionRate
	}
	return c
}

// Pool fans connections accepted from a single listener out to W workers,
// each bounded to M concurrent connections; all workers serve through one
// shared *http.Server.
type Pool struct {
	cfg Config
	srv *http.Server
}

// New builds a pool that will serve handler once Serve is called.
func New(handler http.Handler, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg: cfg,
		srv: &http.Server{Handler: handler},
	}
}

// Serve accepts connections from ln, round-robins them across the worker
// pool, and blocks until ctx is cancelled or ln is closed. On return every
// in-flight connection has been given a chance to finish or has been
// dropped by Shutdown.
func (p *Pool) Serve(ctx context.Context, ln net.Listener) error {
	workers := make([]*boundedListener, p.cfg.Workers)
	for i := range workers {
		workers[i] = newBoundedListener(ln.Addr(), p.cfg.MaxConnectionRate)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatch(ln, workers) })
	for _, bl := range workers {
		bl := bl
		g.Go(func() error {
			err := p.srv.Serve(bl)
			if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-gctx.Done():
		case <-ctx.Done():
		}
		p.srv.Shutdown(context.Background())
		ln.Close()
		for _, bl := range workers {
			bl.shutdown()
		}
	}()

	err := g.Wait()
	<-done
	return err
}

// dispatch runs the single accept loop and hands each connection to the
// next worker in rotation, so a slow worker only ever delays connections
// it was itself given.
func dispatch(ln net.Listener, workers []*boundedListener) error {
	i := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			for _, bl := range workers {
				bl.fail(err)
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		workers[i%len(workers)].submit(conn)
		i++
	}
}

// boundedListener is a net.Listener whose Accept is fed by submit rather
// than a socket, and whose concurrency is capped by a semaphore released
// as each served connection closes - this is what keeps one worker from
// admitting more than M connections at once.
type boundedListener struct {
	addr   net.Addr
	sem    *semaphore.Weighted
	conns  chan net.Conn
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
	err    error
}

func newBoundedListener(addr net.Addr, maxConns int) *boundedListener {
	return &boundedListener{
		addr:  addr,
		sem:   semaphore.NewWeighted(int64(maxConns)),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

func (b *boundedListener) submit(conn net.Conn) {
	select {
	case b.conns <- conn:
	case <-b.done:
		conn.Close()
	}
}

func (b *boundedListener) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.shutdown()
}

func (b *boundedListener) shutdown() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
	})
}

func (b *boundedListener) Accept() (net.Conn, error) {
	if err := b.sem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	select {
	case conn := <-b.conns:
		return &releasingConn{Conn: conn, release: func() { b.sem.Release(1) }}, nil
	case <-b.done:
		b.sem.Release(1)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.err != nil {
			return nil, b.err
		}
		return nil, net.ErrClosed
	}
}

func (b *boundedListener) Close() error {
	b.shutdown()
	return nil
}

func (b *boundedListener) Addr() net.Addr { return b.addr }

// releasingConn returns its semaphore slot exactly once, whether the
// connection is closed by the client, by the handler, or by Shutdown.
type releasingConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *releasingConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
