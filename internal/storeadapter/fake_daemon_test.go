package storeadapter

import (
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/nix-community/go-nix/pkg/wire"
)

// startFakeDaemon listens on a unix socket in t.TempDir() and answers the
// worker protocol handshake plus whatever handle supplies for each
// operation. It accepts connections until the test ends.
func startFakeDaemon(t *testing.T, handle func(conn net.Conn, op uint64), onConnect ...func()) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "daemon.socket")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if !serveFakeHandshake(conn) {
					return
				}
				for _, f := range onConnect {
					f()
				}
				for {
					op, err := wire.ReadUint64(conn)
					if err != nil {
						return
					}
					handle(conn, op)
				}
			}()
		}
	}()

	return socketPath
}

// startCountingFakeDaemon is startFakeDaemon plus a counter of completed
// handshakes, for tests that assert connections are pooled/reused rather
// than dialed fresh on every call.
func startCountingFakeDaemon(t *testing.T, connects *int32, handle func(conn net.Conn, op uint64)) string {
	t.Helper()
	return startFakeDaemon(t, handle, func() { atomic.AddInt32(connects, 1) })
}

func serveFakeHandshake(conn net.Conn) bool {
	const workerMagic1 uint64 = 0x6e697863
	const workerMagic2 uint64 = 0x6478696f
	const clientVersion uint64 = 0x115
	const stderrLast uint64 = 0x616c7473

	magic1, err := wire.ReadUint64(conn)
	if err != nil || magic1 != workerMagic1 {
		return false
	}
	if wire.WriteUint64(conn, workerMagic2) != nil {
		return false
	}
	if wire.WriteUint64(conn, clientVersion) != nil {
		return false
	}
	if _, err := wire.ReadUint64(conn); err != nil { // client version
		return false
	}
	if _, err := wire.ReadUint64(conn); err != nil { // cpu affinity
		return false
	}
	if _, err := wire.ReadUint64(conn); err != nil { // reserve space
		return false
	}
	return wire.WriteUint64(conn, stderrLast) == nil
}
