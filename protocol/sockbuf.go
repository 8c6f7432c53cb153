//go:build unix

package protocol

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// sendBufferSize reads SO_SNDBUF off the underlying socket. Best effort:
// returns 0 for non-TCP conns (pipes in tests) or on any sockopt error,
// and the caller falls back to the configured chunk limit.
func sendBufferSize(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0
	}

	size := 0
	_ = raw.Control(func(fd uintptr) {
		size, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	return size
}
