//go:build !unix

package protocol

import "net"

func sendBufferSize(conn net.Conn) int {
	return 0
}
