package protocol

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// client-side helpers for loopback tests

func clientUpgrade(t *testing.T, conn net.Conn) *bufio.Reader {
	t.Helper()
	req := "GET / HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err := conn.Write([]byte(req))
	require.Nil(t, err)

	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\n')
		require.Nil(t, err)
		if line == "\r\n" {
			return rd
		}
	}
}

func clientSend(t *testing.T, conn net.Conn, op Opcode, fin bool, payload []byte) {
	t.Helper()
	key := [4]byte{0x37, 0xFA, 0x21, 0x3D}
	masked := append([]byte(nil), payload...)
	Mask(key, masked)

	b0 := byte(op)
	if fin {
		b0 |= finBit
	}
	raw := []byte{b0}
	switch {
	case len(payload) < 126:
		raw = append(raw, byte(maskBit|len(payload)))
	default:
		raw = append(raw, maskBit|126, byte(len(payload)>>8), byte(len(payload)))
	}
	raw = append(raw, key[:]...)
	raw = append(raw, masked...)
	_, err := conn.Write(raw)
	require.Nil(t, err)
}

func newSockPair(t *testing.T) (*WebSock, net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()

	sockCh := make(chan *WebSock, 1)
	go func() {
		ws, err := NewServerSock(server, DefaultFrameLimit, 1024)
		assert.Nil(t, err)
		sockCh <- ws
	}()
	rd := clientUpgrade(t, client)
	ws := <-sockCh
	// Cleanups run LIFO: close the client end first so ws.Close's
	// close-frame write into the unread net.Pipe errors instead of
	// blocking forever.
	t.Cleanup(func() { ws.Close() })
	t.Cleanup(func() { client.Close() })
	return ws, client, rd
}

func TestWebSockMessage(t *testing.T) {
	ws, client, _ := newSockPair(t)

	go clientSend(t, client, OpBinary, true, []byte("hello scene"))

	ev, err := ws.Next()
	require.Nil(t, err)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, []byte("hello scene"), ev.Data)
}

func TestWebSockReassembly(t *testing.T) {
	ws, client, _ := newSockPair(t)

	go func() {
		clientSend(t, client, OpBinary, false, []byte("split "))
		clientSend(t, client, OpContinuation, false, []byte("across "))
		clientSend(t, client, OpContinuation, true, []byte("frames"))
	}()

	ev, err := ws.Next()
	require.Nil(t, err)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, []byte("split across frames"), ev.Data)
}

func TestWebSockPingSurfaced(t *testing.T) {
	ws, client, rd := newSockPair(t)

	go clientSend(t, client, OpPing, true, []byte("marco"))

	ev, err := ws.Next()
	require.Nil(t, err)
	require.Equal(t, EventPing, ev.Kind)
	assert.Equal(t, []byte("marco"), ev.Data)

	// the pong is the caller's job, never implicit
	go func() { assert.Nil(t, ws.Pong(ev.Data)) }()
	f, err := ReadFrame(rd, DefaultFrameLimit)
	require.Nil(t, err)
	assert.Equal(t, OpPong, f.Op)
	assert.Equal(t, []byte("marco"), f.Payload)
}

func TestWebSockPongConsumed(t *testing.T) {
	ws, client, _ := newSockPair(t)

	go func() {
		clientSend(t, client, OpPong, true, nil)
		clientSend(t, client, OpBinary, true, []byte("after pong"))
	}()

	ev, err := ws.Next()
	require.Nil(t, err)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, []byte("after pong"), ev.Data)
}

func TestWebSockClosing(t *testing.T) {
	ws, client, _ := newSockPair(t)

	go clientSend(t, client, OpClose, true, nil)

	ev, err := ws.Next()
	require.Nil(t, err)
	assert.Equal(t, EventClosing, ev.Kind)
}

func TestWebSockCloseIdempotent(t *testing.T) {
	ws, _, rd := newSockPair(t)

	done := make(chan struct{})
	go func() {
		// exactly one close frame, status 1000
		f, err := ReadFrame(rd, DefaultFrameLimit)
		assert.Nil(t, err)
		assert.Equal(t, OpClose, f.Op)
		assert.Equal(t, []byte{0x03, 0xE8}, f.Payload)
		close(done)
	}()

	assert.Nil(t, ws.Close())
	assert.Nil(t, ws.Close())
	<-done

	err := ws.WriteMessage([]byte("late"), true)
	assert.Equal(t, ErrSocketReleased, err)
}
