package protocol

import (
	"bufio"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
)

type EventKind int

const (
	// EventMessage carries one fully reassembled application message.
	EventMessage EventKind = iota
	// EventPing carries the ping payload; the caller decides whether to
	// answer with Pong. There is no implicit auto-reply.
	EventPing
	// EventClosing means the peer sent a close frame.
	EventClosing
)

type Event struct {
	Kind EventKind
	Data []byte
}

// WebSock is one upgraded server-side websocket connection. The read
// side reassembles fragmented messages and routes control frames; the
// write side chunks payloads at the socket's measured send-buffer size.
// Reads and writes may run on different goroutines, but each side is
// single-goroutine only.
type WebSock struct {
	conn   net.Conn
	rd     *bufio.Reader
	wlock  sync.Mutex
	closed atomic.Bool

	frameLimit int64
	chunkLimit int
}

// NewServerSock upgrades conn and wraps it. chunkLimit 0 means "use the
// socket send-buffer size, or DefaultFrameLimit when it cannot be read".
func NewServerSock(conn net.Conn, frameLimit int64, chunkLimit int) (*WebSock, error) {
	if err := Upgrade(conn); err != nil {
		return nil, err
	}
	if frameLimit <= 0 {
		frameLimit = DefaultFrameLimit
	}
	if chunkLimit <= 0 {
		chunkLimit = sendBufferSize(conn)
	}
	if chunkLimit <= 0 {
		chunkLimit = DefaultFrameLimit
	}
	return &WebSock{
		conn:       conn,
		rd:         bufio.NewReader(conn),
		frameLimit: frameLimit,
		chunkLimit: chunkLimit,
	}, nil
}

// Next blocks until the next event. Message frames accumulate until one
// arrives with FIN set; pong frames are consumed silently.
func (ws *WebSock) Next() (Event, error) {
	var message []byte
	for {
		if ws.closed.Load() {
			return Event{}, ErrSocketReleased
		}

		frame, err := ReadFrame(ws.rd, ws.frameLimit)
		if err != nil {
			return Event{}, err
		}

		switch frame.Op {
		case OpText, OpBinary, OpContinuation:
			message = append(message, frame.Payload...)
			if frame.Fin {
				return Event{Kind: EventMessage, Data: message}, nil
			}
		case OpPing:
			return Event{Kind: EventPing, Data: frame.Payload}, nil
		case OpPong:
			// consumed
		case OpClose:
			return Event{Kind: EventClosing, Data: frame.Payload}, nil
		}
	}
}

// WriteMessage frames and sends one payload; last marks the end of the
// logical message so only its final chunk carries FIN.
func (ws *WebSock) WriteMessage(payload []byte, last bool) error {
	if ws.closed.Load() {
		return ErrSocketReleased
	}
	ws.wlock.Lock()
	defer ws.wlock.Unlock()
	_, err := WriteMessage(ws.conn, payload, ws.chunkLimit, last)
	return err
}

// Pong answers a ping, echoing its payload.
func (ws *WebSock) Pong(data []byte) error {
	if ws.closed.Load() {
		return ErrSocketReleased
	}
	ws.wlock.Lock()
	defer ws.wlock.Unlock()
	return WriteControl(ws.conn, OpPong, data)
}

// Close sends one close frame with status 1000 and closes the socket.
// Safe to call from any goroutine, any number of times.
func (ws *WebSock) Close() error {
	if !ws.closed.CompareAndSwap(false, true) {
		return nil
	}
	ws.wlock.Lock()
	status := binary.BigEndian.AppendUint16(nil, 1000)
	_ = WriteControl(ws.conn, OpClose, status)
	ws.wlock.Unlock()
	return ws.conn.Close()
}

// ChunkLimit reports the outbound chunking threshold in effect.
func (ws *WebSock) ChunkLimit() int {
	return ws.chunkLimit
}

func (ws *WebSock) RemoteAddr() net.Addr {
	return ws.conn.RemoteAddr()
}
