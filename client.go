package carbonara

import (
	"context"
	"errors"
	"net"

	"github.com/InsightCenterNoodles/Carbonara/protocol"
	"github.com/InsightCenterNoodles/Carbonara/utils"
	"github.com/google/uuid"
)

// InboundMessage is one raw decoded transport message waiting for the
// tick goroutine, tagged with its sender.
type InboundMessage struct {
	From uuid.UUID
	Data []byte
}

// Client is one connected observer: a socket, an outbound queue of
// pre-serialized envelope bytes, and a reader/writer goroutine pair.
// Reader and writer share no mutable state; they meet only through the
// queues. A stalled writer stalls this client alone.
type Client struct {
	ID   uuid.UUID
	Name string // set by the introduction handler before promotion

	sock *protocol.WebSock
	out  *utils.Queue[[]byte]
	log  utils.Logger
}

func NewClient(sock *protocol.WebSock, queueLimit int, log utils.Logger) *Client {
	return &Client{
		ID:   uuid.Must(uuid.NewV7()),
		sock: sock,
		out:  NewClientQueue(queueLimit),
		log:  log,
	}
}

func NewClientQueue(limit int) *utils.Queue[[]byte] {
	if limit <= 0 {
		limit = 256
	}
	return utils.NewQueue[[]byte](limit)
}

// Send enqueues pre-serialized bytes for this client's writer.
func (c *Client) Send(ctx context.Context, data []byte) error {
	return c.out.Drain(ctx, data)
}

// TrySend enqueues without blocking; ErrOverflow means the client fell
// too far behind.
func (c *Client) TrySend(data []byte) error {
	return c.out.TryDrain(data)
}

// KeepRead pumps the socket: messages go to the shared inbound queue,
// pings are answered with an explicit pong, a close frame or any
// transport fault ends the loop.
func (c *Client) KeepRead(ctx context.Context, inbound *utils.Queue[InboundMessage]) error {
	for {
		ev, err := c.sock.Next()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, protocol.ErrSocketReleased) {
				return nil
			}
			return err
		}

		switch ev.Kind {
		case protocol.EventMessage:
			if err := inbound.Drain(ctx, InboundMessage{From: c.ID, Data: ev.Data}); err != nil {
				return err
			}
		case protocol.EventPing:
			if err := c.sock.Pong(ev.Data); err != nil {
				return err
			}
		case protocol.EventClosing:
			return nil
		}
	}
}

// KeepWrite drains the outbound queue onto the socket, one complete
// logical message per item.
func (c *Client) KeepWrite(ctx context.Context) error {
	for {
		data, err := c.out.Feed(ctx)
		if err != nil {
			if errors.Is(err, utils.ErrClosed) {
				return nil
			}
			return err
		}
		if err := c.sock.WriteMessage(data, true); err != nil {
			return err
		}
	}
}

// Close tears the client down: queue first so the writer unblocks, then
// the socket so the reader unblocks. Idempotent.
func (c *Client) Close() {
	_ = c.out.Close()
	if c.sock != nil {
		_ = c.sock.Close()
	}
}
