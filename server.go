package carbonara

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InsightCenterNoodles/Carbonara/assets"
	"github.com/InsightCenterNoodles/Carbonara/protocol"
	"github.com/InsightCenterNoodles/Carbonara/utils"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

// A dialer that opens TCP but never speaks gets this long to finish the
// handshake before the connection is dropped.
const handshakeTimeout = 10 * time.Second

var (
	ErrServerClosed   = errors.New("carbonara: server is closed")
	ErrAlreadyListens = errors.New("carbonara: server already listening")
)

type Options struct {
	// FrameLimit caps the decoded payload length of a single inbound
	// frame. A safety valve, not a protocol constant.
	FrameLimit int64
	// ChunkLimit overrides the measured socket send-buffer size used to
	// split outbound payloads. 0 means measure.
	ChunkLimit int
	// Queue depths.
	OutboundLimit int
	InboundLimit  int
	ClientLimit   int
	// WorkLimit bounds the scene-authority closures waiting for a tick.
	WorkLimit int
}

func (o *Options) SetDefaults() {
	if o.FrameLimit <= 0 {
		o.FrameLimit = protocol.DefaultFrameLimit
	}
	if o.OutboundLimit <= 0 {
		o.OutboundLimit = 1 << 12
	}
	if o.InboundLimit <= 0 {
		o.InboundLimit = 1 << 12
	}
	if o.ClientLimit <= 0 {
		o.ClientLimit = 256
	}
	if o.WorkLimit <= 0 {
		o.WorkLimit = 1 << 10
	}
}

// InvokeHandler receives message-type-1 payloads, untouched. The
// detailed semantics belong to the scene authority, not the engine.
type InvokeHandler func(from uuid.UUID, payload cbor.RawMessage)

// Server is the replication service: the accept loop, the client
// registry, the component world and the two dispatch queues. One fan-out
// goroutine serializes and routes every outbound envelope; one tick
// goroutine (RunTick, or the owner's own loop around TickOnce) applies
// inbound messages and is the only writer of world state.
type Server struct {
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	log      utils.Logger
	opts     Options
	world    *World
	registry *Registry
	metrics  *Metrics

	// every accepted conn, from Accept until its keepClient returns;
	// Close walks this so even a conn stuck mid-handshake unblocks
	conns *xsync.MapOf[string, net.Conn]

	outq *utils.Queue[Envelope]
	inq  *utils.Queue[InboundMessage]
	work *utils.Queue[func(*World)]

	onInvoke InvokeHandler

	lk       sync.Mutex
	listener net.Listener
}

func NewServer(log utils.Logger, opts Options, blobs assets.Host, reg prometheus.Registerer, onInvoke InvokeHandler) *Server {
	opts.SetDefaults()

	var metrics *Metrics
	if reg != nil {
		metrics = NewMetrics(reg)
	}

	s := &Server{
		done:     make(chan struct{}),
		log:      log,
		opts:     opts,
		registry: NewRegistry(metrics),
		metrics:  metrics,
		conns:    xsync.NewMapOf[string, net.Conn](),
		outq:     utils.NewQueue[Envelope](opts.OutboundLimit),
		inq:      utils.NewQueue[InboundMessage](opts.InboundLimit),
		work:     utils.NewQueue[func(*World)](opts.WorkLimit),
		onInvoke: onInvoke,
	}
	s.world = NewWorld(s, blobs)
	return s
}

func (s *Server) World() *World {
	return s.world
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Emit hands an envelope to the fan-out consumer. Implements Emitter;
// component lists call this from the tick goroutine.
func (s *Server) Emit(env Envelope) {
	if err := s.outq.Drain(context.Background(), env); err != nil {
		s.log.Warn("server: envelope after close", "err", err)
	}
}

// Listen binds addr and starts the accept loop plus the fan-out
// consumer. Returns once listening; ctx stops everything cooperatively.
func (s *Server) Listen(ctx context.Context, addr string) error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	s.lk.Lock()
	if s.listener != nil {
		s.lk.Unlock()
		return ErrAlreadyListens
	}
	config := net.ListenConfig{}
	listener, err := config.Listen(ctx, "tcp", addr)
	if err != nil {
		s.lk.Unlock()
		return err
	}
	s.listener = listener
	s.lk.Unlock()

	s.log.Info("server: listening", "addr", listener.Addr().String())

	s.wg.Add(2)
	go func() {
		s.keepListening(ctx, listener)
		s.wg.Done()
	}()
	go func() {
		s.keepFanout(ctx)
		s.wg.Done()
	}()

	// the accept loop and socket reads block in the kernel; closing the
	// sockets is what makes cancellation land
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return nil
}

// Addr reports the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) keepListening(ctx context.Context, listener net.Listener) {
	for !s.closed.Load() {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Error("server: accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			s.keepClient(ctx, conn)
			s.wg.Done()
		}()
	}
	s.log.Info("server: listener closed")
}

// keepClient owns one connection from handshake to teardown. A failed
// handshake drops just this connection attempt; the listener is
// unaffected.
func (s *Server) keepClient(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	s.conns.Store(addr, conn)
	defer s.conns.Delete(addr)
	if s.closed.Load() {
		_ = conn.Close()
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	sock, err := protocol.NewServerSock(conn, s.opts.FrameLimit, s.opts.ChunkLimit)
	if err != nil {
		s.log.Warn("server: handshake rejected", "remote", addr, "err", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	client := NewClient(sock, s.opts.ClientLimit, s.log)
	s.registry.Add(client)
	s.log.Info("server: client connected", "client", client.ID.String(), "remote", conn.RemoteAddr().String())

	writeErr := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		writeErr <- client.KeepWrite(ctx)
		s.wg.Done()
	}()

	readErr := client.KeepRead(ctx, s.inq)

	s.dropClient(client)
	werr := <-writeErr

	if readErr != nil && !errors.Is(readErr, utils.ErrClosed) && !errors.Is(readErr, context.Canceled) {
		s.log.Warn("server: client read failed", "client", client.ID.String(), "err", readErr)
	}
	if werr != nil && !errors.Is(werr, net.ErrClosed) &&
		!errors.Is(werr, protocol.ErrSocketReleased) && !errors.Is(werr, context.Canceled) {
		s.log.Warn("server: client write failed", "client", client.ID.String(), "err", werr)
	}
}

// dropClient removes the client from the registry and closes it. Any
// teardown path may get here first; later calls are no-ops.
func (s *Server) dropClient(client *Client) {
	if _, ok := s.registry.Remove(client.ID); ok {
		s.log.Info("server: client gone", "client", client.ID.String())
	}
	client.Close()
}

// keepFanout is the single consumer of the outbound queue. Each
// envelope's batch is serialized exactly once; the same bytes are then
// shared by every recipient queue. An encode failure drops that one
// envelope and the pipeline keeps running.
func (s *Server) keepFanout(ctx context.Context) {
	for !s.closed.Load() {
		env, err := s.outq.Feed(ctx)
		if err != nil {
			break
		}

		data, err := protocol.EncodeBatch(env.Batch)
		if err != nil {
			s.log.Error("server: envelope encode failed, dropping", "err", err)
			if s.metrics != nil {
				s.metrics.EnvelopesDropped.Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.EnvelopesOut.Inc()
		}

		if env.Target != nil {
			s.deliverTargeted(env, data)
			continue
		}
		s.deliverBroadcast(data)
	}
	s.log.Debug("server: fan-out consumer stopped")
}

func (s *Server) deliverTargeted(env Envelope, data []byte) {
	client, ok := s.registry.Lookup(*env.Target)
	if !ok {
		return
	}
	if env.Promote {
		// promote first: later broadcasts pass through this same
		// consumer, so the snapshot bytes still arrive ahead of them
		s.registry.Promote(client.ID)
	}
	s.push(client, data)
}

func (s *Server) deliverBroadcast(data []byte) {
	s.registry.RangeActive(func(client *Client) bool {
		s.push(client, data)
		return true
	})
}

// push enqueues without blocking: a client whose queue is full is too
// far behind to keep, and dropping it is how we keep one slow receiver
// from delaying everyone else.
func (s *Server) push(client *Client, data []byte) {
	if err := client.TrySend(data); err != nil {
		s.log.Warn("server: client queue rejected envelope", "client", client.ID.String(), "err", err)
		s.dropClient(client)
		return
	}
	if s.metrics != nil {
		s.metrics.BytesOut.Add(float64(len(data)))
	}
}

// Exec schedules fn onto the tick goroutine, the only place world state
// may be touched.
func (s *Server) Exec(fn func(w *World)) error {
	return s.work.Drain(context.Background(), fn)
}

// RunTick applies inbound messages and scheduled work until ctx ends.
// Run it on exactly one goroutine.
func (s *Server) RunTick(ctx context.Context) {
	for {
		if err := s.TickOnce(ctx); err != nil {
			return
		}
	}
}

// TickOnce blocks for the next unit of tick work and applies it: either
// one inbound client message or one scheduled scene-authority closure.
func (s *Server) TickOnce(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.inq.Done():
		return utils.ErrClosed
	case msg := <-s.inq.Items():
		s.handleInbound(msg)
		return nil
	case fn := <-s.work.Items():
		fn(s.world)
		return nil
	}
}

// handleInbound walks the pairs of one decoded transport message and
// dispatches by message-type number.
func (s *Server) handleInbound(msg InboundMessage) {
	pairs, err := protocol.DecodeBatch(msg.Data)
	if err != nil && len(pairs) == 0 {
		s.log.Warn("server: undecodable message", "client", msg.From.String())
		return
	}

	for _, pair := range pairs {
		if s.metrics != nil {
			s.metrics.MessagesIn.Inc()
		}
		switch pair.Type {
		case MsgIntroduce:
			s.handleIntroduce(msg.From, pair.Payload)
		case MsgInvoke:
			if s.onInvoke != nil {
				s.onInvoke(msg.From, pair.Payload)
			}
		default:
			s.log.Warn("server: unhandled message type", "type", pair.Type, "client", msg.From.String())
		}
	}
}

// handleIntroduce answers message type 0: one combined targeted envelope
// holding the full snapshot dump plus the ready marker, flagged to
// promote the client on delivery.
func (s *Server) handleIntroduce(from uuid.UUID, payload cbor.RawMessage) {
	var req introduceRequest
	if err := cbor.Unmarshal(payload, &req); err != nil {
		s.log.Warn("server: bad introduction payload", "client", from.String(), "err", err)
		return
	}

	if client, ok := s.registry.Lookup(from); ok {
		client.Name = req.ClientName
	}
	s.log.Info("server: client introduced", "client", from.String(), "name", req.ClientName)

	target := from
	batch := s.world.Snapshot().Append(MsgReady, true)
	s.Emit(Envelope{Batch: batch, Target: &target, Promote: true})
}

// Close shuts the service down: stop accepting, break every queue, close
// every client, wait for all goroutines. Idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.lk.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.lk.Unlock()

	_ = s.outq.Close()
	_ = s.inq.Close()
	_ = s.work.Close()

	s.registry.RangeActive(func(c *Client) bool {
		s.dropClient(c)
		return true
	})
	s.registry.pending.Range(func(_ uuid.UUID, c *Client) bool {
		s.dropClient(c)
		return true
	})
	// conns not yet past the handshake have no client to drop; closing
	// the raw socket is what unblocks their goroutine
	s.conns.Range(func(_ string, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})

	s.wg.Wait()
	s.log.Info("server: closed")
	return nil
}
