package carbonara

import (
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry tracks connected clients through their two-state lifecycle.
// A client is Pending from handshake until its introduction round trip
// completes, then Active and included in broadcast fan-out. Absent from
// both maps means gone. Accept, writer-failure and the fan-out consumer
// all touch these maps concurrently, hence xsync.
type Registry struct {
	pending *xsync.MapOf[uuid.UUID, *Client]
	active  *xsync.MapOf[uuid.UUID, *Client]
	metrics *Metrics
}

func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		pending: xsync.NewMapOf[uuid.UUID, *Client](),
		active:  xsync.NewMapOf[uuid.UUID, *Client](),
		metrics: metrics,
	}
}

// Add registers a freshly handshaken client as Pending.
func (r *Registry) Add(c *Client) {
	r.pending.Store(c.ID, c)
	if r.metrics != nil {
		r.metrics.ClientsPending.Inc()
	}
}

// Promote moves a Pending client to Active. It happens at most once per
// client, driven by the targeted envelope that carries the introduction
// response.
func (r *Registry) Promote(id uuid.UUID) (*Client, bool) {
	c, ok := r.pending.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.active.Store(id, c)
	if r.metrics != nil {
		r.metrics.ClientsPending.Dec()
		r.metrics.ClientsActive.Inc()
	}
	return c, true
}

// Lookup finds a client in either state.
func (r *Registry) Lookup(id uuid.UUID) (*Client, bool) {
	if c, ok := r.active.Load(id); ok {
		return c, true
	}
	return r.pending.Load(id)
}

// Remove drops a client from whichever map holds it and reports whether
// it was present. Safe to call twice; teardown paths race.
func (r *Registry) Remove(id uuid.UUID) (*Client, bool) {
	if c, ok := r.active.LoadAndDelete(id); ok {
		if r.metrics != nil {
			r.metrics.ClientsActive.Dec()
		}
		return c, true
	}
	if c, ok := r.pending.LoadAndDelete(id); ok {
		if r.metrics != nil {
			r.metrics.ClientsPending.Dec()
		}
		return c, true
	}
	return nil, false
}

// RangeActive visits every Active client; return false to stop.
func (r *Registry) RangeActive(fn func(c *Client) bool) {
	r.active.Range(func(_ uuid.UUID, c *Client) bool {
		return fn(c)
	})
}

func (r *Registry) ActiveCount() int {
	return r.active.Size()
}

func (r *Registry) PendingCount() int {
	return r.pending.Size()
}
