package carbonara

import (
	"fmt"

	"github.com/InsightCenterNoodles/Carbonara/protocol"
)

// Emitter receives the envelopes a store produces. In a running server
// this is the outbound fan-out queue; tests plug in a recorder.
type Emitter interface {
	Emit(env Envelope)
}

// Component is one live replicated object. The handle is exclusively
// owned: whoever registered it must Close it exactly once, which fires
// the delete envelope synchronously. Nothing here relies on finalizers.
type Component struct {
	id      ObjectID
	content *Content
	list    *List
	cleanup func()
	closed  bool
}

func (c *Component) ID() ObjectID {
	return c.id
}

// Content returns the stored copy. Only the tick goroutine may touch it.
func (c *Component) Content() *Content {
	return c.content
}

// Patch merges delta into the stored content (delta wins) and emits an
// update envelope carrying exactly the delta plus the id. Calling Patch
// on an immutable category is a caller error and panics.
func (c *Component) Patch(delta *Content) {
	if c.list.msg.update == noUpdate {
		panic(fmt.Sprintf("carbonara: %s components are immutable", c.list.name))
	}
	if c.closed {
		panic("carbonara: patch on a closed component")
	}

	patch := delta.Clone()
	patch.Set(idKey, c.id)

	// Copy on write: in-flight envelopes and snapshots keep referencing
	// the previous table, which is never mutated again.
	merged := c.content.Clone()
	merged.Merge(patch)
	c.content = merged

	c.list.emit.Emit(Envelope{
		Batch: protocol.Batch{{Type: c.list.msg.update, Payload: patch}},
	})
}

// OnClose registers extra teardown run when the component is closed,
// e.g. removing a hosted asset.
func (c *Component) OnClose(fn func()) {
	c.cleanup = fn
}

// Close removes the component from its list, recycles the ID and emits
// the delete envelope. Idempotent.
func (c *Component) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	delete(c.list.active, c.id)
	c.list.order = removeID(c.list.order, c.id)
	c.list.alloc.Release(c.id)

	c.list.emit.Emit(Envelope{
		Batch: protocol.Batch{{Type: c.list.msg.delete, Payload: deletePayload{ID: c.id}}},
	})

	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
	return nil
}

type messageTriple struct {
	create uint32
	update uint32
	delete uint32
}

// List is the per-category component collection: the active map, the ID
// allocator and the category's message-type triple. All mutation happens
// on the tick goroutine.
type List struct {
	name   string
	msg    messageTriple
	alloc  Allocator
	active map[ObjectID]*Component
	order  []ObjectID
	emit   Emitter
}

func newList(name string, msg messageTriple, emit Emitter) *List {
	return &List{
		name:   name,
		msg:    msg,
		active: make(map[ObjectID]*Component),
		emit:   emit,
	}
}

func (l *List) Name() string {
	return l.name
}

func (l *List) Len() int {
	return len(l.active)
}

func (l *List) Lookup(id ObjectID) (*Component, bool) {
	c, ok := l.active[id]
	return c, ok
}

// Register stores an independent copy of content with the ID injected
// under the "id" key and emits the create envelope. The copy is
// mandatory: the caller keeps mutating its original while the outbound
// consumer serializes ours on another goroutine.
func (l *List) Register(content *Content) *Component {
	id := l.alloc.Allocate()

	stored := content.Clone()
	stored.Set(idKey, id)

	c := &Component{id: id, content: stored, list: l}
	l.active[id] = c
	l.order = append(l.order, id)

	l.emit.Emit(Envelope{
		Batch: protocol.Batch{{Type: l.msg.create, Payload: stored}},
	})
	return c
}

// snapshot appends one create pair per active component, in registration
// order, to the batch under construction.
func (l *List) snapshot(batch protocol.Batch) protocol.Batch {
	for _, id := range l.order {
		batch = batch.Append(l.msg.create, l.active[id].content)
	}
	return batch
}

func removeID(ids []ObjectID, id ObjectID) []ObjectID {
	for i, cur := range ids {
		if cur == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
