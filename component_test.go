package carbonara

import (
	"testing"

	"github.com/InsightCenterNoodles/Carbonara/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects emitted envelopes so tests can inspect them without
// a running pipeline.
type recorder struct {
	envs []Envelope
}

func (r *recorder) Emit(env Envelope) {
	r.envs = append(r.envs, env)
}

func (r *recorder) last(t *testing.T) Envelope {
	t.Helper()
	require.NotEmpty(t, r.envs)
	return r.envs[len(r.envs)-1]
}

func TestRegisterEmitsCreate(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)

	c := w.Entities.Register(Pairs("name", "root"))
	require.Len(t, rec.envs, 1)

	env := rec.envs[0]
	assert.Nil(t, env.Target)
	assert.False(t, env.Promote)
	require.Len(t, env.Batch, 1)
	assert.Equal(t, MsgEntityCreate, env.Batch[0].Type)

	content := env.Batch[0].Payload.(*Content)
	id, ok := content.Get(idKey)
	require.True(t, ok)
	assert.Equal(t, c.ID(), id)
	name, _ := content.Get("name")
	assert.Equal(t, "root", name)
}

func TestRegisterCopiesContent(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)

	original := Pairs("a", 1)
	c := w.Entities.Register(original)

	// the producing side keeps mutating its own map afterwards
	original.Set("a", 99)
	original.Set("b", 2)

	got, _ := c.Content().Get("a")
	assert.Equal(t, 1, got)
	_, ok := c.Content().Get("b")
	assert.False(t, ok)
}

func TestPatchSemantics(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)

	c := w.Materials.Register(Pairs("a", 1, "b", 2))
	c.Patch(Pairs("b", 3, "c", 4))

	// stored content is the merge, delta wins
	for key, want := range map[string]any{"a": 1, "b": 3, "c": 4} {
		got, ok := c.Content().Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	// the update envelope carries exactly the delta plus the id
	env := rec.last(t)
	require.Len(t, env.Batch, 1)
	assert.Equal(t, MsgMaterialUpdate, env.Batch[0].Type)
	patch := env.Batch[0].Payload.(*Content)
	assert.ElementsMatch(t, []string{"b", "c", idKey}, patch.Keys())
	b, _ := patch.Get("b")
	assert.Equal(t, 3, b)
}

func TestPatchImmutableCategoryPanics(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)

	c := w.Geometries.Register(Pairs("verts", 3))
	assert.Panics(t, func() { c.Patch(Pairs("verts", 4)) })
}

func TestCloseEmitsDeleteOnce(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)

	c := w.Entities.Register(Pairs("name", "doomed"))
	id := c.ID()

	require.Nil(t, c.Close())
	require.Nil(t, c.Close()) // idempotent

	require.Len(t, rec.envs, 2) // create + exactly one delete
	env := rec.envs[1]
	assert.Equal(t, MsgEntityDelete, env.Batch[0].Type)
	assert.Equal(t, deletePayload{ID: id}, env.Batch[0].Payload)

	_, ok := w.Entities.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, 0, w.Entities.Len())

	// the slot is recyclable now
	next := w.Entities.Register(Pairs("name", "heir"))
	assert.Equal(t, ObjectID{Slot: id.Slot, Gen: id.Gen + 1}, next.ID())
}

func TestSnapshotCategoryOrder(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)

	// register in reverse dependency order on purpose
	w.Entities.Register(Pairs("name", "e"))
	w.Geometries.Register(Pairs("g", 1))
	w.Materials.Register(Pairs("m", 1))
	w.Textures.Register(Pairs("t", 1))
	w.Images.Register(Pairs("i", 1))
	w.BufferViews.Register(Pairs("bv", 1))
	w.Buffers.Register(Pairs("b", 1))

	batch := w.Snapshot()
	require.Len(t, batch, 7)

	wantOrder := []uint32{
		MsgBufferCreate, MsgBufferViewCreate, MsgImageCreate,
		MsgTextureCreate, MsgMaterialCreate, MsgGeometryCreate,
		MsgEntityCreate,
	}
	for i, want := range wantOrder {
		assert.Equal(t, want, batch[i].Type, "position %d", i)
	}
}

func TestSnapshotSerializes(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)
	w.Entities.Register(Pairs("name", "a", "parent", NoObject))

	batch := w.Snapshot().Append(MsgReady, true)
	data, err := protocol.EncodeBatch(batch)
	require.Nil(t, err)

	pairs, err := protocol.DecodeBatch(data)
	require.Nil(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, MsgEntityCreate, pairs[0].Type)
	assert.Equal(t, MsgReady, pairs[1].Type)
}

func TestResourceCacheInvalidate(t *testing.T) {
	rec := &recorder{}
	w := NewWorld(rec, nil)
	cache := NewResourceCache()

	key := ResourceKey([]byte("mesh:cube"))
	c := w.Geometries.Register(Pairs("verts", 8))
	cache.Store(key, c)

	got, ok := cache.Lookup(key)
	require.True(t, ok)
	assert.Same(t, c, got)

	assert.True(t, cache.Invalidate(key))
	assert.False(t, cache.Invalidate(key))
	assert.Equal(t, 0, cache.Len())

	// invalidation closed the component
	assert.Equal(t, MsgGeometryDelete, rec.last(t).Batch[0].Type)
}
