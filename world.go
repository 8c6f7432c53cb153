package carbonara

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/InsightCenterNoodles/Carbonara/assets"
	"github.com/InsightCenterNoodles/Carbonara/protocol"
	"github.com/cespare/xxhash/v2"
)

// Buffers whose payload stays at or below this many bytes travel inline;
// larger ones are installed on the asset host and referenced by URI.
const DefaultInlineBufferLimit = 16 * 1024

// World aggregates the per-category component lists. Only the tick
// goroutine calls into it; envelopes flow out through the Emitter it was
// built with. No ambient singleton: the owner threads the World through
// whatever needs it.
type World struct {
	Buffers     *List
	BufferViews *List
	Images      *List
	Textures    *List
	Materials   *List
	Geometries  *List
	Entities    *List

	// dependency order: referenced categories before referencing ones,
	// so a naive client can resolve every link in a snapshot dump
	lists []*List

	blobs       assets.Host
	inlineLimit int
}

func NewWorld(emit Emitter, blobs assets.Host) *World {
	w := &World{
		Buffers:     newList("buffer", messageTriple{MsgBufferCreate, noUpdate, MsgBufferDelete}, emit),
		BufferViews: newList("buffer-view", messageTriple{MsgBufferViewCreate, noUpdate, MsgBufferViewDelete}, emit),
		Images:      newList("image", messageTriple{MsgImageCreate, noUpdate, MsgImageDelete}, emit),
		Textures:    newList("texture", messageTriple{MsgTextureCreate, noUpdate, MsgTextureDelete}, emit),
		Materials:   newList("material", messageTriple{MsgMaterialCreate, MsgMaterialUpdate, MsgMaterialDelete}, emit),
		Geometries:  newList("geometry", messageTriple{MsgGeometryCreate, noUpdate, MsgGeometryDelete}, emit),
		Entities:    newList("entity", messageTriple{MsgEntityCreate, MsgEntityUpdate, MsgEntityDelete}, emit),
		blobs:       blobs,
		inlineLimit: DefaultInlineBufferLimit,
	}
	w.lists = []*List{
		w.Buffers, w.BufferViews, w.Images, w.Textures,
		w.Materials, w.Geometries, w.Entities,
	}
	return w
}

// Snapshot builds the full-state dump for a newly introduced client:
// every active component as a create pair, category by category in
// dependency order. The trailing ready marker is the pipeline's job.
func (w *World) Snapshot() protocol.Batch {
	var batch protocol.Batch
	for _, l := range w.lists {
		batch = l.snapshot(batch)
	}
	return batch
}

// ComponentCount reports the total number of live components.
func (w *World) ComponentCount() (n int) {
	for _, l := range w.lists {
		n += l.Len()
	}
	return
}

// RegisterBuffer registers a raw byte buffer. Small payloads are
// embedded in the create message; large ones are installed on the asset
// host and replaced by a reference, removed again when the component
// closes.
func (w *World) RegisterBuffer(data []byte) (*Component, error) {
	content := Pairs("size", uint64(len(data)))

	if w.blobs == nil || len(data) <= w.inlineLimit {
		content.Set("inline_bytes", data)
		return w.Buffers.Register(content), nil
	}

	sum := xxhash.Sum64(data)
	identity := hex.EncodeToString(binary.BigEndian.AppendUint64(nil, sum))

	ref, err := w.blobs.Install(identity, data)
	if err != nil {
		return nil, err
	}
	content.Set("uri_bytes", Pairs("path", ref.Path, "port", ref.Port))

	c := w.Buffers.Register(content)
	c.OnClose(func() { w.blobs.Remove(identity) })
	return c, nil
}
