package carbonara

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// ObjectID is the two-part identity of a replicated object. Slot numbers
// are recycled after deletion; the generation tells successive occupants
// of the same slot apart. Two IDs are equal iff both parts match.
type ObjectID struct {
	Slot uint32
	Gen  uint32
}

// NoObject is the reserved "no object" sentinel, e.g. the parent of a
// root entity.
var NoObject = ObjectID{Slot: math.MaxUint32, Gen: math.MaxUint32}

func (id ObjectID) IsNone() bool {
	return id == NoObject
}

func (id ObjectID) String() string {
	if id.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", id.Slot, id.Gen)
}

// On the wire an ID is a 2-element array [slot, generation].
func (id ObjectID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([2]uint32{id.Slot, id.Gen})
}

func (id *ObjectID) UnmarshalCBOR(data []byte) error {
	var pair [2]uint32
	if err := cbor.Unmarshal(data, &pair); err != nil {
		return err
	}
	id.Slot, id.Gen = pair[0], pair[1]
	return nil
}

// Allocator issues and recycles ObjectIDs for one component category.
// Not goroutine safe: allocation happens only on the tick goroutine,
// which is the sole writer of store state.
type Allocator struct {
	next uint32
	free []ObjectID
}

// Allocate reuses the most recently released slot when one is available
// (LIFO, for recency locality), bumping its generation. A popped slot
// whose next generation would collide with the sentinel is retired for
// good and this allocation falls through to a fresh slot; older
// free-list entries are not consulted.
func (a *Allocator) Allocate() ObjectID {
	if n := len(a.free); n > 0 {
		last := a.free[n-1]
		a.free = a.free[:n-1]
		if last.Gen+1 != math.MaxUint32 {
			return ObjectID{Slot: last.Slot, Gen: last.Gen + 1}
		}
	}

	id := ObjectID{Slot: a.next}
	a.next++
	return id
}

// Release marks id's slot reusable. Caller contract: release each
// allocated ID at most once.
func (a *Allocator) Release(id ObjectID) {
	a.free = append(a.free, id)
}
