package carbonara

import "github.com/cespare/xxhash/v2"

// ResourceCache maps source-resource identities to their replicated
// components so re-registering the same geometry or texture reuses one
// component. References are strong and eviction is explicit: the scene
// authority calls Invalidate when it knows a source resource is gone.
// Staleness is never inferred from reclamation. Tick goroutine only.
type ResourceCache struct {
	entries map[uint64]*Component
}

func NewResourceCache() *ResourceCache {
	return &ResourceCache{entries: make(map[uint64]*Component)}
}

// ResourceKey derives a cache key from a resource's identifying bytes.
func ResourceKey(identity []byte) uint64 {
	return xxhash.Sum64(identity)
}

func (rc *ResourceCache) Lookup(key uint64) (*Component, bool) {
	c, ok := rc.entries[key]
	return c, ok
}

func (rc *ResourceCache) Store(key uint64, c *Component) {
	rc.entries[key] = c
}

// Invalidate drops the entry and closes its component, firing the
// delete envelope. Reports whether the key was cached.
func (rc *ResourceCache) Invalidate(key uint64) bool {
	c, ok := rc.entries[key]
	if !ok {
		return false
	}
	delete(rc.entries, key)
	_ = c.Close()
	return true
}

func (rc *ResourceCache) Len() int {
	return len(rc.entries)
}
