package carbonara

import (
	"github.com/fxamacker/cbor/v2"
)

// Content is an insertion-ordered key-value map, the semantic payload of
// a replicated component. The engine never interprets entries beyond the
// "id" key it injects itself; everything else belongs to the scene
// authority.
type Content struct {
	keys []string
	vals map[string]any
}

func NewContent() *Content {
	return &Content{vals: make(map[string]any)}
}

// Pairs builds a Content from alternating key, value arguments, in order.
// Odd trailing arguments panic; this is a construction-site error.
func Pairs(kv ...any) *Content {
	if len(kv)%2 != 0 {
		panic("carbonara: Pairs needs alternating key, value arguments")
	}
	c := NewContent()
	for i := 0; i < len(kv); i += 2 {
		c.Set(kv[i].(string), kv[i+1])
	}
	return c
}

// Set upserts a whole key. New keys keep insertion order.
func (c *Content) Set(key string, value any) {
	if _, ok := c.vals[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.vals[key] = value
}

func (c *Content) Get(key string) (any, bool) {
	v, ok := c.vals[key]
	return v, ok
}

func (c *Content) Len() int {
	return len(c.keys)
}

func (c *Content) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Clone copies the entry table. The producing side keeps mutating its
// original by whole-key upserts, so an independent table is all the
// isolation the serializer needs.
func (c *Content) Clone() *Content {
	out := &Content{
		keys: append([]string(nil), c.keys...),
		vals: make(map[string]any, len(c.vals)),
	}
	for k, v := range c.vals {
		out.vals[k] = v
	}
	return out
}

// Merge upserts every entry of delta into c; delta wins on conflict.
func (c *Content) Merge(delta *Content) {
	for _, k := range delta.keys {
		c.Set(k, delta.vals[k])
	}
}

// MarshalCBOR writes a CBOR map preserving insertion order. The header
// is built by hand because encoding/cbor libraries reorder map keys.
func (c *Content) MarshalCBOR() ([]byte, error) {
	out := appendMapHeader(nil, len(c.keys))
	for _, k := range c.keys {
		kb, err := cbor.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := cbor.Marshal(c.vals[k])
		if err != nil {
			return nil, err
		}
		out = append(out, kb...)
		out = append(out, vb...)
	}
	return out, nil
}

func (c *Content) UnmarshalCBOR(data []byte) error {
	var raw map[string]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.keys = c.keys[:0]
	c.vals = make(map[string]any, len(raw))
	for k, rv := range raw {
		var v any
		if err := cbor.Unmarshal(rv, &v); err != nil {
			return err
		}
		c.Set(k, v)
	}
	return nil
}

// CBOR major type 5 (map) header for n entries.
func appendMapHeader(dst []byte, n int) []byte {
	switch {
	case n < 24:
		return append(dst, 0xA0|byte(n))
	case n <= 0xFF:
		return append(dst, 0xB8, byte(n))
	case n <= 0xFFFF:
		return append(dst, 0xB9, byte(n>>8), byte(n))
	default:
		return append(dst, 0xBA, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}
