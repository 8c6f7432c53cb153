package carbonara

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentOrder(t *testing.T) {
	c := NewContent()
	c.Set("z", 1)
	c.Set("a", 2)
	c.Set("m", 3)
	c.Set("a", 4) // upsert keeps position

	assert.Equal(t, []string{"z", "a", "m"}, c.Keys())
	v, _ := c.Get("a")
	assert.Equal(t, 4, v)
}

func TestContentCBORPreservesOrder(t *testing.T) {
	c := Pairs("zulu", 1, "alpha", 2)
	data, err := cbor.Marshal(c)
	require.Nil(t, err)

	// a CBOR library would sort these; our encoder must not
	zulu, _ := cbor.Marshal("zulu")
	alpha, _ := cbor.Marshal("alpha")
	zuluAt := bytes.Index(data, zulu)
	alphaAt := bytes.Index(data, alpha)
	require.GreaterOrEqual(t, zuluAt, 0)
	require.GreaterOrEqual(t, alphaAt, 0)
	assert.Less(t, zuluAt, alphaAt)

	var round map[string]any
	require.Nil(t, cbor.Unmarshal(data, &round))
	assert.Len(t, round, 2)
}

func TestContentCloneIsIndependent(t *testing.T) {
	c := Pairs("a", 1)
	clone := c.Clone()
	c.Set("a", 2)
	c.Set("b", 3)

	v, _ := clone.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, clone.Len())
}

func TestContentMerge(t *testing.T) {
	c := Pairs("a", 1, "b", 2)
	c.Merge(Pairs("b", 3, "c", 4))

	assert.Equal(t, []string{"a", "b", "c"}, c.Keys())
	b, _ := c.Get("b")
	assert.Equal(t, 3, b)
}

func TestPairsOddPanics(t *testing.T) {
	assert.Panics(t, func() { Pairs("orphan") })
}
