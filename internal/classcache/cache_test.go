package classcache_test

import (
	"testing"

	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGetEviction(t *testing.T) {
	c, err := classcache.New(2)
	require.NoError(t, err)

	a := &core.CompiledClass{ClassHash: "a"}
	b := &core.CompiledClass{ClassHash: "b"}
	cc := &core.CompiledClass{ClassHash: "c"}

	c.Put(a)
	c.Put(b)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("a")
	require.True(t, ok)

	// "a" was just touched, so adding "c" should evict "b" (least recently used).
	c.Put(cc)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_Purge(t *testing.T) {
	c, err := classcache.New(4)
	require.NoError(t, err)
	c.Put(&core.CompiledClass{ClassHash: "a"})
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
