package corevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeIndexAllocatorAllocateFree(t *testing.T) {
	a := newFreeIndexAllocator(4)
	assert.EqualValues(t, 4, a.Capacity())

	idx1, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 0, idx1)
	assert.EqualValues(t, 1, a.Count())

	idx2, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 1, idx2)

	require.NoError(t, a.FreeChecked(idx1))
	assert.EqualValues(t, 1, a.Count())

	idx3, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, idx1, idx3, "LIFO reuse should hand back the most recently freed index")
}

func TestFreeIndexAllocatorExhaustion(t *testing.T) {
	a := newFreeIndexAllocator(1)
	_, ok := a.Allocate()
	require.True(t, ok)
	_, ok = a.Allocate()
	assert.False(t, ok)
}

func TestFreeIndexAllocatorDoubleFreeDetected(t *testing.T) {
	a := newFreeIndexAllocator(2)
	idx, ok := a.Allocate()
	require.True(t, ok)
	require.NoError(t, a.FreeChecked(idx))
	err := a.FreeChecked(idx)
	assert.Error(t, err)
}

func TestFreeIndexAllocatorOutOfRange(t *testing.T) {
	a := newFreeIndexAllocator(2)
	err := a.FreeChecked(5)
	assert.Error(t, err)
}

func TestHandlePoolAllocGetFree(t *testing.T) {
	pool := NewHandlePool[int](4)
	h := pool.Alloc(42)
	assert.True(t, h.Valid())

	got := pool.Get(h)
	require.NotNil(t, got)
	assert.Equal(t, 42, *got)

	ok := pool.Free(h)
	assert.True(t, ok)
	assert.Nil(t, pool.Get(h), "Get must return nil after Free")
}

func TestHandlePoolStaleHandleAfterReuse(t *testing.T) {
	pool := NewHandlePool[string](1)
	h1 := pool.Alloc("first")
	require.True(t, pool.Free(h1))

	h2 := pool.Alloc("second")
	assert.NotEqual(t, h1, h2, "reused slot must bump generation so old handle compares unequal")
	assert.Nil(t, pool.Get(h1))

	got := pool.Get(h2)
	require.NotNil(t, got)
	assert.Equal(t, "second", *got)
}

func TestHandlePoolDoubleFreeRejected(t *testing.T) {
	pool := NewHandlePool[int](2)
	h := pool.Alloc(1)
	require.True(t, pool.Free(h))
	assert.False(t, pool.Free(h), "freeing an already-freed handle must not succeed")
}

func TestHandlePoolEachYieldsOnlyLive(t *testing.T) {
	pool := NewHandlePool[int](4)
	h1 := pool.Alloc(1)
	h2 := pool.Alloc(2)
	pool.Alloc(3)
	require.True(t, pool.Free(h2))

	seen := make(map[Handle]int)
	pool.Each(func(e PoolEntry[int]) {
		seen[e.Handle] = *e.Elem
	})

	assert.Len(t, seen, 2)
	assert.Equal(t, 1, seen[h1])
}

func TestInvalidHandleNotValid(t *testing.T) {
	assert.False(t, InvalidHandle.Valid())
	h := Handle{index: 1, gen: 0}
	assert.True(t, h.Valid())
}
