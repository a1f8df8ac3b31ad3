package corevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAllocateStagingMemoryPacksSequentially(t *testing.T) {
	arena := &Buffer{}
	f := &RendererFrame{stagingCapacity: 128, stagingArena: arena}

	view1, err := f.TryAllocateStagingMemory(16, 16)
	require.NoError(t, err)
	assert.Same(t, arena, view1.Buffer)
	assert.EqualValues(t, 0, view1.Offset)

	view2, err := f.TryAllocateStagingMemory(16, 16)
	require.NoError(t, err)
	assert.Same(t, arena, view2.Buffer)
	assert.EqualValues(t, 16, view2.Offset)
}

func TestTryAllocateStagingMemoryRespectsAlignment(t *testing.T) {
	f := &RendererFrame{stagingCapacity: 128, stagingArena: &Buffer{}}

	_, err := f.TryAllocateStagingMemory(3, 16)
	require.NoError(t, err)

	view, err := f.TryAllocateStagingMemory(8, 16)
	require.NoError(t, err)
	assert.EqualValues(t, 16, view.Offset, "allocation must align up, not pack at the unaligned cursor")
}

func TestTryAllocateStagingMemorySpillsOnExhaustion(t *testing.T) {
	arena := &Buffer{}
	f := &RendererFrame{stagingCapacity: 32, stagingArena: arena}
	var allocated []uint64
	f.spillAlloc = func(size uint64) (*Buffer, error) {
		allocated = append(allocated, size)
		return &Buffer{}, nil
	}

	view1, err := f.TryAllocateStagingMemory(32, 1)
	require.NoError(t, err)
	assert.Same(t, arena, view1.Buffer, "a request that exactly fits must still use the steady-state arena")

	view2, err := f.TryAllocateStagingMemory(1, 1)
	require.NoError(t, err, "allocation past capacity must spill, not fail")
	require.NotSame(t, arena, view2.Buffer, "a spilled allocation must not alias the arena")
	assert.EqualValues(t, 0, view2.Offset)
	assert.Equal(t, 1, f.StagingSpillCount())
	require.Len(t, f.stagingSpill, 1)
	assert.Same(t, view2.Buffer, f.stagingSpill[0])
	assert.Equal(t, []uint64{1}, allocated)
}

func TestDeferDestroyRunsOnNextFlush(t *testing.T) {
	f := &RendererFrame{}
	ran := false
	f.DeferDestroy(ResourceBuffer, func() { ran = true })

	f.flushDeferred()
	assert.True(t, ran)
	assert.Empty(t, f.deferred)
}

func TestQueueBufferAndImageUpdatesAccumulate(t *testing.T) {
	f := &RendererFrame{}
	f.QueueBufferUpdate(BufferUpdateInfo{Offset: 0, Data: []byte{1, 2, 3}})
	f.QueueImageUpdate(ImageUpdateInfo{Width: 4, Height: 4})

	assert.Len(t, f.PendingBufferUpdates(), 1)
	assert.Len(t, f.PendingImageUpdates(), 1)
}
