package corevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResourceTable(t *testing.T) *ResourceTable {
	t.Helper()
	return NewResourceTable(nil, ResourceTableConfig{
		HandleCapacity:  8,
		SamplerCapacity: 4,
		SRVCapacity:     4,
		UAVCapacity:     4,
	})
}

func TestStateTranslatorCoalescesRepeatedRequests(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}})

	st := NewStateTranslator(table, 4)
	require.NoError(t, st.RequestImageTransition(h, ImageLayoutTransferDst))
	require.NoError(t, st.RequestImageTransition(h, ImageLayoutShaderRead))

	assert.Equal(t, 1, st.Pending(), "second request for same handle must coalesce, not append")
}

func TestStateTranslatorFlushAppliesLayoutAndClears(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}})

	st := NewStateTranslator(table, 4)
	require.NoError(t, st.RequestImageTransition(h, ImageLayoutShaderRead))

	batch, err := st.Flush()
	require.NoError(t, err)
	require.Len(t, batch.Image, 1)
	assert.Equal(t, 0, st.Pending())

	res := table.Get(h)
	require.NotNil(t, res)
	assert.Equal(t, ImageLayoutShaderRead, res.Image.Layout())
}

func TestStateTranslatorFlushSkipsNoopTransition(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}, layout: ImageLayoutShaderRead}})

	st := NewStateTranslator(table, 4)
	require.NoError(t, st.RequestImageTransition(h, ImageLayoutShaderRead))

	batch, err := st.Flush()
	require.NoError(t, err)
	assert.True(t, batch.Empty(), "same-layout request should not emit a barrier")
}

func TestStateTranslatorFlushSkipsFreedHandle(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}})

	st := NewStateTranslator(table, 4)
	require.NoError(t, st.RequestImageTransition(h, ImageLayoutShaderRead))
	table.pool.Free(h)

	batch, err := st.Flush()
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestStateTranslatorRequestErrorsWhenRingFull(t *testing.T) {
	table := newTestResourceTable(t)
	st := NewStateTranslator(table, 1)

	h1 := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}})
	h2 := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}})

	require.NoError(t, st.RequestImageTransition(h1, ImageLayoutShaderRead))
	err := st.RequestImageTransition(h2, ImageLayoutShaderRead)
	assert.Error(t, err)
}

func TestStateTranslatorBufferTransition(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.pool.Alloc(RenderResource{Kind: ResourceBuffer, Buffer: &Buffer{size: 256}})

	st := NewStateTranslator(table, 4)
	require.NoError(t, st.RequestBufferTransition(h, BufferLayoutTransferDst))

	batch, err := st.Flush()
	require.NoError(t, err)
	require.Len(t, batch.Buffer, 1)
	assert.Equal(t, BufferLayoutTransferDst, table.Get(h).Buffer.Layout())
}
