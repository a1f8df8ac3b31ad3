package corevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachImageRejectsExcessiveStorageMips(t *testing.T) {
	table := newTestResourceTable(t)
	img := &Image{usage: ImageUsageStorage, extent: ImageExtent{MipLevels: 4, ArrayLayers: 1}}

	_, err := table.AttachImage(img, 2)
	assert.Error(t, err)
}

func TestAttachImageFailsWhenSRVTableExhausted(t *testing.T) {
	table := NewResourceTable(nil, ResourceTableConfig{HandleCapacity: 4, SRVCapacity: 0, UAVCapacity: 4, SamplerCapacity: 4})
	img := &Image{usage: ImageUsageSampled, extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}

	_, err := table.AttachImage(img, 16)
	assert.Error(t, err)
}

func TestAttachSamplerFailsWhenTableExhausted(t *testing.T) {
	table := NewResourceTable(nil, ResourceTableConfig{HandleCapacity: 4, SRVCapacity: 4, UAVCapacity: 4, SamplerCapacity: 0})
	_, err := table.AttachSampler(&Sampler{})
	assert.Error(t, err)
}

func TestAttachBufferAndUpdateBuffer(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.AttachBuffer(&Buffer{size: 64})
	require.NotNil(t, table.Get(h))

	replaced := &Buffer{size: 128}
	h2, err := table.UpdateBuffer(nil, h, replaced)
	require.NoError(t, err)
	assert.Equal(t, uint64(128), table.Get(h2).Buffer.Size())
}

func TestUpdateBufferRejectsWrongKind(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.pool.Alloc(RenderResource{Kind: ResourceImage, Image: &Image{extent: ImageExtent{MipLevels: 1, ArrayLayers: 1}}})

	_, err := table.UpdateBuffer(nil, h, &Buffer{})
	assert.Error(t, err)
}

func TestUpdateBufferDefersPriorBufferDestroy(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.AttachBuffer(&Buffer{size: 64})
	frame := &RendererFrame{}

	h2, err := table.UpdateBuffer(frame, h, &Buffer{size: 128})
	require.NoError(t, err)
	assert.NotEqual(t, h, h2, "update_buffer must bump the generation")
	assert.Nil(t, table.Get(h), "the pre-update handle must no longer resolve")
	require.NotNil(t, table.Get(h2))
	assert.Len(t, frame.deferred, 1, "the prior buffer must be queued for deferred destroy")
}

func TestFreeResourceReturnsBufferHandle(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.AttachBuffer(&Buffer{size: 64})

	require.NoError(t, table.FreeResource(h))
	assert.Nil(t, table.Get(h))
}

func TestFreeResourceRejectsAlreadyFreedHandle(t *testing.T) {
	table := newTestResourceTable(t)
	h := table.AttachBuffer(&Buffer{size: 64})
	require.NoError(t, table.FreeResource(h))

	err := table.FreeResource(h)
	assert.Error(t, err)
}

func TestRenderResourceSlotAccessorsReportAbsence(t *testing.T) {
	res := RenderResource{srvSlot: -1, smpSlot: -1}
	_, ok := res.SRVSlot()
	assert.False(t, ok)
	_, ok = res.UAVSlot(0)
	assert.False(t, ok)
	_, ok = res.SamplerSlot()
	assert.False(t, ok)
}

func TestRenderResourceSlotAccessorsReportPresence(t *testing.T) {
	res := RenderResource{srvSlot: 3, smpSlot: -1, uavSlots: []int32{7, 8}}
	slot, ok := res.SRVSlot()
	require.True(t, ok)
	assert.EqualValues(t, 3, slot)

	slot, ok = res.UAVSlot(1)
	require.True(t, ok)
	assert.EqualValues(t, 8, slot)
}
