package corevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestPipelineBarrierBuilderImageTransition(t *testing.T) {
	b := NewPipelineBarrierBuilder()
	err := b.AddImageTransition(vk.Image(1), vk.ImageAspectFlags(vk.ImageAspectColorBit), ImageLayoutUndefined, ImageLayoutShaderRead, 0, 1, 0, 1)
	require.NoError(t, err)

	batch := b.Build()
	require.Len(t, batch.Image, 1)
	assert.Equal(t, vk.ImageLayoutUndefined, batch.Image[0].OldLayout)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, batch.Image[0].NewLayout)
}

func TestPipelineBarrierBuilderBufferTransition(t *testing.T) {
	b := NewPipelineBarrierBuilder()
	err := b.AddBufferTransition(vk.Buffer(1), BufferLayoutUndefined, BufferLayoutTransferDst, 0, 1024)
	require.NoError(t, err)

	batch := b.Build()
	require.Len(t, batch.Buffer, 1)
	assert.NotZero(t, batch.Buffer[0].DstAccessMask)
}

func TestPipelineBarrierBuilderBoundsEnforced(t *testing.T) {
	b := NewPipelineBarrierBuilder()
	for i := 0; i < MaxImageBarriers; i++ {
		require.NoError(t, b.AddImageTransition(vk.Image(uint64(i)), vk.ImageAspectFlags(vk.ImageAspectColorBit), ImageLayoutUndefined, ImageLayoutShaderRead, 0, 1, 0, 1))
	}
	err := b.AddImageTransition(vk.Image(999), vk.ImageAspectFlags(vk.ImageAspectColorBit), ImageLayoutUndefined, ImageLayoutShaderRead, 0, 1, 0, 1)
	assert.Error(t, err)
}

func TestPipelineBarrierBatchEmpty(t *testing.T) {
	b := NewPipelineBarrierBuilder()
	assert.True(t, b.Build().Empty())
}
