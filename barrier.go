package corevk

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// stateAccess is the data-driven row backing both Image/BufferLayout
// lookups: the (stage, access, vk.ImageLayout) triple a logical state
// maps to, per spec.md §4.5's "10-entry logical state table" rather
// than per-call-site literals (as the teacher's renderpass.go/image.go
// do at each transition).
type stateAccess struct {
	stage  vk.PipelineStageFlags2
	access vk.AccessFlags2
	layout vk.ImageLayout
}

var imageStateTable = map[ImageLayout]stateAccess{
	ImageLayoutUndefined: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2TopOfPipeBit),
		access: 0,
		layout: vk.ImageLayoutUndefined,
	},
	ImageLayoutTransferSrc: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2TransferBit),
		access: vk.AccessFlags2(vk.Access2TransferReadBit),
		layout: vk.ImageLayoutTransferSrcOptimal,
	},
	ImageLayoutTransferDst: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2TransferBit),
		access: vk.AccessFlags2(vk.Access2TransferWriteBit),
		layout: vk.ImageLayoutTransferDstOptimal,
	},
	ImageLayoutShaderRead: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2FragmentShaderBit | vk.PipelineStage2ComputeShaderBit),
		access: vk.AccessFlags2(vk.Access2ShaderReadBit),
		layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	ImageLayoutShaderWrite: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2ComputeShaderBit),
		access: vk.AccessFlags2(vk.Access2ShaderWriteBit),
		layout: vk.ImageLayoutGeneral,
	},
	ImageLayoutColorAttachment: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2ColorAttachmentOutputBit),
		access: vk.AccessFlags2(vk.Access2ColorAttachmentWriteBit),
		layout: vk.ImageLayoutColorAttachmentOptimal,
	},
	ImageLayoutDepthStencilAttachment: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2EarlyFragmentTestsBit | vk.PipelineStage2LateFragmentTestsBit),
		access: vk.AccessFlags2(vk.Access2DepthStencilAttachmentWriteBit),
		layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	},
	ImageLayoutPresent: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2BottomOfPipeBit),
		access: 0,
		layout: vk.ImageLayoutPresentSrc,
	},
}

var bufferStateTable = map[BufferLayout]stateAccess{
	BufferLayoutUndefined: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2TopOfPipeBit),
		access: 0,
	},
	BufferLayoutTransferSrc: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2TransferBit),
		access: vk.AccessFlags2(vk.Access2TransferReadBit),
	},
	BufferLayoutTransferDst: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2TransferBit),
		access: vk.AccessFlags2(vk.Access2TransferWriteBit),
	},
	BufferLayoutShaderRead: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2FragmentShaderBit | vk.PipelineStage2ComputeShaderBit),
		access: vk.AccessFlags2(vk.Access2ShaderReadBit),
	},
	BufferLayoutShaderWrite: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2ComputeShaderBit),
		access: vk.AccessFlags2(vk.Access2ShaderWriteBit),
	},
	BufferLayoutIndirectRead: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2DrawIndirectBit),
		access: vk.AccessFlags2(vk.Access2IndirectCommandReadBit),
	},
	BufferLayoutVertexInput: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2VertexInputBit),
		access: vk.AccessFlags2(vk.Access2VertexAttributeReadBit),
	},
	BufferLayoutIndexInput: {
		stage:  vk.PipelineStageFlags2(vk.PipelineStage2IndexInputBit),
		access: vk.AccessFlags2(vk.Access2IndexReadBit),
	},
}

// PipelineBarrierBatch bounds the per-flush barrier counts spec.md
// §4.6 requires ("bounded 4 memory / 16 buffer / 16 image barriers per
// flush"), generalizing the teacher's single-barrier-per-call style
// (renderpass.go) into a coalesced batch submitted once per frame.
const (
	MaxMemoryBarriers = 4
	MaxBufferBarriers = 16
	MaxImageBarriers  = 16
)

type PipelineBarrierBatch struct {
	Memory []vk.MemoryBarrier2
	Buffer []vk.BufferMemoryBarrier2
	Image  []vk.ImageMemoryBarrier2
}

func (b PipelineBarrierBatch) Empty() bool {
	return len(b.Memory) == 0 && len(b.Buffer) == 0 && len(b.Image) == 0
}

// PipelineBarrierBuilder accumulates transitions before a single flush
// (CmdBuf.PipelineBarrier), rejecting additions past the bounded caps
// so a runaway frame cannot grow an unbounded submit.
type PipelineBarrierBuilder struct {
	batch PipelineBarrierBatch
}

func NewPipelineBarrierBuilder() *PipelineBarrierBuilder {
	return &PipelineBarrierBuilder{}
}

func (b *PipelineBarrierBuilder) AddMemory() error {
	if len(b.batch.Memory) >= MaxMemoryBarriers {
		return errTooManyBarriers("memory", MaxMemoryBarriers)
	}
	b.batch.Memory = append(b.batch.Memory, vk.MemoryBarrier2{SType: vk.StructureTypeMemoryBarrier2})
	return nil
}

// AddImageTransition derives stage/access/vk.ImageLayout for from/to
// out of imageStateTable and appends one coalesced barrier. Callers
// (StateTranslator) are responsible for ensuring at most one call per
// handle per flush (spec.md §4.6 invariant).
func (b *PipelineBarrierBuilder) AddImageTransition(img vk.Image, aspect vk.ImageAspectFlags, from, to ImageLayout, baseMip, mipCount, baseLayer, layerCount uint32) error {
	if len(b.batch.Image) >= MaxImageBarriers {
		return errTooManyBarriers("image", MaxImageBarriers)
	}
	src := imageStateTable[from]
	dst := imageStateTable[to]
	b.batch.Image = append(b.batch.Image, vk.ImageMemoryBarrier2{
		SType:               vk.StructureTypeImageMemoryBarrier2,
		SrcStageMask:        src.stage,
		SrcAccessMask:       src.access,
		DstStageMask:        dst.stage,
		DstAccessMask:       dst.access,
		OldLayout:           src.layout,
		NewLayout:           dst.layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	})
	return nil
}

func (b *PipelineBarrierBuilder) AddBufferTransition(buf vk.Buffer, from, to BufferLayout, offset, size uint64) error {
	if len(b.batch.Buffer) >= MaxBufferBarriers {
		return errTooManyBarriers("buffer", MaxBufferBarriers)
	}
	src := bufferStateTable[from]
	dst := bufferStateTable[to]
	b.batch.Buffer = append(b.batch.Buffer, vk.BufferMemoryBarrier2{
		SType:               vk.StructureTypeBufferMemoryBarrier2,
		SrcStageMask:        src.stage,
		SrcAccessMask:       src.access,
		DstStageMask:        dst.stage,
		DstAccessMask:       dst.access,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf,
		Offset:              vk.DeviceSize(offset),
		Size:                vk.DeviceSize(size),
	})
	return nil
}

func (b *PipelineBarrierBuilder) Build() PipelineBarrierBatch {
	return b.batch
}

func errTooManyBarriers(kind string, max int) error {
	return fmt.Errorf("corevk: %s barrier batch exceeds bound of %d", kind, max)
}
