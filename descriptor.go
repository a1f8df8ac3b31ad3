package corevk

import vk "github.com/vulkan-go/vulkan"

// DescriptorBindingKind names the bindless binding kinds: the three
// resource tables spec.md §4.4 maintains (sampler, sampled-image/SRV,
// storage-image/UAV) plus a storage-buffer kind, replacing the teacher's per-shader fixed descriptor-set
// layouts built ad hoc in pipeline.go.
type DescriptorBindingKind int

const (
	BindingSampler DescriptorBindingKind = iota
	BindingSampledImage
	BindingStorageImage
	BindingStorageBuffer
)

// DescriptorLayoutBuilder assembles a single bindless descriptor set
// layout with one binding per resource kind, each sized to the
// handle-pool capacity and always flagged UPDATE_AFTER_BIND |
// PARTIALLY_BOUND (spec.md §4.4's bindless model invariant — no
// per-draw descriptor-set churn, unlike the teacher's per-material
// descriptor sets in pipeline.go).
type DescriptorLayoutBuilder struct {
	device   vk.Device
	bindings []vk.DescriptorSetLayoutBinding
	flags    []vk.DescriptorBindingFlags
}

func NewDescriptorLayoutBuilder(device vk.Device) *DescriptorLayoutBuilder {
	return &DescriptorLayoutBuilder{device: device}
}

const bindlessFlags = vk.DescriptorBindingFlags(
	vk.DescriptorBindingUpdateAfterBindBit | vk.DescriptorBindingPartiallyBoundBit,
)

func (b *DescriptorLayoutBuilder) AddBinding(kind DescriptorBindingKind, binding uint32, count uint32, stages vk.ShaderStageFlags) {
	var descType vk.DescriptorType
	switch kind {
	case BindingSampler:
		descType = vk.DescriptorTypeSampler
	case BindingSampledImage:
		descType = vk.DescriptorTypeSampledImage
	case BindingStorageImage:
		descType = vk.DescriptorTypeStorageImage
	case BindingStorageBuffer:
		descType = vk.DescriptorTypeStorageBuffer
	}
	b.bindings = append(b.bindings, vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  descType,
		DescriptorCount: count,
		StageFlags:      stages,
	})
	b.flags = append(b.flags, bindlessFlags)
}

func (b *DescriptorLayoutBuilder) Build() (vk.DescriptorSetLayout, error) {
	bindingFlagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  uint32(len(b.flags)),
		PBindingFlags: b.flags,
	}
	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(b.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(b.bindings)),
		PBindings:    b.bindings,
		PNext:        unsafePointer(&bindingFlagsInfo),
	}, nil, &layout)
	if isError(ret) {
		return vk.NullDescriptorSetLayout, newError(ret)
	}
	return layout, nil
}

// PipelineLayoutBuilder composes the single bindless descriptor set
// layout with a push-constant range, generalizing the teacher's
// per-pipeline PipelineLayoutCreateInfo assembly in pipeline.go.
type PipelineLayoutBuilder struct {
	device     vk.Device
	setLayouts []vk.DescriptorSetLayout
	ranges     []vk.PushConstantRange
}

func NewPipelineLayoutBuilder(device vk.Device) *PipelineLayoutBuilder {
	return &PipelineLayoutBuilder{device: device}
}

func (b *PipelineLayoutBuilder) AddSetLayout(layout vk.DescriptorSetLayout) {
	b.setLayouts = append(b.setLayouts, layout)
}

func (b *PipelineLayoutBuilder) AddPushConstantRange(stages vk.ShaderStageFlags, offset, size uint32) {
	b.ranges = append(b.ranges, vk.PushConstantRange{
		StageFlags: stages,
		Offset:     offset,
		Size:       size,
	})
}

func (b *PipelineLayoutBuilder) Build() (vk.PipelineLayout, error) {
	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(b.device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(b.setLayouts)),
		PSetLayouts:            b.setLayouts,
		PushConstantRangeCount: uint32(len(b.ranges)),
		PPushConstantRanges:    b.ranges,
	}, nil, &layout)
	if isError(ret) {
		return vk.NullPipelineLayout, newError(ret)
	}
	return layout, nil
}

// BindlessDescriptorPool owns the single descriptor pool and set that
// back every resource kind's free-index allocator (spec.md §4.4).
type BindlessDescriptorPool struct {
	device vk.Device
	pool   vk.DescriptorPool
	set    vk.DescriptorSet
	layout vk.DescriptorSetLayout

	// pendingWrites accumulates slot writes queued by attach/update
	// calls over the course of a frame; Flush submits them all in one
	// vkUpdateDescriptorSets call (spec.md §4.8 frame_end step 2),
	// rather than the one-call-per-slot churn a naive port of the
	// teacher's immediate per-material writes (pipeline.go) would do.
	pendingWrites []vk.WriteDescriptorSet
}

func NewBindlessDescriptorPool(device vk.Device, layout vk.DescriptorSetLayout, samplerCap, imageCap, bufferCap uint32) (*BindlessDescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeSampler, DescriptorCount: samplerCap},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: imageCap},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: imageCap},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: bufferCap},
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if isError(ret) {
		return nil, newError(ret)
	}

	layouts := []vk.DescriptorSetLayout{layout}
	sets := make([]vk.DescriptorSet, 1)
	ret = vk.AllocateDescriptorSets(device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        layouts,
	}, sets)
	if isError(ret) {
		vk.DestroyDescriptorPool(device, pool, nil)
		return nil, newError(ret)
	}

	return &BindlessDescriptorPool{device: device, pool: pool, set: sets[0], layout: layout}, nil
}

func (p *BindlessDescriptorPool) Set() vk.DescriptorSet { return p.set }

// WriteSampledImage queues a single SRV-table slot write, the per-slot
// update attach_image issues (spec.md §4.4). The write lands on the
// next Flush, not immediately.
func (p *BindlessDescriptorPool) WriteSampledImage(binding, slot uint32, view vk.ImageView, layout vk.ImageLayout) {
	p.queueWrite(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.set,
		DstBinding:      binding,
		DstArrayElement: slot,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampledImage,
		PImageInfo:      []vk.DescriptorImageInfo{{ImageView: view, ImageLayout: layout}},
	})
}

func (p *BindlessDescriptorPool) WriteStorageImage(binding, slot uint32, view vk.ImageView) {
	p.queueWrite(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.set,
		DstBinding:      binding,
		DstArrayElement: slot,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo:      []vk.DescriptorImageInfo{{ImageView: view, ImageLayout: vk.ImageLayoutGeneral}},
	})
}

func (p *BindlessDescriptorPool) WriteSampler(binding, slot uint32, sampler vk.Sampler) {
	p.queueWrite(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.set,
		DstBinding:      binding,
		DstArrayElement: slot,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampler,
		PImageInfo:      []vk.DescriptorImageInfo{{Sampler: sampler}},
	})
}

func (p *BindlessDescriptorPool) queueWrite(w vk.WriteDescriptorSet) {
	p.pendingWrites = append(p.pendingWrites, w)
}

// PendingWriteCount reports how many slot writes are queued, for
// callers that want to skip an empty flush.
func (p *BindlessDescriptorPool) PendingWriteCount() int { return len(p.pendingWrites) }

// Flush submits every queued slot write in one vkUpdateDescriptorSets
// call and clears the batch (spec.md §4.8 frame_end step 2). A no-op
// when nothing is queued.
func (p *BindlessDescriptorPool) Flush() {
	if len(p.pendingWrites) == 0 {
		return
	}
	vk.UpdateDescriptorSets(p.device, uint32(len(p.pendingWrites)), p.pendingWrites, 0, nil)
	p.pendingWrites = p.pendingWrites[:0]
}

func (p *BindlessDescriptorPool) Destroy() {
	if p.pool == vk.NullDescriptorPool {
		return
	}
	vk.DestroyDescriptorPool(p.device, p.pool, nil)
	vk.DestroyDescriptorSetLayout(p.device, p.layout, nil)
	p.pool = vk.NullDescriptorPool
}
