package corevk

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// ResourceKind tags which variant a RenderResource slot currently
// holds, generalizing the teacher's three separate string-keyed maps
// (core.go's images/buffers/samplers) into one tagged-union table
// indexed by Handle, per spec.md §4.4.
type ResourceKind int

const (
	ResourceEmpty ResourceKind = iota
	ResourceImage
	ResourceBuffer
	ResourceSampler
)

// RenderResource is the tagged variant spec.md §4.4 describes: at most
// one of Image/Buffer/Sampler is non-nil, selected by Kind.
type RenderResource struct {
	Kind    ResourceKind
	Image   *Image
	Buffer  *Buffer
	Sampler *Sampler

	// srvSlot/smpSlot are the bindless table indices this resource
	// currently occupies, -1 when not bound into that table. uavSlots
	// holds one slot per mip level (spec.md §3 "one UAV slot per mip
	// level"), nil when the image has no storage usage; uavViews holds
	// the matching single-level vk.ImageView for each slot, owned by
	// this resource and destroyed alongside it.
	srvSlot  int32
	uavSlots []int32
	uavViews []vk.ImageView
	smpSlot  int32
}

// ResourceTable owns the handle pool for all render resources plus the
// three bindless free-index allocators (spec.md §4.4: "sampler table,
// SRV table, UAV table, each independently sized").
type ResourceTable struct {
	device vk.Device
	pool   *HandlePool[RenderResource]

	descriptors *BindlessDescriptorPool
	smpAlloc    *freeIndexAllocator
	srvAlloc    *freeIndexAllocator
	uavAlloc    *freeIndexAllocator

	bindingSampler      uint32
	bindingSampledImage uint32
	bindingStorageImage uint32
}

// ResourceTableConfig bundles the bindless binding indices and table
// capacities, filled in by NewRenderer from Config.
type ResourceTableConfig struct {
	Device              vk.Device
	HandleCapacity      int
	SamplerCapacity     uint32
	SRVCapacity         uint32
	UAVCapacity         uint32
	BindingSampler      uint32
	BindingSampledImage uint32
	BindingStorageImage uint32
}

func NewResourceTable(descriptors *BindlessDescriptorPool, cfg ResourceTableConfig) *ResourceTable {
	return &ResourceTable{
		device:              cfg.Device,
		pool:                NewHandlePool[RenderResource](cfg.HandleCapacity),
		descriptors:         descriptors,
		smpAlloc:            newFreeIndexAllocator(cfg.SamplerCapacity),
		srvAlloc:            newFreeIndexAllocator(cfg.SRVCapacity),
		uavAlloc:            newFreeIndexAllocator(cfg.UAVCapacity),
		bindingSampler:      cfg.BindingSampler,
		bindingSampledImage: cfg.BindingSampledImage,
		bindingStorageImage: cfg.BindingStorageImage,
	}
}

// AttachImage allocates a handle and binds the image into whichever
// bindless tables its usage flags call for (spec.md §3/§4.4): the SRV
// table only when ImageUsageSampled is set, and one UAV slot per mip
// level — each over its own single-level view — only when
// ImageUsageStorage is set. An image with neither flag gets no
// descriptor-table presence at all. MaxStorageMips bounds how many
// mips get a UAV slot each (resolved Open Question, SPEC_FULL §6b):
// beyond that the call errors rather than silently truncating.
func (t *ResourceTable) AttachImage(img *Image, maxStorageMips uint32) (Handle, error) {
	if img.Usage()&ImageUsageStorage != 0 && img.Extent().MipLevels > maxStorageMips {
		return InvalidHandle, fmt.Errorf("corevk: image has %d mips, exceeds MaxStorageMips=%d for UAV binding",
			img.Extent().MipLevels, maxStorageMips)
	}

	res := RenderResource{Kind: ResourceImage, Image: img, srvSlot: -1, smpSlot: -1}

	if img.Usage()&ImageUsageSampled != 0 {
		srvSlot, ok := t.srvAlloc.Allocate()
		if !ok {
			return InvalidHandle, fmt.Errorf("corevk: SRV table exhausted (capacity %d)", t.srvAlloc.Capacity())
		}
		res.srvSlot = int32(srvSlot)
	}

	if img.Usage()&ImageUsageStorage != 0 {
		slots, views, err := t.allocMipUAVs(img, maxStorageMips)
		if err != nil {
			if res.srvSlot >= 0 {
				t.srvAlloc.Free(uint32(res.srvSlot))
			}
			return InvalidHandle, err
		}
		res.uavSlots = slots
		res.uavViews = views
	}

	if res.srvSlot >= 0 {
		t.descriptors.WriteSampledImage(t.bindingSampledImage, uint32(res.srvSlot), img.View(), vk.ImageLayoutShaderReadOnlyOptimal)
	}
	for mip, slot := range res.uavSlots {
		t.descriptors.WriteStorageImage(t.bindingStorageImage, uint32(slot), res.uavViews[mip])
	}

	return t.pool.Alloc(res), nil
}

// allocMipUAVs allocates one UAV slot plus one single-level view per
// mip of img, rolling back everything it allocated on any failure
// partway through.
func (t *ResourceTable) allocMipUAVs(img *Image, maxStorageMips uint32) ([]int32, []vk.ImageView, error) {
	mips := img.Extent().MipLevels
	if mips == 0 {
		mips = 1
	}
	slots := make([]int32, 0, mips)
	views := make([]vk.ImageView, 0, mips)

	rollback := func() {
		for _, slot := range slots {
			t.uavAlloc.Free(uint32(slot))
		}
		for _, view := range views {
			vk.DestroyImageView(t.device, view, nil)
		}
	}

	for mip := uint32(0); mip < mips; mip++ {
		slot, ok := t.uavAlloc.Allocate()
		if !ok {
			rollback()
			return nil, nil, fmt.Errorf("corevk: UAV table exhausted (capacity %d)", t.uavAlloc.Capacity())
		}
		view, err := img.CreateMipView(mip)
		if err != nil {
			t.uavAlloc.Free(slot)
			rollback()
			return nil, nil, err
		}
		slots = append(slots, int32(slot))
		views = append(views, view)
	}
	_ = maxStorageMips
	return slots, views, nil
}

// UpdateImage replaces the image backing an existing handle in place,
// reusing its bindless slots (spec.md §4.4 update_image), snapshotting
// the prior image into frame's deferred-destroy queue and bumping h's
// generation (spec.md §3 Lifecycles) so any caller still holding the
// pre-update handle observes the replacement rather than silently
// reading stale data. Returns the post-bump handle; callers that keep
// the handle around (the ImGui backend's texture table) must store the
// returned value in place of h.
func (t *ResourceTable) UpdateImage(frame *RendererFrame, h Handle, img *Image) (Handle, error) {
	res := t.pool.Get(h)
	if res == nil || res.Kind != ResourceImage {
		return InvalidHandle, fmt.Errorf("corevk: handle %s does not hold an image resource", h)
	}
	prior := res.Image
	res.Image = img
	if res.srvSlot >= 0 {
		t.descriptors.WriteSampledImage(t.bindingSampledImage, uint32(res.srvSlot), img.View(), vk.ImageLayoutShaderReadOnlyOptimal)
	}
	for mip, slot := range res.uavSlots {
		view, err := img.CreateMipView(uint32(mip))
		if err != nil {
			return InvalidHandle, err
		}
		oldView := res.uavViews[mip]
		res.uavViews[mip] = view
		t.descriptors.WriteStorageImage(t.bindingStorageImage, uint32(slot), view)
		frame.DeferDestroy(ResourceImage, func() { vk.DestroyImageView(t.device, oldView, nil) })
	}
	if frame != nil && prior != nil {
		frame.DeferDestroy(ResourceImage, prior.Destroy)
	}
	bumped, ok := t.pool.BumpGeneration(h)
	if !ok {
		return InvalidHandle, fmt.Errorf("corevk: handle %s vanished during update_image", h)
	}
	return bumped, nil
}

// AttachBackbufferSlot allocates a handle for the renderer's single
// swapchain backbuffer, pre-allocating an SRV slot unconditionally (the
// backbuffer's usage flags don't carry ImageUsageSampled, but it still
// needs a stable bindless slot so post-process/compute passes can read
// it), so FrameBegin can repoint the handle at whichever image the
// swapchain acquires without reallocating bindless state every frame
// (spec.md §4.4, §4.8 step 10).
func (t *ResourceTable) AttachBackbufferSlot(img *Image) (Handle, error) {
	srvSlot, ok := t.srvAlloc.Allocate()
	if !ok {
		return InvalidHandle, fmt.Errorf("corevk: SRV table exhausted (capacity %d)", t.srvAlloc.Capacity())
	}
	res := RenderResource{Kind: ResourceImage, Image: img, srvSlot: int32(srvSlot), smpSlot: -1}
	if t.descriptors != nil {
		t.descriptors.WriteSampledImage(t.bindingSampledImage, srvSlot, img.View(), vk.ImageLayoutShaderReadOnlyOptimal)
	}
	return t.pool.Alloc(res), nil
}

// PatchBackbufferImage repoints h's RenderResource at img in place —
// same handle, same SRV slot, no generation bump — and resets its
// logical layout to Undefined, matching the swapchain's actual
// contract that an acquired image's prior contents are not guaranteed
// to survive (spec.md §4.8 step 7's explicit reset-to-Undefined
// simplification). The refreshed descriptor write is queued, not
// issued immediately; Renderer.FrameEnd flushes it.
func (t *ResourceTable) PatchBackbufferImage(h Handle, img *Image) error {
	res := t.pool.Get(h)
	if res == nil || res.Kind != ResourceImage {
		return fmt.Errorf("corevk: backbuffer handle %s is not an image resource", h)
	}
	img.SetLayout(ImageLayoutUndefined)
	res.Image = img
	if res.srvSlot >= 0 && t.descriptors != nil {
		t.descriptors.WriteSampledImage(t.bindingSampledImage, uint32(res.srvSlot), img.View(), vk.ImageLayoutShaderReadOnlyOptimal)
	}
	return nil
}

// AttachBuffer allocates a handle for a buffer. Buffers are not
// bindless-table indexed directly in this model (they are addressed
// via BufferUsageDeviceAddress push constants instead, per spec.md
// §4.4's "buffers use device addresses, not descriptor slots"), so no
// UAV/SRV allocation happens here.
func (t *ResourceTable) AttachBuffer(buf *Buffer) Handle {
	return t.pool.Alloc(RenderResource{Kind: ResourceBuffer, Buffer: buf, srvSlot: -1, smpSlot: -1})
}

// UpdateBuffer replaces the buffer backing an existing handle in
// place, snapshotting the prior buffer into frame's deferred-destroy
// queue and bumping h's generation, mirroring UpdateImage (spec.md §3
// Lifecycles, §4.4 update_buffer).
func (t *ResourceTable) UpdateBuffer(frame *RendererFrame, h Handle, buf *Buffer) (Handle, error) {
	res := t.pool.Get(h)
	if res == nil || res.Kind != ResourceBuffer {
		return InvalidHandle, fmt.Errorf("corevk: handle %s does not hold a buffer resource", h)
	}
	prior := res.Buffer
	res.Buffer = buf
	if frame != nil && prior != nil {
		frame.DeferDestroy(ResourceBuffer, prior.Destroy)
	}
	bumped, ok := t.pool.BumpGeneration(h)
	if !ok {
		return InvalidHandle, fmt.Errorf("corevk: handle %s vanished during update_buffer", h)
	}
	return bumped, nil
}

func (t *ResourceTable) AttachSampler(s *Sampler) (Handle, error) {
	slot, ok := t.smpAlloc.Allocate()
	if !ok {
		return InvalidHandle, fmt.Errorf("corevk: sampler table exhausted (capacity %d)", t.smpAlloc.Capacity())
	}
	t.descriptors.WriteSampler(t.bindingSampler, slot, s.Handle())
	return t.pool.Alloc(RenderResource{Kind: ResourceSampler, Sampler: s, srvSlot: -1, smpSlot: int32(slot)}), nil
}

// UpdateSampler replaces the sampler backing an existing handle in
// place, snapshotting the prior sampler into frame's deferred-destroy
// queue and bumping h's generation, mirroring UpdateImage.
func (t *ResourceTable) UpdateSampler(frame *RendererFrame, h Handle, s *Sampler) (Handle, error) {
	res := t.pool.Get(h)
	if res == nil || res.Kind != ResourceSampler {
		return InvalidHandle, fmt.Errorf("corevk: handle %s does not hold a sampler resource", h)
	}
	prior := res.Sampler
	res.Sampler = s
	t.descriptors.WriteSampler(t.bindingSampler, uint32(res.smpSlot), s.Handle())
	if frame != nil && prior != nil {
		frame.DeferDestroy(ResourceSampler, prior.Destroy)
	}
	bumped, ok := t.pool.BumpGeneration(h)
	if !ok {
		return InvalidHandle, fmt.Errorf("corevk: handle %s vanished during update_sampler", h)
	}
	return bumped, nil
}

// Get returns the tagged resource behind h, or nil if stale/invalid.
func (t *ResourceTable) Get(h Handle) *RenderResource {
	return t.pool.Get(h)
}

// SRVSlot/UAVSlot/SamplerSlot expose the bindless table index for
// push-constant construction by callers that already hold the
// resource (ImGui pass, frame encoders).
func (r RenderResource) SRVSlot() (uint32, bool) {
	if r.srvSlot < 0 {
		return 0, false
	}
	return uint32(r.srvSlot), true
}

// UAVSlot returns the bindless table index bound to mip's single-level
// view, or ok=false when the image has no storage usage (no UAV slots
// at all) or mip is out of range.
func (r RenderResource) UAVSlot(mip uint32) (uint32, bool) {
	if int(mip) >= len(r.uavSlots) {
		return 0, false
	}
	slot := r.uavSlots[mip]
	if slot < 0 {
		return 0, false
	}
	return uint32(slot), true
}

// UAVMipCount reports how many mip levels have a UAV slot bound.
func (r RenderResource) UAVMipCount() int { return len(r.uavSlots) }

func (r RenderResource) SamplerSlot() (uint32, bool) {
	if r.smpSlot < 0 {
		return 0, false
	}
	return uint32(r.smpSlot), true
}

// FreeResource releases h's handle and returns its bindless slots to
// their allocators, per spec.md §4.4 free_resource. Callers are
// expected to route this through the per-frame deferred-destroy queue
// (frame.go) rather than calling it directly on a resource that might
// still be in flight on the GPU.
func (t *ResourceTable) FreeResource(h Handle) error {
	res := t.pool.Get(h)
	if res == nil {
		return fmt.Errorf("corevk: free of invalid or already-freed handle %s", h)
	}
	switch res.Kind {
	case ResourceImage:
		if res.srvSlot >= 0 {
			if err := t.srvAlloc.FreeChecked(uint32(res.srvSlot)); err != nil {
				return err
			}
		}
		for mip, slot := range res.uavSlots {
			if slot < 0 {
				continue
			}
			if err := t.uavAlloc.FreeChecked(uint32(slot)); err != nil {
				return err
			}
			vk.DestroyImageView(t.device, res.uavViews[mip], nil)
		}
		res.Image.Destroy()
	case ResourceBuffer:
		res.Buffer.Destroy()
	case ResourceSampler:
		if res.smpSlot >= 0 {
			if err := t.smpAlloc.FreeChecked(uint32(res.smpSlot)); err != nil {
				return err
			}
		}
		res.Sampler.Destroy()
	}
	t.pool.Free(h)
	return nil
}
