package corevk

import (
	"fmt"
	"time"

	vk "github.com/vulkan-go/vulkan"
)

// deferredDestroy is one resource whose teardown was deferred until
// its frame's fence signals, generalizing the teacher's unconditional
// immediate vk.Destroy* calls (context.go's destroy()) into a queue
// that respects in-flight GPU usage (spec.md §4.7).
type deferredDestroy struct {
	kind ResourceKind
	free func()
}

// BufferUpdateInfo and ImageUpdateInfo describe one pending host->GPU
// write queued against a frame's staging arena (spec.md §4.7), mirroring
// the teacher's ad hoc per-call staging-buffer copies (buffers.go).
type BufferUpdateInfo struct {
	Target Handle
	Offset uint64
	Data   []byte
}

type ImageUpdateInfo struct {
	Target     Handle
	MipLevel   uint32
	ArrayLayer uint32
	Data       []byte
	Width, Height uint32
}

// RendererFrame is one slot of the frame ring: its own command buffer,
// fence, staging arena, and deferred-destroy queue, replacing the
// teacher's PerFrame (instance.go) which lacked any staging allocator
// or destroy deferral of its own.
type RendererFrame struct {
	device vk.Device

	cmd   *CmdBuf
	fence Fence

	imageAcquired Semaphore
	renderDone    Semaphore

	stagingArena      *Buffer
	stagingCapacity   uint64
	stagingOffset     uint64
	stagingMemType    uint32
	stagingSpillCount int
	stagingSpill      []*Buffer

	// spillAlloc overrides how oversized staging requests are satisfied,
	// so tests can exercise the spill path without touching a real
	// vk.Device. Defaults to allocSpillBuffer.
	spillAlloc func(size uint64) (*Buffer, error)

	pendingBufferUpdates []BufferUpdateInfo
	pendingImageUpdates  []ImageUpdateInfo

	deferred []deferredDestroy
}

// BufferView is a byte range inside a Buffer. TryAllocateStagingMemory
// returns one so callers don't care whether the bytes came from the
// frame's steady-state arena or a one-shot spill buffer (spec.md §4.7,
// §3's "spill list of oversized staging buffers").
type BufferView struct {
	Buffer *Buffer
	Offset uint64
}

// NewRendererFrame allocates one frame-ring slot: a primary command
// buffer from pool, a pre-signaled fence (so the first frame_begin
// doesn't stall), two binary semaphores, and a host-visible staging
// arena of the configured size (spec.md §4.7).
func NewRendererFrame(ctx *Context, pool vk.CommandPool, stagingBytes uint64, stagingMemType uint32) (*RendererFrame, error) {
	cmd, err := AllocateCmdBuf(ctx.Device(), pool)
	if err != nil {
		return nil, err
	}
	fence, err := CreateFence(ctx.Device(), true)
	if err != nil {
		return nil, err
	}
	imageAcquired, err := CreateSemaphore(ctx.Device(), SemaphoreBinary, 0)
	if err != nil {
		return nil, err
	}
	renderDone, err := CreateSemaphore(ctx.Device(), SemaphoreBinary, 0)
	if err != nil {
		return nil, err
	}
	arena, err := CreateBuffer(ctx.Device(), CreateBufferInfo{
		Size:            stagingBytes,
		Usage:           BufferUsageStaging,
		MemoryTypeIndex: stagingMemType,
		HostVisible:     true,
	})
	if err != nil {
		return nil, err
	}

	return &RendererFrame{
		device:          ctx.Device(),
		cmd:             cmd,
		fence:           fence,
		imageAcquired:   imageAcquired,
		renderDone:      renderDone,
		stagingArena:    arena,
		stagingCapacity: stagingBytes,
		stagingMemType:  stagingMemType,
	}, nil
}

func (f *RendererFrame) CmdBuf() *CmdBuf               { return f.cmd }
func (f *RendererFrame) Fence() Fence                  { return f.fence }
func (f *RendererFrame) ImageAcquired() Semaphore      { return f.imageAcquired }
func (f *RendererFrame) RenderDone() Semaphore         { return f.renderDone }
func (f *RendererFrame) StagingSpillCount() int        { return f.stagingSpillCount }

// Begin waits on the frame's fence (bounding how far ahead of the GPU
// the CPU can run, per FRAME_OVERLAP), resets it, resets the staging
// arena cursor, flushes deferred destroys from the frame's last use,
// and rewinds the command buffer for new recording.
func (f *RendererFrame) Begin(timeout time.Duration) error {
	signaled, err := f.fence.Wait(timeout)
	if err != nil {
		return err
	}
	if !signaled {
		return fmt.Errorf("corevk: frame fence wait timed out after %s", timeout)
	}
	if err := f.fence.Reset(); err != nil {
		return err
	}
	f.flushDeferred()
	for _, spill := range f.stagingSpill {
		spill.Destroy()
	}
	f.stagingSpill = f.stagingSpill[:0]
	f.stagingOffset = 0
	f.stagingSpillCount = 0
	f.pendingBufferUpdates = f.pendingBufferUpdates[:0]
	f.pendingImageUpdates = f.pendingImageUpdates[:0]
	if err := f.cmd.Reset(); err != nil {
		return err
	}
	return f.cmd.BeginOneTimeSubmit()
}

// TryAllocateStagingMemory carves size bytes (aligned to alignment) off
// the frame's staging arena, returning a view into it. When the arena
// is exhausted it instead allocates a one-shot spill buffer sized to
// fit the request, pushes it onto the frame's spill list, and returns
// a view into that (spec.md §4.7 and the §3 RendererFrame data model).
// It never blocks and never grows the steady-state arena itself; the
// only failure is an error from creating the spill buffer. Spill
// buffers are destroyed at the next Begin (spec.md §8 property 6).
func (f *RendererFrame) TryAllocateStagingMemory(size, alignment uint64) (BufferView, error) {
	aligned := alignUp(f.stagingOffset, alignment)
	if aligned+size <= f.stagingCapacity {
		f.stagingOffset = aligned + size
		return BufferView{Buffer: f.stagingArena, Offset: aligned}, nil
	}

	f.stagingSpillCount++
	alloc := f.spillAlloc
	if alloc == nil {
		alloc = f.allocSpillBuffer
	}
	buf, err := alloc(size)
	if err != nil {
		return BufferView{}, fmt.Errorf("corevk: staging spill allocation of %d bytes failed: %w", size, err)
	}
	f.stagingSpill = append(f.stagingSpill, buf)
	return BufferView{Buffer: buf, Offset: 0}, nil
}

// allocSpillBuffer is the production spillAlloc: a host-visible,
// transfer-source buffer sized exactly to the oversized request.
func (f *RendererFrame) allocSpillBuffer(size uint64) (*Buffer, error) {
	return CreateBuffer(f.device, CreateBufferInfo{
		Size:            size,
		Usage:           BufferUsageStaging,
		MemoryTypeIndex: f.stagingMemType,
		HostVisible:     true,
	})
}

func (f *RendererFrame) StagingArena() *Buffer { return f.stagingArena }

// QueueBufferUpdate/QueueImageUpdate record a write against this
// frame's staging arena for the renderer to flush before submit.
func (f *RendererFrame) QueueBufferUpdate(u BufferUpdateInfo) {
	f.pendingBufferUpdates = append(f.pendingBufferUpdates, u)
}

func (f *RendererFrame) QueueImageUpdate(u ImageUpdateInfo) {
	f.pendingImageUpdates = append(f.pendingImageUpdates, u)
}

func (f *RendererFrame) PendingBufferUpdates() []BufferUpdateInfo { return f.pendingBufferUpdates }
func (f *RendererFrame) PendingImageUpdates() []ImageUpdateInfo   { return f.pendingImageUpdates }

// DeferDestroy enqueues a resource teardown to run once this frame's
// fence next signals (i.e. after the GPU has certainly finished with
// whatever this frame submitted), replacing the teacher's
// destroy-immediately pattern (context.go's destroy()).
func (f *RendererFrame) DeferDestroy(kind ResourceKind, free func()) {
	f.deferred = append(f.deferred, deferredDestroy{kind: kind, free: free})
}

func (f *RendererFrame) flushDeferred() {
	for _, d := range f.deferred {
		d.free()
	}
	f.deferred = f.deferred[:0]
}

func (f *RendererFrame) Destroy() {
	f.flushDeferred()
	f.cmd.Free()
	f.fence.Destroy()
	f.imageAcquired.Destroy()
	f.renderDone.Destroy()
	if f.stagingArena != nil {
		f.stagingArena.Destroy()
	}
}
