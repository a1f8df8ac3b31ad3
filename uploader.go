package corevk

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/atomic"
)

// ImageReader decodes an encoded image into raw RGBA8 pixel data. The
// default implementation lives in corevk/imgload; callers may supply
// their own to add formats without this package depending on them
// (spec.md §4.9 supplemented feature: pluggable decode).
type ImageReader interface {
	Decode(data []byte) (pixels []byte, width, height uint32, err error)
}

// UploadCommandKind tags what an UploadCommand asks the worker to do,
// generalizing the teacher's single hardcoded staging-texture path
// (context.go's stagingTexture) into a general command queue.
type UploadCommandKind int

const (
	UploadImage UploadCommandKind = iota
	UploadBuffer
)

// UploadCommand is one unit of work submitted to the uploader,
// correlated with a UUID so results can be matched back to requests
// even across the MPMC queue's reordering (spec.md §4.9).
type UploadCommand struct {
	ID   uuid.UUID
	Kind UploadCommandKind

	// Image path
	ImageData     []byte
	ImageReader   ImageReader
	TargetImage   *Image

	// Buffer path
	BufferData   []byte
	TargetBuffer *Buffer
	BufferOffset uint64
}

// UploadResult is delivered through the ImagePromise that SubmitImage
// or SubmitBuffer returned once a command completes (successfully or
// not).
type UploadResult struct {
	ID  uuid.UUID
	Err error
}

// ImagePromise is returned immediately by Uploader.SubmitImage; the
// caller polls Done() (spec.md §4 supplemented "ImagePromise.Done()
// poll", drawn from original_source's gfx_resource_uploader.cpp
// promise pattern) or blocks on Wait().
type ImagePromise struct {
	result chan UploadResult
	done   atomic.Bool
	last   UploadResult
}

func newImagePromise() *ImagePromise {
	return &ImagePromise{result: make(chan UploadResult, 1)}
}

// Done reports whether the result has arrived, without blocking.
// Safe to poll every frame from the render loop.
func (p *ImagePromise) Done() bool {
	if p.done.Load() {
		return true
	}
	select {
	case r := <-p.result:
		p.last = r
		p.done.Store(true)
		return true
	default:
		return false
	}
}

// Wait blocks until the result arrives or ctx is cancelled.
func (p *ImagePromise) Wait(ctx context.Context) (UploadResult, error) {
	if p.done.Load() {
		return p.last, nil
	}
	select {
	case r := <-p.result:
		p.last = r
		p.done.Store(true)
		return r, nil
	case <-ctx.Done():
		return UploadResult{}, ctx.Err()
	}
}

func (p *ImagePromise) fulfill(r UploadResult) {
	p.result <- r
}

// resourceSet is one uploader worker slot: its own staging arena and
// timeline semaphore, so an in-flight transfer on one slot never
// blocks another (spec.md §4.9: "per-slot resource sets with their
// own staging arena + timeline semaphore").
type resourceSet struct {
	cmd       *CmdBuf
	pool      vk.CommandPool
	staging   *Buffer
	semaphore Semaphore

	// counter and firstSubmission are touched only by the worker
	// goroutine (spec.md §4.9 "single worker"), so they need no
	// synchronization of their own; only the published
	// Uploader.lastSubmittedSemaphore crosses to the render thread.
	counter         uint64
	firstSubmission bool
}

// Uploader runs a dedicated worker goroutine draining an MPMC command
// queue, replacing the teacher's synchronous staging-texture upload
// inlined into prepare() (context.go), with the async streaming model
// spec.md §4.9 requires.
type Uploader struct {
	ctx *Context
	log *Logger

	queue  chan UploadCommand
	slots  []*resourceSet
	nextSlot atomic.Uint32

	promises sync.Map // uuid.UUID -> *ImagePromise

	lastSubmittedSemaphore atomic.Uint64 // published monotonic counter, acquire/release across slots
	lastSemaphoreMu        sync.Mutex
	lastSemaphoreHandle    vk.Semaphore // the slot semaphore lastSubmittedSemaphore's value belongs to

	cancel context.CancelFunc
	done   chan struct{}
}

// UploaderOptions configures slot count and queue depth.
type UploaderOptions struct {
	SlotCount      int
	QueueDepth     int
	StagingBytes   uint64
	MemoryTypeIndex uint32
}

func NewUploader(ctx *Context, log *Logger, opts UploaderOptions) (*Uploader, error) {
	if opts.SlotCount <= 0 {
		opts.SlotCount = 2
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	if log == nil {
		log = NewDiscardLogger()
	}

	family := ctx.TransferFamily()
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(ctx.Device(), &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family.FamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if isError(ret) {
		return nil, newError(ret)
	}

	slots := make([]*resourceSet, opts.SlotCount)
	for i := range slots {
		cmd, err := AllocateCmdBuf(ctx.Device(), pool)
		if err != nil {
			return nil, err
		}
		staging, err := CreateBuffer(ctx.Device(), CreateBufferInfo{
			Size:            opts.StagingBytes,
			Usage:           BufferUsageStaging,
			MemoryTypeIndex: opts.MemoryTypeIndex,
			HostVisible:     true,
		})
		if err != nil {
			return nil, err
		}
		sem, err := CreateSemaphore(ctx.Device(), SemaphoreTimeline, 0)
		if err != nil {
			return nil, err
		}
		slots[i] = &resourceSet{cmd: cmd, pool: pool, staging: staging, semaphore: sem, firstSubmission: true}
	}

	u := &Uploader{
		ctx:   ctx,
		log:   log,
		queue: make(chan UploadCommand, opts.QueueDepth),
		slots: slots,
		done:  make(chan struct{}),
	}
	return u, nil
}

// Start launches the worker goroutine. Stop must be called to drain
// and join it cleanly.
func (u *Uploader) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	u.cancel = cancel
	go u.workerLoop(ctx)
}

// Stop cancels the worker context and waits for the loop to drain the
// queued commands and acknowledge.
func (u *Uploader) Stop() {
	if u.cancel != nil {
		u.cancel()
	}
	<-u.done
}

// QueueDepth reports how many commands are currently buffered,
// exported for metrics.go's upload-queue-depth gauge.
func (u *Uploader) QueueDepth() int {
	return len(u.queue)
}

// SubmitImage enqueues a decode+upload command and returns a promise
// for the caller to poll.
func (u *Uploader) SubmitImage(data []byte, reader ImageReader, target *Image) (*ImagePromise, error) {
	id := uuid.New()
	promise := newImagePromise()
	u.promises.Store(id, promise)

	cmd := UploadCommand{ID: id, Kind: UploadImage, ImageData: data, ImageReader: reader, TargetImage: target}
	select {
	case u.queue <- cmd:
		return promise, nil
	default:
		u.promises.Delete(id)
		return nil, fmt.Errorf("corevk: upload queue full (depth %d)", cap(u.queue))
	}
}

// SubmitBuffer enqueues a raw buffer upload.
func (u *Uploader) SubmitBuffer(data []byte, target *Buffer, offset uint64) (*ImagePromise, error) {
	id := uuid.New()
	promise := newImagePromise()
	u.promises.Store(id, promise)

	cmd := UploadCommand{ID: id, Kind: UploadBuffer, BufferData: data, TargetBuffer: target, BufferOffset: offset}
	select {
	case u.queue <- cmd:
		return promise, nil
	default:
		u.promises.Delete(id)
		return nil, fmt.Errorf("corevk: upload queue full (depth %d)", cap(u.queue))
	}
}

// LastSubmittedSemaphoreValue is the atomically published monotonic
// counter the renderer waits on before sampling a just-uploaded
// texture, the acquire side of the publish spec.md §4.9 calls for.
func (u *Uploader) LastSubmittedSemaphoreValue() uint64 {
	return u.lastSubmittedSemaphore.Load()
}

// LastSubmittedSemaphore returns the (semaphore, value) pair the
// render thread should wait on in its next FrameEnd — spec.md §4.8
// step 4's "uploader_sem" — or (vk.NullSemaphore, 0) before any
// upload has been submitted. The pair is read as a unit under the same
// mutex publishSemaphore writes under, so a caller never observes a
// value paired with the wrong slot's semaphore handle.
func (u *Uploader) LastSubmittedSemaphore() (vk.Semaphore, uint64) {
	u.lastSemaphoreMu.Lock()
	defer u.lastSemaphoreMu.Unlock()
	return u.lastSemaphoreHandle, u.lastSubmittedSemaphore.Load()
}

// publishSemaphore is the production publish path: it updates the
// semaphore handle under lastSemaphoreMu and delegates the monotonic
// value update to publishMonotonic, so LastSubmittedSemaphore never
// observes a value from one slot paired with another slot's handle.
func (u *Uploader) publishSemaphore(sem vk.Semaphore, value uint64) {
	u.lastSemaphoreMu.Lock()
	defer u.lastSemaphoreMu.Unlock()
	if value <= u.lastSubmittedSemaphore.Load() {
		return
	}
	u.publishMonotonic(value)
	u.lastSemaphoreHandle = sem
}

func (u *Uploader) Destroy() {
	vk.DeviceWaitIdle(u.ctx.Device())
	for _, s := range u.slots {
		s.cmd.Free()
		s.staging.Destroy()
		s.semaphore.Destroy()
	}
	if len(u.slots) > 0 {
		vk.DestroyCommandPool(u.ctx.Device(), u.slots[0].pool, nil)
	}
}
