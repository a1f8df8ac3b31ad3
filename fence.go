package corevk

import (
	"time"

	vk "github.com/vulkan-go/vulkan"
)

// Fence is a thin wrapper over vk.Fence, generalizing the teacher's ad
// hoc per-call-site fence handling (instance.go's PerFrame.fence,
// context.go's c.fences) into a value type with the construct/
// destroy/wait/reset operations of spec.md §4.1.
type Fence struct {
	handle vk.Fence
	device vk.Device
}

// CreateFence creates a fence, optionally pre-signaled (spec.md §3
// RendererFrame: "fence (initially signaled)").
func CreateFence(device vk.Device, signaled bool) (Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	ret := vk.CreateFence(device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &handle)
	if isError(ret) {
		return Fence{}, newError(ret)
	}
	return Fence{handle: handle, device: device}, nil
}

// Valid reports whether the fence was ever constructed.
func (f Fence) Valid() bool { return f.handle != vk.NullFence }

// Handle exposes the raw vk.Fence for submit-info plumbing.
func (f Fence) Handle() vk.Fence { return f.handle }

// Wait blocks up to timeout for the fence to signal. Returns true if
// it signaled within the timeout, false on timeout (spec.md §4.1:
// "wait(timeout_ns) -> bool"). A real driver error is returned as err.
func (f Fence) Wait(timeout time.Duration) (bool, error) {
	ret := vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch ret {
	case vk.Success:
		return true, nil
	case vk.Timeout:
		return false, nil
	default:
		return false, newError(ret)
	}
}

// Reset resets the fence to the unsignaled state.
func (f Fence) Reset() error {
	ret := vk.ResetFences(f.device, 1, []vk.Fence{f.handle})
	return newError(ret)
}

// Destroy is idempotent and safe on a never-created Fence, per
// spec.md §4.1.
func (f *Fence) Destroy() {
	if f.handle == vk.NullFence {
		return
	}
	vk.DestroyFence(f.device, f.handle, nil)
	f.handle = vk.NullFence
}
