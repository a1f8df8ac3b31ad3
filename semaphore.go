package corevk

import vk "github.com/vulkan-go/vulkan"

// SemaphoreKind selects between the two Vulkan semaphore flavors
// (spec.md §4.1: "create(kind: Binary|Timeline, initial_value)").
type SemaphoreKind int

const (
	SemaphoreBinary SemaphoreKind = iota
	SemaphoreTimeline
)

// Semaphore wraps vk.Semaphore, tracking whether it is a timeline
// semaphore so callers can fetch its counter value without having to
// remember the kind separately (used heavily by the uploader's
// per-slot timeline semaphore, spec.md §4.9).
type Semaphore struct {
	handle   vk.Semaphore
	device   vk.Device
	timeline bool
}

// CreateSemaphore creates a binary or timeline semaphore.
func CreateSemaphore(device vk.Device, kind SemaphoreKind, initialValue uint64) (Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var typeInfo *vk.SemaphoreTypeCreateInfo
	if kind == SemaphoreTimeline {
		typeInfo = &vk.SemaphoreTypeCreateInfo{
			SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
			SemaphoreType: vk.SemaphoreTypeTimeline,
			InitialValue:  initialValue,
		}
		info.PNext = unsafePointer(typeInfo)
	}
	var handle vk.Semaphore
	ret := vk.CreateSemaphore(device, &info, nil, &handle)
	if isError(ret) {
		return Semaphore{}, newError(ret)
	}
	return Semaphore{handle: handle, device: device, timeline: kind == SemaphoreTimeline}, nil
}

func (s Semaphore) Valid() bool        { return s.handle != vk.NullSemaphore }
func (s Semaphore) Handle() vk.Semaphore { return s.handle }
func (s Semaphore) IsTimeline() bool   { return s.timeline }

// Value reads the current counter value of a timeline semaphore.
func (s Semaphore) Value() (uint64, error) {
	var value uint64
	ret := vk.GetSemaphoreCounterValue(s.device, s.handle, &value)
	if isError(ret) {
		return 0, newError(ret)
	}
	return value, nil
}

// Signal signals a timeline semaphore from the host to the given
// value (used by tests to simulate GPU completion without a driver).
func (s Semaphore) Signal(value uint64) error {
	ret := vk.SignalSemaphore(s.device, &vk.SemaphoreSignalInfo{
		SType:     vk.StructureTypeSemaphoreSignalInfo,
		Semaphore: s.handle,
		Value:     value,
	})
	return newError(ret)
}

// Wait blocks the host until the timeline semaphore reaches value or
// timeoutNs elapses.
func (s Semaphore) Wait(value uint64, timeoutNs uint64) (bool, error) {
	sems := []vk.Semaphore{s.handle}
	vals := []uint64{value}
	ret := vk.WaitSemaphores(s.device, &vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    sems,
		PValues:        vals,
	}, timeoutNs)
	switch ret {
	case vk.Success:
		return true, nil
	case vk.Timeout:
		return false, nil
	default:
		return false, newError(ret)
	}
}

func (s *Semaphore) Destroy() {
	if s.handle == vk.NullSemaphore {
		return
	}
	vk.DestroySemaphore(s.device, s.handle, nil)
	s.handle = vk.NullSemaphore
}
