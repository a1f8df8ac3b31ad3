package corevk

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Swapchain owns the presentable image chain and detects when it has
// gone stale, replacing the teacher's prepareSwapchain (context.go)
// which recreated unconditionally on every platform update; here
// Renderer recreates it only when AcquireNextImage reports Outdated
// (a Suboptimal result does not trigger recreation), per spec.md §4.8.
type Swapchain struct {
	device  vk.Device
	surface vk.Surface
	pd      vk.PhysicalDevice

	handle vk.Swapchain
	format vk.Format
	extent vk.Extent2D

	images []*Image
}

type SwapchainOptions struct {
	PreferredFormat vk.Format
	Width, Height   uint32
}

func CreateSwapchain(device vk.Device, pd vk.PhysicalDevice, surface vk.Surface, opts SwapchainOptions, old vk.Swapchain) (*Swapchain, error) {
	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &caps)
	if isError(ret) {
		return nil, newError(ret)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, formats)
	if formatCount == 0 {
		return nil, fmt.Errorf("corevk: surface exposes no pixel formats")
	}
	formats[0].Deref()
	chosen := formats[0]
	for _, f := range formats {
		f.Deref()
		if f.Format == opts.PreferredFormat {
			chosen = f
			break
		}
	}

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		extent.Width = opts.Width
		extent.Height = opts.Height
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	preTransform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}

	var handle vk.Swapchain
	ret = vk.CreateSwapchain(device, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    imageCount,
		ImageFormat:      chosen.Format,
		ImageColorSpace:  chosen.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     preTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}, nil, &handle)
	if isError(ret) {
		return nil, newError(ret)
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(device, old, nil)
	}

	var imgCount uint32
	vk.GetSwapchainImages(device, handle, &imgCount, nil)
	rawImages := make([]vk.Image, imgCount)
	vk.GetSwapchainImages(device, handle, &imgCount, rawImages)

	images := make([]*Image, imgCount)
	for i, raw := range rawImages {
		var view vk.ImageView
		ret := vk.CreateImageView(device, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    raw,
			ViewType: vk.ImageViewType2d,
			Format:   chosen.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}, nil, &view)
		if isError(ret) {
			return nil, newError(ret)
		}
		images[i] = WrapSwapchainImage(device, raw, view, ImageExtent{
			Width: extent.Width, Height: extent.Height, Depth: 1, MipLevels: 1, ArrayLayers: 1, Faces: 1,
		}, chosen.Format)
	}

	return &Swapchain{
		device:  device,
		surface: surface,
		pd:      pd,
		handle:  handle,
		format:  chosen.Format,
		extent:  extent,
		images:  images,
	}, nil
}

func (s *Swapchain) Handle() vk.Swapchain { return s.handle }
func (s *Swapchain) Format() vk.Format    { return s.format }
func (s *Swapchain) Extent() vk.Extent2D  { return s.extent }
func (s *Swapchain) ImageCount() int      { return len(s.images) }
func (s *Swapchain) Image(i int) *Image   { return s.images[i] }

// AcquireResult reports whether the acquired image index is usable,
// or whether the swapchain is Outdated (must recreate before drawing)
// or Suboptimal (usable this frame but should be recreated soon),
// per spec.md §4.8.
type AcquireResult int

const (
	AcquireOK AcquireResult = iota
	AcquireSuboptimal
	AcquireOutdated
)

func (s *Swapchain) AcquireNextImage(semaphore vk.Semaphore, fence vk.Fence, timeoutNs uint64) (uint32, AcquireResult, error) {
	var index uint32
	ret := vk.AcquireNextImage(s.device, s.handle, timeoutNs, semaphore, fence, &index)
	switch ret {
	case vk.Success:
		return index, AcquireOK, nil
	case vk.Suboptimal:
		return index, AcquireSuboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, AcquireOutdated, nil
	default:
		return 0, AcquireOutdated, newError(ret)
	}
}

// Present submits a present request, reporting Outdated the same way
// AcquireNextImage does so the caller's recreation path is uniform.
func (s *Swapchain) Present(queue vk.Queue, waitSemaphore vk.Semaphore, imageIndex uint32) (AcquireResult, error) {
	present := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{waitSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{imageIndex},
	}
	ret := vk.QueuePresent(queue, &present)
	switch ret {
	case vk.Success:
		return AcquireOK, nil
	case vk.Suboptimal:
		return AcquireSuboptimal, nil
	case vk.ErrorOutOfDate:
		return AcquireOutdated, nil
	default:
		return AcquireOutdated, newError(ret)
	}
}

func (s *Swapchain) Destroy() {
	for _, img := range s.images {
		img.Destroy()
	}
	s.images = nil
	if s.handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.device, s.handle, nil)
		s.handle = vk.NullSwapchain
	}
}
