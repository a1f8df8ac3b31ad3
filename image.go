package corevk

import vk "github.com/vulkan-go/vulkan"

// ImageUsageFlags enumerates logical roles an Image can serve
// (spec.md §3), replacing the teacher's raw vk.ImageUsageFlagBits
// scattered across image.go's per-kind constructors.
type ImageUsageFlags uint32

const (
	ImageUsageSampled ImageUsageFlags = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

func (f ImageUsageFlags) toVkUsage() vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if f&ImageUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if f&ImageUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if f&ImageUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if f&ImageUsageDepthStencilAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if f&ImageUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if f&ImageUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

// ImageLayout tracks the logical state the StateTranslator drives
// (spec.md §4.5/§4.6). Distinct from vk.ImageLayout, which is derived
// from this at barrier-build time (barrier.go).
type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutShaderRead
	ImageLayoutShaderWrite
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutPresent
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "Undefined"
	case ImageLayoutTransferSrc:
		return "TransferSrc"
	case ImageLayoutTransferDst:
		return "TransferDst"
	case ImageLayoutShaderRead:
		return "ShaderRead"
	case ImageLayoutShaderWrite:
		return "ShaderWrite"
	case ImageLayoutColorAttachment:
		return "ColorAttachment"
	case ImageLayoutDepthStencilAttachment:
		return "DepthStencilAttachment"
	case ImageLayoutPresent:
		return "Present"
	default:
		return "Unknown"
	}
}

// ImageExtent is the 3D size plus mip/layer/face counts of an image
// (spec.md §3: "extent, mip levels, array layers, faces").
type ImageExtent struct {
	Width, Height, Depth uint32
	MipLevels            uint32
	ArrayLayers          uint32
	Faces                uint32 // 6 for cubemaps, 1 otherwise
}

// Image is a thin value-type wrapper over a native image handle and
// its backing allocation, replacing the teacher's heavier Image type
// in image.go (which embedded *Context and mixed in sampler/view
// creation). Swapchain-owned images do not own their allocation; see
// ownsMemory.
type Image struct {
	handle     vk.Image
	view       vk.ImageView
	memory     vk.DeviceMemory
	device     vk.Device
	extent     ImageExtent
	format     vk.Format
	usage      ImageUsageFlags
	layout     ImageLayout
	ownsMemory bool
}

type CreateImageInfo struct {
	Extent          ImageExtent
	Format          vk.Format
	Usage           ImageUsageFlags
	MemoryTypeIndex uint32
}

// CreateImage creates a vk.Image, binds dedicated memory, and creates
// a matching default vk.ImageView (2D or cube, covering every mip/
// layer). Swapchain images bypass this and are wrapped directly via
// WrapSwapchainImage since they already own no separate allocation
// (spec.md §3 caveat).
func CreateImage(device vk.Device, info CreateImageInfo) (*Image, error) {
	imageType := vk.ImageType2d
	if info.Extent.Depth > 1 {
		imageType = vk.ImageType3d
	}

	var flags vk.ImageCreateFlags
	arrayLayers := info.Extent.ArrayLayers
	if info.Extent.Faces == 6 {
		flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
		arrayLayers *= 6
	}
	if arrayLayers == 0 {
		arrayLayers = 1
	}
	mipLevels := info.Extent.MipLevels
	if mipLevels == 0 {
		mipLevels = 1
	}

	var handle vk.Image
	ret := vk.CreateImage(device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: imageType,
		Format:    info.Format,
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  maxU32(info.Extent.Depth, 1),
		},
		MipLevels:     mipLevels,
		ArrayLayers:   arrayLayers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         info.Usage.toVkUsage(),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &handle)
	if isError(ret) {
		return nil, newError(ret)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &memReqs)

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: info.MemoryTypeIndex,
	}, nil, &mem)
	if isError(ret) {
		vk.DestroyImage(device, handle, nil)
		return nil, newError(ret)
	}
	if ret := vk.BindImageMemory(device, handle, mem, 0); isError(ret) {
		vk.FreeMemory(device, mem, nil)
		vk.DestroyImage(device, handle, nil)
		return nil, newError(ret)
	}

	viewType := vk.ImageViewType2d
	if info.Extent.Faces == 6 {
		viewType = vk.ImageViewTypeCube
	}
	var view vk.ImageView
	ret = vk.CreateImageView(device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: viewType,
		Format:    info.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspectForFormat(info.Format)),
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     arrayLayers,
		},
	}, nil, &view)
	if isError(ret) {
		vk.FreeMemory(device, mem, nil)
		vk.DestroyImage(device, handle, nil)
		return nil, newError(ret)
	}

	ext := info.Extent
	ext.MipLevels = mipLevels
	ext.ArrayLayers = arrayLayers / maxU32(info.Extent.Faces, 1)

	return &Image{
		handle:     handle,
		view:       view,
		memory:     mem,
		device:     device,
		extent:     ext,
		format:     info.Format,
		usage:      info.Usage,
		layout:     ImageLayoutUndefined,
		ownsMemory: true,
	}, nil
}

// WrapSwapchainImage adapts a swapchain-provided image/view pair,
// which Vulkan owns the memory for, into the same Image type so the
// rest of the pipeline (barriers, state translation) does not need a
// separate code path (spec.md §3 caveat: "swapchain images ... do not
// own their allocation").
func WrapSwapchainImage(device vk.Device, handle vk.Image, view vk.ImageView, extent ImageExtent, format vk.Format) *Image {
	return &Image{
		handle: handle,
		view:   view,
		device: device,
		extent: extent,
		format: format,
		usage:  ImageUsageColorAttachment,
		layout: ImageLayoutUndefined,
	}
}

func (img *Image) Handle() vk.Image         { return img.handle }
func (img *Image) View() vk.ImageView       { return img.view }
func (img *Image) Extent() ImageExtent      { return img.extent }
func (img *Image) Format() vk.Format        { return img.format }
func (img *Image) Usage() ImageUsageFlags   { return img.usage }
func (img *Image) Layout() ImageLayout      { return img.layout }
func (img *Image) SetLayout(l ImageLayout)  { img.layout = l }

// CreateMipView creates a single-level view over mip, covering every
// array layer/face, for binding one UAV slot per mip level (spec.md
// §3 "one UAV slot per mip level", §4.4 "for each mip, create a
// single-level view"). The caller owns the returned view and must
// destroy it itself; Image.Destroy only tears down the image's own
// full-range default view.
func (img *Image) CreateMipView(mip uint32) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	layerCount := img.extent.ArrayLayers
	if img.extent.Faces == 6 {
		viewType = vk.ImageViewTypeCube
		layerCount *= 6
	}
	if layerCount == 0 {
		layerCount = 1
	}
	var view vk.ImageView
	ret := vk.CreateImageView(img.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: viewType,
		Format:   img.format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspectForFormat(img.format)),
			BaseMipLevel:   mip,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     layerCount,
		},
	}, nil, &view)
	if isError(ret) {
		return vk.NullImageView, newError(ret)
	}
	return view, nil
}

func (img *Image) Destroy() {
	if img.view != vk.NullImageView {
		vk.DestroyImageView(img.device, img.view, nil)
		img.view = vk.NullImageView
	}
	if img.ownsMemory && img.handle != vk.NullImage {
		vk.DestroyImage(img.device, img.handle, nil)
		vk.FreeMemory(img.device, img.memory, nil)
	}
	img.handle = vk.NullImage
	img.memory = vk.NullDeviceMemory
}

func aspectForFormat(format vk.Format) vk.ImageAspectFlagBits {
	switch format {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat, vk.FormatX8D24UnormPack32:
		return vk.ImageAspectDepthBit
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectDepthBit | vk.ImageAspectStencilBit
	default:
		return vk.ImageAspectColorBit
	}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
