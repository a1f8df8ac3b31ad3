package corevk

import vk "github.com/vulkan-go/vulkan"

// SamplerFilter and SamplerAddressMode are small named enums standing
// in for the teacher's raw vk.Filter/vk.SamplerAddressMode call-site
// literals (image.go's ad hoc sampler creation), so CreateSamplerInfo
// reads as intent rather than Vulkan trivia.
type SamplerFilter int

const (
	FilterNearest SamplerFilter = iota
	FilterLinear
)

type SamplerAddressMode int

const (
	AddressRepeat SamplerAddressMode = iota
	AddressClampToEdge
	AddressClampToBorder
	AddressMirroredRepeat
)

func (f SamplerFilter) toVk() vk.Filter {
	if f == FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func (m SamplerAddressMode) toVk() vk.SamplerAddressMode {
	switch m {
	case AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case AddressClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	case AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	default:
		return vk.SamplerAddressModeRepeat
	}
}

// CreateSamplerInfo bundles the construction-time sampler state the
// bindless model keys on (spec.md §4.4's smp_alloc slots).
type CreateSamplerInfo struct {
	MinFilter  SamplerFilter
	MagFilter  SamplerFilter
	AddressU   SamplerAddressMode
	AddressV   SamplerAddressMode
	AddressW   SamplerAddressMode
	MaxLod     float32
	AnisotropyEnable bool
	MaxAnisotropy    float32
}

// Sampler is a thin value-type wrapper over vk.Sampler.
type Sampler struct {
	handle vk.Sampler
	device vk.Device
}

func CreateSampler(device vk.Device, info CreateSamplerInfo) (*Sampler, error) {
	var handle vk.Sampler
	ret := vk.CreateSampler(device, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               info.MagFilter.toVk(),
		MinFilter:               info.MinFilter.toVk(),
		AddressModeU:            info.AddressU.toVk(),
		AddressModeV:            info.AddressV.toVk(),
		AddressModeW:            info.AddressW.toVk(),
		AnisotropyEnable:        vk.Bool32(boolToUint(info.AnisotropyEnable)),
		MaxAnisotropy:           info.MaxAnisotropy,
		MaxLod:                  info.MaxLod,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		CompareOp:               vk.CompareOpAlways,
	}, nil, &handle)
	if isError(ret) {
		return nil, newError(ret)
	}
	return &Sampler{handle: handle, device: device}, nil
}

func (s *Sampler) Handle() vk.Sampler { return s.handle }

func (s *Sampler) Destroy() {
	if s.handle == vk.NullSampler {
		return
	}
	vk.DestroySampler(s.device, s.handle, nil)
	s.handle = vk.NullSampler
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
