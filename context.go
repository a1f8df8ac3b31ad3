package corevk

import (
	"fmt"
	"os"
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

// requiredInstanceExtensions is the baseline set every Context needs,
// generalizing the teacher's BaseInstanceExtensions (instance.go)
// negotiation into a fixed table plus whatever the platform layer
// (GLFW) adds for surface creation.
var requiredInstanceExtensions = []string{
	"VK_KHR_surface",
}

var validationLayers = []string{
	"VK_LAYER_KHRONOS_validation",
}

var requiredDeviceExtensions = []string{
	"VK_KHR_swapchain",
	"VK_KHR_dynamic_rendering",
	"VK_KHR_synchronization2",
	"VK_EXT_descriptor_indexing",
	"VK_KHR_timeline_semaphore",
}

// AdapterInfo is the per-physical-device summary used to score
// candidates at bring-up (spec.md §4.2), replacing the teacher's
// first-fit is_valid_device loop (instance.go) with a scored pick so a
// discrete GPU is preferred over an integrated one when both qualify.
type AdapterInfo struct {
	PhysicalDevice vk.PhysicalDevice
	Properties     vk.PhysicalDeviceProperties
	MemProperties  vk.PhysicalDeviceMemoryProperties
	Families       []queueFamily
	Score          int
}

// Context owns the instance/device/adapter triple plus the queue
// selector, replacing the teacher's CoreRenderInstance.Init bring-up
// (instance.go) which bundled device selection, swapchain, render
// pass, and pipeline construction into one function; those
// responsibilities now live in Renderer/Swapchain instead.
type Context struct {
	log *Logger
	cfg *Config

	instance vk.Instance
	surface  vk.Surface

	adapter AdapterInfo
	device  vk.Device

	selector *queueSelector

	debugMessenger vk.DebugReportCallback

	graphicsFamily QueueFamilySelection
	transferFamily QueueFamilySelection
	hasTransfer    bool

	// submitMu guards vkQueueSubmit when graphics and transfer share a
	// single queue (no dedicated transfer family picked), resolving
	// SPEC_FULL §6a: Vulkan forbids submitting to the same VkQueue from
	// two goroutines concurrently, and the uploader runs on its own
	// goroutine from the render loop.
	submitMu sync.Mutex
}

// ContextOptions bundles the platform-provided pieces (GLFW's required
// instance extensions and surface factory) Context needs without
// importing the windowing package directly.
type ContextOptions struct {
	AppName                  string
	PlatformInstanceExtensions []string
	CreateSurface            func(vk.Instance) (vk.Surface, error)
	EnableValidation         bool
	Log                      *Logger
	Config                   *Config
}

// NewContext brings up the instance, picks and scores a physical
// device, negotiates device extensions, and creates the logical
// device plus graphics/transfer queue selections.
func NewContext(opts ContextOptions) (ctx *Context, err error) {
	defer checkErr(&err)

	log := opts.Log
	if log == nil {
		log = NewDiscardLogger()
	}

	instanceExtensions := append([]string{}, requiredInstanceExtensions...)
	instanceExtensions = append(instanceExtensions, opts.PlatformInstanceExtensions...)
	if opts.EnableValidation {
		instanceExtensions = append(instanceExtensions, "VK_EXT_debug_utils")
	}

	var availableCount uint32
	vk.EnumerateInstanceExtensionProperties("", &availableCount, nil)
	available := make([]vk.ExtensionProperties, availableCount)
	vk.EnumerateInstanceExtensionProperties("", &availableCount, available)
	availableNames := make([]string, 0, availableCount)
	for i := range available {
		available[i].Deref()
		availableNames = append(availableNames, vk.ToString(available[i].ExtensionName[:]))
	}
	enabledInstanceExt, missing := checkExisting(availableNames, instanceExtensions)
	if missing > 0 {
		log.Warn.Printf("%d requested instance extensions unavailable", missing)
	}

	var layers []string
	if opts.EnableValidation {
		layers = safeStrings(validationLayers)
	}

	appName := opts.AppName
	if appName == "" {
		appName = "corevk"
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			PApplicationName:   safeString(appName),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PEngineName:        safeString("corevk"),
			EngineVersion:      vk.MakeVersion(1, 0, 0),
			ApiVersion:         vk.ApiVersion13,
		},
		EnabledExtensionCount:   uint32(len(enabledInstanceExt)),
		PpEnabledExtensionNames: enabledInstanceExt,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	if isError(ret) {
		return nil, newError(ret)
	}
	if err := vk.InitInstance(instance); err != nil {
		return nil, err
	}

	var surface vk.Surface
	if opts.CreateSurface != nil {
		surface, err = opts.CreateSurface(instance)
		if err != nil {
			vk.DestroyInstance(instance, nil)
			return nil, fmt.Errorf("corevk: creating surface: %w", err)
		}
	}

	adapter, err := pickAdapter(instance, surface)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}
	log.Info.Printf("selected adapter %q (score %d)", vk.ToString(adapter.Properties.DeviceName[:]), adapter.Score)
	if cfg := opts.Config; cfg != nil {
		limits := adapter.Properties.Limits
		for _, limit := range []uint32{limits.MaxPerStageDescriptorSamplers, limits.MaxPerStageDescriptorSampledImages, limits.MaxPerStageDescriptorStorageImages} {
			if cfg.HandleMax > limit {
				log.Warn.Printf("handle_max %d exceeds adapter per-stage descriptor limit %d; clamping", cfg.HandleMax, limit)
				cfg.HandleMax = limit
			}
		}
	}

	selector := newQueueSelector(adapter.Families)

	graphicsSel, ok := selector.Request(QueueRequest{
		RequiredCaps: vk.QueueFlags(vk.QueueGraphicsBit),
		Strategy:     StrategyPreferShared,
	})
	if !ok {
		vk.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("corevk: no queue family supports graphics")
	}
	selector.MarkBound(graphicsSel.FamilyIndex)

	requireDedicated := opts.Config != nil && opts.Config.RequireDedicatedTransferQueue
	transferSel, hasTransfer := selector.Request(QueueRequest{
		RequiredCaps:         vk.QueueFlags(vk.QueueTransferBit),
		Strategy:             StrategyPreferDedicated,
		PreferSeparateFamily: true,
	})
	if !hasTransfer {
		if requireDedicated {
			vk.DestroyInstance(instance, nil)
			return nil, fmt.Errorf("corevk: no dedicated transfer queue family and require_dedicated_transfer_queue is set")
		}
		// Fall back to a shared queue on the graphics family; callers
		// serialize access with a mutex (SPEC_FULL §6a).
		transferSel = graphicsSel
	}

	deviceExtNames, missing := checkExisting(enumerateDeviceExtensions(adapter.PhysicalDevice), requiredDeviceExtensions)
	if missing > 0 {
		vk.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("corevk: selected adapter is missing %d required device extensions", missing)
	}

	queueInfos := buildQueueCreateInfos(graphicsSel, transferSel, hasTransfer)

	dynamicRendering := vk.PhysicalDeviceDynamicRenderingFeatures{
		SType:             vk.StructureTypeDynamicRenderingFeaturesKhr,
		DynamicRendering:  vk.True,
	}
	sync2 := vk.PhysicalDeviceSynchronization2Features{
		SType:            vk.StructureTypeSynchronization2FeaturesKhr,
		Synchronization2: vk.True,
		PNext:            unsafePointer(&dynamicRendering),
	}
	timeline := vk.PhysicalDeviceTimelineSemaphoreFeatures{
		SType:             vk.StructureTypeTimelineSemaphoreFeatures,
		TimelineSemaphore: vk.True,
		PNext:             unsafePointer(&sync2),
	}
	descIndexing := vk.PhysicalDeviceDescriptorIndexingFeatures{
		SType:                                      vk.StructureTypeDescriptorIndexingFeaturesExt,
		DescriptorBindingPartiallyBound:            vk.True,
		DescriptorBindingSampledImageUpdateAfterBind: vk.True,
		DescriptorBindingStorageImageUpdateAfterBind: vk.True,
		RuntimeDescriptorArray:                     vk.True,
		PNext:                                      unsafePointer(&timeline),
	}

	var device vk.Device
	ret = vk.CreateDevice(adapter.PhysicalDevice, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(deviceExtNames)),
		PpEnabledExtensionNames: deviceExtNames,
		PNext:                   unsafePointer(&descIndexing),
	}, nil, &device)
	if isError(ret) {
		vk.DestroyInstance(instance, nil)
		return nil, newError(ret)
	}

	return &Context{
		log:            log,
		cfg:            opts.Config,
		instance:       instance,
		surface:        surface,
		adapter:        adapter,
		device:         device,
		selector:       selector,
		graphicsFamily: graphicsSel,
		transferFamily: transferSel,
		hasTransfer:    hasTransfer,
	}, nil
}

func (c *Context) Instance() vk.Instance { return c.instance }
func (c *Context) Device() vk.Device     { return c.device }
func (c *Context) Surface() vk.Surface   { return c.surface }
func (c *Context) PhysicalDevice() vk.PhysicalDevice { return c.adapter.PhysicalDevice }
func (c *Context) GraphicsFamily() QueueFamilySelection { return c.graphicsFamily }
func (c *Context) TransferFamily() QueueFamilySelection { return c.transferFamily }
func (c *Context) HasDedicatedTransfer() bool           { return c.hasTransfer }

// SubmitMutex guards vkQueueSubmit/vkQueuePresent. Renderer and Uploader
// both take it unconditionally before submitting, since HasDedicatedTransfer
// can still be false (shared graphics/transfer queue) and Vulkan forbids
// concurrent submission to the same VkQueue.
func (c *Context) SubmitMutex() *sync.Mutex { return &c.submitMu }
func (c *Context) MemoryProperties() vk.PhysicalDeviceMemoryProperties { return c.adapter.MemProperties }

// TimestampPeriod is the nanoseconds-per-tick conversion factor for
// this device's timestamp queries (vkGetQueryPoolResults), feeding
// Renderer.ReadTimestamps's GPU Δt computation.
func (c *Context) TimestampPeriod() float32 { return c.adapter.Properties.Limits.TimestampPeriod }

// FindMemoryType searches the adapter's memory heaps for a type index
// matching typeFilter and properties, generalizing the teacher's
// inline search at each buffer/image allocation call site (buffers.go,
// image.go) into one shared lookup.
func (c *Context) FindMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	memProps := c.adapter.MemProperties
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) == 0 {
			continue
		}
		if vk.MemoryPropertyFlags(memProps.MemoryTypes[i].PropertyFlags)&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("corevk: no memory type matches filter 0x%x properties 0x%x", typeFilter, properties)
}

func (c *Context) Destroy() {
	if c.device != nil {
		vk.DeviceWaitIdle(c.device)
		vk.DestroyDevice(c.device, nil)
		c.device = nil
	}
	if c.surface != vk.NullSurface {
		vk.DestroySurface(c.instance, c.surface, nil)
	}
	if c.instance != nil {
		vk.DestroyInstance(c.instance, nil)
		c.instance = nil
	}
}

func enumerateDeviceExtensions(pd vk.PhysicalDevice) []string {
	var count uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil)
	props := make([]vk.ExtensionProperties, count)
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, props)
	names := make([]string, 0, count)
	for i := range props {
		props[i].Deref()
		names = append(names, vk.ToString(props[i].ExtensionName[:]))
	}
	return names
}

// pickAdapter enumerates physical devices, gathers their queue family
// properties, and scores each by type (discrete > integrated > other)
// plus heap size, replacing the teacher's is_valid_device first-fit
// (instance.go) with the scored selection spec.md §4.2 calls for.
func pickAdapter(instance vk.Instance, surface vk.Surface) (AdapterInfo, error) {
	var count uint32
	ret := vk.EnumeratePhysicalDevices(instance, &count, nil)
	if isError(ret) || count == 0 {
		return AdapterInfo{}, fmt.Errorf("corevk: no Vulkan-capable physical devices found")
	}
	devices := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(instance, &count, devices)

	var best AdapterInfo
	bestScore := -1
	for _, pd := range devices {
		info := gatherAdapterInfo(pd, surface)
		if !adapterHasGraphics(info) {
			continue
		}
		if info.Score > bestScore {
			bestScore = info.Score
			best = info
		}
	}
	if bestScore < 0 {
		return AdapterInfo{}, fmt.Errorf("corevk: no suitable GPU with a graphics-capable queue family")
	}
	return best, nil
}

func gatherAdapterInfo(pd vk.PhysicalDevice, surface vk.Surface) AdapterInfo {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	props.Limits.Deref()

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memProps)
	memProps.Deref()

	var famCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &famCount, nil)
	famProps := make([]vk.QueueFamilyProperties, famCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &famCount, famProps)

	families := make([]queueFamily, famCount)
	for i := range famProps {
		famProps[i].Deref()
		supportsPresent := false
		if surface != vk.NullSurface {
			var presentSupport vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), surface, &presentSupport)
			supportsPresent = presentSupport != 0
		}
		families[i] = queueFamily{
			index:           uint32(i),
			caps:            famProps[i].QueueFlags,
			count:           famProps[i].QueueCount,
			supportsPresent: supportsPresent,
		}
	}

	score := 0
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		score += 1000
	case vk.PhysicalDeviceTypeIntegratedGpu:
		score += 500
	case vk.PhysicalDeviceTypeVirtualGpu:
		score += 250
	}
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		memProps.MemoryHeaps[i].Deref()
		if vk.MemoryHeapFlagBits(memProps.MemoryHeaps[i].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			score += int(memProps.MemoryHeaps[i].Size / (1 << 30)) // +1 per GiB of VRAM
		}
	}

	return AdapterInfo{
		PhysicalDevice: pd,
		Properties:     props,
		MemProperties:  memProps,
		Families:       families,
		Score:          score,
	}
}

func adapterHasGraphics(info AdapterInfo) bool {
	for _, f := range info.Families {
		if f.caps&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return true
		}
	}
	return false
}

func buildQueueCreateInfos(graphics, transfer QueueFamilySelection, hasTransfer bool) []vk.DeviceQueueCreateInfo {
	priorities := []float32{1.0}
	infos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: graphics.FamilyIndex,
		QueueCount:       1,
		PQueuePriorities: priorities,
	}}
	if hasTransfer && transfer.FamilyIndex != graphics.FamilyIndex {
		infos = append(infos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: transfer.FamilyIndex,
			QueueCount:       1,
			PQueuePriorities: priorities,
		})
	}
	return infos
}

// mustGetwd mirrors the teacher's os.Getwd()-or-Fatal idiom
// (instance.go) used for shader path resolution, kept available for
// callers that load default shader bytecode relative to the binary.
func mustGetwd() string {
	dir, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return dir
}
