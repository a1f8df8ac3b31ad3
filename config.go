package corevk

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the generalized, typed replacement for the teacher's
// stringly-typed Usage property bag (usage.go: Usage.String_props /
// Int_props / Bool_props / Float_props). Fields below correspond
// directly to the property names a teacher-style Usage tree would
// have carried ("FrameOverlap", "HandleMax", "Validation", ...), but
// are parsed from TOML via github.com/pelletier/go-toml/v2 instead of
// hand-rolled map lookups.
type Config struct {
	// AppName is used as the Vulkan application name and as the
	// engine name reported to the driver.
	AppName string `toml:"app_name"`

	// FrameOverlap is the number of frames that may be in flight on
	// the GPU (spec.md glossary "Frame overlap"). Default 2.
	FrameOverlap int `toml:"frame_overlap"`

	// HandleMax bounds the bindless descriptor arrays (samplers, SRVs,
	// UAV slots). Must be <= the adapter's per-stage descriptor limits;
	// NewContext clamps it down with a Warn log line if a configured
	// value is too large (spec.md "Descriptor bindless model" design
	// note).
	HandleMax uint32 `toml:"handle_max"`

	// MaxStorageMips caps the per-image UAV slot array (spec.md "Open
	// questions" (b), RENDERER_UAV_MAX). Default 16.
	MaxStorageMips int `toml:"max_storage_mips"`

	// StagingArenaBytes is the size of each per-frame and per-upload-
	// slot staging arena (spec.md §4.7 "staging arena").
	StagingArenaBytes uint64 `toml:"staging_arena_bytes"`

	// PendingTranslationCapacity bounds the state translator's ring
	// (spec.md §4.5, "typical 64").
	PendingTranslationCapacity int `toml:"pending_translation_capacity"`

	// ImGuiTextureRetireFrames is the number of unused frames before a
	// WantDestroy-eligible ImGui texture is actually released (spec.md
	// §4.10 step 1, "after ≥256 unused frames"). Exposed as a tunable
	// per original_source's gfx_imgui_pass.h, which declares it as a
	// constexpr rather than a hardcoded literal.
	ImGuiTextureRetireFrames uint32 `toml:"imgui_texture_retire_frames"`

	// EnableValidation turns on VK_LAYER_KHRONOS_validation and the
	// VK_EXT_debug_utils instance extension (spec.md §4.2 step 2); no
	// debug messenger callback is registered. NewContext reads the
	// copy of this flag in ContextOptions.EnableValidation.
	EnableValidation bool `toml:"enable_validation"`

	// RequireDedicatedTransferQueue resolves Open Question (a): when
	// true, Context construction fails if no queue family other than
	// the one bound for graphics supports TRANSFER; when false, the
	// uploader falls back to the shared direct queue guarded by a mutex.
	RequireDedicatedTransferQueue bool `toml:"require_dedicated_transfer_queue"`

	// Overlay mirrors the teacher's Usage.Linked_usage chaining as an
	// optional parent Config. Merge does not read it, and nothing else
	// in this package does: the fallback Config is passed to Merge as
	// its argument.
	Overlay *Config `toml:"-"`
}

// DefaultConfig returns the engine's built-in defaults, used as the
// base of the overlay chain and as a fallback when no file is given.
func DefaultConfig() *Config {
	return &Config{
		AppName:                       "corevk",
		FrameOverlap:                  2,
		HandleMax:                     4096,
		MaxStorageMips:                16,
		StagingArenaBytes:             32 << 20,
		PendingTranslationCapacity:    64,
		ImGuiTextureRetireFrames:      256,
		EnableValidation:              false,
		RequireDedicatedTransferQueue: false,
	}
}

// LoadConfig reads and parses a TOML config file, merging it onto
// DefaultConfig() so unspecified fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corevk: read config %q: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("corevk: parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Merge layers the teacher's Usage.HasNext()/GetLinkedUsage() chaining
// semantics onto Config, one level deep: it returns a copy of c in
// which each zero-valued string or numeric field is replaced by the
// corresponding field of base. The bool fields (EnableValidation,
// RequireDedicatedTransferQueue) are always kept from c, and Overlay
// is not followed on either Config. A nil base returns c itself.
func (c *Config) Merge(base *Config) *Config {
	if base == nil {
		return c
	}
	merged := *c
	if merged.AppName == "" {
		merged.AppName = base.AppName
	}
	if merged.FrameOverlap == 0 {
		merged.FrameOverlap = base.FrameOverlap
	}
	if merged.HandleMax == 0 {
		merged.HandleMax = base.HandleMax
	}
	if merged.MaxStorageMips == 0 {
		merged.MaxStorageMips = base.MaxStorageMips
	}
	if merged.StagingArenaBytes == 0 {
		merged.StagingArenaBytes = base.StagingArenaBytes
	}
	if merged.PendingTranslationCapacity == 0 {
		merged.PendingTranslationCapacity = base.PendingTranslationCapacity
	}
	if merged.ImGuiTextureRetireFrames == 0 {
		merged.ImGuiTextureRetireFrames = base.ImGuiTextureRetireFrames
	}
	return &merged
}
