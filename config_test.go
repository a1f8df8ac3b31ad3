package corevk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.FrameOverlap)
	assert.Equal(t, uint32(4096), cfg.HandleMax)
	assert.Equal(t, 16, cfg.MaxStorageMips)
}

func TestConfigMergeFillsZeroFields(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{AppName: "custom-app"}

	merged := overlay.Merge(base)
	assert.Equal(t, "custom-app", merged.AppName)
	assert.Equal(t, base.FrameOverlap, merged.FrameOverlap)
	assert.Equal(t, base.HandleMax, merged.HandleMax)
}

func TestConfigMergeOverlayWinsOnNonZero(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{FrameOverlap: 3}

	merged := overlay.Merge(base)
	assert.Equal(t, 3, merged.FrameOverlap)
}

func TestLoadConfigFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "app_name = \"toml-app\"\nframe_overlap = 3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "toml-app", cfg.AppName)
	assert.Equal(t, 3, cfg.FrameOverlap)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
