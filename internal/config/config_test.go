package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minkikim98/pintosfs/internal/config"
	"github.com/minkikim98/pintosfs/pkg/fs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, sources, err := config.LoadConfig(dir, "", config.Config{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
	require.Empty(t, sources.Global)
	require.Empty(t, sources.Project)
}

func TestLoadConfig_FromProjectFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"device_path": "custom.img"}`)

	cfg, sources, err := config.LoadConfig(dir, "", config.Config{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, "custom.img", cfg.DevicePath)
	require.Equal(t, filepath.Join(dir, config.ConfigFileName), sources.Project)
}

func TestLoadConfig_WithJSONCComments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{
		// sector count for a freshly formatted image
		"sector_count": 2048,
	}`)

	cfg, _, err := config.LoadConfig(dir, "", config.Config{}, false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2048, cfg.SectorCount)
}

func TestLoadConfig_ExplicitConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "custom.json"), `{"device_path": "from-explicit.img"}`)

	cfg, sources, err := config.LoadConfig(dir, "custom.json", config.Config{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, "from-explicit.img", cfg.DevicePath)
	require.Equal(t, filepath.Join(dir, "custom.json"), sources.Project)
}

func TestLoadConfig_ExplicitConfigMustExist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, _, err := config.LoadConfig(dir, "missing.json", config.Config{}, false, nil)
	require.Error(t, err)
}

func TestLoadConfig_CLIOverridesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"device_path": "from-file.img"}`)

	cfg, _, err := config.LoadConfig(dir, "", config.Config{DevicePath: "from-cli.img"}, true, nil)
	require.NoError(t, err)
	require.Equal(t, "from-cli.img", cfg.DevicePath)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{invalid json}`)

	_, _, err := config.LoadConfig(dir, "", config.Config{}, false, nil)
	require.Error(t, err)
}

func TestLoadConfig_EmptyDevicePathRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"device_path": ""}`)

	_, _, err := config.LoadConfig(dir, "", config.Config{}, false, nil)
	require.Error(t, err)
}

func TestLoadConfig_GlobalConfigViaXDGEnv(t *testing.T) {
	t.Parallel()

	xdg := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "sectorshell"), 0o750))
	writeFile(t, filepath.Join(xdg, "sectorshell", "config.json"), `{"device_path": "global.img"}`)

	dir := t.TempDir()

	cfg, sources, err := config.LoadConfig(dir, "", config.Config{}, false, []string{"XDG_CONFIG_HOME=" + xdg})
	require.NoError(t, err)
	require.Equal(t, "global.img", cfg.DevicePath)
	require.Equal(t, filepath.Join(xdg, "sectorshell", "config.json"), sources.Global)
}

func TestLoadConfig_ProjectOverridesGlobal(t *testing.T) {
	t.Parallel()

	xdg := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "sectorshell"), 0o750))
	writeFile(t, filepath.Join(xdg, "sectorshell", "config.json"), `{"device_path": "global.img"}`)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"device_path": "project.img"}`)

	cfg, _, err := config.LoadConfig(dir, "", config.Config{}, false, []string{"XDG_CONFIG_HOME=" + xdg})
	require.NoError(t, err)
	require.Equal(t, "project.img", cfg.DevicePath)
}

func TestFormatConfig_RoundTripsThroughJSON(t *testing.T) {
	t.Parallel()

	out, err := config.FormatConfig(config.DefaultConfig())
	require.NoError(t, err)
	require.Contains(t, out, `"device_path": "pintosfs.img"`)
}

func TestSave_WritesConfigThatLoadsBackIdentically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "saved.json")

	cfg := config.DefaultConfig()
	cfg.DevicePath = "saved.img"

	require.NoError(t, config.Save(fs.NewReal(), cfg, path))

	loaded, _, err := config.LoadConfig(dir, path, config.Config{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestSave_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "saved.json")
	writeFile(t, path, `{"device_path": "stale.img"}`)

	cfg := config.DefaultConfig()
	cfg.DevicePath = "fresh.img"

	require.NoError(t, config.Save(fs.NewReal(), cfg, path))

	loaded, _, err := config.LoadConfig(dir, path, config.Config{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, "fresh.img", loaded.DevicePath)
}
