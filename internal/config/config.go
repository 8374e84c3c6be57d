// Package config loads cmd/sectorshell's process-local configuration: which
// backing file to mount, how large to format it if it doesn't exist yet, and
// diagnostic overrides for the sector size and cache slot count the rest of
// the module compiles in as fixed constants.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/minkikim98/pintosfs/pkg/fs"
)

// Config holds all configuration options.
type Config struct {
	DevicePath   string `json:"device_path"`             //nolint:tagliatelle // snake_case for config file
	SectorCount  uint32 `json:"sector_count,omitempty"`  //nolint:tagliatelle
	SectorSize   uint32 `json:"sector_size,omitempty"`   //nolint:tagliatelle
	CacheSlots   int    `json:"cache_slots,omitempty"`   //nolint:tagliatelle
	FormatOnInit bool   `json:"format_on_init,omitempty"` //nolint:tagliatelle
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// DefaultConfig returns the default configuration: a local disk image, left
// untouched unless some layer explicitly opts into formatting it.
func DefaultConfig() Config {
	return Config{
		DevicePath:   "pintosfs.img",
		SectorCount:  8192,
		SectorSize:   512,
		CacheSlots:   64,
		FormatOnInit: false,
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = ".sectorshellrc.json"

// getGlobalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/sectorshell/config.json if set, otherwise
// ~/.config/sectorshell/config.json. Returns empty string if the home
// directory cannot be determined.
func getGlobalConfigPath(env []string) string {
	// Check for XDG_CONFIG_HOME in the provided env slice first
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "sectorshell", "config.json")
		}
	}

	// Fall back to os.Getenv
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sectorshell", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "sectorshell", "config.json")
	}

	return ""
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/sectorshell/config.json or $XDG_CONFIG_HOME/sectorshell/config.json)
// 3. Explicit config file via configPath (if non-empty, and then it must
//    exist); otherwise the project config file at the default location
//    (.sectorshellrc.json, if exists). The two are never both loaded.
// 4. CLI overrides (DevicePath only, when hasDeviceOverride is set).
func LoadConfig(
	workDir, configPath string, cliOverrides Config, hasDeviceOverride bool, env []string,
) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if hasDeviceOverride {
		cfg.DevicePath = cliOverrides.DevicePath
	}

	if validateErr := validateConfig(cfg); validateErr != nil {
		return Config{}, ConfigSources{}, validateErr
	}

	return cfg, sources, nil
}

// loadGlobalConfig loads the global user config file if it exists.
// Returns the config, the path if loaded, and any error.
func loadGlobalConfig(env []string) (Config, string, error) {
	globalCfgPath := getGlobalConfigPath(env)
	if globalCfgPath == "" {
		return Config{}, "", nil
	}

	globalCfg, explicitEmpty, loaded, err := loadConfigFile(globalCfgPath, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["device_path"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", errConfigInvalid, globalCfgPath, errDevicePathEmpty)
	}

	return globalCfg, globalCfgPath, nil
}

// loadProjectConfig loads the project config file (.sectorshellrc.json) or
// an explicit config file.
// Returns the config, the path if loaded, and any error.
func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	fileCfg, explicitEmpty, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["device_path"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", errConfigInvalid, cfgFile, errDevicePathEmpty)
	}

	return fileCfg, cfgFile, nil
}

// loadConfigFile loads a config file. If mustExist is false, missing files
// return a zero config. Returns the config, a map of explicitly empty
// fields, whether the file was loaded, and any error.
func loadConfigFile(path string, mustExist bool) (Config, map[string]bool, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil, false, nil
		}

		if mustExist {
			return Config{}, nil, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, nil, false, nil
	}

	cfg, explicitEmpty, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, nil, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, parseErr)
	}

	return cfg, explicitEmpty, true, nil
}

func parseConfig(data []byte) (Config, map[string]bool, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	explicitEmpty := make(map[string]bool)

	if val, exists := raw["device_path"]; exists {
		if str, ok := val.(string); ok && str == "" {
			explicitEmpty["device_path"] = true
		}
	}

	return cfg, explicitEmpty, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.DevicePath != "" {
		base.DevicePath = overlay.DevicePath
	}

	if overlay.SectorCount != 0 {
		base.SectorCount = overlay.SectorCount
	}

	if overlay.SectorSize != 0 {
		base.SectorSize = overlay.SectorSize
	}

	if overlay.CacheSlots != 0 {
		base.CacheSlots = overlay.CacheSlots
	}

	base.FormatOnInit = overlay.FormatOnInit || base.FormatOnInit

	return base
}

func validateConfig(cfg Config) error {
	if cfg.DevicePath == "" {
		return errDevicePathEmpty
	}

	if cfg.SectorSize == 0 || cfg.SectorSize%512 != 0 {
		return errSectorSizeInvalid
	}

	if cfg.CacheSlots <= 0 {
		return errCacheSlotsInvalid
	}

	return nil
}

// FormatConfig returns the config as formatted JSON, for `sectorshell
// --print-config`.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}

// Save persists cfg to path as formatted JSON, replacing any existing file
// atomically so a crash mid-write never leaves a truncated config behind.
func Save(filesystem fs.FS, cfg Config, path string) error {
	formatted, err := FormatConfig(cfg)
	if err != nil {
		return err
	}

	writer := fs.NewAtomicWriter(filesystem)

	if err := writer.WriteWithDefaults(path, strings.NewReader(formatted+"\n")); err != nil {
		return fmt.Errorf("config: save %q: %w", path, err)
	}

	return nil
}
