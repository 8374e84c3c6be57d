package config

import "errors"

var (
	// errConfigFileNotFound is returned when an explicit config path doesn't exist.
	errConfigFileNotFound = errors.New("config: file not found")
	// errConfigFileRead is returned when an explicit config path exists but can't be read.
	errConfigFileRead = errors.New("config: failed to read file")
	// errConfigInvalid is returned when a config file's contents don't parse.
	errConfigInvalid = errors.New("config: invalid config file")
	// errDevicePathEmpty is returned when a config file explicitly empties the device path.
	errDevicePathEmpty = errors.New("config: device_path must not be empty")
	// errSectorSizeInvalid is returned when sector_size isn't a positive multiple of 512.
	errSectorSizeInvalid = errors.New("config: sector_size must be a positive multiple of 512")
	// errCacheSlotsInvalid is returned when cache_slots is non-positive.
	errCacheSlotsInvalid = errors.New("config: cache_slots must be positive")
)
