// Package store persists the last known device list so the registry can
// answer before, or without, a successful cloud refresh.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/doorbell/internal/cloud"
)

// file is the on-disk layout of the device cache.
type file struct {
	Version   int            `toml:"version"`
	UpdatedAt time.Time      `toml:"updated_at,omitempty"`
	Devices   []cloud.Device `toml:"devices"`
}

// TOML stores devices in a TOML file.
type TOML struct {
	path string
}

// NewTOML creates a TOML store. An empty path selects devices.toml.
func NewTOML(path string) *TOML {
	if path == "" {
		path = "devices.toml"
	}
	return &TOML{path: path}
}

// Path returns the cache file location.
func (s *TOML) Path() string {
	return s.path
}

// Load reads the cached devices. A missing file is an empty cache.
func (s *TOML) Load() ([]cloud.Device, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device cache: %w", err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse device cache: %w", err)
	}
	return f.Devices, nil
}

// Save replaces the cached devices.
func (s *TOML) Save(devices []cloud.Device) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := toml.Marshal(file{Version: 1, UpdatedAt: time.Now().UTC(), Devices: devices})
	if err != nil {
		return fmt.Errorf("failed to marshal device cache: %w", err)
	}

	// Readers never see a partially written cache.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace device cache: %w", err)
	}
	return nil
}
