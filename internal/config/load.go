package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Try to load from file (explicit path takes priority)
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	// Apply CLI flags (highest priority)
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalidConfig is returned when a loaded config cannot drive the engine.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks enumerated fields and sizes.
func (c *Config) Validate() error {
	switch c.Group.Alignment {
	case "x_z", "x_y", "y_z":
	default:
		return fmt.Errorf("%w: group.alignment %q", ErrInvalidConfig, c.Group.Alignment)
	}
	switch c.Group.Storage {
	case "files", "badger":
	default:
		return fmt.Errorf("%w: group.storage %q", ErrInvalidConfig, c.Group.Storage)
	}
	if s := c.Terrain.Size - 1; s < 2 || s&(s-1) != 0 {
		return fmt.Errorf("%w: terrain.size %d is not 2^n+1", ErrInvalidConfig, c.Terrain.Size)
	}
	if c.Tasks.Workers < 0 || c.Tasks.QueueSize < 0 {
		return fmt.Errorf("%w: negative task pool settings", ErrInvalidConfig)
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./terrain.yaml",
		filepath.Join(ConfigDir(), "terrain.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "MidgardTerrain")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "MidgardTerrain")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "midgard-terrain")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "midgard-terrain")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
