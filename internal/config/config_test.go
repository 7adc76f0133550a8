package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Terrain.Size != 513 {
		t.Errorf("expected size 513, got %d", cfg.Terrain.Size)
	}
	if cfg.Terrain.MinBatchSize != 17 || cfg.Terrain.MaxBatchSize != 65 {
		t.Errorf("expected batches 17/65, got %d/%d", cfg.Terrain.MinBatchSize, cfg.Terrain.MaxBatchSize)
	}
	if !cfg.Terrain.NormalMap || !cfg.Terrain.LightMap {
		t.Error("expected derived maps enabled by default")
	}
	if cfg.Tasks.PollInterval != 50*time.Millisecond {
		t.Errorf("expected poll interval 50ms, got %v", cfg.Tasks.PollInterval)
	}
	if cfg.Group.Storage != "files" {
		t.Errorf("expected files storage, got %s", cfg.Group.Storage)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "terrain.yaml")

	yamlContent := `
terrain:
  size: 257
  world_size: 2000
  light_direction: [0, -1, 0]
  morph: false

noise:
  seed: 42
  octaves: 6

tasks:
  workers: 8
  poll_interval: 10ms

group:
  alignment: "x_y"
  origin: [10, 0, -10]
  storage: "badger"
  data_dir: "/tmp/tiles"

logging:
  level: "debug"
  log_file: "terrain.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Terrain.Size != 257 {
		t.Errorf("expected size 257, got %d", cfg.Terrain.Size)
	}
	if cfg.Terrain.WorldSize != 2000 {
		t.Errorf("expected world size 2000, got %v", cfg.Terrain.WorldSize)
	}
	if cfg.Terrain.Morph {
		t.Error("expected morph to be false")
	}
	// untouched keys keep their defaults
	if cfg.Terrain.MaxBatchSize != 65 {
		t.Errorf("expected max batch 65, got %d", cfg.Terrain.MaxBatchSize)
	}
	if cfg.Noise.Seed != 42 || cfg.Noise.Octaves != 6 {
		t.Errorf("expected noise 42/6, got %d/%d", cfg.Noise.Seed, cfg.Noise.Octaves)
	}
	if cfg.Tasks.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Tasks.Workers)
	}
	if cfg.Tasks.PollInterval != 10*time.Millisecond {
		t.Errorf("expected poll interval 10ms, got %v", cfg.Tasks.PollInterval)
	}
	if cfg.Group.Storage != "badger" {
		t.Errorf("expected badger storage, got %s", cfg.Group.Storage)
	}
	if cfg.Logging.LogFile != "terrain.log" {
		t.Errorf("expected log file 'terrain.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
terrain:
  size: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, "/nonexistent/path/terrain.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"size 1025", func(c *Config) { c.Terrain.Size = 1025 }, true},
		{"size 1024", func(c *Config) { c.Terrain.Size = 1024 }, false},
		{"size 2", func(c *Config) { c.Terrain.Size = 2 }, false},
		{"bad alignment", func(c *Config) { c.Group.Alignment = "z_x" }, false},
		{"bad storage", func(c *Config) { c.Group.Storage = "s3" }, false},
		{"negative workers", func(c *Config) { c.Tasks.Workers = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("HOME", tmpDir)

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "terrain.yaml")
	if err := os.WriteFile(configPath, []byte("terrain:\n  size: 129\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if path := findConfigFile(); path == "" {
		t.Error("expected to find terrain.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name   string
		set    flagValues
		verify func(t *testing.T, cfg *Config)
	}{
		{
			name: "debug flag",
			set:  flagValues{debug: true},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "log level wins over debug",
			set:  flagValues{debug: true, logLevel: "warn"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "warn" {
					t.Errorf("expected log level 'warn', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "workers and size",
			set:  flagValues{workers: 2, size: 129},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Tasks.Workers != 2 {
					t.Errorf("expected 2 workers, got %d", cfg.Tasks.Workers)
				}
				if cfg.Terrain.Size != 129 {
					t.Errorf("expected size 129, got %d", cfg.Terrain.Size)
				}
			},
		},
		{
			name: "data dir",
			set:  flagValues{dataDir: "/srv/tiles"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Group.DataDir != "/srv/tiles" {
					t.Errorf("expected data dir /srv/tiles, got %s", cfg.Group.DataDir)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := flags
			flags = tt.set
			defer func() { flags = saved }()

			cfg := Default()
			applyFlags(cfg)
			tt.verify(t, cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "terrain.yaml")

	yamlContent := `
terrain:
  size: 257
tasks:
  workers: 3
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	saved := flags
	flags = flagValues{config: configPath, size: 129}
	defer func() { flags = saved }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// size from the flag, workers from the file
	if cfg.Terrain.Size != 129 {
		t.Errorf("expected size 129 from flag, got %d", cfg.Terrain.Size)
	}
	if cfg.Tasks.Workers != 3 {
		t.Errorf("expected 3 workers from file, got %d", cfg.Tasks.Workers)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "terrain.yaml")
	cfg := Default()
	cfg.Terrain.Size = 65

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.Terrain.Size != 65 {
		t.Errorf("expected size 65 after reload, got %d", loaded.Terrain.Size)
	}
}

func TestTerrainOptions(t *testing.T) {
	cfg := Default()
	cfg.Terrain.LightDirection = [3]float32{0, -2, 0}
	cfg.Terrain.LightmapSize = 256
	cfg.Group.Compress = false

	o := cfg.TerrainOptions()
	if o.LightMapSize != 256 {
		t.Errorf("LightMapSize = %d, want 256", o.LightMapSize)
	}
	if o.LightMapDirection.Y != -1 {
		t.Errorf("LightMapDirection = %v, want normalized (0, -1, 0)", o.LightMapDirection)
	}
	if o.CompressBlobs {
		t.Error("CompressBlobs should follow group.compress")
	}
	if !o.MorphRequired {
		t.Error("MorphRequired should follow terrain.morph")
	}
}

func TestImportData(t *testing.T) {
	cfg := Default()
	cfg.Group.Alignment = "y_z"

	d, err := cfg.ImportData(true)
	if err != nil {
		t.Fatalf("ImportData() error = %v", err)
	}
	if d.Alignment != terrain.AlignYZ {
		t.Errorf("Alignment = %v, want y_z", d.Alignment)
	}
	if d.TerrainSize != 513 || d.MinBatchSize != 17 || d.MaxBatchSize != 65 {
		t.Errorf("sizes = %d %d/%d, want 513 17/65", d.TerrainSize, d.MinBatchSize, d.MaxBatchSize)
	}
	if d.Noise == nil || d.Noise.Amplitude != 100 {
		t.Errorf("Noise = %+v, want amplitude 100", d.Noise)
	}

	d, _ = cfg.ImportData(false)
	if d.Noise != nil {
		t.Error("expected no noise source")
	}

	cfg.Group.Alignment = "sideways"
	if _, err := cfg.ImportData(false); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ImportData() error = %v, want ErrInvalidConfig", err)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("HOME", tmpDir)
	t.Setenv("APPDATA", tmpDir)

	cfg := Default()
	cfg.Tasks.Workers = 7
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, filepath.Join(ConfigDir(), "terrain.yaml")); err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.Tasks.Workers != 7 {
		t.Errorf("expected 7 workers after reload, got %d", loaded.Tasks.Workers)
	}
}
