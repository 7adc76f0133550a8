// Package config handles terrain tool configuration loading and management.
package config

import "time"

// Config holds all terrain tool settings.
type Config struct {
	Terrain TerrainConfig `yaml:"terrain"`
	Noise   NoiseConfig   `yaml:"noise"`
	Tasks   TasksConfig   `yaml:"tasks"`
	Group   GroupConfig   `yaml:"group"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TerrainConfig holds per-tile import defaults and engine options.
type TerrainConfig struct {
	Size           int     `yaml:"size"`
	WorldSize      float32 `yaml:"world_size"`
	MinBatchSize   int     `yaml:"min_batch_size"`
	MaxBatchSize   int     `yaml:"max_batch_size"`
	InputScale     float32 `yaml:"input_scale"`
	InputBias      float32 `yaml:"input_bias"`
	ConstantHeight float32 `yaml:"constant_height"`

	MaxPixelError     float32 `yaml:"max_pixel_error"`
	SkirtSize         float32 `yaml:"skirt_size"`
	LightmapSize      int     `yaml:"lightmap_size"`
	CompositeMapSize  int     `yaml:"composite_map_size"`
	LayerBlendMapSize int     `yaml:"layer_blend_map_size"`

	// LightDirection wins over the angles when non-zero.
	LightDirection [3]float32 `yaml:"light_direction"`
	LightAzimuth   float32    `yaml:"light_azimuth"`
	LightElevation float32    `yaml:"light_elevation"`

	UseRayBoxDistance bool `yaml:"use_ray_box_distance"`
	Morph             bool `yaml:"morph"`
	NormalMap         bool `yaml:"normal_map"`
	LightMap          bool `yaml:"light_map"`
}

// NoiseConfig holds the procedural height source settings.
type NoiseConfig struct {
	Seed      int64   `yaml:"seed"`
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Octaves   int32   `yaml:"octaves"`
	Frequency float32 `yaml:"frequency"`
	Amplitude float32 `yaml:"amplitude"`
}

// TasksConfig holds background work queue settings.
type TasksConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// GroupConfig holds tile group layout and storage settings.
type GroupConfig struct {
	Alignment         string     `yaml:"alignment"` // x_z, x_y or y_z
	Origin            [3]float32 `yaml:"origin"`
	FilenamePrefix    string     `yaml:"filename_prefix"`
	FilenameExtension string     `yaml:"filename_extension"`
	Storage           string     `yaml:"storage"` // files or badger
	DataDir           string     `yaml:"data_dir"`
	Compress          bool       `yaml:"compress"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			Size:              513,
			WorldSize:         1000,
			MinBatchSize:      17,
			MaxBatchSize:      65,
			InputScale:        1,
			InputBias:         0,
			ConstantHeight:    0,
			MaxPixelError:     3,
			SkirtSize:         30,
			LightmapSize:      1024,
			CompositeMapSize:  1024,
			LayerBlendMapSize: 1024,
			LightAzimuth:      45,
			LightElevation:    45,
			UseRayBoxDistance: false,
			Morph:             true,
			NormalMap:         true,
			LightMap:          true,
		},
		Noise: NoiseConfig{
			Seed:      1,
			Alpha:     2,
			Beta:      2,
			Octaves:   4,
			Frequency: 4,
			Amplitude: 100,
		},
		Tasks: TasksConfig{
			Workers:      4,
			QueueSize:    64,
			PollInterval: 50 * time.Millisecond,
		},
		Group: GroupConfig{
			Alignment:         "x_z",
			FilenamePrefix:    "terrain",
			FilenameExtension: "dat",
			Storage:           "files",
			DataDir:           "terrain-data",
			Compress:          true,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":2112",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
