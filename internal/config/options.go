package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/lighting"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// TerrainOptions converts the terrain section into engine options.
// Logger and Queue are left for the caller to inject.
func (c *Config) TerrainOptions() terrain.Options {
	tc := c.Terrain
	o := terrain.DefaultOptions()
	o.MaxPixelError = tc.MaxPixelError
	o.SkirtSize = tc.SkirtSize
	o.LightMapSize = tc.LightmapSize
	o.CompositeMapSize = tc.CompositeMapSize
	o.LayerBlendMapSize = tc.LayerBlendMapSize
	o.LightMapDirection = lighting.Resolve(tc.LightDirection, tc.LightAzimuth, tc.LightElevation)
	o.UseRayBoxDistance = tc.UseRayBoxDistance
	o.MorphRequired = tc.Morph
	o.NormalMapRequired = tc.NormalMap
	o.LightMapRequired = tc.LightMap
	o.CompressBlobs = c.Group.Compress
	return o
}

// ImportData returns import defaults for one tile. With noise set the
// heights come from the noise section.
func (c *Config) ImportData(noise bool) (*terrain.ImportData, error) {
	align, err := c.Alignment()
	if err != nil {
		return nil, err
	}
	tc := c.Terrain
	d := terrain.DefaultImportData()
	d.Alignment = align
	d.TerrainSize = tc.Size
	d.WorldSize = tc.WorldSize
	d.MinBatchSize = tc.MinBatchSize
	d.MaxBatchSize = tc.MaxBatchSize
	d.InputScale = tc.InputScale
	d.InputBias = tc.InputBias
	d.ConstantHeight = tc.ConstantHeight
	if noise {
		d.Noise = c.NoiseParams()
	}
	return &d, nil
}

// NoiseParams converts the noise section.
func (c *Config) NoiseParams() *terrain.NoiseParams {
	n := c.Noise
	return &terrain.NoiseParams{
		Seed:      n.Seed,
		Alpha:     n.Alpha,
		Beta:      n.Beta,
		Octaves:   n.Octaves,
		Frequency: n.Frequency,
		Amplitude: n.Amplitude,
	}
}

// Alignment parses group.alignment.
func (c *Config) Alignment() (terrain.Alignment, error) {
	a, ok := terrain.ParseAlignment(c.Group.Alignment)
	if !ok {
		return terrain.AlignXZ, fmt.Errorf("%w: group.alignment %q", ErrInvalidConfig, c.Group.Alignment)
	}
	return a, nil
}

// Origin returns group.origin as a vector.
func (c *Config) Origin() tmath.Vec3 {
	o := c.Group.Origin
	return tmath.Vec3{X: o[0], Y: o[1], Z: o[2]}
}

// TaskOptions converts the tasks section.
func (c *Config) TaskOptions(log *zap.Logger) tasks.Options {
	return tasks.Options{
		Workers:   c.Tasks.Workers,
		QueueSize: c.Tasks.QueueSize,
		Logger:    log,
	}
}
