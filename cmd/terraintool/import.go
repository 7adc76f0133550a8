package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/pkg/formats"
)

func cmdImport(args []string) {
	fs := newFlagSet("import")
	world := fs.Float64("world", 0, "World size of one tile")
	minBatch := fs.Int("min", 0, "Minimum batch size")
	maxBatch := fs.Int("max", 0, "Maximum batch size")
	scale := fs.Float64("scale", 0, "Height scale applied to normalized input")
	bias := fs.Float64("bias", 0, "Height bias added after scaling")
	noise := fs.Bool("noise", false, "Generate heights from perlin noise instead of images")
	seed := fs.Int64("seed", 0, "Noise seed")
	out := fs.String("o", "", "Output file (single input) or directory")

	cfg := setup(fs, args)
	defer logger.Sync()

	inputs := fs.Args()
	if len(inputs) == 0 && !*noise {
		fmt.Fprintln(os.Stderr, "Usage: terraintool import [options] <image>... | -noise")
		os.Exit(1)
	}

	if isSet(fs, "world") {
		cfg.Terrain.WorldSize = float32(*world)
	}
	if isSet(fs, "min") {
		cfg.Terrain.MinBatchSize = *minBatch
	}
	if isSet(fs, "max") {
		cfg.Terrain.MaxBatchSize = *maxBatch
	}
	if isSet(fs, "scale") {
		cfg.Terrain.InputScale = float32(*scale)
	}
	if isSet(fs, "bias") {
		cfg.Terrain.InputBias = float32(*bias)
	}
	if isSet(fs, "seed") {
		cfg.Noise.Seed = *seed
	}

	if *noise {
		path := *out
		if path == "" {
			path = "terrain.dat"
		}
		if err := importTile(cfg, "", path); err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote %s\n", path)
		return
	}

	var g errgroup.Group
	g.SetLimit(max(1, cfg.Tasks.Workers))
	for _, in := range inputs {
		dst := outputPath(in, *out, len(inputs) == 1)
		g.Go(func() error {
			if err := importTile(cfg, in, dst); err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			fmt.Printf("%s -> %s\n", in, dst)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fatal(err)
	}
}

// outputPath names the tile written for one input image.
func outputPath(input, out string, single bool) string {
	if single && out != "" && filepath.Ext(out) != "" {
		return out
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".dat"
	if out != "" {
		return filepath.Join(out, base)
	}
	return filepath.Join(filepath.Dir(input), base)
}

// importTile builds one tile and saves it with its derived maps.
// An empty input uses the noise settings.
func importTile(cfg *config.Config, input, dst string) error {
	data, err := cfg.ImportData(input == "")
	if err != nil {
		return err
	}
	if input != "" {
		img, err := formats.ParseHeightImageFile(input)
		if err != nil {
			return err
		}
		data.InputImage = img
	}

	opts := cfg.TerrainOptions()
	opts.Name = dst
	opts.Logger = logger.Named("terrain")
	t := terrain.New(opts)
	defer t.Destroy()

	if err := t.Prepare(data); err != nil {
		return err
	}
	t.Update(true)

	if err := t.SaveToFile(dst); err != nil {
		return err
	}
	logger.Debug("tile imported",
		zap.String("input", input),
		zap.String("output", dst),
		zap.Float32("min", t.MinHeight()),
		zap.Float32("max", t.MaxHeight()))
	return nil
}
