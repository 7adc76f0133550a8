// terraintool is a CLI utility for building and inspecting terrain tiles.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "import":
		cmdImport(args)
	case "info":
		cmdInfo(args)
	case "edit":
		cmdEdit(args)
	case "normals":
		cmdMap(args, mapNormals)
	case "lightmap":
		cmdMap(args, mapLight)
	case "group":
		cmdGroup(args)
	case "metrics":
		cmdMetrics(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terraintool - height-field terrain utility

Usage:
  terraintool <command> [options]

Commands:
  import [options] <image>...         Convert height images (or noise) into tiles
  info [-json] <file.dat>             Show tile information
  edit -x X -y Y -h H <file.dat>      Set one height and rebuild derived data
  normals <file.dat> <out.png>        Export the normal map
  lightmap <file.dat> <out.png>       Export the light map
  group [options]                     Generate, stitch and save an NxN tile group
  metrics [options]                   Serve Prometheus metrics while editing a tile
  config [-o terrain.yaml]            Write the effective config

Common options:
  -config <path>  -debug  -log-level <lvl>  -workers <n>  -size <n>  -data-dir <dir>

Examples:
  terraintool import -world 2000 -max 129 heights.png
  terraintool import -noise -seed 7 -o island.dat
  terraintool info -json island.dat
  terraintool group -n 3 -data-dir ./tiles -badger`)
}

// newFlagSet returns a FlagSet carrying the shared config overrides.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	config.BindFlags(fs)
	return fs
}

// setup parses args, loads the config and initializes logging.
// The caller must defer logger.Sync.
func setup(fs *flag.FlagSet, args []string) *config.Config {
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cmdConfig(args []string) {
	fs := newFlagSet("config")
	out := fs.String("o", "", "Output path (default: user config directory)")
	cfg := setup(fs, args)
	defer logger.Sync()

	var err error
	path := *out
	if path == "" {
		path = filepath.Join(config.ConfigDir(), "terrain.yaml")
		err = cfg.Save()
	} else {
		err = cfg.SaveTo(path)
	}
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

// isSet reports whether the named flag was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// openTile loads a saved tile without a work queue, so derived data runs inline.
func openTile(cfg *config.Config, path string) *terrain.Terrain {
	opts := cfg.TerrainOptions()
	opts.Name = path
	opts.Logger = logger.Named("terrain")
	t := terrain.New(opts)
	if err := t.PrepareFromFile(path); err != nil {
		fatal(err)
	}
	return t
}

func fatal(err error) {
	logger.Sync()
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
