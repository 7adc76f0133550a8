package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/group"
	"github.com/Faultbox/midgard-terrain/internal/engine/picking"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/store"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

func cmdGroup(args []string) {
	fs := newFlagSet("group")
	n := fs.Int("n", 2, "Tiles per side")
	useBadger := fs.Bool("badger", false, "Store tiles in a badger database instead of files")
	reload := fs.Bool("reload", false, "Load a previously saved group instead of generating one")
	cfg := setup(fs, args)
	defer logger.Sync()

	if *n < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool group [-n N] [-badger] [-reload] [-data-dir dir]")
		os.Exit(1)
	}
	if *useBadger {
		cfg.Group.Storage = "badger"
	}

	st, err := openStore(cfg)
	if err != nil {
		fatal(err)
	}
	defer st.Close()

	queue := tasks.NewWorkQueue(cfg.TaskOptions(logger.Named("tasks")))
	queue.Start()
	defer queue.Shutdown()

	g, err := newGroup(cfg, queue, st)
	if err != nil {
		fatal(err)
	}
	defer g.Destroy()

	start := time.Now()
	if *reload {
		if err := g.LoadDefinitionFromStore(); err != nil {
			fatal(err)
		}
	}
	defineSlots(g, cfg, st, *n, *reload)

	if err := g.LoadAllTerrains(false); err != nil {
		fatal(err)
	}
	g.WaitForLoads()
	g.Update(true)

	loaded := 0
	for _, s := range g.Slots() {
		if s.Instance != nil && s.Instance.IsLoaded() {
			loaded++
		}
	}
	logger.Info("group ready",
		zap.Int("tiles", loaded),
		zap.Duration("elapsed", time.Since(start)))

	if err := g.SaveAllTerrains(true, true); err != nil {
		fatal(err)
	}
	if err := g.SaveDefinitionToStore(); err != nil {
		fatal(err)
	}

	origin := g.Origin()
	h, _ := g.GetHeightAtWorldPosition(origin)
	fmt.Printf("Loaded %d/%d tiles into %s storage at %s\n", loaded, (*n)*(*n), cfg.Group.Storage, cfg.Group.DataDir)
	fmt.Printf("Height at origin: %.2f\n", h)

	up := terrain.ConvertTerrainToWorldAxes(g.Alignment(), tmath.Vec3{Z: 1})
	ray := picking.Ray{Origin: origin.Add(up.Scale(10000)), Direction: up.Scale(-1)}
	if hit := g.RayIntersects(ray, 0); hit.Hit {
		fmt.Printf("Ray from above hits (%.2f, %.2f, %.2f)\n", hit.Position.X, hit.Position.Y, hit.Position.Z)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Group.Storage == "badger" {
		return store.OpenBadgerStore(filepath.Join(cfg.Group.DataDir, "tiles.db"))
	}
	return store.NewFileStore(cfg.Group.DataDir)
}

func newGroup(cfg *config.Config, queue *tasks.WorkQueue, st store.Store) (*group.Group, error) {
	align, err := cfg.Alignment()
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.ImportData(true)
	if err != nil {
		return nil, err
	}
	opts := cfg.TerrainOptions()
	opts.Logger = logger.Named("terrain")

	return group.New(group.Options{
		Alignment:         align,
		TerrainSize:       cfg.Terrain.Size,
		TerrainWorldSize:  cfg.Terrain.WorldSize,
		Origin:            cfg.Origin(),
		Queue:             queue,
		Logger:            logger.Named("group"),
		Store:             st,
		TerrainOptions:    opts,
		DefaultImportData: defaults,
		FilenamePrefix:    cfg.Group.FilenamePrefix,
		FilenameExtension: cfg.Group.FilenameExtension,
	}), nil
}

// defineSlots fills an n x n block of slots centred on slot (0, 0).
// Fresh slots sample the noise field at their own offset so shared edges agree.
func defineSlots(g *group.Group, cfg *config.Config, st store.Store, n int, reload bool) {
	base := g.DefaultImportData()
	for j := range n {
		for i := range n {
			x, y := int64(i-n/2), int64(j-n/2)
			if reload && st.Exists(g.GenerateFilename(x, y)) {
				g.DefineTerrain(x, y)
				continue
			}
			data := base.Clone()
			if data.Noise == nil {
				data.Noise = cfg.NoiseParams()
			}
			data.Noise.OffsetX = float32(x)
			data.Noise.OffsetY = float32(y)
			g.DefineTerrainWithImport(x, y, data)
		}
	}
}
