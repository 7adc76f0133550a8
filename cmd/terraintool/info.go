package main

import (
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
)

type layerInfo struct {
	WorldSize float32  `json:"world_size"`
	Textures  []string `json:"textures"`
}

type tileInfo struct {
	File             string      `json:"file"`
	Size             int         `json:"size"`
	WorldSize        float32     `json:"world_size"`
	Alignment        string      `json:"alignment"`
	Position         [3]float32  `json:"position"`
	MinBatchSize     int         `json:"min_batch_size"`
	MaxBatchSize     int         `json:"max_batch_size"`
	LodLevels        int         `json:"lod_levels"`
	LodLevelsPerLeaf int         `json:"lod_levels_per_leaf"`
	TreeDepth        int         `json:"tree_depth"`
	MinHeight        float32     `json:"min_height"`
	MaxHeight        float32     `json:"max_height"`
	Layers           []layerInfo `json:"layers"`
	NormalMap        bool        `json:"normal_map"`
	LightMap         bool        `json:"light_map"`
	CompositeMap     bool        `json:"composite_map"`
}

func describe(path string, t *terrain.Terrain) tileInfo {
	p := t.Position()
	info := tileInfo{
		File:             path,
		Size:             t.Size(),
		WorldSize:        t.WorldSize(),
		Alignment:        t.Alignment().String(),
		Position:         [3]float32{p.X, p.Y, p.Z},
		MinBatchSize:     t.MinBatchSize(),
		MaxBatchSize:     t.MaxBatchSize(),
		LodLevels:        t.NumLodLevels(),
		LodLevelsPerLeaf: t.NumLodLevelsPerLeaf(),
		TreeDepth:        t.TreeDepth(),
		MinHeight:        t.MinHeight(),
		MaxHeight:        t.MaxHeight(),
		NormalMap:        t.NormalMap() != nil,
		LightMap:         t.LightMap() != nil,
		CompositeMap:     t.CompositeMap() != nil,
	}
	for _, l := range t.Layers() {
		info.Layers = append(info.Layers, layerInfo{WorldSize: l.WorldSize, Textures: l.TextureNames})
	}
	return info
}

func cmdInfo(args []string) {
	fs := newFlagSet("info")
	asJSON := fs.Bool("json", false, "Print as JSON")
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool info [-json] <file.dat>")
		os.Exit(1)
	}

	path := fs.Arg(0)
	t := openTile(cfg, path)
	defer t.Destroy()
	info := describe(path, t)

	if *asJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Tile: %s\n", info.File)
	fmt.Printf("Size: %d vertices over %.1f units (%s)\n", info.Size, info.WorldSize, info.Alignment)
	fmt.Printf("Position: (%.2f, %.2f, %.2f)\n", info.Position[0], info.Position[1], info.Position[2])
	fmt.Printf("Batches: %d to %d\n", info.MinBatchSize, info.MaxBatchSize)
	fmt.Printf("LOD levels: %d (%d per leaf), tree depth %d\n", info.LodLevels, info.LodLevelsPerLeaf, info.TreeDepth)
	fmt.Printf("Heights: %.2f to %.2f\n", info.MinHeight, info.MaxHeight)
	fmt.Printf("Maps: normal=%t light=%t composite=%t\n", info.NormalMap, info.LightMap, info.CompositeMap)

	fmt.Printf("\nLayers (%d):\n", len(info.Layers))
	for i, l := range info.Layers {
		fmt.Printf("  %d: world size %.2f, textures %v\n", i, l.WorldSize, l.Textures)
	}
}
