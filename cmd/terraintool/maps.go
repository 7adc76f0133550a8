package main

import (
	"fmt"
	"os"

	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/pkg/formats"
)

type mapKind int

const (
	mapNormals mapKind = iota
	mapLight
)

func cmdMap(args []string, kind mapKind) {
	name := "normals"
	if kind == mapLight {
		name = "lightmap"
	}
	fs := newFlagSet(name)
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "Usage: terraintool %s <file.dat> <out.png>\n", name)
		os.Exit(1)
	}

	t := openTile(cfg, fs.Arg(0))
	defer t.Destroy()
	// maps missing from the file are rebuilt here
	t.Update(true)

	var (
		data     []byte
		size     int
		channels int
	)
	switch kind {
	case mapNormals:
		data, size, channels = t.NormalMap(), t.Size(), 3
	case mapLight:
		data, size, channels = t.LightMap(), t.LightMapSize(), 1
	}
	if data == nil {
		fatal(fmt.Errorf("%s disabled in config", name))
	}

	f, err := os.Create(fs.Arg(1))
	if err != nil {
		fatal(err)
	}
	if err := formats.EncodeMapPNG(f, size, channels, data); err != nil {
		f.Close()
		fatal(err)
	}
	if err := f.Close(); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %dx%d %s to %s\n", size, size, name, fs.Arg(1))
}
