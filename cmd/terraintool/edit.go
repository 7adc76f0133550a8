package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/logger"
)

func cmdEdit(args []string) {
	fs := newFlagSet("edit")
	x := fs.Int("x", 0, "Vertex column")
	y := fs.Int("y", 0, "Vertex row")
	h := fs.Float64("h", 0, "New height")
	out := fs.String("o", "", "Output file (default: overwrite input)")
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraintool edit -x X -y Y -h H [-o out.dat] <file.dat>")
		os.Exit(1)
	}

	path := fs.Arg(0)
	t := openTile(cfg, path)
	defer t.Destroy()

	if *x < 0 || *y < 0 || *x >= t.Size() || *y >= t.Size() {
		fatal(fmt.Errorf("point (%d, %d) outside %dx%d tile", *x, *y, t.Size(), t.Size()))
	}

	before := t.GetHeightAtPoint(*x, *y)
	t.SetHeightAtPoint(*x, *y, float32(*h))
	t.Update(true)

	dst := *out
	if dst == "" {
		dst = path
	}
	if err := t.SaveToFile(dst); err != nil {
		fatal(err)
	}
	logger.Info("height edited",
		zap.Int("x", *x),
		zap.Int("y", *y),
		zap.Float32("before", before),
		zap.Float64("after", *h))
	fmt.Printf("Saved %s\n", dst)
}
