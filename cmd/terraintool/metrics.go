package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
)

func cmdMetrics(args []string) {
	fs := newFlagSet("metrics")
	addr := fs.String("addr", "", "Listen address (default from config)")
	duration := fs.Duration("for", 0, "Stop after this long (default: until interrupted)")
	cfg := setup(fs, args)
	defer logger.Sync()

	if *addr != "" {
		cfg.Metrics.ListenAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	edits, err := editLoop(ctx, cfg)
	if err != nil {
		stop()
	}
	if werr := eg.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Applied %d edits\n", edits)
}

// editLoop keeps one tile busy with random height edits so the derived data
// counters move. The tile is only touched from this goroutine.
func editLoop(ctx context.Context, cfg *config.Config) (int, error) {
	queue := tasks.NewWorkQueue(cfg.TaskOptions(logger.Named("tasks")))
	queue.Start()
	defer queue.Shutdown()

	data, err := cfg.ImportData(true)
	if err != nil {
		return 0, err
	}
	opts := cfg.TerrainOptions()
	opts.Name = "metrics-demo"
	opts.Logger = logger.Named("terrain")
	opts.Queue = queue
	t := terrain.New(opts)
	defer t.Destroy()

	if err := t.Prepare(data); err != nil {
		return 0, err
	}
	if err := t.Load(); err != nil {
		return 0, err
	}
	metrics.TileLoaded(1)
	defer metrics.TileLoaded(-1)

	interval := cfg.Tasks.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	edits := 0
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return edits, nil
		case now := <-ticker.C:
			x, y := rand.IntN(t.Size()), rand.IntN(t.Size())
			t.SetHeightAtPoint(x, y, t.GetHeightAtPoint(x, y)+rand.Float32()*10-5)
			t.UpdateGeometry()
			t.UpdateDerivedData(false, terrain.DerivedAll)
			queue.ProcessResponses()
			t.FrameUpdate(now.Sub(last))
			last = now
			edits++
		}
	}
}
