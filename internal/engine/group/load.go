package group

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
)

// loadRequest carries one tile load to a worker. The definition is captured
// when the load is queued so later redefinitions don't race with the worker.
type loadRequest struct {
	group      *Group
	slot       *Slot
	terrain    *terrain.Terrain
	filename   string
	importData *terrain.ImportData
	id         uuid.UUID
}

// LoadTerrain loads the terrain defined at slot (x, y). Loading an already
// loaded or loading slot does nothing. Asynchronous loads complete in a later
// ProcessResponses call on the work queue.
func (g *Group) LoadTerrain(x, y int64, synchronous bool) error {
	s := g.slot(x, y)
	if s == nil || s.Def.IsEmpty() {
		return fmt.Errorf("%w: (%d, %d)", ErrNoDefinition, x, y)
	}
	return g.loadSlot(s, synchronous)
}

// LoadAllTerrains loads every defined slot. Errors from individual slots are
// logged and the first one is returned.
func (g *Group) LoadAllTerrains(synchronous bool) error {
	var first error
	for _, s := range g.Slots() {
		if s.Def.IsEmpty() {
			continue
		}
		if err := g.loadSlot(s, synchronous); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (g *Group) loadSlot(s *Slot, synchronous bool) error {
	if s.Instance != nil {
		return nil
	}

	opts := g.opts.TerrainOptions
	opts.Name = g.GenerateFilename(s.X, s.Y)
	opts.Queue = g.queue
	s.Instance = terrain.New(opts)

	lr := &loadRequest{
		group:      g,
		slot:       s,
		terrain:    s.Instance,
		filename:   s.Def.Filename,
		importData: s.Def.ImportData,
	}
	s.loading = lr

	if g.queue == nil {
		g.HandleResponse(g.HandleRequest(&tasks.Request{ID: uuid.New(), Type: loadRequestType, Data: lr}))
	} else {
		id, err := g.queue.AddRequest(g.channel, loadRequestType, lr, synchronous)
		if err != nil {
			s.freeInstance()
			return fmt.Errorf("queueing load of (%d, %d): %w", s.X, s.Y, err)
		}
		lr.id = id
		if !synchronous {
			return nil
		}
	}

	if s.Instance == nil || !s.Instance.IsLoaded() {
		return fmt.Errorf("%w: (%d, %d)", ErrSlotNotLoaded, s.X, s.Y)
	}
	return nil
}

func (g *Group) abortLoad(s *Slot) {
	if s.loading != nil && g.queue != nil && s.loading.id != uuid.Nil {
		g.queue.AbortRequest(s.loading.id)
	}
	s.loading = nil
}

// IsLoading reports whether any slot still has a load in flight.
func (g *Group) IsLoading() bool {
	for _, s := range g.slots {
		if s.loading != nil {
			return true
		}
	}
	return false
}

// WaitForLoads pumps the work queue until every queued load has completed.
func (g *Group) WaitForLoads() {
	for g.IsLoading() {
		if g.queue == nil || g.queue.Closed() {
			for _, s := range g.slots {
				if s.loading != nil {
					s.freeInstance()
				}
			}
			return
		}
		if g.queue.ProcessResponses() == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// CanHandleRequest accepts this group's load requests that were not aborted.
func (g *Group) CanHandleRequest(req *tasks.Request) bool {
	lr, ok := req.Data.(*loadRequest)
	return ok && lr.group == g && !req.Aborted()
}

// HandleRequest prepares the tile on a worker goroutine.
func (g *Group) HandleRequest(req *tasks.Request) *tasks.Response {
	lr := req.Data.(*loadRequest)

	var err error
	switch {
	case lr.filename != "":
		err = g.prepareFromStore(lr.terrain, lr.filename)
	case lr.importData != nil:
		err = lr.terrain.Prepare(lr.importData)
	default:
		err = ErrNoDefinition
	}
	if err != nil {
		return tasks.FailedResponse(req, err)
	}
	return tasks.NewResponse(req, lr)
}

func (g *Group) prepareFromStore(t *terrain.Terrain, name string) error {
	if g.store == nil {
		return ErrNoStore
	}
	r, err := g.store.Open(name)
	if err != nil {
		return err
	}
	defer r.Close()
	return t.PrepareFromReader(r)
}

// CanHandleResponse accepts responses to this group's load requests.
func (g *Group) CanHandleResponse(res *tasks.Response) bool {
	lr, ok := res.Request.Data.(*loadRequest)
	return ok && lr.group == g
}

// HandleResponse finishes a load on the owning goroutine: the tile is placed,
// loaded and stitched to its loaded neighbours.
func (g *Group) HandleResponse(res *tasks.Response) {
	lr := res.Request.Data.(*loadRequest)
	s := lr.slot

	// unloaded or redefined while in flight; freeInstance already destroyed it
	if s.Instance != lr.terrain {
		return
	}
	s.loading = nil

	if !res.Succeeded {
		err := res.Err
		if err == nil {
			err = errors.New("load aborted")
		}
		g.log.Error("terrain slot load failed",
			zap.Int64("x", s.X),
			zap.Int64("y", s.Y),
			zap.Error(err))
		metrics.TileLoadFailed()
		s.freeInstance()
		return
	}

	imported := lr.importData != nil
	if imported && s.Def.ImportData == lr.importData {
		// the heights now live in the terrain; SaveAllTerrains gives the
		// slot a file name
		s.Def.ImportData = nil
	}

	t := s.Instance
	t.SetPosition(g.ConvertTerrainSlotToWorldPosition(s.X, s.Y))
	if err := t.Load(); err != nil {
		g.log.Error("terrain slot load failed",
			zap.Int64("x", s.X),
			zap.Int64("y", s.Y),
			zap.Error(err))
		metrics.TileLoadFailed()
		s.freeInstance()
		return
	}
	metrics.TileLoaded(1)

	g.connectNeighbours(s, imported)
	g.log.Debug("terrain slot loaded",
		zap.Int64("x", s.X),
		zap.Int64("y", s.Y),
		zap.Bool("imported", imported))
}

// connectNeighbours links the tile in s with every loaded tile around it.
// Imported tiles take their shared edges from the neighbours.
func (g *Group) connectNeighbours(s *Slot, recalculate bool) {
	for i := range terrain.NeighbourIndex(terrain.NeighbourCount) {
		dx, dy := terrain.GetNeighbourOffset(i)
		n := g.slot(s.X+int64(dx), s.Y+int64(dy))
		if n == nil || n.Instance == nil || !n.Instance.IsLoaded() {
			continue
		}
		s.Instance.SetNeighbour(i, n.Instance, recalculate, true)
	}
}
