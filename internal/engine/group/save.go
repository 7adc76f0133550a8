package group

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/store"
	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// ChunkGroup identifies a group definition stream.
var ChunkGroup = formats.MakeChunkID("TERG")

const groupChunkVersion = 1

// DefinitionKey is the store name the group definition is kept under.
const DefinitionKey = "group"

// SaveAllTerrains writes loaded tiles to the store. With onlyIfModified
// unchanged tiles are skipped. With replaceManualFilenames every saved slot is
// renamed to the generated convention; otherwise only slots without a file
// name get one. Saved slots are redefined to load from their file.
func (g *Group) SaveAllTerrains(onlyIfModified, replaceManualFilenames bool) error {
	if g.store == nil {
		return ErrNoStore
	}
	var errs error
	saved := 0
	for _, s := range g.loadedSlots() {
		if onlyIfModified && !s.Instance.IsModified() {
			continue
		}
		name := s.Def.Filename
		if replaceManualFilenames || name == "" {
			name = g.GenerateFilename(s.X, s.Y)
		}
		if err := g.saveTerrain(s.Instance, name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("saving slot (%d, %d): %w", s.X, s.Y, err))
			continue
		}
		s.Def.useFilename(name)
		saved++
	}
	g.log.Info("terrain group saved", zap.Int("tiles", saved), zap.Int("failed", len(multierr.Errors(errs))))
	return errs
}

func (g *Group) saveTerrain(t *terrain.Terrain, name string) (err error) {
	w, err := g.store.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = w.Close()
		} else {
			store.Discard(w)
		}
	}()
	return t.Save(w)
}

// SaveGroupDefinition writes the group settings and the default import data
// as a TERG chunk stream. Slot definitions are not included.
func (g *Group) SaveGroupDefinition(w io.Writer) error {
	cw := formats.NewChunkWriter(w)
	cw.BeginChunk(ChunkGroup, groupChunkVersion)
	cw.WriteUint8(uint8(g.align))
	cw.WriteUint16(uint16(g.size))
	cw.WriteFloat32(g.worldSize)
	cw.WriteString(g.prefix)
	cw.WriteString(g.ext)
	cw.WriteString(g.resourceGroup)
	cw.WriteVec3(g.origin)

	d := &g.defaultImport
	cw.WriteFloat32(d.ConstantHeight)
	cw.WriteFloat32(d.InputBias)
	cw.WriteFloat32(d.InputScale)
	cw.WriteUint16(uint16(d.MaxBatchSize))
	cw.WriteUint16(uint16(d.MinBatchSize))
	terrain.WriteLayers(cw, d.LayerDeclaration, d.LayerList)

	cw.EndChunk(ChunkGroup)
	if err := cw.Close(); err != nil {
		return fmt.Errorf("saving group definition: %w", err)
	}
	return nil
}

// LoadGroupDefinition replaces the group settings with those read from r.
// Call it before defining slots; loaded tiles keep their old settings.
func (g *Group) LoadGroupDefinition(r io.Reader) error {
	cr, err := formats.NewChunkReader(r)
	if err != nil {
		return fmt.Errorf("reading group definition: %w", err)
	}
	defer cr.Close()

	def, err := decodeGroup(cr)
	if err != nil {
		return fmt.Errorf("reading group definition: %w", err)
	}
	if def.size < 3 || (def.size-1)&(def.size-2) != 0 {
		return fmt.Errorf("reading group definition: %w: %d", terrain.ErrInvalidSize, def.size)
	}

	g.align = def.align
	g.size = def.size
	g.worldSize = def.worldSize
	g.prefix = def.prefix
	g.ext = def.ext
	g.resourceGroup = def.resourceGroup
	g.SetOrigin(def.origin)

	d := &g.defaultImport
	d.ConstantHeight = def.constantHeight
	d.InputBias = def.inputBias
	d.InputScale = def.inputScale
	d.MaxBatchSize = def.maxBatch
	d.MinBatchSize = def.minBatch
	d.LayerDeclaration = def.decl
	d.LayerList = def.layers
	g.syncDefaultImport()
	return nil
}

type groupDefinition struct {
	align          terrain.Alignment
	size           int
	worldSize      float32
	prefix, ext    string
	resourceGroup  string
	origin         tmath.Vec3
	constantHeight float32
	inputBias      float32
	inputScale     float32
	maxBatch       int
	minBatch       int
	decl           terrain.LayerDeclaration
	layers         []terrain.LayerInstance
}

func decodeGroup(cr *formats.ChunkReader) (*groupDefinition, error) {
	if _, err := cr.ReadChunkBegin(ChunkGroup, groupChunkVersion); err != nil {
		return nil, err
	}
	var (
		def groupDefinition
		err error
	)
	read := func(fn func() error) {
		if err == nil {
			err = fn()
		}
	}
	read(func() error { v, e := cr.ReadUint8(); def.align = terrain.Alignment(v); return e })
	read(func() error { v, e := cr.ReadUint16(); def.size = int(v); return e })
	read(func() error { v, e := cr.ReadFloat32(); def.worldSize = v; return e })
	read(func() error { v, e := cr.ReadString(); def.prefix = v; return e })
	read(func() error { v, e := cr.ReadString(); def.ext = v; return e })
	read(func() error { v, e := cr.ReadString(); def.resourceGroup = v; return e })
	read(func() error { v, e := cr.ReadVec3(); def.origin = v; return e })
	read(func() error { v, e := cr.ReadFloat32(); def.constantHeight = v; return e })
	read(func() error { v, e := cr.ReadFloat32(); def.inputBias = v; return e })
	read(func() error { v, e := cr.ReadFloat32(); def.inputScale = v; return e })
	read(func() error { v, e := cr.ReadUint16(); def.maxBatch = int(v); return e })
	read(func() error { v, e := cr.ReadUint16(); def.minBatch = int(v); return e })
	read(func() error {
		var e error
		def.decl, def.layers, e = terrain.ReadLayers(cr)
		return e
	})
	read(func() error { return cr.ReadChunkEnd(ChunkGroup) })
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// SaveDefinitionToStore writes the group definition under DefinitionKey.
func (g *Group) SaveDefinitionToStore() (err error) {
	if g.store == nil {
		return ErrNoStore
	}
	w, err := g.store.Create(DefinitionKey)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = w.Close()
		} else {
			store.Discard(w)
		}
	}()
	return g.SaveGroupDefinition(w)
}

// LoadDefinitionFromStore reads the group definition kept under DefinitionKey.
func (g *Group) LoadDefinitionFromStore() error {
	if g.store == nil {
		return ErrNoStore
	}
	r, err := g.store.Open(DefinitionKey)
	if err != nil {
		return err
	}
	defer r.Close()
	return g.LoadGroupDefinition(r)
}
