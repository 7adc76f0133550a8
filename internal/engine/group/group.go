// Package group manages a grid of terrain tiles: their definitions, background
// loading, persistence and the neighbour links that keep shared edges seamless.
package group

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/internal/store"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// LoadChannel is the work queue channel tile loads are sent on.
const LoadChannel = "terrain_group"

const loadRequestType uint16 = 1

// Group errors.
var (
	ErrNoDefinition  = errors.New("no terrain defined at slot")
	ErrSlotNotLoaded = errors.New("terrain slot not loaded")
	ErrNoStore       = errors.New("terrain group has no store")
)

// Options configures a Group.
type Options struct {
	Alignment        terrain.Alignment
	TerrainSize      int
	TerrainWorldSize float32
	// Origin is the world position of the centre of slot (0, 0).
	Origin tmath.Vec3

	Queue  *tasks.WorkQueue // nil loads inline
	Logger *zap.Logger
	Store  store.Store

	// TerrainOptions is the template every tile is created with.
	TerrainOptions terrain.Options
	// DefaultImportData seeds import definitions. Alignment and sizes always
	// come from the group.
	DefaultImportData *terrain.ImportData

	FilenamePrefix    string
	FilenameExtension string
	// ResourceGroup is recorded in group definition files for asset lookup.
	ResourceGroup string
}

// Definition says how to populate a slot: from a stored file or from import data.
type Definition struct {
	Filename   string
	ImportData *terrain.ImportData
}

// IsEmpty reports whether the definition has nothing to load from.
func (d *Definition) IsEmpty() bool {
	return d.Filename == "" && d.ImportData == nil
}

func (d *Definition) useFilename(name string) {
	d.Filename = name
	d.ImportData = nil
}

func (d *Definition) useImportData(data *terrain.ImportData) {
	d.Filename = ""
	d.ImportData = data
}

// Slot is one grid cell: its definition and, once loaded, its terrain.
type Slot struct {
	X, Y     int64
	Def      Definition
	Instance *terrain.Terrain

	loading *loadRequest
}

func (s *Slot) freeInstance() {
	if s.Instance == nil {
		return
	}
	if s.Instance.IsLoaded() {
		metrics.TileLoaded(-1)
	}
	s.Instance.Destroy()
	s.Instance = nil
	s.loading = nil
}

// Group owns the tiles of one terrain. It is not safe for concurrent use:
// call it from the goroutine that pumps the work queue.
type Group struct {
	opts    Options
	log     *zap.Logger
	queue   *tasks.WorkQueue
	channel uint16
	store   store.Store

	align     terrain.Alignment
	size      int
	worldSize float32
	origin    tmath.Vec3
	prefix    string
	ext       string

	resourceGroup string
	defaultImport terrain.ImportData
	slots         map[uint32]*Slot
}

// New creates an empty group and registers its load handlers on the queue.
func New(opts Options) *Group {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FilenamePrefix == "" {
		opts.FilenamePrefix = "terrain"
	}
	if opts.FilenameExtension == "" {
		opts.FilenameExtension = "dat"
	}
	if opts.ResourceGroup == "" {
		opts.ResourceGroup = "General"
	}
	if opts.TerrainOptions.Logger == nil {
		opts.TerrainOptions.Logger = opts.Logger
	}

	g := &Group{
		opts:      opts,
		log:       opts.Logger,
		queue:     opts.Queue,
		store:     opts.Store,
		align:     opts.Alignment,
		size:      opts.TerrainSize,
		worldSize: opts.TerrainWorldSize,
		origin:    opts.Origin,
		prefix:    opts.FilenamePrefix,
		ext:       opts.FilenameExtension,
		slots:     make(map[uint32]*Slot),

		resourceGroup: opts.ResourceGroup,
	}
	if opts.DefaultImportData != nil {
		g.defaultImport = *opts.DefaultImportData.Clone()
	} else {
		g.defaultImport = terrain.DefaultImportData()
	}
	g.syncDefaultImport()

	if g.queue != nil {
		g.channel = g.queue.GetChannel(LoadChannel)
		g.queue.AddRequestHandler(g.channel, g)
		g.queue.AddResponseHandler(g.channel, g)
	}
	return g
}

// syncDefaultImport copies the group's fixed settings into the import template.
func (g *Group) syncDefaultImport() {
	g.defaultImport.Alignment = g.align
	g.defaultImport.TerrainSize = g.size
	g.defaultImport.WorldSize = g.worldSize
}

// Destroy removes every tile and unregisters from the queue.
func (g *Group) Destroy() {
	g.RemoveAllTerrains()
	if g.queue != nil {
		g.queue.RemoveRequestHandler(g.channel, g)
		g.queue.RemoveResponseHandler(g.channel, g)
	}
}

// Alignment returns the plane the tiles lie in.
func (g *Group) Alignment() terrain.Alignment { return g.align }

// TerrainSize returns the vertex count along a tile edge.
func (g *Group) TerrainSize() int { return g.size }

// TerrainWorldSize returns the world length of a tile edge.
func (g *Group) TerrainWorldSize() float32 { return g.worldSize }

// Origin returns the world centre of slot (0, 0).
func (g *Group) Origin() tmath.Vec3 { return g.origin }

// SetOrigin moves the whole grid. Loaded tiles are repositioned.
func (g *Group) SetOrigin(origin tmath.Vec3) {
	if origin == g.origin {
		return
	}
	g.origin = origin
	for _, s := range g.slots {
		if s.Instance != nil {
			s.Instance.SetPosition(g.ConvertTerrainSlotToWorldPosition(s.X, s.Y))
		}
	}
}

// DefaultImportData returns a copy of the import template.
func (g *Group) DefaultImportData() *terrain.ImportData {
	return g.defaultImport.Clone()
}

// ResourceGroup returns the asset group name stored with the definition.
func (g *Group) ResourceGroup() string { return g.resourceGroup }

// SetFilenameConvention changes how GenerateFilename names tiles.
func (g *Group) SetFilenameConvention(prefix, ext string) {
	g.prefix = prefix
	g.ext = ext
}

// PackIndex packs signed slot coordinates into a key, 16 bits per axis.
func PackIndex(x, y int64) uint32 {
	return uint32(uint16(int16(x)))<<16 | uint32(uint16(int16(y)))
}

// UnpackIndex reverses PackIndex, restoring the signs.
func UnpackIndex(key uint32) (x, y int64) {
	return int64(int16(uint16(key >> 16))), int64(int16(uint16(key)))
}

// GenerateFilename returns the conventional name of the tile at (x, y).
func (g *Group) GenerateFilename(x, y int64) string {
	return fmt.Sprintf("%s_%08d.%s", g.prefix, PackIndex(x, y), g.ext)
}

func (g *Group) slot(x, y int64) *Slot {
	return g.slots[PackIndex(x, y)]
}

func (g *Group) slotOrCreate(x, y int64) *Slot {
	key := PackIndex(x, y)
	s, ok := g.slots[key]
	if !ok {
		s = &Slot{X: x, Y: y}
		g.slots[key] = s
	}
	return s
}

// DefineTerrain defines slot (x, y) to load from its conventional file name.
func (g *Group) DefineTerrain(x, y int64) {
	g.DefineTerrainWithFilename(x, y, g.GenerateFilename(x, y))
}

// DefineTerrainWithFilename defines slot (x, y) to load from a named file in the store.
func (g *Group) DefineTerrainWithFilename(x, y int64, name string) {
	s := g.slotOrCreate(x, y)
	s.freeInstance()
	s.Def.useFilename(name)
}

// DefineTerrainWithHeight defines slot (x, y) as flat at the given height.
func (g *Group) DefineTerrainWithHeight(x, y int64, height float32) {
	data := g.importTemplate()
	data.ConstantHeight = height
	g.defineImport(x, y, data)
}

// DefineTerrainWithImport defines slot (x, y) from a copy of data. Alignment
// and sizes are overridden by the group's.
func (g *Group) DefineTerrainWithImport(x, y int64, data *terrain.ImportData) {
	g.defineImport(x, y, data.Clone())
}

// DefineTerrainWithImage defines slot (x, y) from a height image and optional layers.
func (g *Group) DefineTerrainWithImage(x, y int64, img *formats.HeightImage, layers []terrain.LayerInstance) {
	data := g.importTemplate()
	data.InputImage = img
	if layers != nil {
		data.LayerList = cloneLayerList(layers)
	}
	g.defineImport(x, y, data)
}

// DefineTerrainWithData defines slot (x, y) from a copy of a height array and optional layers.
func (g *Group) DefineTerrainWithData(x, y int64, heights []float32, layers []terrain.LayerInstance) {
	data := g.importTemplate()
	if heights != nil {
		data.InputFloat = slices.Clone(heights)
	}
	if layers != nil {
		data.LayerList = cloneLayerList(layers)
	}
	g.defineImport(x, y, data)
}

func (g *Group) importTemplate() *terrain.ImportData {
	return g.defaultImport.Clone()
}

func (g *Group) defineImport(x, y int64, data *terrain.ImportData) {
	data.Alignment = g.align
	data.TerrainSize = g.size
	data.WorldSize = g.worldSize
	s := g.slotOrCreate(x, y)
	s.freeInstance()
	s.Def.useImportData(data)
}

func cloneLayerList(layers []terrain.LayerInstance) []terrain.LayerInstance {
	d := terrain.ImportData{LayerList: layers}
	return d.Clone().LayerList
}

// GetTerrainDefinition returns the definition of slot (x, y), or nil.
func (g *Group) GetTerrainDefinition(x, y int64) *Definition {
	if s := g.slot(x, y); s != nil {
		return &s.Def
	}
	return nil
}

// GetTerrain returns the terrain in slot (x, y), or nil when none is loaded.
func (g *Group) GetTerrain(x, y int64) *terrain.Terrain {
	if s := g.slot(x, y); s != nil {
		return s.Instance
	}
	return nil
}

// UnloadTerrain frees the terrain in slot (x, y) and keeps its definition.
func (g *Group) UnloadTerrain(x, y int64) {
	if s := g.slot(x, y); s != nil {
		g.abortLoad(s)
		s.freeInstance()
	}
}

// RemoveTerrain frees slot (x, y) and forgets its definition.
func (g *Group) RemoveTerrain(x, y int64) {
	key := PackIndex(x, y)
	if s, ok := g.slots[key]; ok {
		g.abortLoad(s)
		s.freeInstance()
		delete(g.slots, key)
	}
}

// RemoveAllTerrains frees every slot and forgets all definitions.
func (g *Group) RemoveAllTerrains() {
	for _, s := range g.slots {
		g.abortLoad(s)
		s.freeInstance()
	}
	clear(g.slots)
}

// Slots returns the defined slots ordered by key.
func (g *Group) Slots() []*Slot {
	keys := slices.Sorted(maps.Keys(g.slots))
	out := make([]*Slot, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.slots[k])
	}
	return out
}

// loadedSlots returns the slots holding a loaded terrain, ordered by key.
func (g *Group) loadedSlots() []*Slot {
	return slices.DeleteFunc(g.Slots(), func(s *Slot) bool {
		return s.Instance == nil || !s.Instance.IsLoaded()
	})
}
