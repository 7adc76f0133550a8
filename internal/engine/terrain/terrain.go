package terrain

import (
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/picking"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// Terrain is one square height-field tile.
//
// A Terrain belongs to the goroutine that created it. Only derived data
// computations run elsewhere, on the work queue, and they synchronise with
// the owner through dataMu.
type Terrain struct {
	opts    Options
	log     *zap.Logger
	name    string
	queue   *tasks.WorkQueue
	channel uint16

	// dataMu guards heightData, deltaData and the quadtree against background tasks.
	dataMu sync.RWMutex

	align               Alignment
	size                int
	worldSize           float32
	minBatch, maxBatch  int
	pos                 tmath.Vec3
	base, scale         float32
	numLodLevels        int
	numLodLevelsPerLeaf int
	treeDepth           int

	heightData []float32
	deltaData  []float32
	quadTree   *QuadTree

	layerDecl         LayerDeclaration
	layers            []LayerInstance
	layerUVMultiplier []float32
	layerBlendMapSize int
	blendTextures     [][]byte
	blendMaps         []*LayerBlendMap

	normalMap        []byte
	lightMap         []byte
	lightMapSize     int
	compositeMap     []byte
	compositeMapSize int
	compositeUpdated Rect
	colorMap         []byte
	colorMapSize     int

	dirtyGeometryRect               Rect
	dirtyGeometryRectForNeighbours  Rect
	dirtyDerivedDataRect            Rect
	dirtyLightmapFromNeighboursRect Rect
	compositeMapDirtyRect           Rect

	compositeMapDirtyRectLightmapUpdate bool
	compositeMapUpdateCountdown         time.Duration

	derivedDataUpdateInProgress bool
	derivedUpdatePendingMask    DerivedDataType

	modified           bool
	heightDataModified bool
	prepared           bool
	loaded             bool

	neighbours [NeighbourCount]*Terrain
}

// New creates an empty terrain. Prepare or PrepareFromReader fills it.
// When opts.Queue is set the terrain registers itself for derived data requests.
func New(opts Options) *Terrain {
	opts.applyDefaults()
	if opts.Name == "" {
		opts.Name = uuid.NewString()
	}
	t := &Terrain{
		opts:              opts,
		name:              opts.Name,
		log:               opts.Logger.With(zap.String("terrain", opts.Name)),
		queue:             opts.Queue,
		align:             AlignXZ,
		lightMapSize:      opts.LightMapSize,
		compositeMapSize:  opts.CompositeMapSize,
		layerBlendMapSize: opts.LayerBlendMapSize,
	}
	if t.queue != nil {
		t.channel = t.queue.GetChannel(DerivedChannel)
		t.queue.AddRequestHandler(t.channel, t)
		t.queue.AddResponseHandler(t.channel, t)
	}
	return t
}

func isPow2(v int) bool {
	return v > 0 && v&(v-1) == 0
}

func log2(v int) int {
	return bits.Len(uint(v)) - 1
}

func validateImport(d *ImportData) error {
	if d == nil {
		return fmt.Errorf("%w: nil import data", ErrInvalidImportData)
	}
	if d.TerrainSize < 3 || !isPow2(d.TerrainSize-1) {
		return fmt.Errorf("%w: %d", ErrInvalidSize, d.TerrainSize)
	}
	if d.MinBatchSize < 3 || !isPow2(d.MinBatchSize-1) || !isPow2(d.MaxBatchSize-1) {
		return fmt.Errorf("%w: batch sizes %d/%d must be 2^n+1", ErrInvalidBatchSize, d.MinBatchSize, d.MaxBatchSize)
	}
	if d.MinBatchSize > d.MaxBatchSize {
		return fmt.Errorf("%w: min %d exceeds max %d", ErrInvalidBatchSize, d.MinBatchSize, d.MaxBatchSize)
	}
	if d.MaxBatchSize > MaxBatchSize || d.MaxBatchSize > d.TerrainSize {
		return fmt.Errorf("%w: max %d exceeds limit", ErrInvalidBatchSize, d.MaxBatchSize)
	}
	if d.WorldSize <= 0 {
		return fmt.Errorf("%w: world size %v", ErrInvalidImportData, d.WorldSize)
	}
	if d.InputFloat != nil && len(d.InputFloat) != d.TerrainSize*d.TerrainSize {
		return fmt.Errorf("%w: %d heights for size %d", ErrInvalidImportData, len(d.InputFloat), d.TerrainSize)
	}
	if d.InputImage != nil && (d.InputImage.Width == 0 || d.InputImage.Height == 0) {
		return fmt.Errorf("%w: empty height image", ErrInvalidImportData)
	}
	return nil
}

// Prepare builds the terrain from import data. Nothing is modified when validation fails.
func (t *Terrain) Prepare(data *ImportData) error {
	if err := validateImport(data); err != nil {
		t.log.Error("prepare failed", zap.Error(err))
		return err
	}

	t.dataMu.Lock()
	defer t.dataMu.Unlock()

	t.freeCPUResources()

	t.align = data.Alignment
	t.size = data.TerrainSize
	t.worldSize = data.WorldSize
	t.minBatch = data.MinBatchSize
	t.maxBatch = data.MaxBatchSize
	t.pos = data.Pos
	t.updateBaseScale()
	t.determineLodLevels()

	t.heightData = importHeights(data)
	t.deltaData = make([]float32, t.size*t.size)

	t.layerDecl = data.LayerDeclaration.clone()
	t.checkDeclaration()
	t.layers = cloneLayers(data.LayerList)
	t.checkLayers()
	t.deriveUVMultipliers()

	t.buildQuadTree(nil)

	// imported data is not on disk yet
	t.modified = true
	t.heightDataModified = true
	t.dirtyDerivedDataRect = t.fullRect()
	t.prepared = true

	t.log.Debug("terrain prepared",
		zap.Int("size", t.size),
		zap.Float32("world_size", t.worldSize),
		zap.Int("lod_levels", t.numLodLevels),
		zap.Int("tree_depth", t.treeDepth))
	return nil
}

// buildQuadTree creates the tree, restores saved level deltas when given,
// otherwise computes them, and distributes vertex data. dataMu must be held.
func (t *Terrain) buildQuadTree(saved [][]float32) {
	t.quadTree = newQuadTree(t)
	full := t.fullRect()
	if saved != nil && t.restoreLodDeltas(saved) {
		t.quadTree.FinaliseDeltaValues(full)
	} else {
		t.calculateHeightDeltas(full)
		t.quadTree.FinaliseDeltaValues(full)
	}
	t.DistributeVertexData()
	t.quadTree.mergeChildBounds(0)
}

func (t *Terrain) fullRect() Rect {
	return Rect{0, 0, t.size, t.size}
}

func (t *Terrain) updateBaseScale() {
	t.base = -t.worldSize * 0.5
	t.scale = t.worldSize / float32(t.size-1)
}

func (t *Terrain) determineLodLevels() {
	t.numLodLevelsPerLeaf = log2(t.maxBatch-1) - log2(t.minBatch-1) + 1
	t.numLodLevels = log2(t.size-1) - log2(t.minBatch-1) + 1
	t.treeDepth = t.numLodLevels - t.numLodLevelsPerLeaf + 1
}

// Load creates the render buffers. Calling it twice is harmless.
func (t *Terrain) Load() error {
	if !t.prepared {
		return ErrNotPrepared
	}
	if t.loaded {
		return nil
	}
	t.dataMu.Lock()
	t.quadTree.Load()
	t.dataMu.Unlock()
	t.loaded = true
	return nil
}

// Unload releases the render buffers and keeps the CPU data.
func (t *Terrain) Unload() {
	if !t.loaded {
		return
	}
	t.dataMu.Lock()
	t.quadTree.Unload()
	t.dataMu.Unlock()
	t.loaded = false
}

// Unprepare releases the CPU data. The terrain can be prepared again afterwards.
func (t *Terrain) Unprepare() {
	t.Unload()
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	t.freeCPUResources()
}

func (t *Terrain) freeCPUResources() {
	if t.quadTree != nil {
		t.quadTree.Unprepare()
		t.quadTree = nil
	}
	t.heightData = nil
	t.deltaData = nil
	t.normalMap = nil
	t.lightMap = nil
	t.compositeMap = nil
	t.colorMap = nil
	t.blendTextures = nil
	t.blendMaps = nil
	t.prepared = false
}

// Destroy waits for background work, stops accepting derived data requests,
// releases every resource and detaches from the neighbours.
func (t *Terrain) Destroy() {
	t.WaitForDerivedProcesses()
	if t.queue != nil {
		t.queue.RemoveRequestHandler(t.channel, t)
		t.queue.RemoveResponseHandler(t.channel, t)
	}
	t.Unprepare()
	for i := range t.neighbours {
		t.SetNeighbour(NeighbourIndex(i), nil, false, true)
	}
}

// SetPosition moves the terrain centre in world space.
func (t *Terrain) SetPosition(pos tmath.Vec3) {
	t.pos = pos
}

// SetWorldSize rescales the terrain, rebuilding its geometry when prepared.
func (t *Terrain) SetWorldSize(worldSize float32) {
	if worldSize <= 0 || worldSize == t.worldSize {
		return
	}
	t.WaitForDerivedProcesses()
	t.worldSize = worldSize
	t.updateBaseScale()
	t.deriveUVMultipliers()
	if t.prepared {
		t.rebuild()
	}
	t.modified = true
}

// SetSize resamples the height data to a new point count with bilinear filtering.
func (t *Terrain) SetSize(size int) error {
	if size == t.size {
		return nil
	}
	if size < 3 || !isPow2(size-1) {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if t.maxBatch > size {
		return fmt.Errorf("%w: max batch %d exceeds size %d", ErrInvalidBatchSize, t.maxBatch, size)
	}
	if !t.prepared {
		return ErrNotPrepared
	}
	t.WaitForDerivedProcesses()

	t.dataMu.Lock()
	resampled := resampleHeights(t.heightData, t.size, size)
	t.size = size
	t.updateBaseScale()
	t.determineLodLevels()
	t.deriveUVMultipliers()
	t.heightData = resampled
	t.deltaData = make([]float32, size*size)
	t.normalMap = nil
	t.dataMu.Unlock()

	t.rebuild()
	t.modified = true
	t.heightDataModified = true
	t.dirtyDerivedDataRect = t.fullRect()
	return nil
}

func (t *Terrain) rebuild() {
	wasLoaded := t.loaded
	t.Unload()
	t.dataMu.Lock()
	if t.quadTree != nil {
		t.quadTree.Unprepare()
	}
	t.buildQuadTree(nil)
	t.dataMu.Unlock()
	if wasLoaded {
		_ = t.Load()
	}
}

// Name returns the identity used for logging and request filtering.
func (t *Terrain) Name() string { return t.name }

func (t *Terrain) Size() int                  { return t.size }
func (t *Terrain) WorldSize() float32         { return t.worldSize }
func (t *Terrain) Alignment() Alignment       { return t.align }
func (t *Terrain) Position() tmath.Vec3       { return t.pos }
func (t *Terrain) MinBatchSize() int          { return t.minBatch }
func (t *Terrain) MaxBatchSize() int          { return t.maxBatch }
func (t *Terrain) NumLodLevels() int          { return t.numLodLevels }
func (t *Terrain) NumLodLevelsPerLeaf() int   { return t.numLodLevelsPerLeaf }
func (t *Terrain) TreeDepth() int             { return t.treeDepth }
func (t *Terrain) QuadTree() *QuadTree        { return t.quadTree }
func (t *Terrain) IsPrepared() bool           { return t.prepared }
func (t *Terrain) IsLoaded() bool             { return t.loaded }
func (t *Terrain) IsModified() bool           { return t.modified }
func (t *Terrain) IsHeightDataModified() bool { return t.heightDataModified }

// SkirtSize returns how far skirts hang below the edges.
func (t *Terrain) SkirtSize() float32 { return t.opts.SkirtSize }

// LightMapSize returns the lightmap edge length in texels.
func (t *Terrain) LightMapSize() int { return t.lightMapSize }

// CompositeMapSize returns the composite map edge length in texels.
func (t *Terrain) CompositeMapSize() int { return t.compositeMapSize }

// MinHeight returns the lowest height of the terrain.
func (t *Terrain) MinHeight() float32 {
	if t.quadTree == nil {
		return 0
	}
	return t.quadTree.MinHeight()
}

// MaxHeight returns the highest height of the terrain.
func (t *Terrain) MaxHeight() float32 {
	if t.quadTree == nil {
		return 0
	}
	return t.quadTree.MaxHeight()
}

// WorldAABB returns the bounds of the terrain in world space.
func (t *Terrain) WorldAABB() picking.AABB {
	if t.quadTree == nil {
		return picking.NullAABB()
	}
	return t.quadTree.AABB().Translate(t.pos.Add(t.quadTree.Root().localCentre))
}

// NormalMap returns a copy of the RGB normal map, nil until computed.
func (t *Terrain) NormalMap() []byte { return cloneBytes(t.normalMap) }

// LightMap returns a copy of the L8 lightmap, nil until computed.
func (t *Terrain) LightMap() []byte { return cloneBytes(t.lightMap) }

// CompositeMap returns a copy of the RGBA composite map, nil until first updated.
func (t *Terrain) CompositeMap() []byte { return cloneBytes(t.compositeMap) }

// CompositeMapUpdatedRect returns the region touched by the last composite update.
func (t *Terrain) CompositeMapUpdatedRect() Rect { return t.compositeUpdated }

// ColorMap returns a copy of the RGB colour map, nil when disabled.
func (t *Terrain) ColorMap() []byte { return cloneBytes(t.colorMap) }

// SetColorMapEnabled allocates or drops the optional colour map.
func (t *Terrain) SetColorMapEnabled(enabled bool, size int) {
	if !enabled {
		t.colorMap, t.colorMapSize = nil, 0
		return
	}
	if size <= 0 {
		size = t.opts.CompositeMapSize
	}
	if t.colorMap == nil || t.colorMapSize != size {
		t.colorMapSize = size
		t.colorMap = make([]byte, size*size*3)
		for i := range t.colorMap {
			t.colorMap[i] = 255
		}
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
