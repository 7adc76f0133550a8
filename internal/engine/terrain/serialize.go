package terrain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// Terrain chunk ids.
var (
	ChunkTerrain     = formats.MakeChunkID("TERR")
	chunkDeclaration = formats.MakeChunkID("TDCL")
	chunkSampler     = formats.MakeChunkID("TSAM")
	chunkElement     = formats.MakeChunkID("TSEL")
	chunkLayer       = formats.MakeChunkID("TLIN")
	chunkDerived     = formats.MakeChunkID("TDDA")
	chunkQuadTree    = formats.MakeChunkID("TQTR")
)

const (
	terrainChunkVersion  = 1
	declChunkVersion     = 1
	layerChunkVersion    = 1
	derivedChunkVersion  = 1
	quadTreeChunkVersion = 1
)

// Derived map names in TDDA chunks.
const (
	derivedNormalMap    = "normalmap"
	derivedColorMap     = "colormap"
	derivedLightMap     = "lightmap"
	derivedCompositeMap = "compositemap"
)

// ErrCorruptTerrain is returned when a terrain chunk decodes to inconsistent data.
var ErrCorruptTerrain = errors.New("corrupt terrain data")

// Save writes the terrain as a TERR chunk stream. Background derived data work
// is finished first and stale LOD deltas are recomputed so the stored metrics
// are exact.
func (t *Terrain) Save(w io.Writer) error {
	if !t.prepared {
		return ErrNotPrepared
	}
	t.WaitForDerivedProcesses()

	t.dataMu.Lock()
	defer t.dataMu.Unlock()

	if t.heightDataModified {
		full := t.fullRect()
		t.calculateHeightDeltas(full)
		t.finalizeHeightDeltas(full, false)
	}

	cw := formats.NewChunkWriter(w)
	cw.SetCompression(t.opts.CompressBlobs)
	cw.BeginChunk(ChunkTerrain, terrainChunkVersion)

	cw.WriteUint8(uint8(t.align))
	cw.WriteUint16(uint16(t.size))
	cw.WriteFloat32(t.worldSize)
	cw.WriteUint16(uint16(t.maxBatch))
	cw.WriteUint16(uint16(t.minBatch))
	cw.WriteVec3(t.pos)
	cw.WriteFloat32Blob(t.heightData)

	WriteLayers(cw, t.layerDecl, t.layers)

	cw.WriteUint16(uint16(t.layerBlendMapSize))
	for _, tex := range t.blendTextures {
		cw.WriteBlob(tex)
	}

	writeDerivedMap(cw, derivedNormalMap, t.size, t.normalMap)
	if t.colorMap != nil {
		writeDerivedMap(cw, derivedColorMap, t.colorMapSize, t.colorMap)
	}
	writeDerivedMap(cw, derivedLightMap, t.lightMapSize, t.lightMap)
	writeDerivedMap(cw, derivedCompositeMap, t.compositeMapSize, t.compositeMap)

	cw.WriteFloat32Blob(t.deltaData)
	t.writeQuadTree(cw)

	cw.EndChunk(ChunkTerrain)
	if err := cw.Close(); err != nil {
		return fmt.Errorf("saving terrain %s: %w", t.name, err)
	}

	t.modified = false
	t.heightDataModified = false
	t.log.Debug("terrain saved", zap.Int("size", t.size), zap.Int("layers", len(t.layers)))
	return nil
}

// SaveToFile saves the terrain to path, replacing it atomically.
func (t *Terrain) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating terrain directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating terrain file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := t.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing terrain file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming terrain file: %w", err)
	}
	return nil
}

// WriteLayers writes a layer declaration chunk followed by the layer list.
// Group definition files share this layout.
func WriteLayers(cw *formats.ChunkWriter, decl LayerDeclaration, layers []LayerInstance) {
	writeDeclaration(cw, decl)
	cw.WriteUint8(uint8(len(layers)))
	for _, l := range layers {
		cw.BeginChunk(chunkLayer, layerChunkVersion)
		cw.WriteFloat32(l.WorldSize)
		for i := range decl.Samplers {
			name := ""
			if i < len(l.TextureNames) {
				name = l.TextureNames[i]
			}
			cw.WriteString(name)
		}
		cw.EndChunk(chunkLayer)
	}
}

// ReadLayers reads what WriteLayers wrote.
func ReadLayers(cr *formats.ChunkReader) (LayerDeclaration, []LayerInstance, error) {
	d := &chunkDecoder{cr: cr}
	decl, layers := d.layers()
	if d.err != nil {
		return LayerDeclaration{}, nil, d.err
	}
	return decl, layers, nil
}

func writeDeclaration(cw *formats.ChunkWriter, d LayerDeclaration) {
	cw.BeginChunk(chunkDeclaration, declChunkVersion)
	cw.WriteUint8(uint8(len(d.Samplers)))
	for _, s := range d.Samplers {
		cw.BeginChunk(chunkSampler, declChunkVersion)
		cw.WriteString(s.Alias)
		cw.WriteUint8(uint8(s.Format))
		cw.EndChunk(chunkSampler)
	}
	cw.WriteUint8(uint8(len(d.Elements)))
	for _, e := range d.Elements {
		cw.BeginChunk(chunkElement, declChunkVersion)
		cw.WriteUint8(e.Source)
		cw.WriteUint8(uint8(e.Semantic))
		cw.WriteUint8(e.ElementStart)
		cw.WriteUint8(e.ElementCount)
		cw.EndChunk(chunkElement)
	}
	cw.EndChunk(chunkDeclaration)
}

func writeDerivedMap(cw *formats.ChunkWriter, name string, size int, data []byte) {
	if data == nil {
		return
	}
	cw.BeginChunk(chunkDerived, derivedChunkVersion)
	cw.WriteString(name)
	cw.WriteUint16(uint16(size))
	cw.WriteBlob(data)
	cw.EndChunk(chunkDerived)
}

func (t *Terrain) writeQuadTree(cw *formats.ChunkWriter) {
	cw.BeginChunk(chunkQuadTree, quadTreeChunkVersion)
	nodes := t.quadTree.nodes
	cw.WriteUint32(uint32(len(nodes)))
	for i := range nodes {
		cw.WriteUint8(uint8(len(nodes[i].lodLevels)))
		for _, ll := range nodes[i].lodLevels {
			cw.WriteFloat32(ll.MaxHeightDelta)
		}
	}
	cw.EndChunk(chunkQuadTree)
}

// savedTerrain is a decoded TERR chunk before it is applied.
type savedTerrain struct {
	align     Alignment
	size      int
	worldSize float32
	maxBatch  int
	minBatch  int
	pos       tmath.Vec3
	heights   []float32

	decl          LayerDeclaration
	layers        []LayerInstance
	blendSize     int
	blendTextures [][]byte

	maps map[string]savedMap

	deltas    []float32
	lodDeltas [][]float32
}

type savedMap struct {
	size int
	data []byte
}

// chunkDecoder wraps a ChunkReader with a sticky error.
type chunkDecoder struct {
	cr  *formats.ChunkReader
	err error
}

func (d *chunkDecoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.cr.ReadUint8()
	d.err = err
	return v
}

func (d *chunkDecoder) u16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.cr.ReadUint16()
	d.err = err
	return v
}

func (d *chunkDecoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.cr.ReadUint32()
	d.err = err
	return v
}

func (d *chunkDecoder) f32() float32 {
	if d.err != nil {
		return 0
	}
	v, err := d.cr.ReadFloat32()
	d.err = err
	return v
}

func (d *chunkDecoder) vec3() tmath.Vec3 {
	if d.err != nil {
		return tmath.Vec3{}
	}
	v, err := d.cr.ReadVec3()
	d.err = err
	return v
}

func (d *chunkDecoder) str() string {
	if d.err != nil {
		return ""
	}
	v, err := d.cr.ReadString()
	d.err = err
	return v
}

func (d *chunkDecoder) blob() []byte {
	if d.err != nil {
		return nil
	}
	v, err := d.cr.ReadBlob()
	d.err = err
	return v
}

func (d *chunkDecoder) floats() []float32 {
	if d.err != nil {
		return nil
	}
	v, err := d.cr.ReadFloat32Blob()
	d.err = err
	return v
}

func (d *chunkDecoder) begin(id formats.ChunkID, version uint16) {
	if d.err != nil {
		return
	}
	_, d.err = d.cr.ReadChunkBegin(id, version)
}

func (d *chunkDecoder) end(id formats.ChunkID) {
	if d.err != nil {
		return
	}
	d.err = d.cr.ReadChunkEnd(id)
}

func (d *chunkDecoder) next(id formats.ChunkID) bool {
	if d.err != nil {
		return false
	}
	got, ok := d.cr.PeekChunkID()
	return ok && got == id
}

func (d *chunkDecoder) layers() (decl LayerDeclaration, layers []LayerInstance) {
	d.begin(chunkDeclaration, declChunkVersion)
	for range d.u8() {
		d.begin(chunkSampler, declChunkVersion)
		decl.Samplers = append(decl.Samplers, LayerSampler{Alias: d.str(), Format: PixelFormat(d.u8())})
		d.end(chunkSampler)
	}
	for range d.u8() {
		d.begin(chunkElement, declChunkVersion)
		decl.Elements = append(decl.Elements, LayerSamplerElement{
			Source:       d.u8(),
			Semantic:     ElementSemantic(d.u8()),
			ElementStart: d.u8(),
			ElementCount: d.u8(),
		})
		d.end(chunkElement)
	}
	d.end(chunkDeclaration)

	for range d.u8() {
		d.begin(chunkLayer, layerChunkVersion)
		l := LayerInstance{WorldSize: d.f32()}
		for range decl.Samplers {
			l.TextureNames = append(l.TextureNames, d.str())
		}
		layers = append(layers, l)
		d.end(chunkLayer)
	}
	return decl, layers
}

func decodeTerrain(cr *formats.ChunkReader) (*savedTerrain, error) {
	d := &chunkDecoder{cr: cr}
	s := &savedTerrain{maps: make(map[string]savedMap)}

	d.begin(ChunkTerrain, terrainChunkVersion)
	s.align = Alignment(d.u8())
	s.size = int(d.u16())
	s.worldSize = d.f32()
	s.maxBatch = int(d.u16())
	s.minBatch = int(d.u16())
	s.pos = d.vec3()
	s.heights = d.floats()

	s.decl, s.layers = d.layers()

	s.blendSize = int(d.u16())
	for range BlendTextureCountFor(len(s.layers)) {
		s.blendTextures = append(s.blendTextures, d.blob())
	}

	for d.next(chunkDerived) {
		d.begin(chunkDerived, derivedChunkVersion)
		name := d.str()
		m := savedMap{size: int(d.u16()), data: d.blob()}
		d.end(chunkDerived)
		s.maps[name] = m
	}

	s.deltas = d.floats()

	if d.next(chunkQuadTree) {
		d.begin(chunkQuadTree, quadTreeChunkVersion)
		n := d.u32()
		if d.err == nil && n > 1<<20 {
			d.err = fmt.Errorf("%w: %d quadtree nodes", ErrCorruptTerrain, n)
		}
		for range n {
			if d.err != nil {
				break
			}
			lods := make([]float32, d.u8())
			for j := range lods {
				lods[j] = d.f32()
			}
			s.lodDeltas = append(s.lodDeltas, lods)
		}
		d.end(chunkQuadTree)
	}

	d.end(ChunkTerrain)
	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}

func (s *savedTerrain) validate() error {
	imp := &ImportData{
		Alignment:    s.align,
		TerrainSize:  s.size,
		WorldSize:    s.worldSize,
		MinBatchSize: s.minBatch,
		MaxBatchSize: s.maxBatch,
		InputFloat:   s.heights,
	}
	if s.heights == nil {
		return fmt.Errorf("%w: no height data", ErrCorruptTerrain)
	}
	if err := validateImport(imp); err != nil {
		return err
	}
	if s.align > AlignYZ {
		return fmt.Errorf("%w: alignment %d", ErrCorruptTerrain, s.align)
	}
	if len(s.layers) > 1 && s.blendSize == 0 {
		return fmt.Errorf("%w: zero blend map size", ErrCorruptTerrain)
	}
	for i, tex := range s.blendTextures {
		if len(tex) != s.blendSize*s.blendSize*4 {
			return fmt.Errorf("%w: blend texture %d has %d bytes", ErrCorruptTerrain, i, len(tex))
		}
	}
	return nil
}

// PrepareFromReader restores a terrain written by Save. Nothing is modified
// when the stream cannot be decoded.
func (t *Terrain) PrepareFromReader(r io.Reader) error {
	cr, err := formats.NewChunkReader(r)
	if err != nil {
		return fmt.Errorf("reading terrain: %w", err)
	}
	defer cr.Close()

	s, err := decodeTerrain(cr)
	if err == nil {
		err = s.validate()
	}
	if err != nil {
		t.log.Error("terrain load failed", zap.Error(err))
		return fmt.Errorf("reading terrain: %w", err)
	}

	t.dataMu.Lock()
	defer t.dataMu.Unlock()

	t.freeCPUResources()

	t.align = s.align
	t.size = s.size
	t.worldSize = s.worldSize
	t.minBatch = s.minBatch
	t.maxBatch = s.maxBatch
	t.pos = s.pos
	t.updateBaseScale()
	t.determineLodLevels()

	t.heightData = s.heights
	t.layerDecl = s.decl
	t.checkDeclaration()
	t.layers = s.layers
	if s.blendSize > 0 {
		t.layerBlendMapSize = s.blendSize
	}
	t.blendTextures = s.blendTextures
	t.checkLayers()
	t.deriveUVMultipliers()

	normalsOK := t.restoreMaps(s.maps)

	savedLods := s.lodDeltas
	if len(s.deltas) == t.size*t.size {
		t.deltaData = s.deltas
	} else {
		t.deltaData = make([]float32, t.size*t.size)
		savedLods = nil
	}
	t.buildQuadTree(savedLods)

	t.modified = false
	t.heightDataModified = false
	t.prepared = true

	if (t.opts.NormalMapRequired && !normalsOK) || (t.opts.LightMapRequired && t.lightMap == nil) {
		t.dirtyDerivedDataRect = t.fullRect()
	}
	if t.opts.CompositeMapRequired && t.compositeMap == nil {
		t.compositeMapDirtyRect = t.fullRect()
	}

	t.log.Debug("terrain loaded",
		zap.Int("size", t.size),
		zap.Int("layers", len(t.layers)),
		zap.Bool("lod_deltas_restored", savedLods != nil))
	return nil
}

// restoreMaps installs the derived maps whose sizes are consistent and reports
// whether a normal map was restored.
func (t *Terrain) restoreMaps(maps map[string]savedMap) bool {
	ok := func(m savedMap, bpp int) bool {
		return m.size > 0 && len(m.data) == m.size*m.size*bpp
	}
	normalsOK := false
	if m, found := maps[derivedNormalMap]; found && m.size == t.size && ok(m, 3) {
		t.normalMap = m.data
		normalsOK = true
	}
	if m, found := maps[derivedColorMap]; found && ok(m, 3) {
		t.colorMap, t.colorMapSize = m.data, m.size
	}
	if m, found := maps[derivedLightMap]; found && ok(m, 1) {
		t.lightMap, t.lightMapSize = m.data, m.size
	}
	if m, found := maps[derivedCompositeMap]; found && ok(m, 4) {
		t.compositeMap, t.compositeMapSize = m.data, m.size
	}
	return normalsOK
}

// PrepareFromFile restores a terrain saved with SaveToFile.
func (t *Terrain) PrepareFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening terrain file: %w", err)
	}
	defer f.Close()
	return t.PrepareFromReader(f)
}

// restoreLodDeltas loads saved per-level deltas into the accumulators ready
// for FinaliseDeltaValues. It reports false when the saved layout does not
// match the tree. dataMu must be held.
func (t *Terrain) restoreLodDeltas(saved [][]float32) bool {
	nodes := t.quadTree.nodes
	if len(saved) != len(nodes) {
		return false
	}
	for i := range nodes {
		if len(saved[i]) != len(nodes[i].lodLevels) {
			return false
		}
	}
	for i := range nodes {
		for j, d := range saved[i] {
			nodes[i].lodLevels[j].CalcMaxHeightDelta = d
		}
	}
	for i := range nodes {
		n := &nodes[i]
		if n.IsLeaf() {
			continue
		}
		best := float32(-1)
		n.calcChildWithMaxHeightDelta = NoNode
		for _, c := range n.children {
			child := &nodes[c]
			if d := child.lodLevels[len(child.lodLevels)-1].CalcMaxHeightDelta; d > best {
				best = d
				n.calcChildWithMaxHeightDelta = c
			}
		}
	}
	return true
}
