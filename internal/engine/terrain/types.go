// Package terrain implements a hierarchical LOD height-field terrain: the height
// data, its quadtree of renderable patches, the background derived-data pipeline
// (height deltas, normals, lightmap) and seamless stitching to neighbouring tiles.
package terrain

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/lighting"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// MaxBatchSize is the largest batch size a quadtree patch may use (16-bit indices).
const MaxBatchSize = 129

// DerivedChannel is the work queue channel derived data requests are sent on.
const DerivedChannel = "terrain"

// Terrain errors.
var (
	ErrInvalidSize       = errors.New("terrain size must be 2^n+1")
	ErrInvalidBatchSize  = errors.New("invalid batch size")
	ErrInvalidImportData = errors.New("invalid import data")
	ErrNotPrepared       = errors.New("terrain is not prepared")
	ErrLayerIndex        = errors.New("invalid layer index")
)

// Alignment is the world plane the terrain lies in.
type Alignment uint8

// Alignments.
const (
	AlignXZ Alignment = iota // height along +Y
	AlignXY                  // height along +Z
	AlignYZ                  // height along +X
)

func (a Alignment) String() string {
	switch a {
	case AlignXY:
		return "x_y"
	case AlignYZ:
		return "y_z"
	default:
		return "x_z"
	}
}

// ParseAlignment converts "x_z", "x_y" or "y_z" to an Alignment.
func ParseAlignment(s string) (Alignment, bool) {
	switch s {
	case "x_z", "":
		return AlignXZ, true
	case "x_y":
		return AlignXY, true
	case "y_z":
		return AlignYZ, true
	}
	return AlignXZ, false
}

// Space identifies a coordinate space for conversions.
type Space uint8

// Coordinate spaces.
const (
	// WorldSpace is the scene coordinate system.
	WorldSpace Space = iota
	// LocalSpace is world space relative to the terrain position.
	LocalSpace
	// TerrainSpace has x and y in [0, 1] across the terrain and z as height.
	TerrainSpace
	// PointSpace has x and y as integer height-field indices and z as height.
	PointSpace
)

// DerivedDataType is a bit set of derived data kinds.
type DerivedDataType uint8

// Derived data kinds.
const (
	DerivedDelta    DerivedDataType = 1
	DerivedNormals  DerivedDataType = 2
	DerivedLightmap DerivedDataType = 4
	DerivedAll      DerivedDataType = 7
)

// PixelFormat describes the layout of a derived map buffer.
type PixelFormat uint8

// Pixel formats.
const (
	FormatL8 PixelFormat = iota + 1
	FormatRGB8
	FormatRGBA8
)

// BytesPerPixel returns the size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatL8:
		return 1
	case FormatRGB8:
		return 3
	case FormatRGBA8:
		return 4
	}
	return 0
}

// PixelBox is a rectangular block of pixels produced by a background computation.
type PixelBox struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

func newPixelBox(w, h int, f PixelFormat) *PixelBox {
	return &PixelBox{Width: w, Height: h, Format: f, Data: make([]byte, w*h*f.BytesPerPixel())}
}

// Camera is the viewpoint used for LOD selection.
type Camera struct {
	Position       tmath.Vec3
	FovY           float32 // radians
	ViewportHeight int
	LodBias        float32
}

// NoiseParams configures the perlin height source.
type NoiseParams struct {
	Seed      int64
	Alpha     float64
	Beta      float64
	Octaves   int32
	Frequency float32
	Amplitude float32
	// OffsetX and OffsetY shift the sample window in whole tiles, so adjacent
	// tiles generated with matching offsets share their edges.
	OffsetX float32
	OffsetY float32
}

// ImportData describes a terrain built from raw inputs.
// The height source is the first of InputImage, InputFloat, Noise that is set,
// otherwise ConstantHeight everywhere.
type ImportData struct {
	Alignment      Alignment
	TerrainSize    int
	WorldSize      float32
	InputScale     float32
	InputBias      float32
	ConstantHeight float32
	MinBatchSize   int
	MaxBatchSize   int
	Pos            tmath.Vec3

	InputImage *formats.HeightImage
	InputFloat []float32
	Noise      *NoiseParams

	LayerDeclaration LayerDeclaration
	LayerList        []LayerInstance
}

// DefaultImportData returns 1025 vertices over 1000 units with batches of 17 to 65.
func DefaultImportData() ImportData {
	return ImportData{
		Alignment:    AlignXZ,
		TerrainSize:  1025,
		WorldSize:    1000,
		InputScale:   1,
		MinBatchSize: 17,
		MaxBatchSize: 65,
	}
}

// Clone returns a deep copy, so group definitions never share slices with callers.
func (d *ImportData) Clone() *ImportData {
	if d == nil {
		return nil
	}
	c := *d
	if d.InputFloat != nil {
		c.InputFloat = append([]float32(nil), d.InputFloat...)
	}
	if d.Noise != nil {
		n := *d.Noise
		c.Noise = &n
	}
	c.LayerDeclaration = d.LayerDeclaration.clone()
	c.LayerList = cloneLayers(d.LayerList)
	return &c
}

// Options carries everything a terrain needs from its environment.
type Options struct {
	// Name identifies the terrain in logs and derived data requests. Generated when empty.
	Name      string
	Logger    *zap.Logger
	Queue     *tasks.WorkQueue // nil runs derived data inline
	Allocator BufferAllocator

	MaxPixelError     float32
	SkirtSize         float32
	LightMapDirection tmath.Vec3
	LightMapSize      int
	CompositeMapSize  int
	LayerBlendMapSize int
	// DefaultLayerWorldSize is used by AddLayer when no size is given.
	DefaultLayerWorldSize float32

	UseRayBoxDistance    bool
	MorphRequired        bool
	NormalMapRequired    bool
	LightMapRequired     bool
	CompositeMapRequired bool
	CastShadows          bool

	// CompressBlobs stores large arrays zstd-compressed when saving.
	CompressBlobs bool

	// CompositeMapDelay is the default countdown for UpdateCompositeMapWithDelay.
	CompositeMapDelay time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxPixelError:         3,
		SkirtSize:             30,
		LightMapDirection:     lighting.DefaultLightDirection,
		LightMapSize:          1024,
		CompositeMapSize:      1024,
		LayerBlendMapSize:     1024,
		DefaultLayerWorldSize: 10,
		MorphRequired:         true,
		NormalMapRequired:     true,
		LightMapRequired:      true,
		CompositeMapRequired:  true,
		CompressBlobs:         true,
		CompositeMapDelay:     2 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Allocator == nil {
		o.Allocator = NewDefaultBufferAllocator()
	}
	if o.MaxPixelError <= 0 {
		o.MaxPixelError = d.MaxPixelError
	}
	if o.LightMapDirection.Length() == 0 {
		o.LightMapDirection = d.LightMapDirection
	}
	o.LightMapDirection = o.LightMapDirection.Normalize()
	if o.LightMapSize <= 0 {
		o.LightMapSize = d.LightMapSize
	}
	if o.CompositeMapSize <= 0 {
		o.CompositeMapSize = d.CompositeMapSize
	}
	if o.LayerBlendMapSize <= 0 {
		o.LayerBlendMapSize = d.LayerBlendMapSize
	}
	if o.DefaultLayerWorldSize <= 0 {
		o.DefaultLayerWorldSize = d.DefaultLayerWorldSize
	}
	if o.CompositeMapDelay <= 0 {
		o.CompositeMapDelay = d.CompositeMapDelay
	}
}
