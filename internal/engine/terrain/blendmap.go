package terrain

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// LayerBlendMap edits the blend weights of one layer as floats in [0, 1].
// Image space has (0, 0) at the top-left; Update writes the weights back into
// the shared blend texture.
type LayerBlendMap struct {
	parent  *Terrain
	layer   int
	texture int
	channel int
	size    int
	data    []float32

	dirty    bool
	dirtyBox Rect
}

// LayerBlendMap returns the blend map of layer index. Layer 0 is the base
// layer and has none.
func (t *Terrain) LayerBlendMap(index int) (*LayerBlendMap, error) {
	if index <= 0 || index >= len(t.layers) {
		return nil, fmt.Errorf("%w: %d has no blend map", ErrLayerIndex, index)
	}
	if len(t.blendMaps) < len(t.layers) {
		t.blendMaps = append(t.blendMaps, make([]*LayerBlendMap, len(t.layers)-len(t.blendMaps))...)
	}
	if m := t.blendMaps[index]; m != nil {
		return m, nil
	}
	m := newLayerBlendMap(t, index)
	t.blendMaps[index] = m
	return m, nil
}

func newLayerBlendMap(t *Terrain, layer int) *LayerBlendMap {
	tex, ch := BlendTextureIndex(layer)
	m := &LayerBlendMap{
		parent:  t,
		layer:   layer,
		texture: tex,
		channel: ch,
		size:    t.layerBlendMapSize,
		data:    make([]float32, t.layerBlendMapSize*t.layerBlendMapSize),
	}
	m.download()
	return m
}

// download reads the layer's channel out of the blend texture.
func (m *LayerBlendMap) download() {
	src := m.parent.blendTextures[m.texture]
	for i := range m.data {
		m.data[i] = float32(src[i*4+m.channel]) / 255
	}
}

// Layer returns the layer index this map edits.
func (m *LayerBlendMap) Layer() int { return m.layer }

// Size returns the edge length in texels.
func (m *LayerBlendMap) Size() int { return m.size }

// GetBlendValue returns the weight at image coordinates (x, y).
func (m *LayerBlendMap) GetBlendValue(x, y int) float32 {
	if x < 0 || y < 0 || x >= m.size || y >= m.size {
		return 0
	}
	return m.data[y*m.size+x]
}

// SetBlendValue sets the weight at image coordinates (x, y), clamped to [0, 1].
func (m *LayerBlendMap) SetBlendValue(x, y int, v float32) {
	if x < 0 || y < 0 || x >= m.size || y >= m.size {
		return
	}
	m.data[y*m.size+x] = tmath.Clamp(v, 0, 1)
	m.DirtyRect(Rect{x, y, x + 1, y + 1})
}

// Dirty marks the whole map for the next Update.
func (m *LayerBlendMap) Dirty() {
	m.DirtyRect(Rect{0, 0, m.size, m.size})
}

// DirtyRect marks an image-space region for the next Update.
func (m *LayerBlendMap) DirtyRect(r Rect) {
	if m.dirty {
		m.dirtyBox = m.dirtyBox.Merge(r)
		return
	}
	m.dirtyBox = r
	m.dirty = true
}

// IsDirty reports whether edits are waiting for Update.
func (m *LayerBlendMap) IsDirty() bool { return m.dirty }

// LoadImage replaces the weights with the luminance of img, scaled to fit.
func (m *LayerBlendMap) LoadImage(img image.Image) {
	gray := image.NewGray(image.Rect(0, 0, m.size, m.size))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)
	for i, v := range gray.Pix {
		m.data[i] = float32(v) / 255
	}
	m.Dirty()
}

// Update writes dirty weights to the blend texture and schedules the composite
// map over the affected terrain region.
func (m *LayerBlendMap) Update() {
	if !m.dirty {
		return
	}
	box := m.dirtyBox.Clamp(m.size)
	m.dirty = false
	m.dirtyBox = Rect{}
	if box.IsNull() || m.texture >= len(m.parent.blendTextures) {
		return
	}

	dst := m.parent.blendTextures[m.texture]
	for y := box.Top; y < box.Bottom; y++ {
		for x := box.Left; x < box.Right; x++ {
			i := y*m.size + x
			dst[i*4+m.channel] = byte(m.data[i]*255 + 0.5)
		}
	}

	// image rows run top-down, terrain rows bottom-up
	toTerrain := float32(m.parent.size) / float32(m.size)
	m.parent.DirtyCompositeMapRect(Rect{
		Left:   int(float32(box.Left) * toTerrain),
		Top:    int(float32(m.size-box.Bottom) * toTerrain),
		Right:  int(float32(box.Right) * toTerrain),
		Bottom: int(float32(m.size-box.Top) * toTerrain),
	})
	m.parent.UpdateCompositeMapWithDelay(0)
}

// ConvertWorldToUVSpace returns the blend map UV of a world position.
func (m *LayerBlendMap) ConvertWorldToUVSpace(world tmath.Vec3) (u, v float32) {
	tp := m.parent.GetTerrainPosition(world)
	return tp.X, 1 - tp.Y
}

// ConvertUVToWorldSpace returns the world position of a blend map UV at height 0.
func (m *LayerBlendMap) ConvertUVToWorldSpace(u, v float32) tmath.Vec3 {
	return m.parent.GetPosition(u, 1-v, 0)
}

// ConvertUVToImageSpace returns the texel at UV (u, v).
func (m *LayerBlendMap) ConvertUVToImageSpace(u, v float32) (x, y int) {
	return int(u * float32(m.size-1)), int(v * float32(m.size-1))
}

// ConvertImageToUVSpace returns the UV of texel (x, y).
func (m *LayerBlendMap) ConvertImageToUVSpace(x, y int) (u, v float32) {
	return float32(x) / float32(m.size-1), float32(y) / float32(m.size-1)
}

// ConvertImageToTerrainSpace returns the terrain-space position of texel (x, y).
func (m *LayerBlendMap) ConvertImageToTerrainSpace(x, y int) (tx, ty float32) {
	u, v := m.ConvertImageToUVSpace(x, y)
	return u, 1 - v
}

// ConvertTerrainToImageSpace returns the texel at terrain-space (tx, ty).
func (m *LayerBlendMap) ConvertTerrainToImageSpace(tx, ty float32) (x, y int) {
	return m.ConvertUVToImageSpace(tx, 1-ty)
}
