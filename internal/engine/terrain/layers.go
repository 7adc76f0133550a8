package terrain

import (
	"fmt"
	"slices"
)

// MaxLayers is the most texture layers a terrain can hold.
const MaxLayers = 255

// ElementSemantic is the meaning of a group of channels in a layer sampler.
type ElementSemantic uint8

// Sampler element semantics.
const (
	SemanticAlbedo ElementSemantic = iota
	SemanticNormal
	SemanticHeight
	SemanticSpecular
)

// LayerSampler is one texture every layer provides.
type LayerSampler struct {
	Alias  string
	Format PixelFormat
}

// LayerSamplerElement maps channels of a sampler to a semantic.
type LayerSamplerElement struct {
	Source       uint8
	Semantic     ElementSemantic
	ElementStart uint8
	ElementCount uint8
}

// LayerDeclaration describes the samplers every layer has and what their channels hold.
type LayerDeclaration struct {
	Samplers []LayerSampler
	Elements []LayerSamplerElement
}

func (d LayerDeclaration) clone() LayerDeclaration {
	return LayerDeclaration{
		Samplers: slices.Clone(d.Samplers),
		Elements: slices.Clone(d.Elements),
	}
}

// Equal reports whether two declarations are identical.
func (d LayerDeclaration) Equal(o LayerDeclaration) bool {
	return slices.Equal(d.Samplers, o.Samplers) && slices.Equal(d.Elements, o.Elements)
}

// DefaultLayerDeclaration returns the two-sampler layout: diffuse with specular
// in alpha, and normal with height in alpha.
func DefaultLayerDeclaration() LayerDeclaration {
	return LayerDeclaration{
		Samplers: []LayerSampler{
			{Alias: "albedo_specular", Format: FormatRGBA8},
			{Alias: "normal_height", Format: FormatRGBA8},
		},
		Elements: []LayerSamplerElement{
			{Source: 0, Semantic: SemanticAlbedo, ElementStart: 0, ElementCount: 3},
			{Source: 0, Semantic: SemanticSpecular, ElementStart: 3, ElementCount: 1},
			{Source: 1, Semantic: SemanticNormal, ElementStart: 0, ElementCount: 3},
			{Source: 1, Semantic: SemanticHeight, ElementStart: 3, ElementCount: 1},
		},
	}
}

// LayerInstance is one texture layer: its tiling size and a texture per sampler.
type LayerInstance struct {
	WorldSize    float32
	TextureNames []string
}

func cloneLayers(in []LayerInstance) []LayerInstance {
	if in == nil {
		return nil
	}
	out := make([]LayerInstance, len(in))
	for i, l := range in {
		out[i] = LayerInstance{WorldSize: l.WorldSize, TextureNames: slices.Clone(l.TextureNames)}
	}
	return out
}

// checkDeclaration falls back to the default declaration when none is given.
func (t *Terrain) checkDeclaration() {
	if len(t.layerDecl.Samplers) == 0 {
		t.layerDecl = DefaultLayerDeclaration()
	}
}

// checkLayers pads or trims texture names to the sampler count and sizes the
// blend storage to the layer count.
func (t *Terrain) checkLayers() {
	n := len(t.layerDecl.Samplers)
	for i := range t.layers {
		l := &t.layers[i]
		if len(l.TextureNames) < n {
			l.TextureNames = append(l.TextureNames, make([]string, n-len(l.TextureNames))...)
		} else if len(l.TextureNames) > n {
			l.TextureNames = l.TextureNames[:n]
		}
		if l.WorldSize <= 0 {
			l.WorldSize = t.opts.DefaultLayerWorldSize
		}
	}
	t.allocateBlendTextures()
}

func (t *Terrain) allocateBlendTextures() {
	want := t.BlendTextureCount()
	texBytes := t.layerBlendMapSize * t.layerBlendMapSize * 4
	for len(t.blendTextures) < want {
		t.blendTextures = append(t.blendTextures, make([]byte, texBytes))
	}
	t.blendTextures = t.blendTextures[:want]
	if len(t.blendMaps) > len(t.layers) {
		t.blendMaps = t.blendMaps[:len(t.layers)]
	}
}

func (t *Terrain) deriveUVMultipliers() {
	t.layerUVMultiplier = make([]float32, len(t.layers))
	for i, l := range t.layers {
		t.layerUVMultiplier[i] = t.worldSize / l.WorldSize
	}
}

// LayerCount returns the number of texture layers.
func (t *Terrain) LayerCount() int { return len(t.layers) }

// LayerDeclaration returns the sampler layout shared by all layers.
func (t *Terrain) LayerDeclaration() LayerDeclaration { return t.layerDecl.clone() }

// Layers returns a copy of the layer list.
func (t *Terrain) Layers() []LayerInstance { return cloneLayers(t.layers) }

// LayerWorldSize returns the world size one repeat of layer index covers.
func (t *Terrain) LayerWorldSize(index int) float32 {
	switch {
	case index >= 0 && index < len(t.layers):
		return t.layers[index].WorldSize
	case len(t.layers) > 0:
		return t.layers[0].WorldSize
	}
	return t.opts.DefaultLayerWorldSize
}

// SetLayerWorldSize changes the tiling of layer index.
func (t *Terrain) SetLayerWorldSize(index int, size float32) error {
	if index < 0 || index >= len(t.layers) {
		return fmt.Errorf("%w: %d", ErrLayerIndex, index)
	}
	if size <= 0 {
		size = t.opts.DefaultLayerWorldSize
	}
	t.layers[index].WorldSize = size
	t.deriveUVMultipliers()
	t.modified = true
	return nil
}

// LayerUVMultiplier returns how often layer index repeats across the terrain.
func (t *Terrain) LayerUVMultiplier(index int) float32 {
	switch {
	case index >= 0 && index < len(t.layerUVMultiplier):
		return t.layerUVMultiplier[index]
	case len(t.layerUVMultiplier) > 0:
		return t.layerUVMultiplier[0]
	}
	return 100
}

// LayerTextureName returns the texture of sampler in layer, or "".
func (t *Terrain) LayerTextureName(layer, sampler int) string {
	if layer < 0 || layer >= len(t.layers) || sampler < 0 || sampler >= len(t.layers[layer].TextureNames) {
		return ""
	}
	return t.layers[layer].TextureNames[sampler]
}

// SetLayerTextureName sets the texture of sampler in layer.
func (t *Terrain) SetLayerTextureName(layer, sampler int, name string) error {
	if layer < 0 || layer >= len(t.layers) {
		return fmt.Errorf("%w: %d", ErrLayerIndex, layer)
	}
	if sampler < 0 || sampler >= len(t.layers[layer].TextureNames) {
		return fmt.Errorf("%w: sampler %d", ErrLayerIndex, sampler)
	}
	if t.layers[layer].TextureNames[sampler] != name {
		t.layers[layer].TextureNames[sampler] = name
		t.modified = true
	}
	return nil
}

// AddLayer inserts a layer at index (LayerCount appends). Blend weights of the
// layers above move up with them and the new layer starts fully transparent.
func (t *Terrain) AddLayer(index int, worldSize float32, textureNames []string) error {
	n := len(t.layers)
	if index < 0 || index > n {
		return fmt.Errorf("%w: %d", ErrLayerIndex, index)
	}
	if n >= MaxLayers {
		return fmt.Errorf("%w: at most %d layers", ErrLayerIndex, MaxLayers)
	}
	if worldSize <= 0 {
		worldSize = t.opts.DefaultLayerWorldSize
	}
	t.layers = slices.Insert(t.layers, index, LayerInstance{
		WorldSize:    worldSize,
		TextureNames: slices.Clone(textureNames),
	})
	t.checkLayers()
	t.deriveUVMultipliers()

	// layer 0 has no blend channel
	if index > 0 {
		for l := len(t.layers) - 1; l > index; l-- {
			t.copyBlendChannel(l-1, l)
		}
		t.clearBlendChannel(index)
	} else if len(t.layers) > 1 {
		for l := len(t.layers) - 1; l > 1; l-- {
			t.copyBlendChannel(l-1, l)
		}
		t.clearBlendChannel(1)
	}
	t.blendMaps = nil
	t.modified = true
	t.DirtyCompositeMap()
	return nil
}

// RemoveLayer deletes layer index. The blend weights of the layers above move down.
func (t *Terrain) RemoveLayer(index int) error {
	n := len(t.layers)
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d", ErrLayerIndex, index)
	}
	first := max(index, 1)
	for l := first; l < n-1; l++ {
		t.copyBlendChannel(l+1, l)
	}
	if n > 1 {
		t.clearBlendChannel(n - 1)
	}
	t.layers = slices.Delete(t.layers, index, index+1)
	t.checkLayers()
	t.deriveUVMultipliers()
	t.blendMaps = nil
	t.modified = true
	t.DirtyCompositeMap()
	return nil
}

// BlendTextureIndex returns the RGBA blend texture holding the weights of layer
// and the channel within it. Layer 0 is the base layer and has no weights.
func BlendTextureIndex(layer int) (texture, channel int) {
	return (layer - 1) / 4, (layer - 1) % 4
}

// BlendTextureCountFor returns how many RGBA blend textures n layers need.
func BlendTextureCountFor(n int) int {
	if n <= 1 {
		return 0
	}
	return (n-2)/4 + 1
}

// BlendTextureCount returns the number of blend textures in use.
func (t *Terrain) BlendTextureCount() int {
	return BlendTextureCountFor(len(t.layers))
}

// BlendTexture returns the RGBA blend texture at index, rows top-down.
// The slice is shared and must not be modified.
func (t *Terrain) BlendTexture(index int) []byte {
	if index < 0 || index >= len(t.blendTextures) {
		return nil
	}
	return t.blendTextures[index]
}

// LayerBlendMapSize returns the edge length of the blend textures.
func (t *Terrain) LayerBlendMapSize() int { return t.layerBlendMapSize }

func (t *Terrain) copyBlendChannel(from, to int) {
	ft, fc := BlendTextureIndex(from)
	tt, tc := BlendTextureIndex(to)
	if ft >= len(t.blendTextures) || tt >= len(t.blendTextures) {
		return
	}
	src, dst := t.blendTextures[ft], t.blendTextures[tt]
	for p := 0; p < len(src); p += 4 {
		dst[p+tc] = src[p+fc]
	}
}

func (t *Terrain) clearBlendChannel(layer int) {
	tex, ch := BlendTextureIndex(layer)
	if tex >= len(t.blendTextures) {
		return
	}
	dst := t.blendTextures[tex]
	for p := ch; p < len(dst); p += 4 {
		dst[p] = 0
	}
}

// FreeTemporaryResources drops the editable blend maps. They are rebuilt from
// the blend textures by the next LayerBlendMap call.
func (t *Terrain) FreeTemporaryResources() {
	t.blendMaps = nil
}
