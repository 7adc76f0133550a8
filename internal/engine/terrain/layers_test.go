package terrain

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlendTextureIndex(t *testing.T) {
	tests := []struct {
		layer, tex, ch int
	}{
		{1, 0, 0},
		{4, 0, 3},
		{5, 1, 0},
		{9, 2, 0},
	}
	for _, tt := range tests {
		tex, ch := BlendTextureIndex(tt.layer)
		assert.Equal(t, tt.tex, tex, "layer %d", tt.layer)
		assert.Equal(t, tt.ch, ch, "layer %d", tt.layer)
	}

	for n, want := range map[int]int{0: 0, 1: 0, 2: 1, 5: 1, 6: 2, 9: 2, 10: 3} {
		assert.Equal(t, want, BlendTextureCountFor(n), "%d layers", n)
	}
}

func texel(tex []byte, size, x, y, ch int) byte {
	return tex[(y*size+x)*4+ch]
}

func TestLayerInsertAndRemoveShiftBlendWeights(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	require.NoError(t, tr.AddLayer(0, 0, []string{"rock.png"}))
	assert.Equal(t, 0, tr.BlendTextureCount())
	require.NoError(t, tr.AddLayer(1, 4, []string{"grass.png"}))
	require.Equal(t, 1, tr.BlendTextureCount())

	// names are padded to one per sampler
	assert.Equal(t, []string{"grass.png", ""}, tr.Layers()[1].TextureNames)
	assert.Equal(t, float32(10), tr.LayerWorldSize(0))
	assert.InDelta(t, 4, tr.LayerUVMultiplier(1), 1e-6)

	bm, err := tr.LayerBlendMap(1)
	require.NoError(t, err)
	bm.SetBlendValue(3, 4, 1)
	assert.True(t, bm.IsDirty())
	bm.Update()
	assert.False(t, bm.IsDirty())
	assert.Equal(t, byte(255), texel(tr.BlendTexture(0), 32, 3, 4, 0))

	// a layer inserted below pushes grass into the next channel
	require.NoError(t, tr.AddLayer(1, 0, []string{"sand.png", "sand_n.png"}))
	tex := tr.BlendTexture(0)
	assert.Equal(t, byte(0), texel(tex, 32, 3, 4, 0))
	assert.Equal(t, byte(255), texel(tex, 32, 3, 4, 1))
	assert.Equal(t, "grass.png", tr.LayerTextureName(2, 0))

	require.NoError(t, tr.RemoveLayer(1))
	tex = tr.BlendTexture(0)
	assert.Equal(t, byte(255), texel(tex, 32, 3, 4, 0))
	assert.Equal(t, byte(0), texel(tex, 32, 3, 4, 1))
	assert.Equal(t, 2, tr.LayerCount())
	assert.True(t, tr.IsModified())
}

func TestLayerIndexErrors(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	require.NoError(t, tr.AddLayer(0, 0, nil))

	_, err := tr.LayerBlendMap(0)
	assert.ErrorIs(t, err, ErrLayerIndex, "the base layer has no blend map")
	assert.ErrorIs(t, tr.AddLayer(5, 0, nil), ErrLayerIndex)
	assert.ErrorIs(t, tr.RemoveLayer(1), ErrLayerIndex)
	assert.ErrorIs(t, tr.SetLayerWorldSize(3, 1), ErrLayerIndex)
	assert.ErrorIs(t, tr.SetLayerTextureName(0, 7, "x"), ErrLayerIndex)
	assert.Equal(t, "", tr.LayerTextureName(4, 0))
}

func TestBlendMapLoadImage(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	require.NoError(t, tr.AddLayer(0, 0, nil))
	require.NoError(t, tr.AddLayer(1, 0, nil))
	bm, err := tr.LayerBlendMap(1)
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	bm.LoadImage(img)
	assert.InDelta(t, 128.0/255, bm.GetBlendValue(16, 16), 1e-2)
	assert.Equal(t, float32(0), bm.GetBlendValue(-1, 0))

	bm.Update()
	assert.InDelta(t, 128, int(texel(tr.BlendTexture(0), 32, 31, 0, 0)), 1)
}

func TestBlendMapSpaces(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	require.NoError(t, tr.AddLayer(0, 0, nil))
	require.NoError(t, tr.AddLayer(1, 0, nil))
	bm, err := tr.LayerBlendMap(1)
	require.NoError(t, err)

	tx, ty := bm.ConvertImageToTerrainSpace(0, 0)
	assert.Equal(t, float32(0), tx)
	assert.Equal(t, float32(1), ty, "image rows run top-down")

	x, y := bm.ConvertTerrainToImageSpace(1, 0)
	assert.Equal(t, 31, x)
	assert.Equal(t, 31, y)

	u, v := bm.ConvertWorldToUVSpace(tr.GetPosition(0.25, 0.75, 0))
	assert.InDelta(t, 0.25, u, 1e-5)
	assert.InDelta(t, 0.25, v, 1e-5)
}
