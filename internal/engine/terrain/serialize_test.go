package terrain

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// editedTerrain returns a tile with some relief, two layers and baked maps.
func editedTerrain(t *testing.T) *Terrain {
	t.Helper()
	d := flatImport(33, 17, 17)
	d.Pos = tmath.Vec3{X: 64, Z: -32}
	d.Noise = &NoiseParams{Seed: 3, Amplitude: 8, Octaves: 2}
	tr := newPrepared(t, d)
	tr.SetHeightAtPoint(5, 7, 40)

	require.NoError(t, tr.AddLayer(0, 0, []string{"rock.png", "rock_n.png"}))
	require.NoError(t, tr.AddLayer(1, 3, []string{"grass.png"}))
	bm, err := tr.LayerBlendMap(1)
	require.NoError(t, err)
	bm.SetBlendValue(10, 11, 0.5)
	bm.Update()

	tr.Update(true)
	return tr
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := editedTerrain(t)
	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))
	assert.False(t, src.IsModified())
	assert.False(t, src.IsHeightDataModified())

	dst := New(testOptions())
	require.NoError(t, dst.PrepareFromReader(bytes.NewReader(buf.Bytes())))
	require.True(t, dst.IsPrepared())
	assert.False(t, dst.IsModified())

	assert.Equal(t, src.Size(), dst.Size())
	assert.Equal(t, src.WorldSize(), dst.WorldSize())
	assert.Equal(t, src.Position(), dst.Position())
	assert.Equal(t, src.Alignment(), dst.Alignment())
	assert.Equal(t, src.MinBatchSize(), dst.MinBatchSize())
	assert.Equal(t, src.MaxBatchSize(), dst.MaxBatchSize())
	assert.Equal(t, src.HeightData(), dst.HeightData())
	assert.Equal(t, src.DeltaData(), dst.DeltaData())

	assert.True(t, src.LayerDeclaration().Equal(dst.LayerDeclaration()))
	assert.Equal(t, src.Layers(), dst.Layers())
	assert.Equal(t, src.BlendTexture(0), dst.BlendTexture(0))

	assert.Equal(t, src.NormalMap(), dst.NormalMap())
	assert.Equal(t, src.LightMap(), dst.LightMap())
	assert.Equal(t, src.CompositeMap(), dst.CompositeMap())
	assert.True(t, dst.DirtyDerivedDataRect().IsNull(), "maps were restored")

	srcNodes, dstNodes := src.QuadTree().nodes, dst.QuadTree().nodes
	require.Len(t, dstNodes, len(srcNodes))
	for i := range srcNodes {
		for l := range srcNodes[i].lodLevels {
			assert.InDelta(t, srcNodes[i].lodLevels[l].MaxHeightDelta, dstNodes[i].lodLevels[l].MaxHeightDelta, 1e-4)
		}
	}
	assert.InDelta(t, src.MaxHeight(), dst.MaxHeight(), 1e-4)
}

func TestLoadWithoutMapsSchedulesDerivedData(t *testing.T) {
	src := newPrepared(t, flatImport(17, 17, 17))
	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	dst := New(testOptions())
	require.NoError(t, dst.PrepareFromReader(&buf))
	assert.Nil(t, dst.NormalMap())
	assert.Equal(t, NewRect(0, 0, 17, 17), dst.DirtyDerivedDataRect())

	dst.Update(true)
	assert.Len(t, dst.NormalMap(), 17*17*3)
}

func TestSaveRequiresPrepare(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, New(testOptions()).Save(&buf), ErrNotPrepared)
	assert.Zero(t, buf.Len())
}

func TestLoadRejectsBadStreams(t *testing.T) {
	var good bytes.Buffer
	require.NoError(t, newPrepared(t, flatImport(17, 17, 17)).Save(&good))

	wrongChunk := func() []byte {
		var b bytes.Buffer
		cw := formats.NewChunkWriter(&b)
		id := formats.MakeChunkID("ABCD")
		cw.BeginChunk(id, 1)
		cw.WriteUint8(1)
		cw.EndChunk(id)
		require.NoError(t, cw.Close())
		return b.Bytes()
	}

	badSize := func() []byte {
		var b bytes.Buffer
		cw := formats.NewChunkWriter(&b)
		cw.BeginChunk(ChunkTerrain, terrainChunkVersion)
		cw.WriteUint8(uint8(AlignXZ))
		cw.WriteUint16(16)
		cw.WriteFloat32(100)
		cw.WriteUint16(17)
		cw.WriteUint16(17)
		cw.WriteVec3(tmath.Vec3{})
		cw.WriteFloat32Blob(make([]float32, 16*16))
		cw.BeginChunk(chunkDeclaration, declChunkVersion)
		cw.WriteUint8(0)
		cw.WriteUint8(0)
		cw.EndChunk(chunkDeclaration)
		cw.WriteUint8(0)
		cw.WriteUint16(0)
		cw.WriteFloat32Blob(nil)
		cw.EndChunk(ChunkTerrain)
		require.NoError(t, cw.Close())
		return b.Bytes()
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated", good.Bytes()[:good.Len()/2], formats.ErrTruncatedChunkData},
		{"bad magic", []byte("XXXX\x01"), formats.ErrInvalidStreamMagic},
		{"wrong chunk", wrongChunk(), formats.ErrInvalidChunkID},
		{"invalid size", badSize(), ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(testOptions())
			err := tr.PrepareFromReader(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, tt.want)
			assert.False(t, tr.IsPrepared())
		})
	}
}

func TestSaveToFile(t *testing.T) {
	src := editedTerrain(t)
	path := filepath.Join(t.TempDir(), "tiles", "a.trn")
	require.NoError(t, src.SaveToFile(path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")

	dst := New(testOptions())
	require.NoError(t, dst.PrepareFromFile(path))
	assert.Equal(t, src.HeightData(), dst.HeightData())

	err = New(testOptions()).PrepareFromFile(filepath.Join(t.TempDir(), "missing.trn"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
