package group

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/store"
	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

func TestSaveAllTerrains(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	withStore := func(o *Options) { o.Store = fs }

	g := newGroup(t, withStore)
	g.DefineTerrainWithHeight(0, 0, 3)
	g.DefineTerrainWithHeight(1, 0, 3)
	require.NoError(t, g.LoadAllTerrains(true))

	require.NoError(t, g.SaveAllTerrains(true, false))
	for _, s := range g.Slots() {
		name := g.GenerateFilename(s.X, s.Y)
		assert.Equal(t, name, s.Def.Filename)
		assert.True(t, fs.Exists(name))
		assert.False(t, s.Instance.IsModified())
	}

	// manual names are kept unless replaced
	g.GetTerrainDefinition(0, 0).Filename = "manual.dat"
	g.GetTerrain(0, 0).SetHeightAtPoint(4, 4, 9)
	g.Update(true)
	require.NoError(t, g.SaveAllTerrains(true, false))
	assert.True(t, fs.Exists("manual.dat"))

	require.NoError(t, g.SaveAllTerrains(false, true))
	assert.Equal(t, g.GenerateFilename(0, 0), g.GetTerrainDefinition(0, 0).Filename)

	g2 := newGroup(t, withStore)
	g2.DefineTerrain(0, 0)
	require.NoError(t, g2.LoadTerrain(0, 0, true))
	loaded := g2.GetTerrain(0, 0)
	assert.False(t, loaded.IsModified())
	assert.Equal(t, float32(9), loaded.GetHeightAtPoint(4, 4))
	h, _ := g2.GetHeightAtWorldPosition(tmath.Vec3{X: -7.5, Z: 7.5})
	assert.InDelta(t, 3, h, 1e-4)
}

func TestSaveAllTerrainsNeedsStore(t *testing.T) {
	g := newGroup(t, nil)
	assert.ErrorIs(t, g.SaveAllTerrains(false, false), ErrNoStore)
	assert.ErrorIs(t, g.SaveDefinitionToStore(), ErrNoStore)
}

func TestGroupDefinitionRoundTrip(t *testing.T) {
	defaults := terrain.DefaultImportData()
	defaults.ConstantHeight = 4
	defaults.InputBias = 1
	defaults.InputScale = 2
	defaults.LayerDeclaration = terrain.DefaultLayerDeclaration()
	defaults.LayerList = []terrain.LayerInstance{{WorldSize: 12, TextureNames: []string{"a.png", "a_n.png"}}}

	src := New(Options{
		Alignment:         terrain.AlignXY,
		TerrainSize:       33,
		TerrainWorldSize:  64,
		Origin:            tmath.Vec3{X: 1, Y: 2, Z: 3},
		DefaultImportData: &defaults,
		FilenamePrefix:    "isle",
		ResourceGroup:     "Maps",
	})
	t.Cleanup(src.Destroy)

	var buf bytes.Buffer
	require.NoError(t, src.SaveGroupDefinition(&buf))

	dst := newGroup(t, nil)
	require.NoError(t, dst.LoadGroupDefinition(&buf))
	assert.Equal(t, terrain.AlignXY, dst.Alignment())
	assert.Equal(t, 33, dst.TerrainSize())
	assert.Equal(t, float32(64), dst.TerrainWorldSize())
	assert.Equal(t, tmath.Vec3{X: 1, Y: 2, Z: 3}, dst.Origin())
	assert.Equal(t, "Maps", dst.ResourceGroup())
	assert.Equal(t, "isle_00000000.dat", dst.GenerateFilename(0, 0))

	imp := dst.DefaultImportData()
	assert.Equal(t, 33, imp.TerrainSize)
	assert.Equal(t, terrain.AlignXY, imp.Alignment)
	assert.Equal(t, float32(4), imp.ConstantHeight)
	assert.Equal(t, float32(1), imp.InputBias)
	assert.Equal(t, float32(2), imp.InputScale)
	assert.Equal(t, 17, imp.MinBatchSize)
	assert.Equal(t, 65, imp.MaxBatchSize)
	assert.True(t, defaults.LayerDeclaration.Equal(imp.LayerDeclaration))
	assert.Equal(t, defaults.LayerList, imp.LayerList)
}

func TestLoadGroupDefinitionRejectsTerrainStream(t *testing.T) {
	tr := terrain.New(testTerrainOptions())
	d := terrain.DefaultImportData()
	d.TerrainSize = 17
	d.MinBatchSize = 17
	d.MaxBatchSize = 17
	require.NoError(t, tr.Prepare(&d))
	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	g := newGroup(t, nil)
	assert.ErrorIs(t, g.LoadGroupDefinition(&buf), formats.ErrInvalidChunkID)
	assert.Equal(t, 17, g.TerrainSize())
}

func TestGroupDefinitionInStore(t *testing.T) {
	bs, err := store.OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	src := newGroup(t, func(o *Options) {
		o.Store = bs
		o.Origin = tmath.Vec3{X: 50}
	})
	require.NoError(t, src.SaveDefinitionToStore())
	assert.True(t, bs.Exists(DefinitionKey))

	dst := newGroup(t, func(o *Options) { o.Store = bs })
	require.NoError(t, dst.LoadDefinitionFromStore())
	assert.Equal(t, tmath.Vec3{X: 50}, dst.Origin())
}
