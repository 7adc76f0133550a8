package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

func TestLODLevelWhenVertexEliminated(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 5, 17))
	require.Equal(t, 3, tr.NumLodLevels())

	tests := []struct {
		x, y int
		want int
	}{
		{0, 0, 3},
		{4, 8, 3},
		{16, 16, 3},
		{2, 4, 2},
		{6, 0, 2},
		{1, 0, 1},
		{4, 3, 1},
		{15, 15, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.GetLODLevelWhenVertexEliminated(tt.x, tt.y), "(%d,%d)", tt.x, tt.y)
	}
}

func TestResolutionAtLod(t *testing.T) {
	tr := newPrepared(t, flatImport(65, 17, 33))
	assert.Equal(t, 65, tr.GetResolutionAtLod(0))
	assert.Equal(t, 33, tr.GetResolutionAtLod(1))
	assert.Equal(t, 17, tr.GetResolutionAtLod(2))
}

func TestDistributeVertexDataLargeTerrain(t *testing.T) {
	tr := newPrepared(t, flatImport(1025, 17, 65))
	require.Equal(t, 5, tr.TreeDepth())
	qt := tr.QuadTree()

	root := qt.Root()
	require.True(t, root.OwnsVertexData())
	assert.Equal(t, 65, root.vertexData.Resolution)
	assert.Equal(t, 65, root.vertexData.Size)
	assert.Equal(t, 1, root.vertexData.TreeLevels)

	owners := map[int]int{}
	qt.Walk(func(n *Node) bool {
		if n.OwnsVertexData() {
			owners[n.Depth()]++
		}
		return true
	})
	assert.Equal(t, map[int]int{0: 1, 1: 4, 3: 64}, owners)

	d1, ok := qt.Lookup(1, 1, 0)
	require.True(t, ok)
	assert.Equal(t, 257, d1.vertexData.Resolution)
	assert.Equal(t, 129, d1.vertexData.Size)

	d2, ok := qt.Lookup(2, 2, 1)
	require.True(t, ok)
	assert.False(t, d2.OwnsVertexData())
	assert.Equal(t, d2.Parent(), d2.VertexDataOwner())

	d3, ok := qt.Lookup(3, 5, 2)
	require.True(t, ok)
	assert.Equal(t, 1025, d3.vertexData.Resolution)
	assert.Equal(t, 129, d3.vertexData.Size)

	d4, ok := qt.Lookup(4, 11, 5)
	require.True(t, ok)
	assert.Equal(t, d4.Parent(), d4.VertexDataOwner())
}

func TestSmallTerrainSharesRootBlock(t *testing.T) {
	tr := newPrepared(t, flatImport(33, 17, 17))
	qt := tr.QuadTree()
	root := qt.Root()
	require.True(t, root.OwnsVertexData())
	for i := range 4 {
		child := qt.Node(root.Child(i))
		assert.Equal(t, root.ID(), child.VertexDataOwner())
	}
}

func TestIndexBufferLayout(t *testing.T) {
	vdr := newVertexDataRecord(17, 17, 1)
	p := IndexParams{
		BatchSize:        17,
		VertexDataSize:   17,
		VertexIncrement:  1,
		NumSkirtRowsCols: vdr.NumSkirtRowsCols,
		SkirtRowColSkip:  vdr.SkirtRowColSkip,
	}
	idx := PopulateIndexBuffer(p)
	require.Len(t, idx, GetNumIndexesForBatchSize(17))

	// the strip starts at the far end of the first row
	assert.Equal(t, uint16(16), idx[0])
	assert.Equal(t, uint16(16+17), idx[1])
	for _, v := range idx {
		assert.Less(t, int(v), vdr.NumVertices())
	}
}

func TestSkirtVertexIndex(t *testing.T) {
	p := IndexParams{VertexDataSize: 17, NumSkirtRowsCols: 3, SkirtRowColSkip: 8}
	// row 16, column 8: third skirt row, second skirt column
	assert.Equal(t, 17*17+2*17+8, CalcSkirtVertexIndex(p, 16*17+8, false))
	assert.Equal(t, 17*17+3*17+1*17+16, CalcSkirtVertexIndex(p, 16*17+8, true))
}

func TestCalculateCurrentLod(t *testing.T) {
	tr := newPrepared(t, flatImport(33, 17, 17))
	tr.SetHeightAtPoint(1, 2, 10)
	tr.Update(true)

	qt := tr.QuadTree()
	root := qt.Root()
	cam := Camera{FovY: 1, ViewportHeight: 768}

	// close to the bump: the affected leaf renders, its siblings fill in
	cam.Position = tr.GetPosition(1.0/32, 2.0/32, 20)
	tr.CalculateCurrentLod(cam)
	assert.False(t, root.IsRenderedAtCurrentLod())
	assert.True(t, root.IsSelfOrChildRendered())
	for i := range 4 {
		assert.Equal(t, 0, qt.Node(root.Child(i)).CurrentLod())
	}
	assert.Equal(t, float32(1), qt.Node(root.Child(3)).LodTransition())

	// far away only the root is drawn
	cam.Position = tmath.Vec3{X: 0, Y: 1e7, Z: 0}
	tr.CalculateCurrentLod(cam)
	assert.Equal(t, 0, root.CurrentLod())
	for i := range 4 {
		assert.False(t, qt.Node(root.Child(i)).IsRenderedAtCurrentLod())
	}
}

// assertBoundsNested checks that no node has empty bounds and that every
// parent encloses its children.
func assertBoundsNested(t *testing.T, qt *QuadTree) {
	t.Helper()
	const eps = 1e-3
	qt.Walk(func(n *Node) bool {
		require.False(t, n.AABB().IsNull(), "node %d has no bounds", n.ID())
		if n.IsLeaf() {
			return true
		}
		outer := n.AABB()
		for i := range 4 {
			child := qt.Node(n.Child(i))
			inner := child.AABB().Translate(child.LocalCentre().Sub(n.LocalCentre()))
			ok := inner.Min.X >= outer.Min.X-eps && inner.Min.Y >= outer.Min.Y-eps && inner.Min.Z >= outer.Min.Z-eps &&
				inner.Max.X <= outer.Max.X+eps && inner.Max.Y <= outer.Max.Y+eps && inner.Max.Z <= outer.Max.Z+eps
			assert.True(t, ok, "node %d does not enclose child %d: %+v vs %+v", n.ID(), child.ID(), outer, inner)
		}
		return true
	})
}

func TestBoundsNestAfterEdit(t *testing.T) {
	d := flatImport(65, 17, 17)
	d.Noise = &NoiseParams{Seed: 3, Amplitude: 10, Octaves: 2}
	tr := newPrepared(t, d)
	require.Equal(t, 3, tr.TreeDepth())
	assertBoundsNested(t, tr.QuadTree())

	tr.SetHeightAtPoint(50, 50, 400)
	tr.Update(true)
	assertBoundsNested(t, tr.QuadTree())
	assert.InDelta(t, 400, tr.MaxHeight(), 1e-3)

	// a deltas-only pass over the whole tile leaves the bounds alone
	tr.FinalizeHeightDeltas(NewRect(0, 0, 65, 65), false)
	assertBoundsNested(t, tr.QuadTree())
	assert.InDelta(t, 400, tr.MaxHeight(), 1e-3)
}

func TestBoundsKeepDetailBelowCoarseBlocks(t *testing.T) {
	d := flatImport(1025, 17, 65)
	d.InputFloat = make([]float32, 1025*1025)
	// off every coarse sampling grid
	d.InputFloat[7*1025+5] = 100
	tr := newPrepared(t, d)

	assert.InDelta(t, 100, tr.MaxHeight(), 1e-3)
	leaf, ok := tr.QuadTree().Lookup(4, 0, 0)
	require.True(t, ok)
	require.True(t, leaf.IsLeaf())
	assert.InDelta(t, 100, tr.upComponent(leaf.AABB().Max.Add(leaf.LocalCentre())), 1e-3)
	assertBoundsNested(t, tr.QuadTree())
}
