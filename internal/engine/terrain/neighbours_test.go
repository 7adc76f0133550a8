package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

func TestNeighbourIndexHelpers(t *testing.T) {
	assert.Equal(t, West, East.Opposite())
	assert.Equal(t, SouthWest, NorthEast.Opposite())
	assert.Equal(t, North, South.Opposite())

	for i := range NeighbourIndex(NeighbourCount) {
		dx, dy := GetNeighbourOffset(i)
		assert.Equal(t, i, GetNeighbourIndex(dx, dy), i.String())
		assert.Equal(t, i, i.Opposite().Opposite())
	}
	assert.Equal(t, "invalid", NeighbourIndex(9).String())
}

func TestNeighbourPointMapping(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))

	tests := []struct {
		x, y   int
		want   NeighbourIndex
		nx, ny int
	}{
		{17, 3, East, 1, 3},
		{-1, -1, SouthWest, 15, 15},
		{5, 20, North, 5, 4},
		{18, -2, SouthEast, 2, 14},
	}
	for _, tt := range tests {
		i, nx, ny := tr.GetNeighbourPointOverflow(tt.x, tt.y)
		assert.Equal(t, tt.want, i)
		assert.Equal(t, tt.nx, nx)
		assert.Equal(t, tt.ny, ny)
	}

	nx, ny := tr.GetNeighbourPoint(East, 16, 4)
	assert.Equal(t, 0, nx)
	assert.Equal(t, 4, ny)

	edge := tr.GetEdgeRect(East, 2)
	assert.Equal(t, NewRect(15, 0, 17, 17), edge)
	assert.Equal(t, NewRect(0, 0, 2, 17), tr.GetNeighbourEdgeRect(East, edge))
	assert.Equal(t, NewRect(0, 0, 17, 1), tr.GetEdgeRect(South, 1))
}

// stitchedPair returns a flat tile with an east neighbour whose west column is raised.
func stitchedPair(t *testing.T) (a, b *Terrain) {
	t.Helper()
	a = newPrepared(t, flatImport(17, 17, 17))

	d := flatImport(17, 17, 17)
	d.Pos = tmath.Vec3{X: 16}
	d.InputFloat = make([]float32, 17*17)
	for y := range 17 {
		d.InputFloat[y*17] = 5
	}
	b = newPrepared(t, d)
	return a, b
}

func TestSetNeighbourMatchesEdges(t *testing.T) {
	a, b := stitchedPair(t)
	require.NotEqual(t, a.GetHeightAtPoint(16, 0), b.GetHeightAtPoint(0, 0))

	a.SetNeighbour(East, b, true, true)
	assert.Same(t, b, a.Neighbour(East))
	assert.Same(t, a, b.Neighbour(West))

	for y := range 17 {
		assert.Equal(t, a.GetHeightAtPoint(16, y), b.GetHeightAtPoint(0, y), "row %d", y)
	}

	a.SetNeighbour(East, nil, false, true)
	assert.Nil(t, a.Neighbour(East))
	assert.Nil(t, b.Neighbour(West))
}

func TestEdgeNormalsAgreeAcrossSeam(t *testing.T) {
	a, b := stitchedPair(t)
	a.SetNeighbour(East, b, true, true)
	a.Update(true)
	b.Update(true)

	a.SetHeightAtPoint(15, 8, 10)
	a.Update(true)

	na, nb := a.NormalMap(), b.NormalMap()
	require.Len(t, na, 17*17*3)
	require.Len(t, nb, 17*17*3)
	for y := range 17 {
		row := 16 - y
		ia := (row*17 + 16) * 3
		ib := (row * 17) * 3
		for c := range 3 {
			assert.InDelta(t, int(na[ia+c]), int(nb[ib+c]), 1, "row %d channel %d", y, c)
		}
	}
	// the bump tilts the seam normal away from vertical
	assert.Less(t, nb[(8*17)*3+1], byte(250))
}

func TestNeighbourModifiedIgnoresUnlinked(t *testing.T) {
	a, b := stitchedPair(t)
	b.NeighbourModified(West, NewRect(0, 0, 2, 17), Rect{})
	assert.Equal(t, float32(5), b.GetHeightAtPoint(0, 4))
	_ = a
}
