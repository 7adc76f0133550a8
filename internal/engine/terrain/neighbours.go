package terrain

import (
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// NeighbourIndex names the eight tiles around a terrain, counter-clockwise from east.
type NeighbourIndex int

// Neighbour positions.
const (
	East NeighbourIndex = iota
	NorthEast
	North
	NorthWest
	West
	SouthWest
	South
	SouthEast

	NeighbourCount = 8
)

var neighbourNames = [NeighbourCount]string{"E", "NE", "N", "NW", "W", "SW", "S", "SE"}

func (i NeighbourIndex) String() string {
	if i < 0 || i >= NeighbourCount {
		return "invalid"
	}
	return neighbourNames[i]
}

// Opposite returns the index under which this terrain appears to the neighbour at i.
func (i NeighbourIndex) Opposite() NeighbourIndex {
	return (i + NeighbourCount/2) % NeighbourCount
}

// GetNeighbourIndex maps a slot offset to a neighbour index. Only the signs matter.
func GetNeighbourIndex(dx, dy int) NeighbourIndex {
	switch {
	case dx < 0:
		if dy < 0 {
			return SouthWest
		} else if dy > 0 {
			return NorthWest
		}
		return West
	case dx > 0:
		if dy < 0 {
			return SouthEast
		} else if dy > 0 {
			return NorthEast
		}
		return East
	}
	if dy < 0 {
		return South
	}
	return North
}

// GetNeighbourOffset returns the slot offset of a neighbour index.
func GetNeighbourOffset(i NeighbourIndex) (dx, dy int) {
	switch i {
	case East:
		return 1, 0
	case NorthEast:
		return 1, 1
	case North:
		return 0, 1
	case NorthWest:
		return -1, 1
	case West:
		return -1, 0
	case SouthWest:
		return -1, -1
	case South:
		return 0, -1
	case SouthEast:
		return 1, -1
	}
	return 0, 0
}

// Neighbour returns the terrain linked at i, or nil.
func (t *Terrain) Neighbour(i NeighbourIndex) *Terrain {
	return t.neighbours[i]
}

// SetNeighbour links n at position i. With notifyOther the link is mirrored on n
// (and removed from any terrain previously linked there). With recalculate the
// shared edge is matched to the neighbour and derived data refreshed.
func (t *Terrain) SetNeighbour(i NeighbourIndex, n *Terrain, recalculate, notifyOther bool) {
	if t.neighbours[i] == n {
		return
	}
	if old := t.neighbours[i]; old != nil && notifyOther {
		old.SetNeighbour(i.Opposite(), nil, false, false)
	}
	t.neighbours[i] = n
	if n != nil && notifyOther {
		n.SetNeighbour(i.Opposite(), t, recalculate, false)
	}
	if recalculate && n != nil {
		edge := t.GetEdgeRect(i, 2)
		t.NeighbourModified(i, edge, edge)
	}
}

// GetEdgeRect returns the range rows or columns of this terrain bordering neighbour i.
func (t *Terrain) GetEdgeRect(i NeighbourIndex, rng int) Rect {
	var r Rect
	switch i {
	case East, NorthEast, SouthEast:
		r.Left, r.Right = t.size-rng, t.size
	case West, NorthWest, SouthWest:
		r.Left, r.Right = 0, rng
	default:
		r.Left, r.Right = 0, t.size
	}
	switch i {
	case North, NorthEast, NorthWest:
		r.Top, r.Bottom = t.size-rng, t.size
	case South, SouthEast, SouthWest:
		r.Top, r.Bottom = 0, rng
	default:
		r.Top, r.Bottom = 0, t.size
	}
	return r
}

// GetNeighbourEdgeRect reflects an edge rect of this terrain onto neighbour i.
// Both terrains must have the same size.
func (t *Terrain) GetNeighbourEdgeRect(i NeighbourIndex, r Rect) Rect {
	out := r
	switch i {
	case East, NorthEast, SouthEast, West, NorthWest, SouthWest:
		out.Left, out.Right = t.size-r.Right, t.size-r.Left
	}
	switch i {
	case North, NorthEast, NorthWest, South, SouthWest, SouthEast:
		out.Top, out.Bottom = t.size-r.Bottom, t.size-r.Top
	}
	return out
}

// GetNeighbourPoint returns the point of neighbour i that coincides with edge point (x, y).
func (t *Terrain) GetNeighbourPoint(i NeighbourIndex, x, y int) (nx, ny int) {
	nx, ny = x, y
	switch i {
	case East, NorthEast, SouthEast, West, NorthWest, SouthWest:
		nx = t.size - x - 1
	}
	switch i {
	case North, NorthEast, NorthWest, South, SouthWest, SouthEast:
		ny = t.size - y - 1
	}
	return nx, ny
}

// GetNeighbourPointOverflow maps a point outside the terrain to the neighbour
// that contains it and its coordinates there. Edges are shared, so a point one
// past the east edge is column 1 of the east neighbour.
func (t *Terrain) GetNeighbourPointOverflow(x, y int) (NeighbourIndex, int, int) {
	nx, ny := x, y
	switch {
	case x < 0:
		nx = x + t.size - 1
	case x >= t.size:
		nx = x - t.size + 1
	}
	switch {
	case y < 0:
		ny = y + t.size - 1
	case y >= t.size:
		ny = y - t.size + 1
	}

	dx, dy := 0, 0
	if x < 0 {
		dx = -1
	} else if x >= t.size {
		dx = 1
	}
	if y < 0 {
		dy = -1
	} else if y >= t.size {
		dy = 1
	}
	return GetNeighbourIndex(dx, dy), nx, ny
}

// GetPointFromSelfOrNeighbour returns the local position of point (x, y),
// reading across the edge when it lies on a linked neighbour and clamping otherwise.
// Safe to call from derived data tasks.
func (t *Terrain) GetPointFromSelfOrNeighbour(x, y int) tmath.Vec3 {
	if x >= 0 && y >= 0 && x < t.size && y < t.size {
		return t.GetPoint(x, y, t.heightData[y*t.size+x])
	}
	ni, nx, ny := t.GetNeighbourPointOverflow(x, y)
	if n := t.neighbours[ni]; n != nil && n.size == t.size {
		n.dataMu.RLock()
		p := n.GetPoint(nx, ny, n.heightAt(nx, ny))
		n.dataMu.RUnlock()
		// relative to this terrain
		return p.Add(n.pos).Sub(t.pos)
	}
	x, y = t.clampPoint(x, y)
	return t.GetPoint(x, y, t.heightData[y*t.size+x])
}

// heightAt reads a clamped height, tolerating an unprepared terrain.
func (t *Terrain) heightAt(x, y int) float32 {
	if len(t.heightData) == 0 {
		return 0
	}
	return t.GetHeightAtPoint(x, y)
}

// NotifyNeighbours passes the changes along the edges since the last call to
// the neighbours they affect: shared heights, normals and cast shadows.
func (t *Terrain) NotifyNeighbours() {
	if t.dirtyGeometryRectForNeighbours.IsNull() {
		return
	}
	dirty := t.dirtyGeometryRectForNeighbours
	t.dirtyGeometryRectForNeighbours = Rect{}

	lightRect := t.WidenRectByVector(t.opts.LightMapDirection, dirty, t.MinHeight(), t.MaxHeight())

	for i := NeighbourIndex(0); i < NeighbourCount; i++ {
		n := t.neighbours[i]
		if n == nil {
			continue
		}
		edge := t.GetEdgeRect(i, 2)
		heightEdge := edge.Intersect(dirty)
		lightEdge := edge.Intersect(lightRect)
		if heightEdge.IsNull() && lightEdge.IsNull() {
			continue
		}

		var nHeight, nLight Rect
		if !heightEdge.IsNull() {
			nHeight = t.GetNeighbourEdgeRect(i, heightEdge)
		}
		if !lightEdge.IsNull() {
			nLight = t.GetNeighbourEdgeRect(i, lightEdge)
		}
		n.NeighbourModified(i.Opposite(), nHeight, nLight)
	}
}

// NeighbourModified reacts to a change reported by neighbour i. edgeRect is the
// region of this terrain whose heights border the change, shadowRect the region
// whose lighting may be affected.
func (t *Terrain) NeighbourModified(i NeighbourIndex, edgeRect, shadowRect Rect) {
	n := t.neighbours[i]
	if n == nil || !t.prepared || !n.prepared {
		return
	}

	updateGeom := false
	var updateDerived DerivedDataType

	if !edgeRect.IsNull() {
		// match heights along the shared line, the neighbour wins
		match := t.GetEdgeRect(i, 1).Intersect(edgeRect)
		for y := match.Top; y < match.Bottom; y++ {
			for x := match.Left; x < match.Right; x++ {
				nx, ny := t.GetNeighbourPoint(i, x, y)
				nh := n.GetHeightAtPoint(nx, ny)
				if !tmath.RealEqual(nh, t.GetHeightAtPoint(x, y), 1e-3) {
					t.SetHeightAtPoint(x, y, nh)
					updateGeom = true
					updateDerived |= DerivedAll
				}
			}
		}
		// normals on our side still read across the edge
		if !updateGeom {
			t.dirtyDerivedDataRect = t.dirtyDerivedDataRect.Merge(edgeRect)
			updateDerived |= DerivedNormals
		}
	}

	if !shadowRect.IsNull() {
		widened := t.WidenRectByVector(t.opts.LightMapDirection, shadowRect, n.MinHeight(), n.MaxHeight())
		t.dirtyLightmapFromNeighboursRect = t.dirtyLightmapFromNeighboursRect.Merge(widened)
		updateDerived |= DerivedLightmap
	}

	if updateGeom {
		t.UpdateGeometry()
	}
	if updateDerived != 0 {
		t.UpdateDerivedData(true, updateDerived)
	}
}
