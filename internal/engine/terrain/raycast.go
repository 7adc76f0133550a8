package terrain

import (
	"github.com/Faultbox/midgard-terrain/internal/engine/picking"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// RayIntersects returns where a world-space ray first hits the terrain surface.
//
// With cascade the ray continues into linked neighbours once it leaves this
// terrain, giving up after limit world units (0 means no limit).
// It may run on a worker goroutine as long as the caller holds the terrain's
// read lock; neighbours are locked as the ray enters them.
func (t *Terrain) RayIntersects(ray picking.Ray, cascade bool, limit float32) (bool, tmath.Vec3) {
	if t.quadTree == nil {
		return false, tmath.Vec3{}
	}

	// point space: x, y in height-field points, z the height
	o := ConvertWorldToTerrainAxes(t.align, ray.Origin.Sub(t.pos))
	d := ConvertWorldToTerrainAxes(t.align, ray.Direction)
	o.X = (o.X - t.base) / t.scale
	o.Y = (o.Y - t.base) / t.scale
	d.X /= t.scale
	d.Y /= t.scale
	local := picking.Ray{Origin: o, Direction: d.Normalize()}
	d = local.Direction

	minH, maxH := t.quadTree.MinHeight(), t.quadTree.MaxHeight()
	box := picking.NewAABB(0, 0, minH, float32(t.size), float32(t.size), maxH)
	dist, hit := local.IntersectAABB(box)
	if !hit {
		if cascade {
			return t.cascadeRay(ray, limit)
		}
		return false, tmath.Vec3{}
	}

	cur := local.Point(dist)
	last := t.size - 2
	quadX := min(max(int(cur.X), 0), last)
	quadY := min(max(int(cur.Y), 0), last)
	flipX, xDir := 1, 1
	if d.X < 0 {
		flipX, xDir = 0, -1
	}
	flipY, yDir := 1, 1
	if d.Y < 0 {
		flipY, yDir = 0, -1
	}
	far := float32(t.size) * 10000

	found := false
	var where tmath.Vec3
	for cur.Z >= minH-1e-3 && cur.Z <= maxH+1e-3 {
		if quadX < 0 || quadX > last || quadY < 0 || quadY > last {
			break
		}
		if found, where = t.checkQuadIntersection(quadX, quadY, local); found {
			break
		}

		// step into whichever quad the ray reaches first
		xDist, yDist := far, far
		if !tmath.RealEqual(d.X, 0, 1e-6) {
			xDist = (float32(quadX) - cur.X + float32(flipX)) / d.X
		}
		if !tmath.RealEqual(d.Y, 0, 1e-6) {
			yDist = (float32(quadY) - cur.Y + float32(flipY)) / d.Y
		}
		if xDist < yDist {
			quadX += xDir
			cur = cur.Add(d.Scale(xDist))
		} else {
			quadY += yDir
			cur = cur.Add(d.Scale(yDist))
		}
	}

	if found {
		where.X = where.X*t.scale + t.base
		where.Y = where.Y*t.scale + t.base
		return true, ConvertTerrainToWorldAxes(t.align, where).Add(t.pos)
	}
	if cascade {
		return t.cascadeRay(ray, limit)
	}
	return false, tmath.Vec3{}
}

func (t *Terrain) cascadeRay(ray picking.Ray, limit float32) (bool, tmath.Vec3) {
	n := t.RaySelectNeighbour(ray, limit)
	if n == nil {
		return false, tmath.Vec3{}
	}
	n.dataMu.RLock()
	defer n.dataMu.RUnlock()
	return n.RayIntersects(ray, true, limit)
}

// checkQuadIntersection tests a point-space ray against the two triangles of quad (x, y).
func (t *Terrain) checkQuadIntersection(x, y int, ray picking.Ray) (bool, tmath.Vec3) {
	h := func(px, py int) float32 { return t.heightData[py*t.size+px] }
	fx, fy := float32(x), float32(y)
	v1 := tmath.Vec3{X: fx, Y: fy, Z: h(x, y)}
	v2 := tmath.Vec3{X: fx + 1, Y: fy, Z: h(x+1, y)}
	v3 := tmath.Vec3{X: fx, Y: fy + 1, Z: h(x, y+1)}
	v4 := tmath.Vec3{X: fx + 1, Y: fy + 1, Z: h(x+1, y+1)}

	// even     odd
	// 3---4   3---4
	// | / |   | \ |
	// 1---2   1---2
	odd := y%2 != 0
	var p1, p2 tmath.Plane
	if odd {
		p1 = tmath.NewPlane(v2, v4, v3)
		p2 = tmath.NewPlane(v1, v2, v3)
	} else {
		p1 = tmath.NewPlane(v1, v2, v4)
		p2 = tmath.NewPlane(v1, v4, v3)
	}

	inQuad := func(rel tmath.Vec3) bool {
		return rel.X >= -0.01 && rel.X <= 1.01 && rel.Y >= -0.01 && rel.Y <= 1.01
	}

	if dist, ok := ray.IntersectPlane(p1); ok {
		where := ray.Point(dist)
		rel := where.Sub(v1)
		if inQuad(rel) && ((!odd && rel.X >= rel.Y) || (odd && rel.X >= 1-rel.Y)) {
			return true, where
		}
	}
	if dist, ok := ray.IntersectPlane(p2); ok {
		where := ray.Point(dist)
		rel := where.Sub(v1)
		if inQuad(rel) && ((!odd && rel.X <= rel.Y) || (odd && rel.X <= 1-rel.Y)) {
			return true, where
		}
	}
	return false, tmath.Vec3{}
}

// RaySelectNeighbour returns the neighbour a world-space ray enters when it
// leaves this terrain, or nil when there is none or the exit lies beyond limit.
func (t *Terrain) RaySelectNeighbour(ray picking.Ray, limit float32) *Terrain {
	if t.quadTree == nil {
		return nil
	}
	box := t.quadTree.AABB().Translate(t.quadTree.Root().localCentre)

	// back off half a point so a ray starting on the boundary still registers
	local := picking.Ray{
		Origin:    ray.Point(-t.worldSize / float32(t.size) * 0.5).Sub(t.pos),
		Direction: ray.Direction,
	}
	_, far, hit := local.IntersectAABBRange(box)
	if !hit || far <= 0 || (limit != 0 && far > limit) {
		return nil
	}

	exit := ConvertWorldToTerrainAxes(t.align, local.Point(far))
	dir := ConvertWorldToTerrainAxes(t.align, ray.Direction)
	x, y := exit.X, exit.Y
	ax, ay := tmath.Abs(x), tmath.Abs(y)

	if tmath.RealEqual(ax, ay, 1e-4) {
		switch {
		case x > 0 && y > 0 && dir.X > 0 && dir.Y > 0:
			return t.neighbours[NorthEast]
		case x > 0 && y < 0 && dir.X > 0 && dir.Y < 0:
			return t.neighbours[SouthEast]
		case x < 0 && y > 0 && dir.X < 0 && dir.Y > 0:
			return t.neighbours[NorthWest]
		case x < 0 && y < 0 && dir.X < 0 && dir.Y < 0:
			return t.neighbours[SouthWest]
		}
	}
	switch {
	case x > 0 && ax > ay && dir.X > 0:
		return t.neighbours[East]
	case x < 0 && ax > ay && dir.X < 0:
		return t.neighbours[West]
	case y > 0 && ay > ax && dir.Y > 0:
		return t.neighbours[North]
	case y < 0 && ay > ax && dir.Y < 0:
		return t.neighbours[South]
	}
	return nil
}
