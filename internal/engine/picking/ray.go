// Package picking provides rays, bounding volumes and the intersection tests between them.
package picking

import (
	gomath "math"

	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// Ray represents a ray in 3D space with origin and direction.
type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3 // Normalized direction
}

// NewRay returns a ray with a normalized direction.
func NewRay(origin, direction math.Vec3) Ray {
	return Ray{Origin: origin, Direction: direction.Normalize()}
}

// Point returns the position at distance t along the ray.
func (r Ray) Point(t float32) math.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// IntersectPlane intersects the ray with a plane.
// Returns the distance along the ray and whether the intersection is valid.
func (r Ray) IntersectPlane(p math.Plane) (float32, bool) {
	return p.IntersectRay(r.Origin, r.Direction)
}

// IntersectAABB tests ray intersection with an axis-aligned bounding box.
// Returns the distance to intersection (t) and whether intersection occurred.
// If the ray starts inside the box, returns 0.
func (r Ray) IntersectAABB(box AABB) (t float32, hit bool) {
	if box.IsNull() {
		return 0, false
	}
	if box.Contains(r.Origin) {
		return 0, true
	}

	tmin := float32(-gomath.MaxFloat32)
	tmax := float32(gomath.MaxFloat32)

	origin := [3]float32{r.Origin.X, r.Origin.Y, r.Origin.Z}
	dir := [3]float32{r.Direction.X, r.Direction.Y, r.Direction.Z}
	lo := [3]float32{box.Min.X, box.Min.Y, box.Min.Z}
	hi := [3]float32{box.Max.X, box.Max.Y, box.Max.Z}

	for axis := range 3 {
		if dir[axis] != 0 {
			t1 := (lo[axis] - origin[axis]) / dir[axis]
			t2 := (hi[axis] - origin[axis]) / dir[axis]
			if t1 > t2 {
				t1, t2 = t2, t1
			}
			if t1 > tmin {
				tmin = t1
			}
			if t2 < tmax {
				tmax = t2
			}
		} else if origin[axis] < lo[axis] || origin[axis] > hi[axis] {
			return 0, false
		}
	}

	if tmax < tmin || tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}

// IntersectAABBRange returns the entry and exit distances of the ray through box.
// near is negative when the origin lies inside the box.
func (r Ray) IntersectAABBRange(box AABB) (near, far float32, hit bool) {
	if box.IsNull() {
		return 0, 0, false
	}

	near = float32(-gomath.MaxFloat32)
	far = float32(gomath.MaxFloat32)

	origin := [3]float32{r.Origin.X, r.Origin.Y, r.Origin.Z}
	dir := [3]float32{r.Direction.X, r.Direction.Y, r.Direction.Z}
	lo := [3]float32{box.Min.X, box.Min.Y, box.Min.Z}
	hi := [3]float32{box.Max.X, box.Max.Y, box.Max.Z}

	for axis := range 3 {
		if dir[axis] == 0 {
			if origin[axis] < lo[axis] || origin[axis] > hi[axis] {
				return 0, 0, false
			}
			continue
		}
		t1 := (lo[axis] - origin[axis]) / dir[axis]
		t2 := (hi[axis] - origin[axis]) / dir[axis]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		near = max(near, t1)
		far = min(far, t2)
	}

	if far < near || far < 0 {
		return 0, 0, false
	}
	return near, far, true
}
