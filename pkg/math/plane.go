package math

// Plane is the set of points p where Normal.Dot(p) + D == 0.
type Plane struct {
	Normal Vec3
	D      float32
}

// NewPlane builds the plane through three points, wound counter-clockwise.
func NewPlane(a, b, c Vec3) Plane {
	n := b.Sub(a).Cross(c.Sub(a)).Normalize()
	return Plane{Normal: n, D: -n.Dot(a)}
}

// Distance returns the signed distance from p to the plane.
func (p Plane) Distance(v Vec3) float32 {
	return p.Normal.Dot(v) + p.D
}

// SolveZ returns the z coordinate on the plane at (x, y).
// Planes parallel to the z axis yield 0.
func (p Plane) SolveZ(x, y float32) float32 {
	if p.Normal.Z == 0 {
		return 0
	}
	return -(p.Normal.X*x + p.Normal.Y*y + p.D) / p.Normal.Z
}

// IntersectRay returns the distance along dir from origin to the plane.
// Rays parallel to the plane and hits behind the origin report false.
func (p Plane) IntersectRay(origin, dir Vec3) (float32, bool) {
	denom := p.Normal.Dot(dir)
	if Abs(denom) < 1e-6 {
		return 0, false
	}
	t := -(p.Normal.Dot(origin) + p.D) / denom
	if t < 0 {
		return 0, false
	}
	return t, true
}
