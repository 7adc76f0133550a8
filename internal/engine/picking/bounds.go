package picking

import (
	gomath "math"

	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// AABB represents an axis-aligned bounding box.
// The zero value is a degenerate box at the origin; use NullAABB for an empty box.
type AABB struct {
	Min  math.Vec3
	Max  math.Vec3
	null bool
}

// NullAABB returns an empty box that adopts the first merged point.
func NullAABB() AABB {
	return AABB{null: true}
}

// NewAABB creates an AABB from min and max corners, handling swapped values.
func NewAABB(minX, minY, minZ, maxX, maxY, maxZ float32) AABB {
	a := math.Vec3{X: minX, Y: minY, Z: minZ}
	b := math.Vec3{X: maxX, Y: maxY, Z: maxZ}
	return AABB{Min: a.Min(b), Max: a.Max(b)}
}

// IsNull reports whether the box is empty.
func (b AABB) IsNull() bool {
	return b.null
}

// Merge grows the box to include p.
func (b *AABB) Merge(p math.Vec3) {
	if b.null {
		b.Min, b.Max, b.null = p, p, false
		return
	}
	b.Min = b.Min.Min(p)
	b.Max = b.Max.Max(p)
}

// MergeBox grows the box to include other.
func (b *AABB) MergeBox(other AABB) {
	if other.null {
		return
	}
	b.Merge(other.Min)
	b.Merge(other.Max)
}

// Translate returns the box moved by offset.
func (b AABB) Translate(offset math.Vec3) AABB {
	if b.null {
		return b
	}
	return AABB{Min: b.Min.Add(offset), Max: b.Max.Add(offset)}
}

// Center returns the midpoint of the box.
func (b AABB) Center() math.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// HalfSize returns half the extent on each axis.
func (b AABB) HalfSize() math.Vec3 {
	if b.null {
		return math.Vec3{}
	}
	return b.Max.Sub(b.Min).Scale(0.5)
}

// Radius returns the radius of the sphere enclosing the box.
func (b AABB) Radius() float32 {
	return b.HalfSize().Length()
}

// Contains reports whether p lies inside the box (inclusive).
func (b AABB) Contains(p math.Vec3) bool {
	if b.null {
		return false
	}
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersects reports whether two boxes overlap.
func (b AABB) Intersects(other AABB) bool {
	if b.null || other.null {
		return false
	}
	return b.Min.X <= other.Max.X && b.Max.X >= other.Min.X &&
		b.Min.Y <= other.Max.Y && b.Max.Y >= other.Min.Y &&
		b.Min.Z <= other.Max.Z && b.Max.Z >= other.Min.Z
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center math.Vec3
	Radius float32
}

// IntersectsAABB reports whether the sphere overlaps the box.
func (s Sphere) IntersectsAABB(b AABB) bool {
	if b.null {
		return false
	}
	var d2 float64
	c := [3]float32{s.Center.X, s.Center.Y, s.Center.Z}
	lo := [3]float32{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float32{b.Max.X, b.Max.Y, b.Max.Z}
	for i := range 3 {
		if c[i] < lo[i] {
			d := float64(lo[i] - c[i])
			d2 += d * d
		} else if c[i] > hi[i] {
			d := float64(c[i] - hi[i])
			d2 += d * d
		}
	}
	return d2 <= gomath.Pow(float64(s.Radius), 2)
}
