package terrain

import (
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// GetPoint returns the local-space position of height-field point (x, y) at height h.
func (t *Terrain) GetPoint(x, y int, h float32) tmath.Vec3 {
	return t.getPointAlign(float32(x), float32(y), h, t.align)
}

func (t *Terrain) getPointAlign(x, y, h float32, align Alignment) tmath.Vec3 {
	px := x*t.scale + t.base
	py := y*t.scale + t.base
	switch align {
	case AlignYZ:
		return tmath.Vec3{X: h, Y: py, Z: -px}
	case AlignXY:
		return tmath.Vec3{X: px, Y: py, Z: h}
	default:
		return tmath.Vec3{X: px, Y: h, Z: -py}
	}
}

// GetVector maps a vector from terrain basis (x, y in the plane, z up) to world axes.
func (t *Terrain) GetVector(x, y, z float32) tmath.Vec3 {
	return ConvertTerrainToWorldAxes(t.align, tmath.Vec3{X: x, Y: y, Z: z})
}

// GetTerrainVector maps a world vector to the terrain basis.
func (t *Terrain) GetTerrainVector(v tmath.Vec3) tmath.Vec3 {
	return ConvertWorldToTerrainAxes(t.align, v)
}

// GetPosition returns the world position of terrain-space coordinates.
// (0, 0) is the bottom-left corner, (1, 1) the top-right; h is an absolute height.
func (t *Terrain) GetPosition(tx, ty, h float32) tmath.Vec3 {
	n := float32(t.size - 1)
	return t.getPointAlign(tx*n, ty*n, h, t.align).Add(t.pos)
}

// GetTerrainPosition converts a world position to terrain space.
func (t *Terrain) GetTerrainPosition(world tmath.Vec3) tmath.Vec3 {
	return t.ConvertPosition(WorldSpace, world, TerrainSpace)
}

// ConvertPosition converts a position between coordinate spaces.
func (t *Terrain) ConvertPosition(in Space, v tmath.Vec3, out Space) tmath.Vec3 {
	return t.convertSpace(in, v, out, true)
}

// ConvertDirection converts a direction between coordinate spaces, ignoring translation.
func (t *Terrain) ConvertDirection(in Space, v tmath.Vec3, out Space) tmath.Vec3 {
	return t.convertSpace(in, v, out, false)
}

func (t *Terrain) convertSpace(in Space, v tmath.Vec3, out Space, translation bool) tmath.Vec3 {
	span := float32(t.size-1) * t.scale
	cur := in
	for cur != out {
		switch cur {
		case WorldSpace:
			if translation {
				v = v.Sub(t.pos)
			}
			cur = LocalSpace

		case LocalSpace:
			if out == WorldSpace {
				if translation {
					v = v.Add(t.pos)
				}
				cur = WorldSpace
				continue
			}
			v = ConvertWorldToTerrainAxes(t.align, v)
			if translation {
				v.X -= t.base
				v.Y -= t.base
			}
			v.X /= span
			v.Y /= span
			cur = TerrainSpace

		case TerrainSpace:
			if out == PointSpace {
				v.X *= float32(t.size - 1)
				v.Y *= float32(t.size - 1)
				if translation {
					v.X = float32(int(v.X + 0.5))
					v.Y = float32(int(v.Y + 0.5))
				}
				cur = PointSpace
				continue
			}
			v.X *= span
			v.Y *= span
			if translation {
				v.X += t.base
				v.Y += t.base
			}
			v = ConvertTerrainToWorldAxes(t.align, v)
			cur = LocalSpace

		case PointSpace:
			v.X /= float32(t.size - 1)
			v.Y /= float32(t.size - 1)
			cur = TerrainSpace
		}
	}
	return v
}

// ConvertWorldToTerrainAxes reorders world axes so x, y span the terrain plane and z is up.
func ConvertWorldToTerrainAxes(align Alignment, v tmath.Vec3) tmath.Vec3 {
	switch align {
	case AlignXZ:
		return tmath.Vec3{X: v.X, Y: -v.Z, Z: v.Y}
	case AlignYZ:
		return tmath.Vec3{X: -v.Z, Y: v.Y, Z: v.X}
	default:
		return v
	}
}

// ConvertTerrainToWorldAxes is the inverse of ConvertWorldToTerrainAxes.
func ConvertTerrainToWorldAxes(align Alignment, v tmath.Vec3) tmath.Vec3 {
	switch align {
	case AlignXZ:
		return tmath.Vec3{X: v.X, Y: v.Z, Z: -v.Y}
	case AlignYZ:
		return tmath.Vec3{X: v.Z, Y: v.Y, Z: -v.X}
	default:
		return v
	}
}

// upComponent returns the height component of a world or local vector.
func (t *Terrain) upComponent(v tmath.Vec3) float32 {
	return ConvertWorldToTerrainAxes(t.align, v).Z
}
