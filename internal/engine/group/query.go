package group

import (
	"math"

	"github.com/Faultbox/midgard-terrain/internal/engine/picking"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// maxRayGaps is how many empty slots in a row a ray crosses before giving up.
const maxRayGaps = 6

// RayResult is the outcome of a group ray query.
type RayResult struct {
	Hit      bool
	Terrain  *terrain.Terrain
	Position tmath.Vec3
}

// ConvertWorldPositionToTerrainSlot returns the slot containing a world position.
func (g *Group) ConvertWorldPositionToTerrainSlot(pos tmath.Vec3) (x, y int64) {
	p := terrain.ConvertWorldToTerrainAxes(g.align, pos.Sub(g.origin))
	half := g.worldSize * 0.5
	x = int64(math.Floor(float64((p.X + half) / g.worldSize)))
	y = int64(math.Floor(float64((p.Y + half) / g.worldSize)))
	return x, y
}

// ConvertTerrainSlotToWorldPosition returns the world centre of slot (x, y).
func (g *Group) ConvertTerrainSlotToWorldPosition(x, y int64) tmath.Vec3 {
	p := tmath.Vec3{X: float32(x) * g.worldSize, Y: float32(y) * g.worldSize}
	return terrain.ConvertTerrainToWorldAxes(g.align, p).Add(g.origin)
}

// Update runs Update on every loaded tile.
func (g *Group) Update(synchronous bool) {
	for _, s := range g.loadedSlots() {
		s.Instance.Update(synchronous)
	}
}

// UpdateGeometry runs UpdateGeometry on every loaded tile.
func (g *Group) UpdateGeometry() {
	for _, s := range g.loadedSlots() {
		s.Instance.UpdateGeometry()
	}
}

// UpdateDerivedData runs UpdateDerivedData on every loaded tile.
func (g *Group) UpdateDerivedData(synchronous bool, typeMask terrain.DerivedDataType) {
	for _, s := range g.loadedSlots() {
		s.Instance.UpdateDerivedData(synchronous, typeMask)
	}
}

// FreeTemporaryResources drops editing buffers on every loaded tile.
func (g *Group) FreeTemporaryResources() {
	for _, s := range g.loadedSlots() {
		s.Instance.FreeTemporaryResources()
	}
}

// GetHeightAtWorldPosition returns the height under pos and the tile that
// answered. It returns 0 and nil when no loaded tile covers pos.
func (g *Group) GetHeightAtWorldPosition(pos tmath.Vec3) (float32, *terrain.Terrain) {
	s := g.slot(g.ConvertWorldPositionToTerrainSlot(pos))
	if s == nil || s.Instance == nil || !s.Instance.IsLoaded() {
		return 0, nil
	}
	return s.Instance.GetHeightAtWorldPosition(pos), s.Instance
}

// RayIntersects walks the slots under a ray and returns the first tile hit.
// distanceLimit stops the search that far from the origin; 0 means no limit.
func (g *Group) RayIntersects(ray picking.Ray, distanceLimit float32) RayResult {
	// slot units, with slot (x, y) spanning [x, x+1) x [y, y+1)
	o := terrain.ConvertWorldToTerrainAxes(g.align, ray.Origin.Sub(g.origin)).Scale(1 / g.worldSize)
	o.X += 0.5
	o.Y += 0.5
	d := terrain.ConvertWorldToTerrainAxes(g.align, ray.Direction)

	x, y := int64(math.Floor(float64(o.X))), int64(math.Floor(float64(o.Y)))
	stepX, nextX, deltaX := slotStep(o.X, d.X)
	stepY, nextY, deltaY := slotStep(o.Y, d.Y)
	vertical := stepX == 0 && stepY == 0

	gaps := 0
	for {
		if s := g.slot(x, y); s != nil && s.Instance != nil && s.Instance.IsLoaded() {
			gaps = 0
			if hit, pos := s.Instance.RayIntersects(ray, false, distanceLimit); hit {
				return RayResult{Hit: true, Terrain: s.Instance, Position: pos}
			}
		} else {
			gaps++
			if gaps > maxRayGaps {
				break
			}
		}
		if vertical {
			break
		}

		var entry float32
		if nextX < nextY {
			entry = nextX
			x += stepX
			nextX += deltaX
		} else {
			entry = nextY
			y += stepY
			nextY += deltaY
		}
		if distanceLimit > 0 && entry*g.worldSize > distanceLimit {
			break
		}
	}
	return RayResult{}
}

// slotStep sets up one axis of the slot walk: the step direction, the ray
// parameter of the first boundary crossing and the parameter per slot.
func slotStep(origin, dir float32) (step int64, next, delta float32) {
	const inf = math.MaxFloat32
	switch {
	case tmath.RealEqual(dir, 0, 1e-6):
		return 0, inf, inf
	case dir > 0:
		cell := float32(math.Floor(float64(origin)))
		return 1, (cell + 1 - origin) / dir, 1 / dir
	default:
		cell := float32(math.Floor(float64(origin)))
		return -1, (origin - cell) / -dir, 1 / -dir
	}
}

// BoxIntersects returns the loaded tiles whose bounds overlap box.
func (g *Group) BoxIntersects(box picking.AABB) []*terrain.Terrain {
	var out []*terrain.Terrain
	for _, s := range g.loadedSlots() {
		if box.Intersects(s.Instance.WorldAABB()) {
			out = append(out, s.Instance)
		}
	}
	return out
}

// SphereIntersects returns the loaded tiles whose bounds overlap sphere.
func (g *Group) SphereIntersects(sphere picking.Sphere) []*terrain.Terrain {
	var out []*terrain.Terrain
	for _, s := range g.loadedSlots() {
		if sphere.IntersectsAABB(s.Instance.WorldAABB()) {
			out = append(out, s.Instance)
		}
	}
	return out
}
