package terrain

import (
	"math"

	"github.com/Faultbox/midgard-terrain/internal/engine/picking"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// CalculateLightMap bakes shadows for the lightmap texels covering rect, plus
// everything rect can cast a shadow onto, plus extraRect (regions reported by
// neighbours). Texels are 255 when lit and 0 in shadow.
// The box is L8 with rows top-down; the second result is the covered rect in
// lightmap texels.
func (t *Terrain) CalculateLightMap(rect, extraRect Rect) (*PixelBox, Rect) {
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.calculateLightMap(rect, extraRect)
}

func (t *Terrain) calculateLightMap(rect, extraRect Rect) (*PixelBox, Rect) {
	lightDir := t.opts.LightMapDirection
	minH, maxH := t.quadTree.MinHeight(), t.quadTree.MaxHeight()

	widened := t.WidenRectByVector(lightDir, rect, minH, maxH).Merge(extraRect)

	// terrain points to lightmap texels
	lmSize := t.lightMapSize
	scale := float32(lmSize) / float32(t.size)
	lm := Rect{
		Left:   int(float32(widened.Left) * scale),
		Top:    int(float32(widened.Top) * scale),
		Right:  int(float32(widened.Right) * scale),
		Bottom: int(float32(widened.Bottom) * scale),
	}.Clamp(lmSize)
	if lm.IsNull() {
		return newPixelBox(0, 0, FormatL8), Rect{}
	}

	w := lm.Width()
	box := newPixelBox(w, lm.Height(), FormatL8)
	// lift the sample point so a texel does not shadow itself
	pad := max((maxH-minH)*1e-3, 1e-3)
	inv := 1 / float32(lmSize-1)
	back := lightDir.Negate()

	for y := lm.Top; y < lm.Bottom; y++ {
		for x := lm.Left; x < lm.Right; x++ {
			tx, ty := float32(x)*inv, float32(y)*inv
			origin := t.GetPosition(tx, ty, t.GetHeightAtTerrainPosition(tx, ty)+pad)
			lit := byte(255)
			if hit, _ := t.RayIntersects(picking.NewRay(origin, back), true, t.worldSize); hit {
				lit = 0
			}
			box.Data[(lm.Bottom-y-1)*w+(x-lm.Left)] = lit
		}
	}
	return box, lm
}

// FinalizeLightMap copies baked texels into the lightmap. It reports false when
// the lightmap has been disabled since the computation started.
func (t *Terrain) FinalizeLightMap(rect Rect, box *PixelBox) bool {
	if !t.opts.LightMapRequired {
		t.lightMap = nil
		return false
	}
	if box == nil || rect.IsNull() {
		return true
	}
	if len(t.lightMap) != t.lightMapSize*t.lightMapSize {
		t.lightMap = make([]byte, t.lightMapSize*t.lightMapSize)
		for i := range t.lightMap {
			t.lightMap[i] = 255
		}
	}
	blit(t.lightMap, t.lightMapSize, rect, box)
	return true
}

// WidenRectByVector grows rect by the shadow a column of the terrain between
// minH and maxH would cast along vec (world space). The result is in points,
// is not clamped and may reach into neighbouring tiles.
func (t *Terrain) WidenRectByVector(vec tmath.Vec3, rect Rect, minH, maxH float32) Rect {
	out := rect
	if rect.IsNull() {
		return out
	}
	tv := t.GetTerrainVector(vec)
	if tmath.RealEqual(tv.Z, 0, 1e-6) {
		return out
	}

	// from the top of the range down to the bottom, or up when the vector rises
	start, end := maxH, minH
	if tv.Z > 0 {
		start, end = minH, maxH
	}
	dist := (end - start) / tv.Z
	dx := tv.X / t.scale * dist
	dy := tv.Y / t.scale * dist

	corners := [4][2]int{
		{rect.Left, rect.Top},
		{rect.Right - 1, rect.Top},
		{rect.Left, rect.Bottom - 1},
		{rect.Right - 1, rect.Bottom - 1},
	}
	for _, c := range corners {
		hx := float32(c[0]) + dx
		hy := float32(c[1]) + dy
		out = out.Merge(Rect{
			Left:   int(math.Floor(float64(hx))),
			Top:    int(math.Floor(float64(hy))),
			Right:  int(hx+0.5) + 1,
			Bottom: int(hy+0.5) + 1,
		})
	}
	return out
}
