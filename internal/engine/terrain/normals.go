package terrain

import (
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// CalculateNormals computes object-space normals for the points of rect,
// widened by one point since a height change tilts its neighbours too.
// The box is RGB with rows top-down; the second result is the covered rect.
func (t *Terrain) CalculateNormals(rect Rect) (*PixelBox, Rect) {
	t.dataMu.RLock()
	defer t.dataMu.RUnlock()
	return t.calculateNormals(rect)
}

func (t *Terrain) calculateNormals(rect Rect) (*PixelBox, Rect) {
	widened := rect.Widen(1).Clamp(t.size)
	if widened.IsNull() {
		return newPixelBox(0, 0, FormatRGB8), Rect{}
	}
	w, h := widened.Width(), widened.Height()
	box := newPixelBox(w, h, FormatRGB8)

	// 3---2---1
	// | \ | / |
	// 4---P---0
	// | / | \ |
	// 5---6---7
	var adjacent [8]tmath.Vec3
	for y := widened.Top; y < widened.Bottom; y++ {
		for x := widened.Left; x < widened.Right; x++ {
			centre := t.GetPointFromSelfOrNeighbour(x, y)
			adjacent[0] = t.GetPointFromSelfOrNeighbour(x+1, y)
			adjacent[1] = t.GetPointFromSelfOrNeighbour(x+1, y+1)
			adjacent[2] = t.GetPointFromSelfOrNeighbour(x, y+1)
			adjacent[3] = t.GetPointFromSelfOrNeighbour(x-1, y+1)
			adjacent[4] = t.GetPointFromSelfOrNeighbour(x-1, y)
			adjacent[5] = t.GetPointFromSelfOrNeighbour(x-1, y-1)
			adjacent[6] = t.GetPointFromSelfOrNeighbour(x, y-1)
			adjacent[7] = t.GetPointFromSelfOrNeighbour(x+1, y-1)

			// unnormalised cross products weight each triangle by its area
			var sum tmath.Vec3
			for i := range adjacent {
				a := adjacent[i].Sub(centre)
				b := adjacent[(i+1)%8].Sub(centre)
				sum = sum.Add(a.Cross(b))
			}
			n := sum.Normalize()

			// image rows run top-down
			storeX := x - widened.Left
			storeY := widened.Bottom - y - 1
			p := (storeY*w + storeX) * 3
			box.Data[p] = encodeUnit(n.X)
			box.Data[p+1] = encodeUnit(n.Y)
			box.Data[p+2] = encodeUnit(n.Z)
		}
	}
	return box, widened
}

// encodeUnit maps [-1, 1] to a byte.
func encodeUnit(v float32) byte {
	return byte((tmath.Clamp(v, -1, 1) + 1) * 0.5 * 255)
}

// FinalizeNormals copies computed normals into the normal map. It reports false
// when the normal map has been disabled since the computation started.
func (t *Terrain) FinalizeNormals(rect Rect, box *PixelBox) bool {
	if !t.opts.NormalMapRequired {
		t.normalMap = nil
		return false
	}
	if box == nil || rect.IsNull() {
		return true
	}
	if len(t.normalMap) != t.size*t.size*3 {
		t.normalMap = make([]byte, t.size*t.size*3)
	}
	blit(t.normalMap, t.size, rect, box)
	return true
}

// blit copies box into the square map dst at the rows covering rect. Box rows
// are top-down and rect is bottom-up, so the destination rows are flipped.
func blit(dst []byte, size int, rect Rect, box *PixelBox) {
	bpp := box.Format.BytesPerPixel()
	top := size - rect.Bottom
	rowLen := box.Width * bpp
	for row := range box.Height {
		d := ((top+row)*size + rect.Left) * bpp
		copy(dst[d:d+rowLen], box.Data[row*rowLen:(row+1)*rowLen])
	}
}
