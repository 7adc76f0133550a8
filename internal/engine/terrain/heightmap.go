package terrain

import (
	"github.com/aquilax/go-perlin"

	"github.com/Faultbox/midgard-terrain/pkg/formats"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// HeightData returns the height field, row-major from the bottom-left corner.
// The slice is shared with the terrain and must not be modified.
func (t *Terrain) HeightData() []float32 { return t.heightData }

// DeltaData returns the per-point height deltas. The slice must not be modified.
func (t *Terrain) DeltaData() []float32 { return t.deltaData }

func (t *Terrain) clampPoint(x, y int) (int, int) {
	return max(0, min(x, t.size-1)), max(0, min(y, t.size-1))
}

// GetHeightAtPoint returns the height at point (x, y), clamped to the terrain.
func (t *Terrain) GetHeightAtPoint(x, y int) float32 {
	x, y = t.clampPoint(x, y)
	return t.heightData[y*t.size+x]
}

// SetHeightAtPoint writes the height at point (x, y), clamped to the terrain,
// and marks the point dirty. The change takes effect on the next Update.
func (t *Terrain) SetHeightAtPoint(x, y int, h float32) {
	x, y = t.clampPoint(x, y)
	t.dataMu.Lock()
	t.heightData[y*t.size+x] = h
	t.dataMu.Unlock()
	t.DirtyRect(Rect{x, y, x + 1, y + 1})
}

// GetHeightAtTerrainPosition interpolates the height at terrain-space (x, y)
// over the same triangles the mesh is built from.
func (t *Terrain) GetHeightAtTerrainPosition(x, y float32) float32 {
	x = tmath.Clamp(x, 0, 1)
	y = tmath.Clamp(y, 0, 1)
	last := t.size - 1
	inv := 1 / float32(last)

	startX, startY := int(x*float32(last)), int(y*float32(last))
	var endX, endY int
	if startX == last {
		endX = startX
		startX--
	} else {
		endX = startX + 1
	}
	if startY == last {
		endY = startY
		startY--
	} else {
		endY = startY + 1
	}

	startXTS, startYTS := float32(startX)*inv, float32(startY)*inv
	endXTS, endYTS := float32(endX)*inv, float32(endY)*inv
	xParam := (x - startXTS) * float32(last)
	yParam := (y - startYTS) * float32(last)

	// even     odd
	// 3---2   3---2
	// | / |   | \ |
	// 0---1   0---1
	v0 := tmath.Vec3{X: startXTS, Y: startYTS, Z: t.GetHeightAtPoint(startX, startY)}
	v1 := tmath.Vec3{X: endXTS, Y: startYTS, Z: t.GetHeightAtPoint(endX, startY)}
	v2 := tmath.Vec3{X: endXTS, Y: endYTS, Z: t.GetHeightAtPoint(endX, endY)}
	v3 := tmath.Vec3{X: startXTS, Y: endYTS, Z: t.GetHeightAtPoint(startX, endY)}

	var plane tmath.Plane
	if startY%2 != 0 {
		if 1-yParam > xParam {
			plane = tmath.NewPlane(v0, v1, v3)
		} else {
			plane = tmath.NewPlane(v1, v2, v3)
		}
	} else {
		if yParam > xParam {
			plane = tmath.NewPlane(v0, v2, v3)
		} else {
			plane = tmath.NewPlane(v0, v1, v2)
		}
	}
	return plane.SolveZ(x, y)
}

// GetHeightAtWorldPosition returns the terrain height under a world position.
func (t *Terrain) GetHeightAtWorldPosition(pos tmath.Vec3) float32 {
	tp := t.GetTerrainPosition(pos)
	return t.GetHeightAtTerrainPosition(tp.X, tp.Y)
}

// importHeights builds the height field from the first available source.
func importHeights(d *ImportData) []float32 {
	size := d.TerrainSize
	out := make([]float32, size*size)

	switch {
	case d.InputImage != nil:
		// image rows run top-down, heights bottom-up
		for i := range size {
			srcY := size - i - 1
			for j := range size {
				out[i*size+j] = sampleImage(d.InputImage, j, srcY, size)*d.InputScale + d.InputBias
			}
		}

	case d.InputFloat != nil:
		for i, v := range d.InputFloat {
			out[i] = v*d.InputScale + d.InputBias
		}

	case d.Noise != nil:
		fillNoise(out, size, d.Noise, d.InputScale, d.InputBias)

	default:
		for i := range out {
			out[i] = d.ConstantHeight
		}
	}
	return out
}

// sampleImage reads the image at point (x, y) of a size x size grid,
// interpolating when the image has a different resolution.
func sampleImage(img *formats.HeightImage, x, y, size int) float32 {
	if img.Width == size && img.Height == size {
		return img.At(x, y)
	}
	fx := float32(x) * float32(img.Width-1) / float32(size-1)
	fy := float32(y) * float32(img.Height-1) / float32(size-1)
	return bilinear(img.At, fx, fy)
}

// bilinear interpolates a grid lookup at fractional coordinates.
func bilinear(at func(x, y int) float32, fx, fy float32) float32 {
	cellX, cellY := int(fx), int(fy)
	fracX := clampf(fx-float32(cellX), 0, 1)
	fracY := clampf(fy-float32(cellY), 0, 1)

	south := at(cellX, cellY)*(1-fracX) + at(cellX+1, cellY)*fracX
	north := at(cellX, cellY+1)*(1-fracX) + at(cellX+1, cellY+1)*fracX
	return south*(1-fracY) + north*fracY
}

func fillNoise(out []float32, size int, p *NoiseParams, scale, bias float32) {
	alpha, beta, octaves := p.Alpha, p.Beta, p.Octaves
	if alpha == 0 {
		alpha = 2
	}
	if beta == 0 {
		beta = 2
	}
	if octaves <= 0 {
		octaves = 3
	}
	freq := p.Frequency
	if freq == 0 {
		freq = 1
	}
	gen := perlin.NewPerlin(alpha, beta, octaves, p.Seed)

	inv := 1 / float64(size-1)
	for y := range size {
		ny := (float64(p.OffsetY) + float64(y)*inv) * float64(freq)
		for x := range size {
			nx := (float64(p.OffsetX) + float64(x)*inv) * float64(freq)
			n := float32((gen.Noise2D(nx, ny) + 1) / 2)
			out[y*size+x] = n*p.Amplitude*scale + bias
		}
	}
}

// resampleHeights scales a square height field to a new edge length.
func resampleHeights(src []float32, from, to int) []float32 {
	at := func(x, y int) float32 {
		x = max(0, min(x, from-1))
		y = max(0, min(y, from-1))
		return src[y*from+x]
	}
	out := make([]float32, to*to)
	ratio := float32(from-1) / float32(to-1)
	for y := range to {
		for x := range to {
			out[y*to+x] = bilinear(at, float32(x)*ratio, float32(y)*ratio)
		}
	}
	return out
}

func clampf(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
