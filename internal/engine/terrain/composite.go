package terrain

import (
	"time"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// UpdateCompositeMap refreshes the composite map over its dirty region.
//
// The composite is the distant-view texture: the colour map (white when
// disabled) shaded by the normal map against the light direction and darkened
// where the lightmap is in shadow.
func (t *Terrain) UpdateCompositeMap() {
	if !t.opts.CompositeMapRequired || !t.prepared || t.compositeMapDirtyRect.IsNull() {
		return
	}
	rect := t.compositeMapDirtyRect
	if t.compositeMapDirtyRectLightmapUpdate && (rect.Width() < t.size || rect.Height() < t.size) {
		// shadows reach further than the heights that changed
		rect = t.WidenRectByVector(t.opts.LightMapDirection, rect, t.MinHeight(), t.MaxHeight())
	}
	rect = rect.Clamp(t.size)
	t.compositeMapDirtyRect = Rect{}
	t.compositeMapDirtyRectLightmapUpdate = false
	t.compositeMapUpdateCountdown = 0
	t.modified = true

	size := t.compositeMapSize
	if len(t.compositeMap) != size*size*4 {
		t.compositeMap = make([]byte, size*size*4)
		rect = t.fullRect()
	}

	scale := float32(size) / float32(t.size)
	cm := Rect{
		Left:   int(float32(rect.Left) * scale),
		Top:    int(float32(rect.Top) * scale),
		Right:  int(float32(rect.Right)*scale + 0.5),
		Bottom: int(float32(rect.Bottom)*scale + 0.5),
	}.Clamp(size)
	t.compositeUpdated = cm

	// the light arrives against its travel direction
	toLight := t.opts.LightMapDirection.Negate()
	inv := 1 / float32(max(size-1, 1))
	for y := cm.Top; y < cm.Bottom; y++ {
		// maps are stored top-down
		row := size - y - 1
		for x := cm.Left; x < cm.Right; x++ {
			u, v := float32(x)*inv, float32(row)*inv
			shade := float32(1)
			if n, ok := t.sampleNormal(u, v); ok {
				shade = 0.25 + 0.75*max(n.Dot(toLight), 0)
			}
			if t.sampleLight(u, v) < 128 {
				shade *= 0.5
			}
			r, g, b := t.sampleColour(u, v)
			p := (row*size + x) * 4
			t.compositeMap[p] = byte(float32(r) * shade)
			t.compositeMap[p+1] = byte(float32(g) * shade)
			t.compositeMap[p+2] = byte(float32(b) * shade)
			t.compositeMap[p+3] = 255
		}
	}
}

// sampleNormal reads the normal map at image coordinates (u, v) in [0, 1].
func (t *Terrain) sampleNormal(u, v float32) (tmath.Vec3, bool) {
	if len(t.normalMap) != t.size*t.size*3 {
		return tmath.Vec3{}, false
	}
	p := nearest(u, v, t.size) * 3
	dec := func(b byte) float32 { return float32(b)/255*2 - 1 }
	n := tmath.Vec3{X: dec(t.normalMap[p]), Y: dec(t.normalMap[p+1]), Z: dec(t.normalMap[p+2])}
	return n.Normalize(), true
}

func (t *Terrain) sampleLight(u, v float32) byte {
	if len(t.lightMap) != t.lightMapSize*t.lightMapSize {
		return 255
	}
	return t.lightMap[nearest(u, v, t.lightMapSize)]
}

func (t *Terrain) sampleColour(u, v float32) (r, g, b byte) {
	if len(t.colorMap) != t.colorMapSize*t.colorMapSize*3 || t.colorMapSize == 0 {
		return 255, 255, 255
	}
	p := nearest(u, v, t.colorMapSize) * 3
	return t.colorMap[p], t.colorMap[p+1], t.colorMap[p+2]
}

// nearest returns the pixel index closest to (u, v) in a size x size image.
func nearest(u, v float32, size int) int {
	x := min(max(int(u*float32(size-1)+0.5), 0), size-1)
	y := min(max(int(v*float32(size-1)+0.5), 0), size-1)
	return y*size + x
}

// UpdateCompositeMapWithDelay schedules a composite map update after delay
// of FrameUpdate time, restarting any countdown already running. A zero delay
// uses the configured default.
func (t *Terrain) UpdateCompositeMapWithDelay(delay time.Duration) {
	if delay <= 0 {
		delay = t.opts.CompositeMapDelay
	}
	t.compositeMapUpdateCountdown = delay
}

// FrameUpdate advances deferred work by dt.
func (t *Terrain) FrameUpdate(dt time.Duration) {
	if t.compositeMapUpdateCountdown <= 0 {
		return
	}
	t.compositeMapUpdateCountdown -= dt
	if t.compositeMapUpdateCountdown <= 0 {
		t.compositeMapUpdateCountdown = 0
		t.UpdateCompositeMap()
	}
}
