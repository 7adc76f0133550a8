package terrain

import "fmt"

// Rect is a half-open integer rectangle [Left, Right) x [Top, Bottom) in point space.
// A rect with zero width or height is null.
type Rect struct {
	Left, Top, Right, Bottom int
}

// NewRect returns the rect spanning the given edges.
func NewRect(left, top, right, bottom int) Rect {
	return Rect{Left: left, Top: top, Right: right, Bottom: bottom}
}

// Width returns Right-Left.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns Bottom-Top.
func (r Rect) Height() int { return r.Bottom - r.Top }

// IsNull reports whether the rect covers no points.
func (r Rect) IsNull() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Merge returns the smallest rect containing both. Null rects are ignored.
func (r Rect) Merge(o Rect) Rect {
	if r.IsNull() {
		return o
	}
	if o.IsNull() {
		return r
	}
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

// Intersect returns the overlap, which is null when the rects are disjoint.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		Left:   max(r.Left, o.Left),
		Top:    max(r.Top, o.Top),
		Right:  min(r.Right, o.Right),
		Bottom: min(r.Bottom, o.Bottom),
	}
	if out.IsNull() {
		return Rect{}
	}
	return out
}

// Contains reports whether (x, y) is inside the half-open rect.
func (r Rect) Contains(x, y int) bool {
	return x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

// Widen grows every edge outward by n.
func (r Rect) Widen(n int) Rect {
	return Rect{Left: r.Left - n, Top: r.Top - n, Right: r.Right + n, Bottom: r.Bottom + n}
}

// Clamp limits the rect to [0, size) on both axes.
func (r Rect) Clamp(size int) Rect {
	return Rect{
		Left:   max(r.Left, 0),
		Top:    max(r.Top, 0),
		Right:  min(r.Right, size),
		Bottom: min(r.Bottom, size),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d %d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}
