package math

import (
	"testing"
)

func TestVec3Distance(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{4, 6, 3}
	if got := a.Distance(b); got != 5 {
		t.Errorf("Vec3.Distance() = %v, want 5", got)
	}
	if got, want := a.Sub(b).Abs(), (Vec3{3, 4, 0}); got != want {
		t.Errorf("Vec3.Abs() = %v, want %v", got, want)
	}
}

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Normalize(t *testing.T) {
	v := Vec3{0, 3, 4}
	l := v.Normalize().Length()
	if l < 0.999 || l > 1.001 {
		t.Errorf("Vec3.Normalize().Length() = %v, want ~1", l)
	}
	if got := (Vec3{}).Normalize(); got != (Vec3{}) {
		t.Errorf("zero Vec3.Normalize() = %v, want zero", got)
	}
}

func TestVec3MinMax(t *testing.T) {
	a := Vec3{1, 5, -2}
	b := Vec3{3, -1, 0}
	if got, want := a.Min(b), (Vec3{1, -1, -2}); got != want {
		t.Errorf("Vec3.Min() = %v, want %v", got, want)
	}
	if got, want := a.Max(b), (Vec3{3, 5, 0}); got != want {
		t.Errorf("Vec3.Max() = %v, want %v", got, want)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float32
	}{
		{-1, 0, 1, 0},
		{0.5, 0, 1, 0.5},
		{2, 0, 1, 1},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
