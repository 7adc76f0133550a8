// Package lighting provides light direction helpers for terrain shadow baking.
package lighting

import (
	"math"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// DefaultLightDirection is the direction light travels when nothing is configured.
var DefaultLightDirection = tmath.Vec3{X: 1, Y: -1, Z: 0}.Normalize()

// SunDirection converts azimuth/elevation angles (degrees) to a unit vector pointing towards the sun.
// Azimuth rotates around the Y axis (0-360), elevation is measured from the horizon (0-90).
func SunDirection(azimuth, elevation float32) tmath.Vec3 {
	azRad := float64(azimuth) * math.Pi / 180.0
	elRad := float64(elevation) * math.Pi / 180.0

	// Spherical to Cartesian conversion
	x := float32(math.Cos(elRad) * math.Sin(azRad))
	y := float32(math.Sin(elRad))
	z := float32(math.Cos(elRad) * math.Cos(azRad))

	return tmath.Vec3{X: x, Y: y, Z: z}
}

// LightDirection returns the direction light travels for a sun at the given angles.
// This is the vector the lightmap baker casts shadow rays against.
func LightDirection(azimuth, elevation float32) tmath.Vec3 {
	return SunDirection(azimuth, elevation).Negate()
}

// Resolve picks an explicit direction when it is non-zero, otherwise derives one from angles.
func Resolve(explicit [3]float32, azimuth, elevation float32) tmath.Vec3 {
	dir := tmath.Vec3{X: explicit[0], Y: explicit[1], Z: explicit[2]}
	if dir.Length() > 0 {
		return dir.Normalize()
	}
	if azimuth == 0 && elevation == 0 {
		return DefaultLightDirection
	}
	return LightDirection(azimuth, elevation)
}
