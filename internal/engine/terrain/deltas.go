package terrain

import (
	"math"

	"go.uber.org/zap"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// CalculateHeightDeltas measures, for every coarser level, how far each point
// lies from the surface that level would render. It returns the region whose
// deltas may have changed, which is wider than rect.
func (t *Terrain) CalculateHeightDeltas(rect Rect) Rect {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.calculateHeightDeltas(rect)
}

// planePoint returns point (x, y) with its height as z.
func (t *Terrain) planePoint(x, y int) tmath.Vec3 {
	return t.getPointAlign(float32(x), float32(y), t.heightData[y*t.size+x], AlignXY)
}

func (t *Terrain) calculateHeightDeltas(rect Rect) Rect {
	clamped := rect.Clamp(t.size)
	if clamped.IsNull() {
		return Rect{}
	}
	final := clamped
	t.quadTree.PreDeltaCalculation(clamped)

	for target := 1; target < t.numLodLevels; target++ {
		source := target - 1
		step := 1 << target
		half := step / 2

		widened := clamped.Widen(step).Clamp(t.size)
		final = final.Merge(widened)

		// snap to the step grid of this level
		lod := widened
		lod.Left -= lod.Left % step
		lod.Top -= lod.Top % step
		lod.Right = roundUp(lod.Right, step)
		lod.Bottom = roundUp(lod.Bottom, step)

		for j := lod.Top; j < lod.Bottom-step; j += step {
			for i := lod.Left; i < lod.Right-step; i += step {
				// even rows    odd rows
				// 2---3        2---3
				// | / |        | \ |
				// 0---1        0---1
				v0 := t.planePoint(i, j)
				v1 := t.planePoint(i+step, j)
				v2 := t.planePoint(i, j+step)
				v3 := t.planePoint(i+step, j+step)

				var t1, t2 tmath.Plane
				backward := false
				if (j/step)%2 == 0 {
					t1 = tmath.NewPlane(v0, v1, v3)
					t2 = tmath.NewPlane(v0, v3, v2)
				} else {
					t1 = tmath.NewPlane(v1, v3, v2)
					t2 = tmath.NewPlane(v0, v1, v2)
					backward = true
				}

				// the last row and column include the far edge
				yub := step - 1
				if j == t.size-step {
					yub = step
				}
				xub := step - 1
				if i == t.size-step {
					xub = step
				}

				for y := 0; y <= yub; y++ {
					for x := 0; x <= xub; x++ {
						fx, fy := i+x, j+y
						if fx%step == 0 && fy%step == 0 {
							continue
						}
						ypct := float32(y) / float32(step)
						xpct := float32(x) / float32(step)

						actual := t.planePoint(fx, fy)
						var interp float32
						if (xpct > ypct && !backward) || (xpct > 1-ypct && backward) {
							interp = t1.SolveZ(actual.X, actual.Y)
						} else {
							interp = t2.SolveZ(actual.X, actual.Y)
						}
						delta := interp - actual.Z

						t.quadTree.NotifyDelta(fx, fy, source, tmath.Abs(delta))

						// keep the move of vertices removed at exactly this level
						if (fx%step == half && fy%half == 0) || (fy%step == half && fx%half == 0) {
							t.deltaData[fy*t.size+fx] = delta
						}
					}
				}
			}
		}
	}

	t.quadTree.PostDeltaCalculation(clamped)
	return final
}

// FinalizeHeightDeltas publishes computed deltas to the quadtree metrics and vertex data.
// With cpuData the render buffers are left for the next Load or geometry update.
func (t *Terrain) FinalizeHeightDeltas(rect Rect, cpuData bool) {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	t.finalizeHeightDeltas(rect, cpuData)
}

func (t *Terrain) finalizeHeightDeltas(rect Rect, cpuData bool) {
	clamped := rect.Clamp(t.size)
	if clamped.IsNull() {
		return
	}
	t.quadTree.FinaliseDeltaValues(clamped)
	t.quadTree.UpdateVertexData(false, true, clamped, cpuData)
}

// GetLODLevelWhenVertexEliminated returns the first level at which point (x, y)
// is no longer part of the mesh. Points kept by every level return NumLodLevels.
func (t *Terrain) GetLODLevelWhenVertexEliminated(x, y int) int {
	return min(t.lodLevelWhenEliminated(x), t.lodLevelWhenEliminated(y))
}

func (t *Terrain) lodLevelWhenEliminated(rowOrColumn int) int {
	elim := (t.size - 1) / (t.minBatch - 1)
	lod := t.numLodLevels
	for rowOrColumn%elim != 0 {
		elim /= 2
		lod--
	}
	return lod
}

// GetResolutionAtLod returns the number of points along an edge at level lod.
func (t *Terrain) GetResolutionAtLod(lod int) int {
	return ((t.size - 1) >> lod) + 1
}

// DistributeVertexData splits the vertex data into blocks addressable with
// 16-bit indices.
//
// Starting from the leaves, a block is bound at the depth whose node count per
// edge matches the number of MaxBatchSize blocks needed at the current baked
// resolution. Coarser depths then sample a block of half the resolution, and
// the root always gets a block of its own when nothing above depth 0 took one.
//
// For a 2049 terrain with batches 33/65 this yields 16x16 blocks of 129 for
// depths 4-5, 2x2 blocks of 129 for depths 1-3 and one 33 block at the root.
func (t *Terrain) DistributeVertexData() {
	depth := t.treeDepth
	prevDepth := depth
	current := t.size
	baked := t.size
	targetSplits := (baked - 1) / (MaxBatchSize - 1)

	for depth != 0 && targetSplits != 0 {
		depth--
		splits := 1 << depth
		if splits == targetSplits {
			sz := ((baked - 1) / splits) + 1
			t.log.Debug("assigning vertex data",
				zap.Int("resolution", baked),
				zap.Int("start_depth", depth),
				zap.Int("end_depth", prevDepth),
				zap.Int("splits", splits))
			t.quadTree.AssignVertexData(depth, prevDepth, baked, sz)

			baked = ((current - 1) >> 1) + 1
			targetSplits = (baked - 1) / (MaxBatchSize - 1)
			prevDepth = depth
		}
		current = ((current - 1) >> 1) + 1
	}

	if prevDepth > 0 {
		// small terrains fit one block, which then serves every depth
		end := 1
		if prevDepth == t.treeDepth {
			end = t.treeDepth
		}
		t.log.Debug("assigning root vertex data", zap.Int("resolution", baked), zap.Int("end_depth", end))
		t.quadTree.AssignVertexData(0, end, baked, baked)
	}
}

// CalculateCurrentLod selects the rendered level of every patch for a camera.
func (t *Terrain) CalculateCurrentLod(cam Camera) {
	if t.quadTree == nil || cam.ViewportHeight <= 0 || cam.FovY <= 0 {
		return
	}
	bias := cam.LodBias
	if bias <= 0 {
		bias = 1
	}
	a := 1 / float32(math.Tan(float64(cam.FovY)/2))
	tt := 2 * t.opts.MaxPixelError / bias / float32(cam.ViewportHeight)
	t.quadTree.CalculateCurrentLod(cam.Position, a/tt)
}
