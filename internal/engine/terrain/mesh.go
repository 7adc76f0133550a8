package terrain

// Vertex layouts of the two buffers every vertex data block carries.
const (
	// PositionStride is x, y, z relative to the node centre followed by u, v.
	PositionStride = 5
	// DeltaStride is the height delta and the LOD threshold it applies below.
	DeltaStride = 2

	// skirtLodThreshold keeps skirt vertices from ever morphing.
	skirtLodThreshold = 99
)

// VertexDataRecord is a block of vertices shared by a range of quadtree depths.
type VertexDataRecord struct {
	// Resolution is the point count along the whole terrain at which this block samples.
	Resolution int
	// Size is the vertex count along one edge of the block.
	Size int
	// TreeLevels is the number of quadtree depths rendering from this block.
	TreeLevels int
	// NumSkirtRowsCols is the number of skirt rows (and columns) stored after the main grid.
	NumSkirtRowsCols int
	// SkirtRowColSkip is the main-grid spacing between skirt rows.
	SkirtRowColSkip int

	Positions []float32
	Deltas    []float32

	gpuPositions *VertexBuffer
	gpuDeltas    *VertexBuffer
	gpuDirty     bool
}

func newVertexDataRecord(resolution, size, treeLevels int) *VertexDataRecord {
	skirts := (1 << treeLevels) + 1
	return &VertexDataRecord{
		Resolution:       resolution,
		Size:             size,
		TreeLevels:       treeLevels,
		NumSkirtRowsCols: skirts,
		SkirtRowColSkip:  (size - 1) / (skirts - 1),
	}
}

// NumVertices returns the main grid plus the row and column skirts.
func (r *VertexDataRecord) NumVertices() int {
	return r.Size*r.Size + 2*r.Size*r.NumSkirtRowsCols
}

// HasCPUData reports whether the CPU buffers exist.
func (r *VertexDataRecord) HasCPUData() bool { return r.Positions != nil }

// HasGPUData reports whether allocator buffers are attached.
func (r *VertexDataRecord) HasGPUData() bool { return r.gpuPositions != nil }

// GPUBuffers returns the allocator buffers, nil until the terrain is loaded.
func (r *VertexDataRecord) GPUBuffers() (positions, deltas *VertexBuffer) {
	return r.gpuPositions, r.gpuDeltas
}

func (r *VertexDataRecord) createGPU(alloc BufferAllocator) {
	if r.gpuPositions == nil {
		r.gpuPositions, r.gpuDeltas = alloc.AllocateVertexBuffers(r.NumVertices())
		r.gpuDirty = true
	}
	r.syncGPU()
}

func (r *VertexDataRecord) syncGPU() {
	if r.gpuPositions == nil || r.Positions == nil {
		r.gpuDirty = true
		return
	}
	copy(r.gpuPositions.Data, r.Positions)
	copy(r.gpuDeltas.Data, r.Deltas)
	r.gpuDirty = false
}

func (r *VertexDataRecord) destroyGPU(alloc BufferAllocator) {
	if r.gpuPositions == nil {
		return
	}
	alloc.FreeVertexBuffers(r.gpuPositions, r.gpuDeltas)
	r.gpuPositions, r.gpuDeltas = nil, nil
}

func (r *VertexDataRecord) destroyCPU() {
	r.Positions, r.Deltas = nil, nil
}

func (qt *QuadTree) createCPUVertexData(id NodeID) {
	n := &qt.nodes[id]
	vdr := n.vertexData
	if vdr == nil {
		return
	}
	verts := vdr.NumVertices()
	vdr.Positions = make([]float32, verts*PositionStride)
	vdr.Deltas = make([]float32, verts*DeltaStride)
	qt.updateVertexBuffer(id, true, true, Rect{n.offsetX, n.offsetY, n.boundaryX, n.boundaryY})
	vdr.gpuDirty = true
}

func roundUp(v, step int) int {
	if r := v % step; r != 0 {
		return v + step - r
	}
	return v
}

// updateVertexBuffer rewrites the part of a node's own vertex block covered by rect.
// rect must lie inside the node.
func (qt *QuadTree) updateVertexBuffer(id NodeID, positions, deltas bool, rect Rect) {
	t := qt.terrain
	n := &qt.nodes[id]
	vdr := n.vertexData

	if positions {
		qt.resetBounds(id, rect)
	}

	inc := (t.size - 1) / (vdr.Resolution - 1)
	uvScale := 1 / float32(t.size-1)
	startX := n.offsetX + roundUp(rect.Left-n.offsetX, inc)
	startY := n.offsetY + roundUp(rect.Top-n.offsetY, inc)

	for y := startY; y < rect.Bottom; y += inc {
		for x := startX; x < rect.Right; x += inc {
			idx := ((y-n.offsetY)/inc)*vdr.Size + (x-n.offsetX)/inc
			if positions {
				pos := t.GetPoint(x, y, t.heightData[y*t.size+x])
				qt.mergeIntoBounds(id, x, y, pos)
				pos = pos.Sub(n.localCentre)
				p := vdr.Positions[idx*PositionStride:]
				p[0], p[1], p[2] = pos.X, pos.Y, pos.Z
				p[3], p[4] = float32(x)*uvScale, 1-float32(y)*uvScale
			}
			if deltas {
				d := vdr.Deltas[idx*DeltaStride:]
				d[0] = t.deltaData[y*t.size+x]
				d[1] = float32(t.GetLODLevelWhenVertexEliminated(x, y) - 1)
			}
		}
	}

	// skirts copy edge vertices lowered along the up axis
	spacing := vdr.SkirtRowColSkip * inc
	skirtOffset := t.GetVector(0, 0, -t.opts.SkirtSize)
	base := vdr.Size * vdr.Size

	writeSkirt := func(idx, x, y int) {
		if positions {
			pos := t.GetPoint(x, y, t.heightData[y*t.size+x]).Sub(n.localCentre).Add(skirtOffset)
			p := vdr.Positions[idx*PositionStride:]
			p[0], p[1], p[2] = pos.X, pos.Y, pos.Z
			p[3], p[4] = float32(x)*uvScale, 1-float32(y)*uvScale
		}
		if deltas {
			d := vdr.Deltas[idx*DeltaStride:]
			d[0], d[1] = 0, skirtLodThreshold
		}
	}

	// rows
	rowStartY := max(n.offsetY+roundUp(rect.Top-n.offsetY, spacing), n.offsetY)
	for y := rowStartY; y < rect.Bottom; y += spacing {
		for x := startX; x < rect.Right; x += inc {
			writeSkirt(base+((y-n.offsetY)/spacing)*vdr.Size+(x-n.offsetX)/inc, x, y)
		}
	}

	// columns
	colBase := base + vdr.NumSkirtRowsCols*vdr.Size
	colStartX := max(n.offsetX+roundUp(rect.Left-n.offsetX, spacing), n.offsetX)
	for x := colStartX; x < rect.Right; x += spacing {
		for y := startY; y < rect.Bottom; y += inc {
			writeSkirt(colBase+((x-n.offsetX)/spacing)*vdr.Size+(y-n.offsetY)/inc, x, y)
		}
	}
}

// IndexParams identifies one triangle strip layout. Nodes with equal params share a buffer.
type IndexParams struct {
	BatchSize        int
	VertexDataSize   int
	VertexIncrement  int
	XOffset          int
	YOffset          int
	NumSkirtRowsCols int
	SkirtRowColSkip  int
}

// GetNumIndexesForBatchSize returns the strip length for a batch including skirts.
func GetNumIndexesForBatchSize(batchSize int) int {
	main := (batchSize*2 + 1) * (batchSize - 1)
	skirts := (batchSize-1)*2*4 + 2
	return main + skirts
}

// CalcSkirtVertexIndex maps a main grid vertex index to its skirt copy.
// Row skirts are stored first, then column skirts.
func CalcSkirtVertexIndex(p IndexParams, mainIndex int, isCol bool) int {
	row := mainIndex / p.VertexDataSize
	col := mainIndex % p.VertexDataSize
	base := p.VertexDataSize * p.VertexDataSize
	if isCol {
		return base + p.NumSkirtRowsCols*p.VertexDataSize + p.VertexDataSize*(col/p.SkirtRowColSkip) + row
	}
	return base + p.VertexDataSize*(row/p.SkirtRowColSkip) + col
}

// PopulateIndexBuffer builds the triangle strip for one batch.
//
// Rows snake from right to left and back, joined by a repeated index that forms a
// degenerate triangle. The skirts continue the same strip anticlockwise around the
// edge: top, left, bottom, right.
func PopulateIndexBuffer(p IndexParams) []uint16 {
	out := make([]uint16, 0, GetNumIndexesForBatchSize(p.BatchSize))
	rowSize := p.VertexDataSize * p.VertexIncrement
	numRows := p.BatchSize - 1

	current := (p.BatchSize-1)*p.VertexIncrement + p.YOffset*p.VertexDataSize + p.XOffset
	rightToLeft := true
	for range numRows {
		for c := range p.BatchSize {
			out = append(out, uint16(current), uint16(current+rowSize))
			if c+1 < p.BatchSize {
				if rightToLeft {
					current -= p.VertexIncrement
				} else {
					current += p.VertexIncrement
				}
			}
		}
		rightToLeft = !rightToLeft
		current += rowSize
		out = append(out, uint16(current))
	}

	for s := range 4 {
		var edgeInc, skirtInc int
		switch s {
		case 0: // top
			edgeInc, skirtInc = -p.VertexIncrement, -p.VertexIncrement
		case 1: // left
			edgeInc, skirtInc = -rowSize, -p.VertexIncrement
		case 2: // bottom
			edgeInc, skirtInc = p.VertexIncrement, p.VertexIncrement
		case 3: // right
			edgeInc, skirtInc = rowSize, p.VertexIncrement
		}
		skirt := CalcSkirtVertexIndex(p, current, s%2 != 0)
		for range p.BatchSize - 1 {
			out = append(out, uint16(current), uint16(skirt))
			current += edgeInc
			skirt += skirtInc
		}
		if s == 3 {
			out = append(out, uint16(current), uint16(skirt))
		}
	}
	return out
}
