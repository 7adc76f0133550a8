package terrain

import (
	"github.com/Faultbox/midgard-terrain/internal/engine/picking"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// NodeID addresses a node in the quadtree arena.
type NodeID int32

// NoNode marks an absent parent, child or vertex data owner.
const NoNode NodeID = -1

// LodLevel holds the batch size and error metrics of one level of detail of a node.
type LodLevel struct {
	// BatchSize is the number of vertices along one edge at this level.
	BatchSize int
	// MaxHeightDelta is the largest height error introduced by rendering at this level.
	MaxHeightDelta float32
	// CalcMaxHeightDelta is the value being accumulated by an in-flight delta calculation.
	CalcMaxHeightDelta float32
	// LastCFactor and LastTransitionDist cache the transition distance per camera factor.
	LastCFactor        float32
	LastTransitionDist float32

	indexBuffer *IndexBuffer
}

type nodeKey struct {
	depth, x, y int
}

// Node is one patch of the terrain quadtree.
type Node struct {
	id       NodeID
	parent   NodeID
	children [4]NodeID

	offsetX, offsetY     int
	boundaryX, boundaryY int
	size                 int
	baseLod              int
	depth                int
	quadrant             int

	lodLevels []LodLevel

	// aabb is relative to localCentre.
	aabb           picking.AABB
	boundingRadius float32
	localCentre    tmath.Vec3

	currentLod              int
	lodTransition           float32
	childWithMaxHeightDelta NodeID
	selfOrChildRendered     bool

	// calcChildWithMaxHeightDelta is staged by delta calculation until finalised.
	calcChildWithMaxHeightDelta NodeID

	nodeWithVertexData NodeID
	vertexData         *VertexDataRecord
}

// ID returns the arena index of the node.
func (n *Node) ID() NodeID { return n.id }

// Parent returns the parent node id, or NoNode for the root.
func (n *Node) Parent() NodeID { return n.parent }

// Child returns the child in quadrant i (0..3), or NoNode for a leaf.
func (n *Node) Child(i int) NodeID { return n.children[i] }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.children[0] == NoNode }

// OffsetX returns the first point column covered by the node.
func (n *Node) OffsetX() int { return n.offsetX }

// OffsetY returns the first point row covered by the node.
func (n *Node) OffsetY() int { return n.offsetY }

// Size returns the number of points along one edge of the node.
func (n *Node) Size() int { return n.size }

func (n *Node) Depth() int    { return n.depth }
func (n *Node) BaseLod() int  { return n.baseLod }
func (n *Node) Quadrant() int { return n.quadrant }
func (n *Node) LodCount() int { return len(n.lodLevels) }

// LodLevel returns level i relative to BaseLod.
func (n *Node) LodLevel(i int) LodLevel { return n.lodLevels[i] }

// AABB returns the node bounds relative to LocalCentre.
func (n *Node) AABB() picking.AABB { return n.aabb }

func (n *Node) BoundingRadius() float32      { return n.boundingRadius }
func (n *Node) LocalCentre() tmath.Vec3      { return n.localCentre }
func (n *Node) CurrentLod() int              { return n.currentLod }
func (n *Node) LodTransition() float32       { return n.lodTransition }
func (n *Node) IsRenderedAtCurrentLod() bool { return n.currentLod != -1 }
func (n *Node) IsSelfOrChildRendered() bool  { return n.selfOrChildRendered }

// OwnsVertexData reports whether the node holds its own vertex data block.
func (n *Node) OwnsVertexData() bool { return n.vertexData != nil }

// VertexDataOwner returns the node whose vertex data this node renders from.
func (n *Node) VertexDataOwner() NodeID { return n.nodeWithVertexData }

func (n *Node) pointIntersects(x, y int) bool {
	return x >= n.offsetX && x < n.boundaryX && y >= n.offsetY && y < n.boundaryY
}

func (n *Node) rectIntersects(r Rect) bool {
	if r.IsNull() {
		return false
	}
	return r.Right >= n.offsetX && r.Left <= n.boundaryX &&
		r.Bottom >= n.offsetY && r.Top <= n.boundaryY
}

func (n *Node) rectContains(r Rect) bool {
	return r.Left <= n.offsetX && r.Right > n.boundaryX-1 &&
		r.Top <= n.offsetY && r.Bottom > n.boundaryY-1
}

// QuadTree is the LOD hierarchy of one terrain, stored as a flat arena.
// Node 0 is the root.
type QuadTree struct {
	terrain *Terrain
	nodes   []Node
	lookup  map[nodeKey]NodeID
}

func newQuadTree(t *Terrain) *QuadTree {
	total := 0
	for d, n := 0, 1; d < t.treeDepth; d, n = d+1, n*4 {
		total += n
	}
	qt := &QuadTree{
		terrain: t,
		nodes:   make([]Node, 0, total),
		lookup:  make(map[nodeKey]NodeID, total),
	}
	qt.build(NoNode, 0, 0, t.size, t.numLodLevels-1, 0, 0)
	return qt
}

func (qt *QuadTree) build(parent NodeID, offX, offY, size, lod, depth, quadrant int) NodeID {
	t := qt.terrain
	id := NodeID(len(qt.nodes))
	qt.nodes = append(qt.nodes, Node{
		id:                      id,
		parent:                  parent,
		children:                [4]NodeID{NoNode, NoNode, NoNode, NoNode},
		offsetX:                 offX,
		offsetY:                 offY,
		boundaryX:               offX + size,
		boundaryY:               offY + size,
		size:                    size,
		baseLod:                 lod,
		depth:                   depth,
		quadrant:                quadrant,
		aabb:                    picking.NullAABB(),
		localCentre:             t.GetPoint(offX+(size-1)/2, offY+(size-1)/2, 0),
		currentLod:              -1,
		childWithMaxHeightDelta: NoNode,
		nodeWithVertexData:      NoNode,

		calcChildWithMaxHeightDelta: NoNode,
	})
	qt.lookup[nodeKey{depth, offX / (size - 1), offY / (size - 1)}] = id

	if t.maxBatch < size {
		childSize := ((size - 1) / 2) + 1
		childOff := childSize - 1
		var children [4]NodeID
		children[0] = qt.build(id, offX, offY, childSize, lod-1, depth+1, 0)
		children[1] = qt.build(id, offX+childOff, offY, childSize, lod-1, depth+1, 1)
		children[2] = qt.build(id, offX, offY+childOff, childSize, lod-1, depth+1, 2)
		children[3] = qt.build(id, offX+childOff, offY+childOff, childSize, lod-1, depth+1, 3)

		n := &qt.nodes[id]
		n.children = children
		n.lodLevels = []LodLevel{{BatchSize: t.minBatch}}
		return id
	}

	n := &qt.nodes[id]
	n.baseLod = 0
	n.lodLevels = make([]LodLevel, 0, t.numLodLevelsPerLeaf)
	sz := t.maxBatch
	for range t.numLodLevelsPerLeaf {
		n.lodLevels = append(n.lodLevels, LodLevel{BatchSize: sz})
		sz = ((sz - 1) / 2) + 1
	}
	return id
}

// Root returns the root node.
func (qt *QuadTree) Root() *Node { return &qt.nodes[0] }

// Node returns the node with the given id.
func (qt *QuadTree) Node(id NodeID) *Node { return &qt.nodes[id] }

// NodeCount returns the number of nodes in the tree.
func (qt *QuadTree) NodeCount() int { return len(qt.nodes) }

// Lookup finds the node at the given depth and grid position.
func (qt *QuadTree) Lookup(depth, x, y int) (*Node, bool) {
	id, ok := qt.lookup[nodeKey{depth, x, y}]
	if !ok {
		return nil, false
	}
	return &qt.nodes[id], true
}

// Walk visits nodes depth first, parents before children.
// Returning false from fn skips the node's children.
func (qt *QuadTree) Walk(fn func(n *Node) bool) {
	qt.walk(0, fn)
}

func (qt *QuadTree) walk(id NodeID, fn func(n *Node) bool) {
	n := &qt.nodes[id]
	if !fn(n) || n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		qt.walk(c, fn)
	}
}

// AABB returns the root bounds relative to its local centre.
func (qt *QuadTree) AABB() picking.AABB { return qt.nodes[0].aabb }

// MinHeight returns the lowest height covered by the tree.
func (qt *QuadTree) MinHeight() float32 {
	b := qt.nodes[0].aabb
	if b.IsNull() {
		return 0
	}
	return qt.terrain.upComponent(b.Min)
}

// MaxHeight returns the highest height covered by the tree.
func (qt *QuadTree) MaxHeight() float32 {
	b := qt.nodes[0].aabb
	if b.IsNull() {
		return 0
	}
	return qt.terrain.upComponent(b.Max)
}

// PreDeltaCalculation resets the accumulated deltas of nodes fully covered by rect.
func (qt *QuadTree) PreDeltaCalculation(rect Rect) { qt.preDelta(0, rect) }

func (qt *QuadTree) preDelta(id NodeID, rect Rect) {
	n := &qt.nodes[id]
	if !n.rectIntersects(rect) {
		return
	}
	if n.rectContains(rect) {
		for i := range n.lodLevels {
			n.lodLevels[i].CalcMaxHeightDelta = 0
		}
	}
	if n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		qt.preDelta(c, rect)
	}
}

// NotifyDelta raises the accumulated delta of the level lod of every node containing (x, y).
func (qt *QuadTree) NotifyDelta(x, y, lod int, delta float32) { qt.notifyDelta(0, x, y, lod, delta) }

func (qt *QuadTree) notifyDelta(id NodeID, x, y, lod int, delta float32) {
	n := &qt.nodes[id]
	if !n.pointIntersects(x, y) {
		return
	}
	if lod >= n.baseLod && lod < n.baseLod+len(n.lodLevels) {
		ll := &n.lodLevels[lod-n.baseLod]
		ll.CalcMaxHeightDelta = max(ll.CalcMaxHeightDelta, delta)
	}
	if n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		qt.notifyDelta(c, x, y, lod, delta)
	}
}

// PostDeltaCalculation makes accumulated deltas grow monotonically towards coarser levels.
func (qt *QuadTree) PostDeltaCalculation(rect Rect) { qt.postDelta(0, rect) }

func (qt *QuadTree) postDelta(id NodeID, rect Rect) {
	n := &qt.nodes[id]
	if !n.rectIntersects(rect) {
		return
	}
	if n.IsLeaf() {
		for i := range len(n.lodLevels) - 1 {
			next := &n.lodLevels[i+1]
			next.CalcMaxHeightDelta = max(next.CalcMaxHeightDelta, n.lodLevels[i].CalcMaxHeightDelta*1.05)
		}
		return
	}

	maxChildDelta := float32(-1)
	n.calcChildWithMaxHeightDelta = NoNode
	for _, c := range n.children {
		qt.postDelta(c, rect)
		child := &qt.nodes[c]
		d := child.lodLevels[len(child.lodLevels)-1].CalcMaxHeightDelta
		if d > maxChildDelta {
			maxChildDelta = d
			n.calcChildWithMaxHeightDelta = c
		}
	}
	n.lodLevels[0].CalcMaxHeightDelta = max(n.lodLevels[0].CalcMaxHeightDelta, maxChildDelta*1.05)
}

// FinaliseDeltaValues publishes the accumulated deltas to the runtime values.
// It must run on the goroutine that selects LODs.
func (qt *QuadTree) FinaliseDeltaValues(rect Rect) { qt.finaliseDelta(0, rect) }

func (qt *QuadTree) finaliseDelta(id NodeID, rect Rect) {
	n := &qt.nodes[id]
	if !n.rectIntersects(rect) {
		return
	}
	if !n.IsLeaf() {
		for _, c := range n.children {
			qt.finaliseDelta(c, rect)
		}
		n.childWithMaxHeightDelta = n.calcChildWithMaxHeightDelta
	}
	for i := range n.lodLevels {
		ll := &n.lodLevels[i]
		ll.MaxHeightDelta = ll.CalcMaxHeightDelta
		ll.LastCFactor = 0
	}
}

// AssignVertexData gives the nodes at depthStart their own vertex data block,
// shared by descendants down to depthEnd (exclusive).
func (qt *QuadTree) AssignVertexData(depthStart, depthEnd, resolution, size int) {
	qt.assignVertexData(0, depthStart, depthEnd, resolution, size)
}

func (qt *QuadTree) assignVertexData(id NodeID, depthStart, depthEnd, resolution, size int) {
	n := &qt.nodes[id]
	if n.depth != depthStart {
		if n.IsLeaf() {
			return
		}
		for _, c := range n.children {
			qt.assignVertexData(c, depthStart, depthEnd, resolution, size)
		}
		return
	}

	n.nodeWithVertexData = id
	n.vertexData = newVertexDataRecord(resolution, size, depthEnd-depthStart)
	qt.createCPUVertexData(id)

	if !n.IsLeaf() && depthEnd > n.depth+1 {
		for _, c := range n.children {
			qt.useAncestorVertexData(c, id, depthEnd)
		}
	}
}

func (qt *QuadTree) useAncestorVertexData(id, owner NodeID, depthEnd int) {
	n := &qt.nodes[id]
	n.nodeWithVertexData = owner
	n.vertexData = nil
	if !n.IsLeaf() && depthEnd > n.depth+1 {
		for _, c := range n.children {
			qt.useAncestorVertexData(c, owner, depthEnd)
		}
	}
}

// vertexRecord returns the vertex data a node renders from, or nil.
func (qt *QuadTree) vertexRecord(id NodeID) *VertexDataRecord {
	owner := qt.nodes[id].nodeWithVertexData
	if owner == NoNode {
		return nil
	}
	return qt.nodes[owner].vertexData
}

func (qt *QuadTree) hasVertexData(id NodeID) bool {
	vdr := qt.vertexRecord(id)
	return vdr != nil && vdr.HasCPUData()
}

// UpdateVertexData rewrites the vertex buffers of data-owning nodes that overlap rect
// and refreshes the bounds of every node on the way.
func (qt *QuadTree) UpdateVertexData(positions, deltas bool, rect Rect, cpuData bool) {
	qt.updateVertexData(0, positions, deltas, rect, cpuData)
}

func (qt *QuadTree) updateVertexData(id NodeID, positions, deltas bool, rect Rect, cpuData bool) {
	n := &qt.nodes[id]
	if !n.rectIntersects(rect) {
		return
	}

	if n.vertexData != nil && n.vertexData.HasCPUData() {
		update := Rect{
			Left:   max(n.offsetX, rect.Left),
			Top:    max(n.offsetY, rect.Top),
			Right:  min(n.boundaryX, rect.Right),
			Bottom: min(n.boundaryY, rect.Bottom),
		}
		if !update.IsNull() {
			qt.updateVertexBuffer(id, positions, deltas, update)
			if !cpuData {
				n.vertexData.syncGPU()
			}
		}
	}

	if n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		qt.updateVertexData(c, positions, deltas, rect, cpuData)
		child := &qt.nodes[c]
		offset := child.localCentre.Sub(n.localCentre)
		n.aabb.MergeBox(child.aabb.Translate(offset))
	}
}

// MergeIntoBounds grows the bounds of every node containing point (x, y).
func (qt *QuadTree) MergeIntoBounds(x, y int, pos tmath.Vec3) { qt.mergeIntoBounds(0, x, y, pos) }

func (qt *QuadTree) mergeIntoBounds(id NodeID, x, y int, pos tmath.Vec3) {
	n := &qt.nodes[id]
	if !n.pointIntersects(x, y) {
		return
	}
	local := pos.Sub(n.localCentre)
	n.aabb.Merge(local)
	n.boundingRadius = max(n.boundingRadius, local.Length())
	if n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		qt.mergeIntoBounds(c, x, y, pos)
	}
}

// ResetBounds empties the bounds of nodes entirely covered by rect.
func (qt *QuadTree) ResetBounds(rect Rect) { qt.resetBounds(0, rect) }

// resetBounds stops at descendants holding their own vertex data, which
// refresh their bounds from their own, finer, block.
func (qt *QuadTree) resetBounds(id NodeID, rect Rect) {
	n := &qt.nodes[id]
	if !n.rectContains(rect) {
		return
	}
	n.aabb = picking.NullAABB()
	n.boundingRadius = 0
	if n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		if qt.nodes[c].vertexData == nil {
			qt.resetBounds(c, rect)
		}
	}
}

// mergeChildBounds grows every parent to enclose its children, bottom up.
func (qt *QuadTree) mergeChildBounds(id NodeID) {
	n := &qt.nodes[id]
	if n.IsLeaf() {
		return
	}
	for _, c := range n.children {
		qt.mergeChildBounds(c)
		child := &qt.nodes[c]
		offset := child.localCentre.Sub(n.localCentre)
		n.aabb.MergeBox(child.aabb.Translate(offset))
	}
}

// CalculateCurrentLod selects the rendered level of every node for a viewpoint.
// It reports whether the root or any descendant is rendered.
func (qt *QuadTree) CalculateCurrentLod(viewpoint tmath.Vec3, cFactor float32) bool {
	return qt.calculateCurrentLod(0, viewpoint, cFactor)
}

func (qt *QuadTree) calculateCurrentLod(id NodeID, viewpoint tmath.Vec3, cFactor float32) bool {
	t := qt.terrain
	n := &qt.nodes[id]
	n.selfOrChildRendered = false

	rendered := 0
	if !n.IsLeaf() {
		for _, c := range n.children {
			if qt.calculateCurrentLod(c, viewpoint, cFactor) {
				rendered++
			}
		}
	}

	if rendered > 0 {
		n.currentLod = -1
		n.selfOrChildRendered = true
		if rendered < 4 {
			for _, c := range n.children {
				child := &qt.nodes[c]
				if !child.selfOrChildRendered {
					child.currentLod = len(child.lodLevels) - 1
					child.lodTransition = 1
				}
			}
		}
		return true
	}

	n.currentLod = -1
	if !qt.hasVertexData(id) {
		return false
	}

	localPos := viewpoint.Sub(n.localCentre).Sub(t.pos)
	var dist float32
	if t.opts.UseRayBoxDistance {
		ray := picking.NewRay(localPos, n.aabb.Center().Sub(localPos))
		dist, _ = ray.IntersectAABB(n.aabb)
	} else {
		dist = localPos.Length() - n.boundingRadius*0.5
	}

	last := len(n.lodLevels) - 1
	for lvl := range n.lodLevels {
		if lvl == last && n.parent == NoNode {
			n.currentLod = lvl
			n.selfOrChildRendered = true
			n.lodTransition = 0
			break
		}

		ll := &n.lodLevels[lvl]
		var distTransition float32
		if tmath.RealEqual(cFactor, ll.LastCFactor, 1e-6) {
			distTransition = ll.LastTransitionDist
		} else {
			distTransition = ll.MaxHeightDelta * cFactor
			ll.LastCFactor = cFactor
			ll.LastTransitionDist = distTransition
		}

		if dist >= distTransition {
			continue
		}

		n.currentLod = lvl
		n.selfOrChildRendered = true
		n.lodTransition = 0
		if t.opts.MorphRequired {
			distTotal := distTransition
			if n.IsLeaf() {
				if lvl > 0 {
					distTotal -= n.lodLevels[lvl-1].LastTransitionDist
				}
			} else if n.childWithMaxHeightDelta != NoNode {
				child := &qt.nodes[n.childWithMaxHeightDelta]
				distTotal -= child.lodLevels[len(child.lodLevels)-1].LastTransitionDist
			}
			// fade over the last quarter of the band
			region := distTotal * 0.25
			if region > 0 {
				n.lodTransition = tmath.Clamp(1-(distTransition-dist)/region, 0, 1)
			}
		}
		break
	}
	return n.selfOrChildRendered
}

// Load creates the allocator-backed buffers for every node.
func (qt *QuadTree) Load() {
	for i := range qt.nodes {
		qt.createGPUVertexData(NodeID(i))
		qt.createGPUIndexData(NodeID(i))
	}
}

// Unload releases the allocator-backed buffers.
func (qt *QuadTree) Unload() {
	alloc := qt.terrain.opts.Allocator
	for i := range qt.nodes {
		n := &qt.nodes[i]
		for l := range n.lodLevels {
			n.lodLevels[l].indexBuffer = nil
		}
		if n.vertexData != nil {
			n.vertexData.destroyGPU(alloc)
		}
	}
}

// Unprepare drops the CPU vertex data.
func (qt *QuadTree) Unprepare() {
	for i := range qt.nodes {
		if vdr := qt.nodes[i].vertexData; vdr != nil {
			vdr.destroyCPU()
		}
	}
}

func (qt *QuadTree) createGPUVertexData(id NodeID) {
	n := &qt.nodes[id]
	if n.vertexData == nil || !n.vertexData.HasCPUData() {
		return
	}
	n.vertexData.createGPU(qt.terrain.opts.Allocator)
}

func (qt *QuadTree) createGPUIndexData(id NodeID) {
	n := &qt.nodes[id]
	if n.nodeWithVertexData == NoNode {
		return
	}
	for l := range n.lodLevels {
		ll := &n.lodLevels[l]
		if ll.indexBuffer == nil {
			ll.indexBuffer = qt.terrain.opts.Allocator.SharedIndexBuffer(qt.indexParams(id, ll.BatchSize))
		}
	}
}

// IndexBuffer returns the shared index buffer of level lod of a node, once loaded.
func (qt *QuadTree) IndexBuffer(id NodeID, lod int) *IndexBuffer {
	return qt.nodes[id].lodLevels[lod].indexBuffer
}

func (qt *QuadTree) indexParams(id NodeID, batchSize int) IndexParams {
	n := &qt.nodes[id]
	owner := &qt.nodes[n.nodeWithVertexData]
	vdr := owner.vertexData
	ratio := (qt.terrain.size - 1) / (vdr.Resolution - 1)
	return IndexParams{
		BatchSize:        batchSize,
		VertexDataSize:   vdr.Size,
		VertexIncrement:  ((n.size - 1) / (batchSize - 1)) / ratio,
		XOffset:          (n.offsetX - owner.offsetX) / ratio,
		YOffset:          (n.offsetY - owner.offsetY) / ratio,
		NumSkirtRowsCols: vdr.NumSkirtRowsCols,
		SkirtRowColSkip:  vdr.SkirtRowColSkip,
	}
}
