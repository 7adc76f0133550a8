package terrain

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// VertexBuffer is an allocator-owned float buffer standing in for a GPU vertex buffer.
type VertexBuffer struct {
	Stride int
	Data   []float32
}

// NumVertices returns the vertex capacity.
func (b *VertexBuffer) NumVertices() int {
	return len(b.Data) / b.Stride
}

// IndexBuffer is a shared triangle strip.
type IndexBuffer struct {
	Params  IndexParams
	Indices []uint16
}

// BufferAllocator pools the render buffers of terrain patches.
type BufferAllocator interface {
	// AllocateVertexBuffers returns position and delta buffers for numVertices vertices.
	AllocateVertexBuffers(numVertices int) (positions, deltas *VertexBuffer)
	// FreeVertexBuffers returns buffers for reuse.
	FreeVertexBuffers(positions, deltas *VertexBuffer)
	// SharedIndexBuffer returns the strip for p, building it on first use.
	SharedIndexBuffer(p IndexParams) *IndexBuffer
	// FreeAllBuffers drops every pooled and shared buffer.
	FreeAllBuffers()
}

// DefaultBufferAllocator keeps free lists per vertex count and one index buffer per layout.
// It is safe for use by several terrains.
type DefaultBufferAllocator struct {
	mu        sync.Mutex
	freePos   map[int][]*VertexBuffer
	freeDelta map[int][]*VertexBuffer
	indexes   map[uint64]*IndexBuffer
}

// NewDefaultBufferAllocator returns an empty allocator.
func NewDefaultBufferAllocator() *DefaultBufferAllocator {
	return &DefaultBufferAllocator{
		freePos:   make(map[int][]*VertexBuffer),
		freeDelta: make(map[int][]*VertexBuffer),
		indexes:   make(map[uint64]*IndexBuffer),
	}
}

func (a *DefaultBufferAllocator) AllocateVertexBuffers(numVertices int) (*VertexBuffer, *VertexBuffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.take(a.freePos, numVertices)
	if pos == nil {
		pos = &VertexBuffer{Stride: PositionStride, Data: make([]float32, numVertices*PositionStride)}
	}
	delta := a.take(a.freeDelta, numVertices)
	if delta == nil {
		delta = &VertexBuffer{Stride: DeltaStride, Data: make([]float32, numVertices*DeltaStride)}
	}
	return pos, delta
}

func (a *DefaultBufferAllocator) take(pool map[int][]*VertexBuffer, n int) *VertexBuffer {
	list := pool[n]
	if len(list) == 0 {
		return nil
	}
	b := list[len(list)-1]
	pool[n] = list[:len(list)-1]
	return b
}

func (a *DefaultBufferAllocator) FreeVertexBuffers(positions, deltas *VertexBuffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if positions != nil {
		n := positions.NumVertices()
		a.freePos[n] = append(a.freePos[n], positions)
	}
	if deltas != nil {
		n := deltas.NumVertices()
		a.freeDelta[n] = append(a.freeDelta[n], deltas)
	}
}

func (a *DefaultBufferAllocator) SharedIndexBuffer(p IndexParams) *IndexBuffer {
	key := indexKey(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.indexes[key]; ok && b.Params == p {
		return b
	}
	b := &IndexBuffer{Params: p, Indices: PopulateIndexBuffer(p)}
	a.indexes[key] = b
	return b
}

func (a *DefaultBufferAllocator) FreeAllBuffers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.freePos)
	clear(a.freeDelta)
	clear(a.indexes)
}

// PooledVertexBuffers returns the number of free position buffers, for tests and stats.
func (a *DefaultBufferAllocator) PooledVertexBuffers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, l := range a.freePos {
		n += len(l)
	}
	return n
}

// SharedIndexBuffers returns the number of distinct cached strips.
func (a *DefaultBufferAllocator) SharedIndexBuffers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.indexes)
}

func indexKey(p IndexParams) uint64 {
	var buf [7 * 4]byte
	for i, v := range [7]int{p.BatchSize, p.VertexDataSize, p.VertexIncrement, p.XOffset, p.YOffset, p.NumSkirtRowsCols, p.SkirtRowColSkip} {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return xxhash.Sum64(buf[:])
}
