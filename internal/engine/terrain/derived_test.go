package terrain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/midgard-terrain/internal/tasks"
	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

func newQueued(t *testing.T, q *tasks.WorkQueue, d *ImportData) *Terrain {
	t.Helper()
	opts := testOptions()
	opts.Queue = q
	tr := New(opts)
	require.NoError(t, tr.Prepare(d))
	return tr
}

func TestDerivedDataInlineWithoutQueue(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	assert.Nil(t, tr.NormalMap())

	tr.Update(false)

	assert.False(t, tr.IsDerivedDataUpdateInProgress())
	require.Len(t, tr.NormalMap(), 17*17*3)
	require.Len(t, tr.LightMap(), 32*32)
	require.Len(t, tr.CompositeMap(), 32*32*4)

	n := tr.NormalMap()
	for i := 0; i < len(n); i += 3 {
		assert.InDelta(t, 127, int(n[i]), 1)
		assert.Equal(t, byte(255), n[i+1])
		assert.InDelta(t, 127, int(n[i+2]), 1)
	}
	for _, v := range tr.LightMap() {
		require.Equal(t, byte(255), v, "flat terrain casts no shadow")
	}
}

func TestDerivedDataCoalescing(t *testing.T) {
	q := tasks.NewWorkQueue(tasks.Options{})
	ch := q.GetChannel(DerivedChannel)
	tr := newQueued(t, q, flatImport(17, 17, 17))

	tr.UpdateDerivedData(false, DerivedDelta)
	require.True(t, tr.IsDerivedDataUpdateInProgress())
	require.Equal(t, 1, q.Pending(ch))

	// arrives while the delta task is in flight
	tr.SetHeightAtPoint(3, 3, 5)
	tr.UpdateDerivedData(false, DerivedNormals)
	tr.UpdateDerivedData(false, DerivedNormals)
	assert.Equal(t, 1, q.Pending(ch), "no second task while one is in flight")

	assert.Equal(t, 1, q.ProcessResponses())
	assert.True(t, tr.IsDerivedDataUpdateInProgress())
	assert.Equal(t, 1, q.Pending(ch), "exactly one follow-up")

	assert.Equal(t, 1, q.ProcessResponses())
	assert.False(t, tr.IsDerivedDataUpdateInProgress())
	assert.Equal(t, 0, q.Pending(ch))
	assert.Len(t, tr.NormalMap(), 17*17*3)
	assert.Nil(t, tr.LightMap(), "lightmap was never requested")
}

func TestDerivedDataWithWorkers(t *testing.T) {
	q := tasks.NewWorkQueue(tasks.Options{Workers: 2})
	q.Start()
	t.Cleanup(q.Shutdown)

	d := flatImport(33, 17, 33)
	d.Noise = &NoiseParams{Seed: 7, Amplitude: 20, Octaves: 3}
	tr := newQueued(t, q, d)

	tr.Update(false)
	tr.WaitForDerivedProcesses()

	assert.False(t, tr.IsDerivedDataUpdateInProgress())
	assert.Len(t, tr.NormalMap(), 33*33*3)
	assert.Len(t, tr.LightMap(), 32*32)
	assert.Equal(t, 0, q.Pending(q.GetChannel(DerivedChannel)))

	tr.Destroy()
	assert.False(t, tr.IsPrepared())
}

func TestSynchronousUpdateFinishesEveryKind(t *testing.T) {
	q := tasks.NewWorkQueue(tasks.Options{Workers: 1})
	q.Start()
	t.Cleanup(q.Shutdown)
	tr := newQueued(t, q, flatImport(17, 17, 17))

	tr.Update(true)

	assert.False(t, tr.IsDerivedDataUpdateInProgress())
	assert.NotNil(t, tr.NormalMap())
	assert.NotNil(t, tr.LightMap())
	assert.NotNil(t, tr.CompositeMap())
}

func TestAbortedRequestClearsProgress(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	q := tasks.NewWorkQueue(tasks.Options{})
	opts := testOptions()
	opts.Queue = q
	opts.Logger = zap.New(core)
	tr := New(opts)
	require.NoError(t, tr.Prepare(flatImport(17, 17, 17)))

	tr.Update(false)
	require.True(t, tr.IsDerivedDataUpdateInProgress())
	q.AbortRequestsByChannel(q.GetChannel(DerivedChannel))
	q.ProcessResponses()

	assert.False(t, tr.IsDerivedDataUpdateInProgress())
	assert.Equal(t, 1, logs.FilterMessage("derived data update failed").Len())
	assert.Nil(t, tr.NormalMap())
}

func TestHandlersFilterByTerrain(t *testing.T) {
	a := newPrepared(t, flatImport(17, 17, 17))
	b := newPrepared(t, flatImport(17, 17, 17))

	req := &tasks.Request{Data: &DerivedDataRequest{Terrain: a, TypeMask: DerivedNormals}}
	assert.True(t, a.CanHandleRequest(req))
	assert.False(t, b.CanHandleRequest(req))
	assert.False(t, a.CanHandleRequest(&tasks.Request{Data: "other"}))

	res := a.HandleRequest(req)
	res.Request = req
	assert.True(t, a.CanHandleResponse(res))
	assert.False(t, b.CanHandleResponse(res))
	data := res.Data.(*DerivedDataResponse)
	assert.Equal(t, DerivedDataType(0), data.RemainingTypeMask)
	assert.NotNil(t, data.NormalMapBox)
}

func TestDisablingMapsDropsThem(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	tr.Update(true)
	require.NotNil(t, tr.LightMap())

	tr.SetLightMapRequired(false)
	tr.SetNormalMapRequired(false)
	assert.Nil(t, tr.LightMap())
	assert.Nil(t, tr.NormalMap())

	tr.SetHeightAtPoint(4, 4, 3)
	tr.Update(true)
	assert.Nil(t, tr.LightMap())
	assert.Nil(t, tr.NormalMap())

	tr.SetNormalMapRequired(true)
	tr.Update(true)
	assert.NotNil(t, tr.NormalMap())
}

func TestLightMapShadowsBehindWall(t *testing.T) {
	d := flatImport(17, 17, 17)
	d.InputFloat = make([]float32, 17*17)
	for y := range 17 {
		d.InputFloat[y*17+8] = 50
	}
	tr := newPrepared(t, d)
	tr.Update(true)

	lm := tr.LightMap()
	require.Len(t, lm, 32*32)
	at := func(x, y int) byte { return lm[(31-y)*32+x] }
	// light travels towards +x, so the far side of the wall is dark
	assert.Equal(t, byte(0), at(25, 10))
	assert.Equal(t, byte(255), at(5, 10))
}

func TestWidenRectByVector(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	rect := NewRect(8, 8, 9, 9)

	right := tr.WidenRectByVector(tmath.Vec3{X: 1, Y: -1}, rect, 0, 10)
	assert.Equal(t, NewRect(8, 8, 19, 9), right)

	left := tr.WidenRectByVector(tmath.Vec3{X: -1, Y: -1}, rect, 0, 10)
	assert.Equal(t, NewRect(-2, 8, 9, 9), left)

	// straight down casts no sideways shadow
	down := tr.WidenRectByVector(tmath.Vec3{Y: -1}, rect, 0, 10)
	assert.Equal(t, rect, down)

	// horizontal light never reaches the ground
	flat := tr.WidenRectByVector(tmath.Vec3{X: 1}, rect, 0, 10)
	assert.Equal(t, rect, flat)
}

func TestCompositeMapDelay(t *testing.T) {
	tr := newPrepared(t, flatImport(17, 17, 17))
	tr.Update(true)
	first := tr.CompositeMap()
	require.NotNil(t, first)

	tr.DirtyCompositeMapRect(NewRect(0, 0, 4, 4))
	tr.UpdateCompositeMapWithDelay(100 * time.Millisecond)
	tr.FrameUpdate(50 * time.Millisecond)
	assert.Equal(t, Rect{0, 0, 32, 32}, tr.CompositeMapUpdatedRect(), "not yet")
	tr.FrameUpdate(60 * time.Millisecond)
	assert.Equal(t, NewRect(0, 0, 8, 8), tr.CompositeMapUpdatedRect())
}

func TestMorphReferencePublishedOnFinalise(t *testing.T) {
	tr := newPrepared(t, flatImport(65, 17, 17))
	root := tr.QuadTree().Root()
	require.Equal(t, root.Child(0), root.childWithMaxHeightDelta)

	// the bump sits in the +x +y quadrant
	tr.SetHeightAtPoint(50, 50, 40)
	final := tr.CalculateHeightDeltas(NewRect(50, 50, 51, 51))
	assert.Equal(t, root.Child(0), root.childWithMaxHeightDelta, "calculated but not finalised")
	assert.Equal(t, root.Child(3), root.calcChildWithMaxHeightDelta)

	tr.FinalizeHeightDeltas(final, true)
	assert.Equal(t, root.Child(3), root.childWithMaxHeightDelta)
}

func TestDeltaTaskAlongsideLodSelection(t *testing.T) {
	q := tasks.NewWorkQueue(tasks.Options{Workers: 2})
	q.Start()
	t.Cleanup(q.Shutdown)

	d := flatImport(65, 17, 17)
	d.Noise = &NoiseParams{Seed: 11, Amplitude: 30, Octaves: 3}
	tr := newQueued(t, q, d)
	cam := Camera{FovY: 1, ViewportHeight: 768, Position: tr.GetPosition(0.2, 0.2, 50)}

	for i := range 20 {
		tr.SetHeightAtPoint(10+2*i, 20+i, float32(5*i))
		tr.UpdateDerivedData(false, DerivedDelta)
		for range 10 {
			tr.CalculateCurrentLod(cam)
		}
		q.ProcessResponses()
	}
	tr.WaitForDerivedProcesses()
	tr.CalculateCurrentLod(cam)

	assert.False(t, tr.IsDerivedDataUpdateInProgress())
	assert.True(t, tr.QuadTree().Root().IsSelfOrChildRendered())
	root := tr.QuadTree().Root()
	assert.Equal(t, root.calcChildWithMaxHeightDelta, root.childWithMaxHeightDelta)
}
