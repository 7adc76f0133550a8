package tasks

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type owner struct{ name string }

// echoHandler only accepts requests whose Data is its own owner.
type echoHandler struct {
	self    *owner
	handled atomic.Int32
	results []*Response
}

func (h *echoHandler) CanHandleRequest(req *Request) bool {
	return !req.Aborted() && req.Data == h.self
}

func (h *echoHandler) HandleRequest(req *Request) *Response {
	h.handled.Add(1)
	return NewResponse(req, h.self.name)
}

func (h *echoHandler) CanHandleResponse(res *Response) bool {
	return res.Request.Data == h.self
}

func (h *echoHandler) HandleResponse(res *Response) {
	h.results = append(h.results, res)
}

func waitForResponses(t *testing.T, q *WorkQueue, want int) {
	t.Helper()
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < want && time.Now().Before(deadline) {
		got += q.ProcessResponses()
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, want, got, "responses processed")
}

func TestGetChannelIsStable(t *testing.T) {
	q := NewWorkQueue(Options{})
	a := q.GetChannel("terrain")
	b := q.GetChannel("terrain_group")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, q.GetChannel("terrain"))
}

func TestSynchronousRequest(t *testing.T) {
	q := NewWorkQueue(Options{Workers: 2})
	ch := q.GetChannel("terrain")
	h := &echoHandler{self: &owner{name: "a"}}
	q.AddRequestHandler(ch, h)
	q.AddResponseHandler(ch, h)

	_, err := q.AddRequest(ch, 0, h.self, true)
	require.NoError(t, err)
	require.Len(t, h.results, 1)
	assert.True(t, h.results[0].Succeeded)
	assert.Equal(t, "a", h.results[0].Data)
	assert.Zero(t, q.Pending(ch))
}

func TestAsyncRequestsWithWorkers(t *testing.T) {
	q := NewWorkQueue(Options{Workers: 3, QueueSize: 4})
	q.Start()
	defer q.Shutdown()

	ch := q.GetChannel("terrain")
	h := &echoHandler{self: &owner{name: "a"}}
	q.AddRequestHandler(ch, h)
	q.AddResponseHandler(ch, h)

	for range 10 {
		_, err := q.AddRequest(ch, 0, h.self, false)
		require.NoError(t, err)
	}
	waitForResponses(t, q, 10)
	assert.Len(t, h.results, 10)
	assert.EqualValues(t, 10, h.handled.Load())
	assert.Zero(t, q.Pending(ch))
}

func TestInlineRequestsWithoutWorkers(t *testing.T) {
	q := NewWorkQueue(Options{})
	ch := q.GetChannel("terrain")
	h := &echoHandler{self: &owner{name: "a"}}
	q.AddRequestHandler(ch, h)
	q.AddResponseHandler(ch, h)

	_, err := q.AddRequest(ch, 0, h.self, false)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Pending(ch))
	assert.Empty(t, h.results)

	assert.Equal(t, 1, q.ProcessResponses())
	assert.Len(t, h.results, 1)
}

func TestIdentityFilter(t *testing.T) {
	q := NewWorkQueue(Options{})
	ch := q.GetChannel("terrain")
	mine := &echoHandler{self: &owner{name: "mine"}}
	q.AddRequestHandler(ch, mine)

	foreign := &echoHandler{self: &owner{name: "foreign"}}
	q.AddResponseHandler(ch, foreign)

	// a request for an owner with no request handler fails
	_, err := q.AddRequest(ch, 0, foreign.self, true)
	require.NoError(t, err)
	require.Len(t, foreign.results, 1)
	assert.False(t, foreign.results[0].Succeeded)
	assert.True(t, errors.Is(foreign.results[0].Err, ErrNoHandler))
	assert.Zero(t, mine.handled.Load())
}

func TestAbortedRequestIsRejected(t *testing.T) {
	q := NewWorkQueue(Options{})
	ch := q.GetChannel("terrain")
	h := &echoHandler{self: &owner{name: "a"}}
	q.AddRequestHandler(ch, h)
	q.AddResponseHandler(ch, h)

	id, err := q.AddRequest(ch, 0, h.self, false)
	require.NoError(t, err)
	q.AbortRequest(id)

	q.ProcessResponses()
	require.Len(t, h.results, 1)
	assert.False(t, h.results[0].Succeeded)
	assert.ErrorIs(t, h.results[0].Err, ErrNoHandler)
	assert.Zero(t, h.handled.Load())
}

func TestAbortByChannel(t *testing.T) {
	q := NewWorkQueue(Options{})
	a := q.GetChannel("a")
	b := q.GetChannel("b")
	ha := &echoHandler{self: &owner{name: "a"}}
	hb := &echoHandler{self: &owner{name: "b"}}
	q.AddRequestHandler(a, ha)
	q.AddResponseHandler(a, ha)
	q.AddRequestHandler(b, hb)
	q.AddResponseHandler(b, hb)

	_, _ = q.AddRequest(a, 0, ha.self, false)
	_, _ = q.AddRequest(b, 0, hb.self, false)
	q.AbortRequestsByChannel(a)
	q.ProcessResponses()

	assert.Zero(t, ha.handled.Load())
	assert.EqualValues(t, 1, hb.handled.Load())
}

func TestRemovedHandlerRejectsRequests(t *testing.T) {
	q := NewWorkQueue(Options{})
	ch := q.GetChannel("terrain")
	h := &echoHandler{self: &owner{name: "a"}}
	q.AddRequestHandler(ch, h)
	q.AddResponseHandler(ch, h)
	q.RemoveRequestHandler(ch, h)

	_, err := q.AddRequest(ch, 0, h.self, true)
	require.NoError(t, err)
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].Err, ErrNoHandler)
}

type panicHandler struct{ echoHandler }

func (h *panicHandler) HandleRequest(*Request) *Response { panic("boom") }

func TestPanicBecomesFailedResponse(t *testing.T) {
	q := NewWorkQueue(Options{})
	ch := q.GetChannel("terrain")
	h := &panicHandler{echoHandler{self: &owner{name: "a"}}}
	q.AddRequestHandler(ch, h)
	q.AddResponseHandler(ch, h)

	_, err := q.AddRequest(ch, 0, h.self, true)
	require.NoError(t, err)
	require.Len(t, h.results, 1)
	assert.False(t, h.results[0].Succeeded)
	assert.Contains(t, h.results[0].Err.Error(), "boom")
}

func TestShutdownRejectsRequests(t *testing.T) {
	q := NewWorkQueue(Options{Workers: 1})
	q.Start()
	q.Shutdown()
	q.Shutdown()

	_, err := q.AddRequest(q.GetChannel("terrain"), 0, nil, false)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
