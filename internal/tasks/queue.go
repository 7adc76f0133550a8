// Package tasks provides the background work queue used for derived terrain data and tile loading.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/metrics"
)

// Work queue errors.
var (
	ErrQueueClosed = errors.New("work queue is shut down")
	ErrNoHandler   = errors.New("no handler accepted the request")
)

// Options configures a WorkQueue.
type Options struct {
	// Workers is the number of worker goroutines. With zero workers,
	// asynchronous requests run inside ProcessResponses on the caller's goroutine.
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// WorkQueue dispatches requests to handlers on worker goroutines and
// hands responses back to the owning goroutine via ProcessResponses.
type WorkQueue struct {
	opts Options
	log  *zap.Logger

	mu           sync.RWMutex
	channels     map[string]uint16
	channelNames map[uint16]string
	reqHandlers  map[uint16][]RequestHandler
	resHandlers  map[uint16][]ResponseHandler
	pending      map[uuid.UUID]*Request
	inline       []*Request
	closed       bool

	requests chan *Request

	resMu     sync.Mutex
	responses []*Response

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewWorkQueue creates a queue. Call Start to launch the workers.
func NewWorkQueue(opts Options) *WorkQueue {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkQueue{
		opts:         opts,
		log:          opts.Logger,
		channels:     make(map[string]uint16),
		channelNames: make(map[uint16]string),
		reqHandlers:  make(map[uint16][]RequestHandler),
		resHandlers:  make(map[uint16][]ResponseHandler),
		pending:      make(map[uuid.UUID]*Request),
		requests:     make(chan *Request, opts.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutines. It is a no-op when already started.
func (q *WorkQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := range q.opts.Workers {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Debug("work queue started", zap.Int("workers", q.opts.Workers))
}

// Shutdown stops the workers and waits for them to exit.
// Requests still queued are dropped; later AddRequest calls fail with ErrQueueClosed.
func (q *WorkQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.log.Debug("work queue stopped")
}

// Closed reports whether Shutdown has been called.
func (q *WorkQueue) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// GetChannel returns the stable id for a named channel, allocating one on first use.
func (q *WorkQueue) GetChannel(name string) uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.channels[name]; ok {
		return id
	}
	id := uint16(len(q.channels) + 1)
	q.channels[name] = id
	q.channelNames[id] = name
	return id
}

func (q *WorkQueue) channelName(id uint16) string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if name, ok := q.channelNames[id]; ok {
		return name
	}
	return fmt.Sprintf("channel_%d", id)
}

// AddRequestHandler registers h for requests on channel.
func (q *WorkQueue) AddRequestHandler(channel uint16, h RequestHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqHandlers[channel] = append(q.reqHandlers[channel], h)
}

// RemoveRequestHandler deregisters h. Requests it would have handled are then rejected.
func (q *WorkQueue) RemoveRequestHandler(channel uint16, h RequestHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.reqHandlers[channel]
	for i, existing := range list {
		if existing == h {
			q.reqHandlers[channel] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// AddResponseHandler registers h for responses on channel.
func (q *WorkQueue) AddResponseHandler(channel uint16, h ResponseHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resHandlers[channel] = append(q.resHandlers[channel], h)
}

// RemoveResponseHandler deregisters h.
func (q *WorkQueue) RemoveResponseHandler(channel uint16, h ResponseHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.resHandlers[channel]
	for i, existing := range list {
		if existing == h {
			q.resHandlers[channel] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// AddRequest submits work. Synchronous requests run the request handler and
// then the response handler before returning. Asynchronous requests block
// while the queue is full.
func (q *WorkQueue) AddRequest(channel, reqType uint16, data any, synchronous bool) (uuid.UUID, error) {
	req := &Request{ID: uuid.New(), Channel: channel, Type: reqType, Data: data}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, ErrQueueClosed
	}
	q.pending[req.ID] = req
	runInline := !synchronous && (!q.started || q.opts.Workers == 0)
	if runInline {
		q.inline = append(q.inline, req)
	}
	q.mu.Unlock()

	metrics.TaskQueued(q.channelName(channel))

	if synchronous {
		q.dispatchResponse(q.processRequest(req))
		return req.ID, nil
	}
	if runInline {
		return req.ID, nil
	}

	select {
	case q.requests <- req:
		return req.ID, nil
	case <-q.ctx.Done():
		q.forget(req.ID)
		return uuid.Nil, ErrQueueClosed
	}
}

// AbortRequest marks a pending request as aborted.
func (q *WorkQueue) AbortRequest(id uuid.UUID) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if req, ok := q.pending[id]; ok {
		req.abort()
	}
}

// AbortRequestsByChannel aborts every pending request on channel.
func (q *WorkQueue) AbortRequestsByChannel(channel uint16) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, req := range q.pending {
		if req.Channel == channel {
			req.abort()
		}
	}
}

// AbortAllRequests aborts every pending request.
func (q *WorkQueue) AbortAllRequests() {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, req := range q.pending {
		req.abort()
	}
}

// Pending returns the number of requests on channel that have not had their response processed.
func (q *WorkQueue) Pending(channel uint16) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, req := range q.pending {
		if req.Channel == channel {
			n++
		}
	}
	return n
}

// ProcessResponses runs any inline requests and dispatches completed responses.
// It must be called from the goroutine that owns the response handlers.
// Returns the number of responses dispatched.
func (q *WorkQueue) ProcessResponses() int {
	q.mu.Lock()
	inline := q.inline
	q.inline = nil
	q.mu.Unlock()
	for _, req := range inline {
		q.pushResponse(q.processRequest(req))
	}

	q.resMu.Lock()
	batch := q.responses
	q.responses = nil
	q.resMu.Unlock()

	for _, res := range batch {
		q.dispatchResponse(res)
	}
	return len(batch)
}

func (q *WorkQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case req := <-q.requests:
			q.pushResponse(q.processRequest(req))
		case <-q.ctx.Done():
			q.log.Debug("worker exiting", zap.Int("worker", id))
			return
		}
	}
}

func (q *WorkQueue) findRequestHandler(req *Request) RequestHandler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, h := range q.reqHandlers[req.Channel] {
		if h.CanHandleRequest(req) {
			return h
		}
	}
	return nil
}

func (q *WorkQueue) processRequest(req *Request) (res *Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("request handler panicked",
				zap.String("channel", q.channelName(req.Channel)),
				zap.Any("panic", r))
			res = FailedResponse(req, fmt.Errorf("handler panic: %v", r))
		}
		metrics.TaskCompleted(q.channelName(req.Channel), res.Succeeded, time.Since(start))
	}()

	h := q.findRequestHandler(req)
	if h == nil {
		return FailedResponse(req, ErrNoHandler)
	}
	res = h.HandleRequest(req)
	if res == nil {
		res = FailedResponse(req, fmt.Errorf("%w: handler returned no response", ErrNoHandler))
	}
	res.Request = req
	return res
}

func (q *WorkQueue) pushResponse(res *Response) {
	q.resMu.Lock()
	q.responses = append(q.responses, res)
	q.resMu.Unlock()
}

func (q *WorkQueue) dispatchResponse(res *Response) {
	q.forget(res.Request.ID)

	q.mu.RLock()
	handlers := append([]ResponseHandler(nil), q.resHandlers[res.Request.Channel]...)
	q.mu.RUnlock()

	for _, h := range handlers {
		if h.CanHandleResponse(res) {
			h.HandleResponse(res)
			return
		}
	}
	if !res.Succeeded {
		q.log.Debug("unhandled failed response",
			zap.String("channel", q.channelName(res.Request.Channel)),
			zap.Error(res.Err))
	}
}

func (q *WorkQueue) forget(id uuid.UUID) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
