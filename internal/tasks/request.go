package tasks

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Request is a unit of background work addressed to a channel.
type Request struct {
	ID      uuid.UUID
	Channel uint16
	Type    uint16
	Data    any

	aborted atomic.Bool
}

// Aborted reports whether the request was cancelled after it was queued.
// Handlers are expected to reject aborted requests.
func (r *Request) Aborted() bool {
	return r.aborted.Load()
}

func (r *Request) abort() {
	r.aborted.Store(true)
}

// Response carries the result of a request back to the main goroutine.
type Response struct {
	Request   *Request
	Succeeded bool
	Err       error
	Data      any
}

// NewResponse returns a successful response for req.
func NewResponse(req *Request, data any) *Response {
	return &Response{Request: req, Succeeded: true, Data: data}
}

// FailedResponse returns a response reporting err for req.
func FailedResponse(req *Request, err error) *Response {
	return &Response{Request: req, Err: err}
}

// RequestHandler runs requests on worker goroutines.
type RequestHandler interface {
	CanHandleRequest(req *Request) bool
	HandleRequest(req *Request) *Response
}

// ResponseHandler consumes responses on the goroutine calling ProcessResponses.
type ResponseHandler interface {
	CanHandleResponse(res *Response) bool
	HandleResponse(res *Response)
}
