// Package simple supplements the distilled spec's one-paragraph mention of
// "lifting adapters" with full client and server implementations of
// stream.Dispatch for protocols whose messages carry no body -- the common
// case the original Rust source calls "simple" protocols
// (simple/pipeline/server.rs), generalized here to also cover the client
// direction, which the source only sketches for the server.
//
// Both adapters reject (panic) any inbound Message{HasBody: true}, matching
// the source's own unreachable!() style: receiving a body on a simple
// protocol is a caller programming error, not a recoverable condition.
package simple

import (
	"sync"

	"github.com/pkg/errors"

	"go.pipeline.dev/core/stream"
)

// noBody is the body payload type for protocols with no streaming body.
type noBody = struct{}

// Handler processes one request synchronously and returns its response.
type Handler[Req, Resp any] func(Req) (Resp, error)

type serverResult[Resp any] struct {
	resp Resp
	err  error
}

// Server lifts a synchronous Handler into a stream.Dispatch, running
// handlers one at a time on a dedicated goroutine so that responses are
// produced in the same order requests were dispatched, preserving strict
// pipelining without requiring the handler itself to reason about ordering.
type Server[Req, Resp any, E error] struct {
	transport stream.Transport[Req, noBody, Resp, noBody, E]
	newErr    func(error) E

	reqCh  chan Req
	respCh chan serverResult[Resp]
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight int
}

// NewServer constructs a Server dispatching inbound requests to handler and
// driving transport. newErr adapts a Handler's plain error into the
// engine's generic error type E.
func NewServer[Req, Resp any, E error](transport stream.Transport[Req, noBody, Resp, noBody, E], handler Handler[Req, Resp], newErr func(error) E) *Server[Req, Resp, E] {
	var s = &Server[Req, Resp, E]{
		transport: transport,
		newErr:    newErr,
		reqCh:     make(chan Req, 64),
		respCh:    make(chan serverResult[Resp], 64),
	}
	s.wg.Add(1)
	go s.run(handler)
	return s
}

func (s *Server[Req, Resp, E]) run(handler Handler[Req, Resp]) {
	defer s.wg.Done()
	for req := range s.reqCh {
		var resp, err = handler(req)
		s.respCh <- serverResult[Resp]{resp: resp, err: err}
	}
}

// Transport implements stream.Dispatch.
func (s *Server[Req, Resp, E]) Transport() stream.Transport[Req, noBody, Resp, noBody, E] {
	return s.transport
}

// Dispatch implements stream.Dispatch.
func (s *Server[Req, Resp, E]) Dispatch(in stream.Inbound[Req, noBody, E]) error {
	if in.IsErr {
		return errors.Errorf("simple: unexpected inbound protocol error: %v", in.Err)
	}
	if in.Message.Kind == stream.MessageWithBody {
		panic("simple: bodies not supported by a simple.Server")
	}

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	s.reqCh <- in.Message.Head
	return nil
}

// Poll implements stream.Dispatch: it surfaces the handler's next completed
// response, if any, without blocking.
func (s *Server[Req, Resp, E]) Poll() (stream.Outbound[Resp, noBody, E], stream.PollState, error) {
	select {
	case r := <-s.respCh:
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()

		if r.err != nil {
			return stream.Outbound[Resp, noBody, E]{Err: s.newErr(r.err), IsErr: true}, stream.Ready, nil
		}
		var msg = stream.WithoutBody[Resp, stream.ChunkStream[noBody, E]](r.resp)
		return stream.Outbound[Resp, noBody, E]{Message: msg}, stream.Ready, nil
	default:
		return stream.Outbound[Resp, noBody, E]{}, stream.NotReady, nil
	}
}

// HasInFlight implements stream.Dispatch.
func (s *Server[Req, Resp, E]) HasInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != 0
}

// Close stops accepting new requests and waits for the handler goroutine to
// drain any requests already queued.
func (s *Server[Req, Resp, E]) Close() {
	close(s.reqCh)
	s.wg.Wait()
}

// Result is the outcome of one Client.Call: either a Resp or a protocol
// error E.
type Result[Resp any, E error] struct {
	Resp  Resp
	Err   E
	IsErr bool
}

// Client is the client-side mirror of Server: it queues outbound requests
// from Call, and matches each inbound response back to its caller in
// strict FIFO order via a slice-backed queue -- the order pipelining
// guarantees responses will actually arrive in.
type Client[Req, Resp any, E error] struct {
	transport stream.Transport[Resp, noBody, Req, noBody, E]

	mu      sync.Mutex
	outbox  []Req
	pending []chan Result[Resp, E]
	closed  bool
}

// NewClient constructs a Client driving transport.
func NewClient[Req, Resp any, E error](transport stream.Transport[Resp, noBody, Req, noBody, E]) *Client[Req, Resp, E] {
	return &Client[Req, Resp, E]{transport: transport}
}

// Transport implements stream.Dispatch.
func (c *Client[Req, Resp, E]) Transport() stream.Transport[Resp, noBody, Req, noBody, E] {
	return c.transport
}

// Call enqueues req as the next outbound request and returns a channel that
// receives exactly one result once the matching response arrives.
func (c *Client[Req, Resp, E]) Call(req Req) <-chan Result[Resp, E] {
	var ch = make(chan Result[Resp, E], 1)

	c.mu.Lock()
	c.outbox = append(c.outbox, req)
	c.pending = append(c.pending, ch)
	c.mu.Unlock()

	return ch
}

// Dispatch implements stream.Dispatch: it matches an inbound response to
// the oldest still-pending Call.
func (c *Client[Req, Resp, E]) Dispatch(in stream.Inbound[Resp, noBody, E]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return errors.New("simple: response received with no pending request")
	}
	var ch = c.pending[0]
	c.pending = c.pending[1:]

	if in.IsErr {
		ch <- Result[Resp, E]{Err: in.Err, IsErr: true}
	} else {
		if in.Message.Kind == stream.MessageWithBody {
			panic("simple: bodies not supported by a simple.Client")
		}
		ch <- Result[Resp, E]{Resp: in.Message.Head}
	}
	close(ch)
	return nil
}

// Poll implements stream.Dispatch: it dequeues the next outbound request,
// if any.
func (c *Client[Req, Resp, E]) Poll() (stream.Outbound[Req, noBody, E], stream.PollState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.outbox) == 0 {
		if c.closed {
			return stream.Outbound[Req, noBody, E]{}, stream.Done, nil
		}
		return stream.Outbound[Req, noBody, E]{}, stream.NotReady, nil
	}

	var req = c.outbox[0]
	c.outbox = c.outbox[1:]
	var msg = stream.WithoutBody[Req, stream.ChunkStream[noBody, E]](req)
	return stream.Outbound[Req, noBody, E]{Message: msg}, stream.Ready, nil
}

// HasInFlight implements stream.Dispatch.
func (c *Client[Req, Resp, E]) HasInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// Close signals that no further Call will be made. Once every already-
// pending response has arrived, the engine driving this Client will report
// completion.
func (c *Client[Req, Resp, E]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
