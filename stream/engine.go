package stream

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrBrokenPipe is the fatal error Advance returns when the transport
// surfaces an inbound FrameError: the peer has reported a protocol-level
// fault and there is nothing further the engine can do for the
// connection. In-flight work is abandoned.
var ErrBrokenPipe = errors.New("stream: broken pipe")

// ErrBodyInFlight is returned when a second Message{HasBody: true} frame
// arrives while a previous inbound body is still open. The source this
// engine is modeled on silently tolerated this (dropping the stale
// sender), which is inconsistent with strict pipelining: at most one
// in-flight inbound body may exist at a time. This engine treats it as a
// fatal protocol error instead.
var ErrBodyInFlight = errors.New("stream: inbound message arrived with a body already in flight")

// Engine is the pipelined streaming protocol state machine: it ties the
// frame model, body channels, the single-slot buffer, and a Dispatch
// collaborator together, and advances on each call to Advance.
//
// An Engine is single-owner and not safe for concurrent Advance calls.
type Engine[Out, BodyOut, In, BodyIn any, E error] struct {
	collab Dispatch[Out, BodyOut, In, BodyIn, E]

	// sink is the collaborator's transport, wrapped with one slot of
	// buffering so the engine can pre-commit to writing an outbound frame
	// before it knows the transport can accept it this tick.
	sink *BufferOne[Frame[In, BodyIn, E]]

	// outBody is the sender half of the currently open inbound body, if
	// any, wrapped so the engine can probe readiness without blocking.
	outBody *BufferOne[chunkResult[BodyOut, E]]

	// inBody is the receiver half of the currently open outbound body
	// stream, if any.
	inBody ChunkStream[BodyIn, E]

	transportOpen     bool
	requestSenderOpen bool
	isFlushed         bool

	log *log.Entry
}

// transportSink adapts a Dispatch's Transport to Sink[Frame[In,BodyIn,E]],
// the shape BufferOne wraps. The Rust source achieves the same thing via
// a `DispatchSink` newtype; Go's structural interfaces make the wrapper
// unnecessary except as this thin field-access shim.
type transportSink[Out, BodyOut, In, BodyIn any, E error] struct {
	collab Dispatch[Out, BodyOut, In, BodyIn, E]
}

func (t transportSink[Out, BodyOut, In, BodyIn, E]) PollReady() bool {
	return t.collab.Transport().PollReady()
}

func (t transportSink[Out, BodyOut, In, BodyIn, E]) StartSend(f Frame[In, BodyIn, E]) error {
	return t.collab.Transport().StartSend(f)
}

func (t transportSink[Out, BodyOut, In, BodyIn, E]) PollComplete() (bool, error) {
	return t.collab.Transport().PollComplete()
}

func (t transportSink[Out, BodyOut, In, BodyIn, E]) Close() error {
	return t.collab.Transport().Close()
}

// New constructs an Engine driving collab to completion.
func New[Out, BodyOut, In, BodyIn any, E error](collab Dispatch[Out, BodyOut, In, BodyIn, E]) *Engine[Out, BodyOut, In, BodyIn, E] {
	return &Engine[Out, BodyOut, In, BodyIn, E]{
		collab:            collab,
		sink:              NewBufferOne[Frame[In, BodyIn, E]](transportSink[Out, BodyOut, In, BodyIn, E]{collab}),
		transportOpen:     true,
		requestSenderOpen: true,
		isFlushed:         true,
		log:               log.WithField("pkg", "stream"),
	}
}

// Advance drives the pipeline state machine one tick: it ticks the
// transport, drains inbound frames, drains outbound messages, flushes,
// and reports whether the engine has reached completion. The external
// task executor calls Advance repeatedly until it returns done == true or
// a non-nil error.
func (e *Engine[Out, BodyOut, In, BodyIn, E]) Advance() (done bool, err error) {
	e.log.Trace("advance")

	e.collab.Transport().Tick()

	if err = e.drainInbound(); err != nil {
		return false, err
	}
	if err = e.drainOutbound(); err != nil {
		return false, err
	}
	if err = e.flush(); err != nil {
		return false, err
	}

	return e.isDone(), nil
}

func (e *Engine[Out, BodyOut, In, BodyIn, E]) isDone() bool {
	return (!e.transportOpen || !e.requestSenderOpen) && e.isFlushed && !e.collab.HasInFlight() && e.inBody == nil
}

// drainInbound implements spec component 4.E.1.
func (e *Engine[Out, BodyOut, In, BodyIn, E]) drainInbound() error {
	for e.transportOpen {
		if e.outBody != nil && !e.outBody.PollReady() {
			// Back-pressure: the consumer hasn't drained the previous
			// chunk yet, so we must not read the next one off the wire.
			break
		}

		frame, state, err := e.collab.Transport().Poll()
		if err != nil {
			return errors.Wrap(err, "stream: polling transport for inbound frame")
		}

		switch state {
		case NotReady:
			return nil
		case Done:
			e.transportOpen = false
		case Ready:
			if err := e.processInbound(frame); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine[Out, BodyOut, In, BodyIn, E]) processInbound(frame Frame[Out, BodyOut, E]) error {
	switch frame.Kind {
	case FrameMessage:
		return e.processInboundMessage(frame)
	case FrameBody:
		if frame.Chunk != nil {
			return e.processInboundChunk(*frame.Chunk)
		}
		e.log.Trace("read inbound body EOF")
		if e.outBody != nil {
			_ = e.outBody.Close()
			e.outBody = nil
		}
		return nil
	case FrameError:
		return errors.Wrapf(ErrBrokenPipe, "peer reported: %v", frame.Err)
	default:
		panic("stream: invalid frame kind")
	}
}

func (e *Engine[Out, BodyOut, In, BodyIn, E]) processInboundMessage(frame Frame[Out, BodyOut, E]) error {
	if frame.HasBody {
		e.log.Trace("read inbound message with body")
		if e.outBody != nil {
			return errors.Wrap(ErrBodyInFlight, "stream: dispatching inbound message")
		}

		sender, receiver := NewBody[BodyOut, E]()
		e.outBody = NewBufferOne[chunkResult[BodyOut, E]](sender)

		var msg = WithBody[Out, *Receiver[BodyOut, E]](frame.Head, receiver)
		return e.collab.Dispatch(InboundMessage[Out, BodyOut, E](msg))
	}

	e.log.Trace("read inbound message")
	if e.outBody != nil {
		_ = e.outBody.Close()
		e.outBody = nil
	}

	var msg = WithoutBody[Out, *Receiver[BodyOut, E]](frame.Head)
	return e.collab.Dispatch(InboundMessage[Out, BodyOut, E](msg))
}

func (e *Engine[Out, BodyOut, In, BodyIn, E]) processInboundChunk(chunk BodyOut) error {
	if e.outBody == nil {
		e.log.Debug("interest canceled")
		return nil
	}

	e.log.Debug("sending inbound chunk")
	switch err := e.outBody.StartSend(chunkResult[BodyOut, E]{value: chunk}); {
	case err == nil:
		return nil
	case errors.Is(err, ErrBodyClosed):
		e.outBody = nil
		return nil
	default:
		// PollReady() was checked at the top of drainInbound; a
		// not-ready report here is a logical programming error.
		panic(errors.Wrap(err, "stream: inbound body sender reported not-ready after PollReady"))
	}
}

// drainOutbound implements spec component 4.E.2.
func (e *Engine[Out, BodyOut, In, BodyIn, E]) drainOutbound() error {
	for e.requestSenderOpen && e.sink.PollReady() {
		var done, err = e.finishOutboundBody()
		if err != nil {
			return err
		}
		if !done {
			e.log.Debug("write outbound body not done")
			break
		}

		out, state, err := e.collab.Poll()
		if err != nil {
			return errors.Wrap(err, "stream: polling collaborator for outbound message")
		}

		switch state {
		case Ready:
			if err := e.writeOutbound(out); err != nil {
				return err
			}
		case Done:
			e.requestSenderOpen = false
			return nil
		case NotReady:
			return nil
		}
	}
	return nil
}

func (e *Engine[Out, BodyOut, In, BodyIn, E]) writeOutbound(out Outbound[In, BodyIn, E]) error {
	if out.IsErr {
		e.log.Trace("got collaborator error")
		return e.assertSend(ErrorFrame[In, BodyIn, E](out.Err))
	}

	switch out.Message.Kind {
	case MessageWithoutBody:
		e.log.Trace("got outbound message without body")
		if err := e.assertSend(MessageFrame[In, BodyIn, E](out.Message.Head, false)); err != nil {
			return err
		}
		if e.inBody != nil {
			panic("stream: outbound body was not fully drained before the next message")
		}
	case MessageWithBody:
		e.log.Trace("got outbound message with body")
		if err := e.assertSend(MessageFrame[In, BodyIn, E](out.Message.Head, true)); err != nil {
			return err
		}
		if e.inBody != nil {
			panic("stream: outbound body was not fully drained before the next message")
		}
		e.inBody = out.Message.Body
	default:
		panic("stream: invalid message kind")
	}
	return nil
}

// finishOutboundBody implements spec component 4.E.2.a. It reports
// done == true once the current outbound body (if any) has been fully
// written to the sink.
func (e *Engine[Out, BodyOut, In, BodyIn, E]) finishOutboundBody() (bool, error) {
	if e.inBody == nil {
		return true, nil
	}

	for {
		if !e.sink.PollReady() {
			return false, nil
		}

		chunk, state, err := e.inBody.Poll()
		switch state {
		case Ready:
			if err != nil {
				// Resolved open question: surface outbound body stream
				// errors as a Frame.Error and keep the pipeline alive,
				// rather than treating the whole connection as fatal.
				if sendErr := e.assertSend(ErrorFrame[In, BodyIn, E](err.(E))); sendErr != nil {
					return false, sendErr
				}
				e.inBody = nil
				return true, nil
			}
			if sendErr := e.assertSend(BodyFrame[In, BodyIn, E](&chunk)); sendErr != nil {
				return false, sendErr
			}
		case Done:
			if sendErr := e.assertSend(BodyFrame[In, BodyIn, E](nil)); sendErr != nil {
				return false, sendErr
			}
			e.inBody = nil
			return true, nil
		case NotReady:
			e.log.Debug("write outbound body chunk not ready")
			return false, nil
		}
	}
}

func (e *Engine[Out, BodyOut, In, BodyIn, E]) assertSend(frame Frame[In, BodyIn, E]) error {
	if err := e.sink.StartSend(frame); err != nil {
		panic(errors.Wrap(err, "stream: sink reported itself ready after PollReady but was then unable to accept a frame"))
	}
	return nil
}

// flush implements spec component 4.E.3.
func (e *Engine[Out, BodyOut, In, BodyIn, E]) flush() error {
	flushed, err := e.sink.PollComplete()
	if err != nil {
		return errors.Wrap(err, "stream: flushing transport sink")
	}
	e.isFlushed = flushed

	if e.outBody != nil {
		if _, err := e.outBody.PollComplete(); err != nil {
			e.outBody = nil
		}
	}
	return nil
}

// Close releases the transport and any open body channels. Callers
// (typically the task executor) should call Close once Advance returns a
// non-nil error or has reported completion, mirroring the Rust source's
// reliance on Drop to release the transport and both body channel halves.
func (e *Engine[Out, BodyOut, In, BodyIn, E]) Close() error {
	if e.outBody != nil {
		_ = e.outBody.Close()
		e.outBody = nil
	}
	e.inBody = nil
	return e.sink.Close()
}
