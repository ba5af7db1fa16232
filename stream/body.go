package stream

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrBodyClosed is returned by Sender.StartSend (and surfaces through the
// wrapping BufferOne) once the receiver has lost interest. It is not a
// fatal condition: the engine treats it as consumer cancellation and
// silently discards further chunks for that logical stream.
var ErrBodyClosed = errors.New("stream: body receiver is no longer interested")

// ChunkStream is a lazy, finite, non-blocking sequence of chunks of type
// C, terminating in either Done or a permanent error. A *Receiver[C, E]
// implements ChunkStream[C, E]; application code producing an outbound
// body may supply any other implementation (e.g. one backed by a file or
// a generator goroutine).
type ChunkStream[C, E any] interface {
	Poll() (chunk C, state PollState, err error)
}

type chunkResult[C any, E error] struct {
	value C
	err   E
	isErr bool
}

// Sender is the producer half of a body channel. Exactly one Sender
// exists per body; it is not cloneable. Sender implements Sink so it can
// be wrapped in a BufferOne, letting the engine probe readiness without
// blocking before offering the next chunk.
type Sender[C any, E error] struct {
	ch chan chunkResult[C, E]

	// senderDone is closed by Close(): the producer has finished (normal
	// end-of-body, or the engine tearing down a stale body).
	senderDone chan struct{}
	closeOnce  sync.Once

	// canceled is closed by the Receiver's Cancel(): the consumer has
	// lost interest. This is the Go analogue of dropping the Rust
	// Receiver -- since Go has no deterministic destructors, cancellation
	// is an explicit call instead of an implicit drop.
	canceled   chan struct{}
	cancelOnce *sync.Once
}

// Receiver is the consumer half of a body channel: a lazy, finite
// sequence of chunks, terminating when the Sender is closed or the
// Receiver is canceled.
type Receiver[C any, E error] struct {
	ch         chan chunkResult[C, E]
	senderDone chan struct{}
	canceled   chan struct{}
	cancelOnce *sync.Once
}

// NewBody returns a fresh Sender/Receiver pair, backed by a channel with
// exactly one slot of internal buffering -- the buffered channel idiom
// the teacher uses for its own internal chunk pumps (e.g. appendFSM's
// chunkCh), reduced here to a capacity of one.
func NewBody[C any, E error]() (*Sender[C, E], *Receiver[C, E]) {
	var ch = make(chan chunkResult[C, E], 1)
	var senderDone = make(chan struct{})
	var canceled = make(chan struct{})
	var cancelOnce = new(sync.Once)

	return &Sender[C, E]{ch: ch, senderDone: senderDone, canceled: canceled, cancelOnce: cancelOnce},
		&Receiver[C, E]{ch: ch, senderDone: senderDone, canceled: canceled, cancelOnce: cancelOnce}
}

// PollReady implements Sink. The slot is always considered ready once the
// receiver has canceled, so that a subsequent StartSend can report
// ErrBodyClosed immediately rather than wedging the caller.
func (s *Sender[C, E]) PollReady() bool {
	select {
	case <-s.canceled:
		return true
	default:
	}
	return len(s.ch) == 0
}

// StartSend offers a chunk to the receiver. Returns ErrBodyClosed if the
// receiver has canceled interest; returns ErrSlotFull if called without a
// prior ready slot (a caller bug, since readiness was checked already).
func (s *Sender[C, E]) StartSend(item chunkResult[C, E]) error {
	select {
	case <-s.canceled:
		return ErrBodyClosed
	default:
	}
	select {
	case s.ch <- item:
		return nil
	default:
		return ErrSlotFull
	}
}

// SendChunk offers a single chunk, wrapping the Sink machinery above. It
// is the convenience entry point spec component B's "non-blocking offer
// operation" describes directly.
func (s *Sender[C, E]) SendChunk(chunk C) error {
	return s.StartSend(chunkResult[C, E]{value: chunk})
}

// PollComplete implements Sink. Sends complete synchronously once
// buffered; this only reports whether the consumer has since canceled.
func (s *Sender[C, E]) PollComplete() (bool, error) {
	select {
	case <-s.canceled:
		return true, ErrBodyClosed
	default:
		return true, nil
	}
}

// Close terminates the body: the Receiver observes end-of-sequence once
// any chunks already buffered have been drained. Close is idempotent.
func (s *Sender[C, E]) Close() error {
	s.closeOnce.Do(func() { close(s.senderDone) })
	return nil
}

// Poll implements ChunkStream: it returns Done once the Receiver has been
// canceled, otherwise the next chunk if one is buffered, Done once the
// sender has closed and no chunk remains, or NotReady.
func (r *Receiver[C, E]) Poll() (chunk C, state PollState, err error) {
	select {
	case <-r.canceled:
		// Anything still buffered is discarded.
		return chunk, Done, nil
	default:
	}

	select {
	case item := <-r.ch:
		if item.isErr {
			return chunk, Ready, item.err
		}
		return item.value, Ready, nil
	default:
	}

	select {
	case <-r.senderDone:
	case <-r.canceled:
		// Canceled since the check above; nothing further is coming and
		// any later Poll sees Done.
	default:
		return chunk, NotReady, nil
	}

	// A chunk may have raced in between the sender closing and us
	// observing it; prefer draining it over reporting Done early.
	select {
	case item := <-r.ch:
		if item.isErr {
			return chunk, Ready, item.err
		}
		return item.value, Ready, nil
	default:
	}
	return chunk, Done, nil
}

// Cancel signals the Sender that this Receiver is no longer interested.
// Further chunks offered by the Sender are rejected with ErrBodyClosed;
// already-buffered chunks are discarded. Cancel is idempotent and is the
// Go stand-in for the Rust source's implicit "Receiver dropped".
func (r *Receiver[C, E]) Cancel() {
	r.cancelOnce.Do(func() { close(r.canceled) })
}
