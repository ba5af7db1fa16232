package stream

import "github.com/pkg/errors"

// ErrSlotFull is returned by StartSend when the caller failed to first
// check PollReady. It signals a programming error in the caller, not a
// recoverable protocol condition -- every engine write path checks
// readiness in the same advance() step before sending, per invariant 4.
var ErrSlotFull = errors.New("stream: start send called without a ready slot")

// Sink is a back-pressured, non-blocking consumer of T. It models exactly
// the subset of futures::Sink that the pipeline engine needs: a readiness
// probe, a buffered accept, a flush, and a close.
type Sink[T any] interface {
	// PollReady reports whether the sink currently has room to accept an
	// item via StartSend.
	PollReady() bool
	// StartSend hands an item to the sink. Callers must have observed
	// PollReady() == true in the same tick; violating this is a logical
	// programming error (ErrSlotFull).
	StartSend(item T) error
	// PollComplete drains any buffered state to the underlying resource
	// and reports whether the sink is now fully flushed.
	PollComplete() (flushed bool, err error)
	// Close releases the sink and any resources it owns.
	Close() error
}
