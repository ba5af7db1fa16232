package stream

// BufferOne adapts any back-pressured Sink[T] by adding exactly one
// element of head-room. It lets a caller commit to "I have accepted this
// item" before the downstream sink has actually written it, which is what
// lets Engine pre-commit to producing an outbound message as soon as the
// collaborator yields one, without losing the message if the transport
// isn't immediately writable.
//
// BufferOne is itself a Sink[T], so it composes: wrapping a Transport's
// sink half, or a body Sender, yields the same PollReady/StartSend/
// PollComplete/Close shape the engine always drives through.
type BufferOne[T any] struct {
	inner Sink[T]
	slot  *T
}

// NewBufferOne wraps inner with a single slot of buffering.
func NewBufferOne[T any](inner Sink[T]) *BufferOne[T] {
	return &BufferOne[T]{inner: inner}
}

// PollReady reports true once the single slot is empty (flushed to inner).
func (b *BufferOne[T]) PollReady() bool {
	return b.slot == nil
}

// StartSend stores item in the slot. Calling this when the slot is
// already occupied is a logical programming error: callers must always
// check PollReady first.
func (b *BufferOne[T]) StartSend(item T) error {
	if b.slot != nil {
		return ErrSlotFull
	}
	b.slot = &item
	return nil
}

// PollComplete drains the slot to inner (if inner is ready to accept it)
// and then flushes inner.
func (b *BufferOne[T]) PollComplete() (bool, error) {
	if b.slot != nil {
		if !b.inner.PollReady() {
			return false, nil
		}
		if err := b.inner.StartSend(*b.slot); err != nil {
			return false, err
		}
		b.slot = nil
	}
	return b.inner.PollComplete()
}

// Close closes the underlying sink. Any buffered slot item is discarded.
func (b *BufferOne[T]) Close() error {
	return b.inner.Close()
}

// Inner returns the wrapped sink, for adapters that need to reach through
// the buffer to the collaborator it wraps (e.g. Engine reaching the
// Transport or Dispatch behind a BufferOne).
func (b *BufferOne[T]) Inner() Sink[T] {
	return b.inner
}
