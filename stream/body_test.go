package stream

import "testing"

func TestBodyPollIsNotReadyBeforeAnyChunk(t *testing.T) {
	var _, rx = NewBody[string, error]()

	var _, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != NotReady {
		t.Fatalf("expected NotReady on an empty, open body, got %v", state)
	}
}

func TestBodySendChunkThenPollDrainsIt(t *testing.T) {
	var tx, rx = NewBody[string, error]()

	if !tx.PollReady() {
		t.Fatalf("expected a fresh Sender to be ready")
	}
	if err := tx.SendChunk("hello"); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}
	if tx.PollReady() {
		t.Fatalf("expected Sender to report not-ready once its single slot is full")
	}

	var chunk, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Ready || chunk != "hello" {
		t.Fatalf("expected Ready(%q), got %v(%q)", "hello", state, chunk)
	}
	if !tx.PollReady() {
		t.Fatalf("expected Sender to be ready again once its chunk was drained")
	}
}

func TestBodyCloseWithNoChunksIsImmediatelyDone(t *testing.T) {
	var tx, rx = NewBody[string, error]()

	if err := tx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var _, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Done {
		t.Fatalf("expected Done once the sender closed with nothing buffered, got %v", state)
	}
}

func TestBodyCloseDrainsBufferedChunkBeforeDone(t *testing.T) {
	var tx, rx = NewBody[string, error]()

	if err := tx.SendChunk("last"); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var chunk, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Ready || chunk != "last" {
		t.Fatalf("expected the buffered chunk to still be delivered, got %v(%q)", state, chunk)
	}

	_, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Done {
		t.Fatalf("expected Done after the buffered chunk drained, got %v", state)
	}
}

func TestBodyCloseIsIdempotent(t *testing.T) {
	var tx, _ = NewBody[string, error]()

	if err := tx.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("second Close should also be a no-op, got: %v", err)
	}
}

func TestBodyCancelRejectsFurtherSends(t *testing.T) {
	var tx, rx = NewBody[string, error]()

	rx.Cancel()

	if !tx.PollReady() {
		t.Fatalf("expected a canceled Sender to report ready, so StartSend can fail fast")
	}
	if err := tx.SendChunk("too late"); err != ErrBodyClosed {
		t.Fatalf("expected ErrBodyClosed after cancellation, got %v", err)
	}

	var _, completeErr = tx.PollComplete()
	if completeErr != ErrBodyClosed {
		t.Fatalf("expected PollComplete to surface ErrBodyClosed after cancellation, got %v", completeErr)
	}
}

func TestBodyCancelWithoutSenderCloseStillReachesDone(t *testing.T) {
	var tx, rx = NewBody[string, error]()

	if err := tx.SendChunk("a"); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}

	var chunk, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Ready || chunk != "a" {
		t.Fatalf("expected Ready(a), got %v(%q)", state, chunk)
	}

	rx.Cancel()

	// The engine never calls Sender.Close on cancellation -- it simply
	// drops its reference to the body. A later Poll (e.g. from a
	// diagnostic or a test) must still observe Done rather than spin on
	// NotReady forever.
	_, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Done {
		t.Fatalf("expected Done once the receiver canceled itself, got %v", state)
	}
}

func TestBodyCancelIsIdempotent(t *testing.T) {
	var _, rx = NewBody[string, error]()

	rx.Cancel()
	rx.Cancel()

	var _, state, err = rx.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Done {
		t.Fatalf("expected Done, got %v", state)
	}
}
