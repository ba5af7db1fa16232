package stream

// Test fixtures below play the role of the teacher's own teststub /
// brokertest in-process fakes: a minimal fakeTransport standing in for a
// real framed connection, and a fakeDispatch standing in for an
// application collaborator, both driven purely in memory so engine
// behavior can be asserted deterministically tick-by-tick.

type fakeTransport struct {
	in    []Frame[string, []byte, error]
	inIdx int
	eof   bool

	sendReady bool
	sent      []Frame[string, []byte, error]
	closed    bool
	ticks     int
}

func (t *fakeTransport) Tick() { t.ticks++ }

func (t *fakeTransport) Poll() (Frame[string, []byte, error], PollState, error) {
	if t.inIdx >= len(t.in) {
		if t.eof {
			return Frame[string, []byte, error]{}, Done, nil
		}
		return Frame[string, []byte, error]{}, NotReady, nil
	}
	var f = t.in[t.inIdx]
	t.inIdx++
	return f, Ready, nil
}

func (t *fakeTransport) PollReady() bool { return t.sendReady }

func (t *fakeTransport) StartSend(f Frame[string, []byte, error]) error {
	if !t.sendReady {
		return ErrSlotFull
	}
	t.sent = append(t.sent, f)
	return nil
}

func (t *fakeTransport) PollComplete() (bool, error) { return true, nil }

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

type fakeDispatch struct {
	transport *fakeTransport

	inbox []Inbound[string, []byte, error]

	outQueue []Outbound[string, []byte, error]
	outDone  bool

	// trackInFlight, when set, has Dispatch bump inFlight on every inbound
	// message and Poll decrement it on every produced response -- for
	// tests asserting request/response in-flight accounting. Tests that
	// don't care about in-flight accounting leave this false and manage
	// inFlight directly if needed.
	trackInFlight bool
	inFlight      int
}

func newFakeDispatch() *fakeDispatch {
	return &fakeDispatch{transport: &fakeTransport{sendReady: true}}
}

func (d *fakeDispatch) Transport() Transport[string, []byte, string, []byte, error] {
	return d.transport
}

func (d *fakeDispatch) Dispatch(in Inbound[string, []byte, error]) error {
	d.inbox = append(d.inbox, in)
	if d.trackInFlight {
		d.inFlight++
	}
	return nil
}

func (d *fakeDispatch) Poll() (Outbound[string, []byte, error], PollState, error) {
	if len(d.outQueue) == 0 {
		if d.outDone {
			return Outbound[string, []byte, error]{}, Done, nil
		}
		return Outbound[string, []byte, error]{}, NotReady, nil
	}
	var out = d.outQueue[0]
	d.outQueue = d.outQueue[1:]
	if d.trackInFlight && d.inFlight > 0 {
		d.inFlight--
	}
	return out, Ready, nil
}

func (d *fakeDispatch) HasInFlight() bool { return d.inFlight > 0 }

// chunkStream is a test ChunkStream backed by a plain slice, used to
// exercise outbound body production.
type chunkStream struct {
	chunks []string
	idx    int
	err    error
}

func (s *chunkStream) Poll() ([]byte, PollState, error) {
	if s.err != nil {
		var err = s.err
		s.err = nil
		return nil, Ready, err
	}
	if s.idx >= len(s.chunks) {
		return nil, Done, nil
	}
	var c = s.chunks[s.idx]
	s.idx++
	return []byte(c), Ready, nil
}
