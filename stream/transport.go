package stream

// Transport is the duplex, framed connection the engine drives. It is
// simultaneously a lazy source of inbound frames and a back-pressured
// sink of outbound frames, with non-blocking poll/readiness semantics.
//
// Out/BodyOut describe inbound frame payloads; In/BodyIn describe
// outbound frame payloads; E is the shared error type. Implementations
// live outside this package (see package wire for a concrete instance) --
// Transport is intentionally the only contract the engine has with the
// byte-level codec.
type Transport[Out, BodyOut, In, BodyIn any, E error] interface {
	Sink[Frame[In, BodyIn, E]]

	// Tick is a low-level hint, invoked at the start of every advance(),
	// allowing the transport to register readiness with its reactor
	// (e.g. arm a read/write poller) before frames are polled.
	Tick()

	// Poll returns the next inbound frame. state == Done means end of
	// stream; state == NotReady means no frame is available this tick.
	Poll() (frame Frame[Out, BodyOut, E], state PollState, err error)
}
