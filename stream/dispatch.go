package stream

// Inbound is the argument Dispatch() accepts for each inbound logical
// stream: either a Message (with its body Receiver attached, if any) or
// an inbound protocol-level error.
type Inbound[Out, BodyOut any, E error] struct {
	Message Message[Out, *Receiver[BodyOut, E]]
	Err     E
	IsErr   bool
}

// InboundMessage wraps a plain inbound Message.
func InboundMessage[Out, BodyOut any, E error](msg Message[Out, *Receiver[BodyOut, E]]) Inbound[Out, BodyOut, E] {
	return Inbound[Out, BodyOut, E]{Message: msg}
}

// InboundError wraps an inbound protocol-level error.
func InboundError[Out, BodyOut any, E error](err E) Inbound[Out, BodyOut, E] {
	return Inbound[Out, BodyOut, E]{Err: err, IsErr: true}
}

// Outbound is the result of a single Dispatch.Poll() call: either the next
// outbound Message (with a ChunkStream body, if any) or a collaborator
// production error.
type Outbound[In, BodyIn any, E error] struct {
	Message Message[In, ChunkStream[BodyIn, E]]
	Err     E
	IsErr   bool
}

// Dispatch is the contract the engine requires of its application-facing
// collaborator: transport access, inbound message delivery, outbound
// message production, and in-flight accounting.
//
// Dispatch() and Poll() must be synchronous and non-blocking; Dispatch()
// fails only on logical misuse by the collaborator itself.
type Dispatch[Out, BodyOut, In, BodyIn any, E error] interface {
	// Transport returns the transport this collaborator drives.
	Transport() Transport[Out, BodyOut, In, BodyIn, E]

	// Dispatch hands the engine an inbound message or error to the
	// collaborator for processing.
	Dispatch(in Inbound[Out, BodyOut, E]) error

	// Poll produces the next outbound message, or reports Done once no
	// further outbound messages will ever be produced.
	Poll() (out Outbound[In, BodyIn, E], state PollState, err error)

	// HasInFlight reports whether any inbound message has been dispatched
	// without a corresponding outbound message yet produced. Used only by
	// the engine's termination predicate.
	HasInFlight() bool
}
