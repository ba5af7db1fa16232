package stream

// MessageKind discriminates whether a Message carries a trailing body.
type MessageKind uint8

const (
	// MessageWithoutBody is a head-only message.
	MessageWithoutBody MessageKind = iota
	// MessageWithBody is a head plus a lazy, finite chunk sequence.
	MessageWithBody
)

// Message is delivered across the engine/collaborator boundary: either a
// bare head (H), or a head paired with a body (B) -- a *Receiver for
// inbound messages the engine hands to Dispatch, or a ChunkStream for
// outbound messages a Dispatch produces.
type Message[H, B any] struct {
	Kind MessageKind
	Head H
	// Body is valid when Kind == MessageWithBody; it is the zero value of
	// B otherwise.
	Body B
}

// WithoutBody constructs a head-only Message.
func WithoutBody[H, B any](head H) Message[H, B] {
	return Message[H, B]{Kind: MessageWithoutBody, Head: head}
}

// WithBody constructs a Message carrying a body.
func WithBody[H, B any](head H, body B) Message[H, B] {
	return Message[H, B]{Kind: MessageWithBody, Head: head, Body: body}
}
