package wsproto

// MessageKind distinguishes the two payload-bearing opcodes a Handler can
// receive through OnMessage.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageBinary
)

// Handler is the application callback interface a Session drives (§6). A
// Session owns exactly one Handler at a time; SetHandler hot-swaps it and,
// if the Session is already OPEN, replays OnOpen on the new Handler (see
// SPEC_FULL.md §C.1).
type Handler interface {
	// OnOpen is called once the handshake completes and the Session enters
	// OPEN.
	OnOpen(s *Session)
	// OnClose is called exactly once, when the Session reaches CLOSED,
	// however it got there.
	OnClose(s *Session)
	// OnMessage is called for each delivered TEXT or BINARY message.
	OnMessage(s *Session, kind MessageKind, payload []byte)
	// Validate is called during the handshake, before the 101 response is
	// written. Returning a non-nil error fails the handshake; a
	// *HandshakeError carries the HTTP status to send, otherwise 400 is
	// used.
	Validate(s *Session) error
}

// NopHandler is a Handler whose methods do nothing and accept every
// handshake; embed it to implement only the callbacks a test or demo cares
// about.
type NopHandler struct{}

func (NopHandler) OnOpen(*Session)                            {}
func (NopHandler) OnClose(*Session)                           {}
func (NopHandler) OnMessage(*Session, MessageKind, []byte)    {}
func (NopHandler) Validate(*Session) error                    { return nil }
