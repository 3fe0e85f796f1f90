package wsproto

// Streaming UTF-8 validator, a table-driven DFA in the style described by
// Bjoern Hoehrmann's public-domain "Flexible and Economical UTF-8 Decoder"
// (http://bjoern.hoehrmann.de/utf-8/decoder/dfa/). The session feeds it one
// TEXT fragment at a time across possibly many WebSocket frames; validity of
// the whole message is only known once the DFA is back in utf8Accept at the
// final fragment (invariant 6 in the data model).
const (
	utf8Accept = 0
	utf8Reject = 12
)

var utf8ByteClass = [256]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	10, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3,
	11, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

var utf8StateTable = [...]byte{
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72,
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// utf8State is a streaming UTF-8 validator state carried across fragments of
// a single TEXT message (the session's utf8_state / utf8_codepoint fields).
type utf8State struct {
	state byte
}

// newUTF8State returns a validator positioned at the accepting state, ready
// to validate the first fragment of a new TEXT message.
func newUTF8State() utf8State { return utf8State{state: utf8Accept} }

// accepting reports whether the validator is in the accepting state, i.e.
// no incomplete multi-byte sequence is pending.
func (u utf8State) accepting() bool { return u.state == utf8Accept }

// rejected reports whether the byte sequence fed so far is already invalid.
func (u utf8State) rejected() bool { return u.state == utf8Reject }

// feed advances the DFA over b, returning the new state. Call once per byte
// of an incoming fragment; check rejected() after each call (or accepting()
// once all fragments of the message have been fed) per invariant 6.
func (u utf8State) feed(b byte) utf8State {
	class := utf8ByteClass[b]
	return utf8State{state: utf8StateTable[uint(u.state)+uint(class)]}
}

// validateUTF8Fragment feeds an entire byte slice through s and returns the
// resulting state, or an error if the sequence is already malformed.
func validateUTF8Fragment(s utf8State, data []byte) (utf8State, error) {
	for _, b := range data {
		s = s.feed(b)
		if s.rejected() {
			return s, newFrameError(PayloadViolation, ErrInvalidUTF8)
		}
	}
	return s, nil
}

// validUTF8 reports whether data is, on its own, a complete and valid UTF-8
// string. Used for non-fragmented TEXT frames and close-reason payloads.
func validUTF8(data []byte) bool {
	s := newUTF8State()
	s, err := validateUTF8Fragment(s, data)
	if err != nil {
		return false
	}
	return s.accepting()
}
