package wsproto

import "encoding/binary"

// CloseStatus is a 16-bit WebSocket close code (RFC 6455 Section 7.4).
type CloseStatus uint16

const (
	CloseNormal              CloseStatus = 1000
	CloseGoingAway           CloseStatus = 1001
	CloseProtocolError       CloseStatus = 1002
	CloseUnsupportedData     CloseStatus = 1003
	// CloseNoStatus is an internal sentinel meaning "no code was sent"; it
	// MUST NOT appear on the wire.
	CloseNoStatus CloseStatus = 1005
	// CloseAbnormal is an internal sentinel for a connection drop with no
	// CLOSE frame exchanged; it MUST NOT appear on the wire.
	CloseAbnormal            CloseStatus = 1006
	CloseInvalidPayload      CloseStatus = 1007
	ClosePolicyViolation     CloseStatus = 1008
	CloseMessageTooBig       CloseStatus = 1009
	CloseMandatoryExtension  CloseStatus = 1010
	CloseInternalEndpointErr CloseStatus = 1011
	CloseTLSHandshake        CloseStatus = 1015
)

const (
	closeLibraryReservedLow = 3000
	closeLibraryReservedHi  = 3999
	closeApplicationLow     = 4000
	closeApplicationHi      = 4999
)

// definedCloseCodes are the protocol-defined codes other than the two
// sentinels, valid to send or receive verbatim.
var definedCloseCodes = map[CloseStatus]bool{
	CloseNormal:              true,
	CloseGoingAway:           true,
	CloseProtocolError:       true,
	CloseUnsupportedData:     true,
	CloseInvalidPayload:      true,
	ClosePolicyViolation:     true,
	CloseMessageTooBig:       true,
	CloseMandatoryExtension:  true,
	CloseInternalEndpointErr: true,
}

// outgoingCloseCode applies the rewriting rules from §4.4: normal,
// application-range and the other protocol-defined codes pass through
// verbatim, the two internal sentinels are substituted, and every reserved
// or out-of-range code becomes a protocol error.
func outgoingCloseCode(code CloseStatus, reason string) (CloseStatus, string) {
	switch {
	case code == CloseNormal, code >= closeApplicationLow && code <= closeApplicationHi:
		return code, reason
	case code == CloseNoStatus:
		return CloseNormal, ""
	case code == CloseAbnormal:
		return ClosePolicyViolation, reason
	case definedCloseCodes[code]:
		return code, reason
	default:
		return CloseProtocolError, "Status code is invalid/reserved"
	}
}

// validIncomingCloseCode reports whether a code received from the peer is
// one this library will echo back verbatim in the acknowledgement CLOSE,
// rather than a reserved or out-of-range value.
func validIncomingCloseCode(code uint16) bool {
	c := CloseStatus(code)
	if definedCloseCodes[c] {
		return true
	}
	if c >= closeLibraryReservedLow && c <= closeLibraryReservedHi {
		return true
	}
	if c >= closeApplicationLow && c <= closeApplicationHi {
		return true
	}
	return false
}

// encodeClose builds a CLOSE frame payload: 2-byte big-endian code followed
// by the UTF-8 reason. A code of CloseNoStatus encodes as an empty payload.
func encodeClose(code CloseStatus, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], uint16(code))
	copy(payload[2:], reason)
	return payload
}

// decodeClose parses a received CLOSE frame payload. An empty payload
// implies CloseNoStatus with no reason, per §4.4. A payload of length 1 is
// a protocol violation the frame codec already rejects (see frame_reader.go).
func decodeClose(payload []byte) (code CloseStatus, reason string, err error) {
	if len(payload) == 0 {
		return CloseNoStatus, "", nil
	}
	code = CloseStatus(binary.BigEndian.Uint16(payload[:2]))
	reason = string(payload[2:])
	if !validUTF8(payload[2:]) {
		return 0, "", newFrameError(PayloadViolation, ErrInvalidUTF8)
	}
	return code, reason, nil
}
