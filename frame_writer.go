package wsproto

import (
	"encoding/binary"
	"io"
)

// FrameWriter serializes outgoing frames to w. A client-role writer draws a
// fresh mask from rng for every frame it sends (§4.2); a server-role writer
// never masks.
type FrameWriter struct {
	w    io.Writer
	role Role
	rng  func() uint32
}

// NewFrameWriter returns a writer for role, drawing mask keys from rng when
// role is RoleClient. rng may be nil for RoleServer.
func NewFrameWriter(w io.Writer, role Role, rng func() uint32) *FrameWriter {
	return &FrameWriter{w: w, role: role, rng: rng}
}

// WriteFrame serializes and writes a single frame. Header length is 2, 4,
// or 10 bytes, plus 4 more if masked (6, 8, or 14), per §4.2.
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	masked := fw.role == RoleClient
	var mask [4]byte
	if masked {
		binary.BigEndian.PutUint32(mask[:], fw.rng())
	}

	payloadLen := len(frame.Payload)
	headerSize := 2
	switch {
	case payloadLen > 65535:
		headerSize += 8
	case payloadLen > 125:
		headerSize += 2
	}
	if masked {
		headerSize += 4
	}

	buf := make([]byte, headerSize+payloadLen)
	pos := 0

	buf[pos] = byte(frame.Opcode & 0x0F)
	if frame.Fin {
		buf[pos] |= 0x80
	}
	if frame.RSV1 {
		buf[pos] |= 0x40
	}
	if frame.RSV2 {
		buf[pos] |= 0x20
	}
	if frame.RSV3 {
		buf[pos] |= 0x10
	}
	pos++

	maskBit := byte(0)
	if masked {
		maskBit = 0x80
	}
	switch {
	case payloadLen <= 125:
		buf[pos] = maskBit | byte(payloadLen)
		pos++
	case payloadLen <= 65535:
		buf[pos] = maskBit | 126
		pos++
		binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(payloadLen))
		pos += 2
	default:
		buf[pos] = maskBit | 127
		pos++
		binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(payloadLen))
		pos += 8
	}

	if masked {
		copy(buf[pos:pos+4], mask[:])
		pos += 4
	}

	if payloadLen > 0 {
		copy(buf[pos:], frame.Payload)
		if masked {
			for i := 0; i < payloadLen; i++ {
				buf[pos+i] ^= mask[i%4]
			}
		}
	}

	_, err := fw.w.Write(buf)
	return err
}

// WriteText writes a single, unfragmented FIN TEXT frame.
func (fw *FrameWriter) WriteText(data []byte) error {
	return fw.WriteFrame(NewFrame(OpcodeText, data, true))
}

// WriteBinary writes a single, unfragmented FIN BINARY frame.
func (fw *FrameWriter) WriteBinary(data []byte) error {
	return fw.WriteFrame(NewFrame(OpcodeBinary, data, true))
}

// WriteClose writes a CLOSE frame with the given status and reason. Callers
// should have already run the code through outgoingCloseCode.
func (fw *FrameWriter) WriteClose(code CloseStatus, reason string) error {
	return fw.WriteFrame(NewFrame(OpcodeClose, encodeClose(code, reason), true))
}

// WritePing writes a PING frame. payload must be <=125 bytes.
func (fw *FrameWriter) WritePing(payload []byte) error {
	if len(payload) > MaxControlPayloadSize {
		return newFrameError(ProtocolViolation, ErrControlFrameTooLong)
	}
	return fw.WriteFrame(NewFrame(OpcodePing, payload, true))
}

// WritePong writes a PONG frame, normally echoing a PING's payload.
func (fw *FrameWriter) WritePong(payload []byte) error {
	if len(payload) > MaxControlPayloadSize {
		return newFrameError(ProtocolViolation, ErrControlFrameTooLong)
	}
	return fw.WriteFrame(NewFrame(OpcodePong, payload, true))
}
