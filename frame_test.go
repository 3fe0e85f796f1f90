package wsproto

import (
	"errors"
	"testing"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr error
	}{
		{
			name:  "valid text frame",
			frame: &Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("hello")},
		},
		{
			name:  "valid binary frame",
			frame: &Frame{Fin: true, Opcode: OpcodeBinary, Payload: []byte{0x00, 0x01, 0x02}},
		},
		{
			name:    "invalid opcode",
			frame:   &Frame{Fin: true, Opcode: Opcode(0xFF), Payload: []byte("test")},
			wantErr: ErrInvalidOpcode,
		},
		{
			name:    "fragmented control frame",
			frame:   &Frame{Fin: false, Opcode: OpcodeClose, Payload: []byte("close")},
			wantErr: ErrFragmentedControl,
		},
		{
			name:    "control frame too long",
			frame:   &Frame{Fin: true, Opcode: OpcodePing, Payload: make([]byte, 126)},
			wantErr: ErrControlFrameTooLong,
		},
		{
			name:  "close frame with just a status code",
			frame: &Frame{Fin: true, Opcode: OpcodeClose, Payload: make([]byte, 2)},
		},
		{
			name:    "reserved bit set",
			frame:   &Frame{Fin: true, RSV1: true, Opcode: OpcodeText, Payload: []byte("test")},
			wantErr: ErrReservedBitsSet,
		},
		{
			name:    "oversized data frame",
			frame:   &Frame{Fin: true, Opcode: OpcodeBinary, Payload: make([]byte, MaxFramePayloadSize+1)},
			wantErr: ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want error wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(OpcodeText, []byte("hi"), true)
	if !f.Fin || f.Opcode != OpcodeText || string(f.Payload) != "hi" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestFrameErrorKindClassification(t *testing.T) {
	err := (&Frame{Fin: true, Opcode: Opcode(0xFF)}).Validate()
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if fe.Kind != ProtocolViolation {
		t.Errorf("Kind = %v, want ProtocolViolation", fe.Kind)
	}
}
