package wsproto

import "testing"

func TestValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, true},
		{"ascii", []byte("hello"), true},
		{"two byte", []byte("café"), true},
		{"three byte", []byte("中文"), true},
		{"four byte", []byte("\U0001F600"), true},
		{"truncated two byte", []byte{0xC2}, false},
		{"truncated three byte", []byte{0xE2, 0x82}, false},
		{"overlong encoding", []byte{0xC0, 0xAF}, false},
		{"lone continuation byte", []byte{0x80}, false},
		{"invalid start byte", []byte{0xFF}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validUTF8(tt.data); got != tt.want {
				t.Errorf("validUTF8(%v) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestUTF8StreamingAcrossFragments(t *testing.T) {
	full := []byte("text 中文")
	split := len(full) - 2 // split inside the last multi-byte rune

	s := newUTF8State()
	s, err := validateUTF8Fragment(s, full[:split])
	if err != nil {
		t.Fatalf("first fragment rejected: %v", err)
	}
	if s.accepting() {
		t.Fatalf("state should not be accepting mid-codepoint")
	}

	s, err = validateUTF8Fragment(s, full[split:])
	if err != nil {
		t.Fatalf("second fragment rejected: %v", err)
	}
	if !s.accepting() {
		t.Fatalf("state should be accepting after full sequence")
	}
}

func TestUTF8RejectsInvalidByteMidStream(t *testing.T) {
	s := newUTF8State()
	_, err := validateUTF8Fragment(s, []byte{0xC2, 0xFF})
	if err == nil {
		t.Fatalf("expected error for invalid continuation byte")
	}
}
