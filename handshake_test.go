package wsproto

import (
	"strings"
	"testing"
)

func rawHandshakeRequest(extraHeaders string) []byte {
	req := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Origin: http://example.com\r\n" +
		extraHeaders +
		"\r\n"
	return []byte(req)
}

func TestParseHandshakeRequestComplete(t *testing.T) {
	data := rawHandshakeRequest("")
	req, consumed, err := ParseHandshakeRequest(data)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	if consumed != len(data) {
		t.Fatalf("consumed = %d, want %d", consumed, len(data))
	}
	if req.Resource != "/chat" {
		t.Errorf("Resource = %q", req.Resource)
	}
	if req.Key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("Key = %q", req.Key)
	}
}

func TestParseHandshakeRequestIncomplete(t *testing.T) {
	data := []byte("GET /chat HTTP/1.1\r\nHost: example.com\r\n")
	_, _, err := ParseHandshakeRequest(data)
	if err != ErrIncompleteRequest {
		t.Fatalf("err = %v, want ErrIncompleteRequest", err)
	}
}

func TestParseHandshakeRequestLeftoverBytes(t *testing.T) {
	data := rawHandshakeRequest("")
	data = append(data, []byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'}...)
	_, consumed, err := ParseHandshakeRequest(data)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	if consumed == len(data) {
		t.Fatalf("consumed should stop before the frame bytes")
	}
	if string(data[consumed:]) != "\x81\x05hello" {
		t.Fatalf("leftover = %q", data[consumed:])
	}
}

func TestValidateHandshakeAcceptsWellFormedRequest(t *testing.T) {
	data := rawHandshakeRequest("")
	req, _, err := ParseHandshakeRequest(data)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	ep := NewEndpoint(RoleServer)
	if err := ValidateHandshake(req, ep); err != nil {
		t.Fatalf("ValidateHandshake: %v", err)
	}
	if req.Version != 13 {
		t.Errorf("Version = %d, want 13", req.Version)
	}
}

func TestValidateHandshakeRejectsMissingUpgrade(t *testing.T) {
	data := []byte("GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n")
	req, _, err := ParseHandshakeRequest(data)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	ep := NewEndpoint(RoleServer)
	if err := ValidateHandshake(req, ep); err == nil {
		t.Fatalf("expected ValidateHandshake to reject a missing Upgrade header")
	}
}

func TestValidateHandshakeRejectsBadVersion(t *testing.T) {
	data := []byte("GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 99\r\n\r\n")
	req, _, err := ParseHandshakeRequest(data)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	ep := NewEndpoint(RoleServer)
	if err := ValidateHandshake(req, ep); err == nil {
		t.Fatalf("expected ValidateHandshake to reject an unsupported version")
	}
}

func TestValidateHandshakeRejectsHost(t *testing.T) {
	data := rawHandshakeRequest("")
	req, _, err := ParseHandshakeRequest(data)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	ep := NewEndpoint(RoleServer, WithValidateHost(func(host string) bool { return host == "only-this-host.test" }))
	if err := ValidateHandshake(req, ep); err == nil {
		t.Fatalf("expected ValidateHandshake to reject an unrecognized host")
	}
}

func TestComputeAcceptKey(t *testing.T) {
	// Worked example from RFC 6455 Section 1.3.
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("computeAcceptKey() = %q, want %q", got, want)
	}
}

func TestBuildSuccessResponseOmitsReservedOverrides(t *testing.T) {
	extra := NewHeader()
	extra.Set("Upgrade", "bogus")
	extra.Set("X-Request-Id", "abc123")

	resp := string(buildSuccessResponse("dGhlIHNhbXBsZSBub25jZQ==", "chat", extra))
	if !strings.Contains(resp, "HTTP/1.1 101 Switching Protocols") {
		t.Fatalf("missing status line: %s", resp)
	}
	if strings.Count(resp, "Upgrade:") != 1 {
		t.Fatalf("Upgrade header overridden by extra headers:\n%s", resp)
	}
	if !strings.Contains(resp, "X-Request-Id: abc123") {
		t.Fatalf("missing custom header:\n%s", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Protocol: chat") {
		t.Fatalf("missing subprotocol:\n%s", resp)
	}
}

func TestBuildFailureResponse(t *testing.T) {
	resp := string(buildFailureResponse(400, ""))
	if resp != "HTTP/1.1 400 Bad Request\r\n\r\n" {
		t.Errorf("buildFailureResponse() = %q", resp)
	}
}
