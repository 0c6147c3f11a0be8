package websocket

import (
	"bytes"
	"strings"
	"testing"

	"github.com/evnet-io/evnet/core/buffer"
	"github.com/evnet-io/evnet/core/http"
)

// RFC 6455 section 1.3 handshake vector.
func TestAcceptKeyVector(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("Expected accept key %s, got %s", want, got)
	}
}

func upgradeRequest(t *testing.T) *http.Message {
	t.Helper()
	raw := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	msg := &http.Message{}
	if _, err := http.ParseHeaders([]byte(raw), msg); err != nil {
		t.Fatalf("bad test request: %v", err)
	}
	return msg
}

func TestWriteUpgrade(t *testing.T) {
	out := buffer.New(512)
	if err := WriteUpgrade(out, upgradeRequest(t), "X-Extra: 1\r\n"); err != nil {
		t.Fatalf("WriteUpgrade failed: %v", err)
	}

	wire := string(out.Bytes())
	if !strings.HasPrefix(wire, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("Expected 101 response, got %q", wire)
	}
	if !strings.Contains(wire, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("Expected accept header in %q", wire)
	}
	if !strings.Contains(wire, "X-Extra: 1\r\n") {
		t.Errorf("Extra headers not inserted verbatim: %q", wire)
	}
}

func TestWriteUpgradeRejectsNonUpgrade(t *testing.T) {
	msg := &http.Message{}
	http.ParseHeaders([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), msg)

	out := buffer.New(128)
	if err := WriteUpgrade(out, msg, ""); err != ErrNotUpgrade {
		t.Errorf("Expected ErrNotUpgrade, got %v", err)
	}
}

// maskFrame builds a client-masked frame the way a browser would.
func maskFrame(op byte, payload []byte) []byte {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	frame := []byte{0x80 | op, 0x80 | byte(len(payload))}
	frame = append(frame, key[:]...)
	for i, b := range payload {
		frame = append(frame, b^key[i&3])
	}
	return frame
}

func TestDecodeMaskedTextFrame(t *testing.T) {
	b := buffer.New(128)
	b.Append(maskFrame(OpText, []byte("ping")))

	var d Decoder
	fr, err := d.Next(b)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if fr == nil {
		t.Fatal("Expected a frame")
	}
	if fr.Op() != OpText || !fr.Fin() {
		t.Errorf("Expected FIN text frame, got flags %#x", fr.Flags)
	}
	if string(fr.Payload) != "ping" {
		t.Errorf("Expected unmasked payload ping, got %q", fr.Payload)
	}
	if b.Len() != 0 {
		t.Errorf("Expected frame consumed, %d bytes left", b.Len())
	}
}

func TestDecodePartialFrame(t *testing.T) {
	full := maskFrame(OpBinary, []byte("abcdef"))
	b := buffer.New(128)
	b.Append(full[:5])

	var d Decoder
	fr, err := d.Next(b)
	if err != nil || fr != nil {
		t.Fatalf("Expected need-more, got fr=%v err=%v", fr, err)
	}

	b.Append(full[5:])
	fr, err = d.Next(b)
	if err != nil || fr == nil {
		t.Fatalf("Expected frame after completion, got fr=%v err=%v", fr, err)
	}
	if string(fr.Payload) != "abcdef" {
		t.Errorf("Expected abcdef, got %q", fr.Payload)
	}
}

func TestDecodeFragmented(t *testing.T) {
	b := buffer.New(256)
	// Text "hello " without FIN, then continuation "world" with FIN.
	first := maskFrame(OpText, []byte("hello "))
	first[0] &^= 0x80
	cont := maskFrame(OpContinuation, []byte("world"))
	b.Append(first)
	b.Append(cont)

	var d Decoder
	fr, err := d.Next(b)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if fr == nil {
		t.Fatal("Expected joined message")
	}
	if fr.Op() != OpText || string(fr.Payload) != "hello world" {
		t.Errorf("Expected joined text 'hello world', got op=%d %q", fr.Op(), fr.Payload)
	}
}

func TestControlInterleavesFragments(t *testing.T) {
	b := buffer.New(256)
	first := maskFrame(OpText, []byte("par"))
	first[0] &^= 0x80
	b.Append(first)
	b.Append(maskFrame(OpPing, []byte("hb")))

	var d Decoder
	fr, err := d.Next(b)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if fr == nil || fr.Op() != OpPing {
		t.Fatalf("Expected interleaved ping, got %v", fr)
	}
	if !fr.IsControl() || string(fr.Payload) != "hb" {
		t.Errorf("Bad control frame: %q", fr.Payload)
	}

	// The fragment is still pending; finishing it yields the message.
	b.Append(maskFrame(OpContinuation, []byte("tial")))
	fr, err = d.Next(b)
	if err != nil || fr == nil {
		t.Fatalf("Expected joined message, got fr=%v err=%v", fr, err)
	}
	if string(fr.Payload) != "partial" {
		t.Errorf("Expected 'partial', got %q", fr.Payload)
	}
}

func TestExtendedLength16(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 300)
	out := buffer.New(1024)
	if err := WriteFrame(out, OpBinary, payload, false); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	wire := out.Bytes()
	if wire[1] != 126 {
		t.Errorf("Expected 16-bit length marker 126, got %d", wire[1])
	}
	if int(wire[2])<<8|int(wire[3]) != 300 {
		t.Error("Bad big-endian extended length")
	}

	var d Decoder
	fr, err := d.Next(out)
	if err != nil || fr == nil {
		t.Fatalf("Round trip failed: fr=%v err=%v", fr, err)
	}
	if len(fr.Payload) != 300 {
		t.Errorf("Expected 300 payload bytes, got %d", len(fr.Payload))
	}
}

func TestEncodeMaskedRoundTrip(t *testing.T) {
	out := buffer.New(256)
	if err := WriteFrame(out, OpText, []byte("client data"), true); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if out.Bytes()[1]&0x80 == 0 {
		t.Error("Expected mask bit set on client frame")
	}

	var d Decoder
	fr, err := d.Next(out)
	if err != nil || fr == nil {
		t.Fatalf("Decode of own masked frame failed: fr=%v err=%v", fr, err)
	}
	if string(fr.Payload) != "client data" {
		t.Errorf("Expected unmasked round trip, got %q", fr.Payload)
	}
}

func TestFrameTooLarge(t *testing.T) {
	b := buffer.New(128)
	b.Append([]byte{0x82, 127, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})

	d := Decoder{MaxFrame: 1024}
	if _, err := d.Next(b); err != ErrFrameTooLarge {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestWriteClientRequest(t *testing.T) {
	out := buffer.New(512)
	key, err := WriteClientRequest(out, "example.com:80", "/ws", "")
	if err != nil {
		t.Fatalf("WriteClientRequest failed: %v", err)
	}
	if key == "" {
		t.Fatal("Expected a nonce key")
	}
	wire := string(out.Bytes())
	if !strings.Contains(wire, "Sec-WebSocket-Key: "+key+"\r\n") {
		t.Errorf("Key not present in request: %q", wire)
	}
	if !strings.Contains(wire, "Sec-WebSocket-Version: 13\r\n") {
		t.Errorf("Missing version header: %q", wire)
	}
}
