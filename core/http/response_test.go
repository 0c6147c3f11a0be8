package http

import (
	"bytes"
	"strings"
	"testing"

	"github.com/evnet-io/evnet/core/buffer"
)

func TestReplyRoundTrip(t *testing.T) {
	out := buffer.New(256)
	if err := Reply(out, 200, "", []byte("ok")); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	wire := out.Bytes()
	if !bytes.HasPrefix(wire, []byte("HTTP/1.1 200 OK\r\n")) {
		t.Errorf("Expected status line HTTP/1.1 200 OK, got %q", wire[:20])
	}

	var msg Message
	headLen, err := ParseHeaders(wire, &msg)
	if err != nil {
		t.Fatalf("Reply output does not parse back: %v", err)
	}
	if msg.StatusCode() != 200 {
		t.Errorf("Expected parsed status 200, got %d", msg.StatusCode())
	}
	if got := msg.HeaderString("Content-Type"); got != "text/plain" {
		t.Errorf("Expected default Content-Type text/plain, got %q", got)
	}
	if got := msg.HeaderString("Content-Length"); got != "2" {
		t.Errorf("Expected Content-Length 2, got %q", got)
	}
	if body := wire[headLen:]; string(body) != "ok" {
		t.Errorf("Expected body ok, got %q", body)
	}
}

func TestReplyKeepsSuppliedContentType(t *testing.T) {
	out := buffer.New(256)
	Reply(out, 200, "Content-Type: application/json\r\n", []byte(`{}`))

	wire := string(out.Bytes())
	if strings.Count(wire, "Content-Type:") != 1 {
		t.Errorf("Expected a single Content-Type header, got: %q", wire)
	}
	if !strings.Contains(wire, "application/json") {
		t.Errorf("Supplied Content-Type lost: %q", wire)
	}
}

func TestWriteChunk(t *testing.T) {
	out := buffer.New(128)
	WriteChunk(out, []byte("hello"))
	WriteChunk(out, nil)

	want := "5\r\nhello\r\n0\r\n\r\n"
	if string(out.Bytes()) != want {
		t.Errorf("Expected %q, got %q", want, out.Bytes())
	}
}

func TestWriteSSE(t *testing.T) {
	out := buffer.New(128)
	WriteSSE(out, "update", "line1\nline2")

	wire := string(out.Bytes())
	if !strings.Contains(wire, "event: update\n") {
		t.Errorf("Missing event line: %q", wire)
	}
	if !strings.Contains(wire, "data: line1\ndata: line2\n\n") {
		t.Errorf("Missing data lines: %q", wire)
	}
}

func TestBasicAuth(t *testing.T) {
	out := buffer.New(128)
	WriteBasicAuth(out, "user", "pass")

	// base64("user:pass")
	want := "Authorization: Basic dXNlcjpwYXNz\r\n"
	if string(out.Bytes()) != want {
		t.Errorf("Expected %q, got %q", want, out.Bytes())
	}
}

func TestWriteRequest(t *testing.T) {
	out := buffer.New(256)
	WriteRequest(out, "GET", "/hello", "example.com:80", "", nil)

	wire := string(out.Bytes())
	if !strings.HasPrefix(wire, "GET /hello HTTP/1.1\r\nHost: example.com:80\r\n") {
		t.Errorf("Bad request head: %q", wire)
	}

	var msg Message
	if _, err := ParseHeaders(out.Bytes(), &msg); err != nil {
		t.Errorf("Request does not parse back: %v", err)
	}
}

func TestMimeTypeOverrides(t *testing.T) {
	if got := MimeType("a.html", nil); got != "text/html; charset=utf-8" {
		t.Errorf("Expected built-in html type, got %q", got)
	}
	over := map[string]string{".html": "text/x-custom"}
	if got := MimeType("a.html", over); got != "text/x-custom" {
		t.Errorf("Expected override to win, got %q", got)
	}
	if got := MimeType("a.unknownext", nil); got != "application/octet-stream" {
		t.Errorf("Expected fallback type, got %q", got)
	}
}

func TestReplyJSON(t *testing.T) {
	out := buffer.New(256)
	if err := ReplyJSON(out, 200, map[string]string{"status": "ok"}); err != nil {
		t.Fatalf("ReplyJSON failed: %v", err)
	}

	var msg Message
	headLen, err := ParseHeaders(out.Bytes(), &msg)
	if err != nil {
		t.Fatalf("JSON reply does not parse: %v", err)
	}
	if got := msg.HeaderString("Content-Type"); got != "application/json" {
		t.Errorf("Expected application/json, got %q", got)
	}
	body := out.Bytes()[headLen:]

	var decoded map[string]string
	m2 := Message{Body: body}
	if err := UnmarshalBody(&m2, &decoded); err != nil {
		t.Fatalf("UnmarshalBody failed: %v", err)
	}
	if decoded["status"] != "ok" {
		t.Errorf("Expected status ok, got %q", decoded["status"])
	}
}
