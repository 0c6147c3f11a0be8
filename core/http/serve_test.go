package http

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/evnet-io/evnet/core/buffer"
)

// memProvider is an in-memory FileProvider for tests.
type memProvider struct {
	files map[string][]byte
	mtime time.Time
}

func (p *memProvider) Open(path string) (any, error) {
	if data, ok := p.files[path]; ok {
		return data, nil
	}
	return nil, ErrMalformed
}

func (p *memProvider) Stat(path string) (int64, time.Time, error) {
	if data, ok := p.files[path]; ok {
		return int64(len(data)), p.mtime, nil
	}
	return 0, time.Time{}, ErrMalformed
}

func (p *memProvider) Read(handle any, offset int64, n int) ([]byte, error) {
	data := handle.([]byte)
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + int64(n)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (p *memProvider) Close(handle any) {}

func testOpts(p *memProvider) *ServeOpts {
	return &ServeOpts{RootDir: "/root", Provider: p}
}

func request(t *testing.T, raw string) *Message {
	t.Helper()
	var msg Message
	if _, err := ParseHeaders([]byte(raw), &msg); err != nil {
		t.Fatalf("bad test request: %v", err)
	}
	return &msg
}

func TestServeFileOK(t *testing.T) {
	p := &memProvider{
		files: map[string][]byte{"/root/index.html": []byte("<html>hi</html>")},
		mtime: time.Unix(1700000000, 0),
	}
	out := buffer.New(512)
	msg := request(t, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")

	if err := ServeFile(out, msg, "/root/index.html", testOpts(p)); err != nil {
		t.Fatalf("ServeFile failed: %v", err)
	}

	wire := string(out.Bytes())
	if !strings.HasPrefix(wire, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("Expected 200, got %q", wire[:30])
	}
	if !strings.Contains(wire, "Content-Type: text/html") {
		t.Errorf("Expected html content type: %q", wire)
	}
	if !strings.HasSuffix(wire, "<html>hi</html>") {
		t.Errorf("Body missing: %q", wire)
	}
}

func TestServe404(t *testing.T) {
	p := &memProvider{files: map[string][]byte{}}
	out := buffer.New(256)
	msg := request(t, "GET /missing HTTP/1.1\r\n\r\n")

	ServeFile(out, msg, "/root/missing", testOpts(p))
	if !bytes.HasPrefix(out.Bytes(), []byte("HTTP/1.1 404 ")) {
		t.Errorf("Expected 404, got %q", out.Bytes()[:20])
	}
}

func TestServeRange(t *testing.T) {
	p := &memProvider{
		files: map[string][]byte{"/root/data.txt": []byte("0123456789")},
		mtime: time.Unix(1700000000, 0),
	}
	out := buffer.New(512)
	msg := request(t, "GET /data.txt HTTP/1.1\r\nRange: bytes=2-5\r\n\r\n")

	ServeFile(out, msg, "/root/data.txt", testOpts(p))
	wire := string(out.Bytes())
	if !strings.HasPrefix(wire, "HTTP/1.1 206 ") {
		t.Errorf("Expected 206, got %q", wire[:20])
	}
	if !strings.Contains(wire, "Content-Range: bytes 2-5/10\r\n") {
		t.Errorf("Bad Content-Range: %q", wire)
	}
	if !strings.HasSuffix(wire, "2345") {
		t.Errorf("Expected range body 2345, got %q", wire)
	}
}

func TestServeBadRange(t *testing.T) {
	p := &memProvider{
		files: map[string][]byte{"/root/data.txt": []byte("0123456789")},
		mtime: time.Unix(1700000000, 0),
	}
	out := buffer.New(512)
	msg := request(t, "GET /data.txt HTTP/1.1\r\nRange: bytes=50-60\r\n\r\n")

	ServeFile(out, msg, "/root/data.txt", testOpts(p))
	if !bytes.HasPrefix(out.Bytes(), []byte("HTTP/1.1 416 ")) {
		t.Errorf("Expected 416, got %q", out.Bytes()[:20])
	}
}

func TestServeNotModified(t *testing.T) {
	mtime := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	p := &memProvider{
		files: map[string][]byte{"/root/data.txt": []byte("0123456789")},
		mtime: mtime,
	}
	out := buffer.New(512)
	ims := strings.Replace(mtime.Format(time.RFC1123), "UTC", "GMT", 1)
	msg := request(t, "GET /data.txt HTTP/1.1\r\nIf-Modified-Since: "+ims+"\r\n\r\n")

	ServeFile(out, msg, "/root/data.txt", testOpts(p))
	if !bytes.HasPrefix(out.Bytes(), []byte("HTTP/1.1 304 ")) {
		t.Errorf("Expected 304, got %q", out.Bytes()[:20])
	}
}

func TestServeDirTraversal(t *testing.T) {
	p := &memProvider{
		files: map[string][]byte{"/etc/passwd": []byte("secret")},
		mtime: time.Unix(1700000000, 0),
	}
	out := buffer.New(512)
	msg := request(t, "GET /../../etc/passwd HTTP/1.1\r\n\r\n")

	ServeDir(out, msg, testOpts(p))
	if !bytes.HasPrefix(out.Bytes(), []byte("HTTP/1.1 404 ")) {
		t.Errorf("Expected traversal blocked with 404, got %q", out.Bytes()[:20])
	}
}

func TestNextMultipart(t *testing.T) {
	body := []byte("--sep\r\n" +
		"Content-Disposition: form-data; name=\"field1\"\r\n\r\n" +
		"value1\r\n" +
		"--sep\r\n" +
		"Content-Disposition: form-data; name=\"file1\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"file contents\r\n" +
		"--sep--\r\n")

	var part Part
	ofs := NextMultipart(body, 0, &part)
	if ofs == 0 {
		t.Fatal("Expected first part")
	}
	if string(part.Name) != "field1" || string(part.Body) != "value1" {
		t.Errorf("Bad first part: name=%q body=%q", part.Name, part.Body)
	}

	ofs = NextMultipart(body, ofs, &part)
	if ofs == 0 {
		t.Fatal("Expected second part")
	}
	if string(part.Name) != "file1" || string(part.Filename) != "a.txt" {
		t.Errorf("Bad second part: name=%q filename=%q", part.Name, part.Filename)
	}
	if string(part.Body) != "file contents" {
		t.Errorf("Bad second body: %q", part.Body)
	}

	if next := NextMultipart(body, ofs, &part); next != 0 {
		t.Errorf("Expected end of parts, got offset %d", next)
	}
}
