package core

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// passthroughTLS is a null cipher backend: it exercises every hook
// insertion point while moving bytes verbatim.
type passthroughTLS struct {
	inits, frees int
}

func (p *passthroughTLS) Init(c *Conn, opts *TLSOpts) error {
	p.inits++
	return nil
}

func (p *passthroughTLS) Handshake(c *Conn) (bool, error) {
	// One round: done as soon as any client byte arrives.
	return c.RawRecv().Len() > 0, nil
}

func (p *passthroughTLS) Read(c *Conn) (int, error) {
	raw := c.RawRecv()
	n := raw.Len()
	if n == 0 {
		return 0, nil
	}
	c.Recv().Append(raw.Bytes())
	raw.Consume(n)
	return n, nil
}

func (p *passthroughTLS) Write(c *Conn, plain []byte) error {
	_, err := c.RawSend().Append(plain)
	return err
}

func (p *passthroughTLS) Free(c *Conn) { p.frees++ }

func TestTLSHookRouting(t *testing.T) {
	m := newTestManager(t, nil)
	backend := &passthroughTLS{}
	m.SetTLSBackend(backend)

	var sawHS, served bool
	l, err := m.Listen("https://127.0.0.1:0", func(c *Conn, ev Event, data any) {
		switch ev {
		case EvTLSHS:
			sawHS = true
		case EvClose:
			if c.IsAccepted() {
				served = true
			}
		case EvHTTPMsg:
			if !c.IsTLS() {
				t.Error("Expected tls flag on https connection")
			}
			c.Reply(200, "", []byte("ok"))
			c.Drain()
		}
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	var resp []byte
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := net.Dial("tcp", l.LocalAddr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		resp, _ = io.ReadAll(conn)
	}()

	pollUntil(t, m, func() bool { return served })
	wg.Wait()

	if !sawHS {
		t.Error("Expected TLS_HS event after handshake completion")
	}
	if backend.inits != 1 {
		t.Errorf("Expected one Init, got %d", backend.inits)
	}
	if !strings.HasPrefix(string(resp), "HTTP/1.1 200 OK\r\n") {
		t.Errorf("Expected response through the write hook, got %q", resp)
	}
}

func TestTLSWithoutBackendFails(t *testing.T) {
	m := newTestManager(t, nil)

	var gotErr bool
	l, err := m.Listen("https://127.0.0.1:0", func(c *Conn, ev Event, data any) {
		if ev == EvError {
			gotErr = true
		}
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	client, err := net.Dial("tcp", l.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	pollUntil(t, m, func() bool { return gotErr })
}
