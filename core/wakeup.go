package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// ErrNoWakeup is returned by Wakeup when the channel was not enabled.
var ErrNoWakeup = errors.New("core: wakeup channel not enabled")

// wakeupChannel is the cross-thread injection path: a loopback socket
// pair whose read end sits in the poller as a pseudo-connection.
// Producers frame records onto the write end under a mutex; the loop
// thread drains frames into a FIFO and delivers them as EvWakeup.
type wakeupChannel struct {
	mu      sync.Mutex
	writeFD int
	conn    *Conn
	pending *queue.Queue // of wakeupRecord
	closed  bool
}

type wakeupRecord struct {
	id      uint64
	payload []byte
}

// Record framing: 8-byte little-endian connection id, 4-byte length,
// payload bytes.
const wakeupHeaderLen = 12

func (m *Manager) openWakeup() error {
	fds, err := socketPair()
	if err != nil {
		return fmt.Errorf("core: wakeup channel: %w", err)
	}

	w := &wakeupChannel{
		writeFD: fds[1],
		pending: queue.New(),
	}
	// The pseudo-connection carries a no-op handler so internal events
	// never fall through to the application default.
	c := m.newConn(fds[0], protoTCP, flagWakeupPipe, func(*Conn, Event, any) {})
	w.conn = c
	if err := m.poller.Add(fds[0]); err != nil {
		closeFD(fds[1])
		c.flags |= flagClosing
		return fmt.Errorf("core: wakeup channel: %w", err)
	}
	m.wakeup = w
	return nil
}

// Wakeup enqueues a payload for the connection with the given id. Safe
// to call from any thread between manager init and teardown. Unknown
// ids are accepted and dropped at delivery, so racing a close is
// harmless.
func (m *Manager) Wakeup(id uint64, payload []byte) error {
	w := m.wakeup
	if w == nil {
		return ErrNoWakeup
	}

	frame := make([]byte, wakeupHeaderLen+len(payload))
	binary.LittleEndian.PutUint64(frame, id)
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(payload)))
	copy(frame[wakeupHeaderLen:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	// The pair's kernel buffer provides the cross-thread handoff; a
	// short write here would tear a frame, so retry until done.
	for len(frame) > 0 {
		n, again, err := writeFD(w.writeFD, frame)
		if err != nil {
			return err
		}
		if again {
			continue
		}
		frame = frame[n:]
	}
	return nil
}

// drain parses framed records out of the pipe's receive buffer into
// the pending FIFO. Runs on the loop thread from the I/O pass.
func (w *wakeupChannel) drain(c *Conn) {
	readPipe(c)
	for {
		data := c.recv.Bytes()
		if len(data) < wakeupHeaderLen {
			return
		}
		plen := int(binary.LittleEndian.Uint32(data[8:12]))
		if len(data) < wakeupHeaderLen+plen {
			return
		}
		rec := wakeupRecord{
			id:      binary.LittleEndian.Uint64(data[:8]),
			payload: append([]byte(nil), data[wakeupHeaderLen:wakeupHeaderLen+plen]...),
		}
		c.recv.Consume(wakeupHeaderLen + plen)
		w.pending.Add(rec)
	}
}

// deliver dispatches queued records to their target connections.
// Records naming dropped ids are discarded.
func (w *wakeupChannel) deliver(m *Manager) {
	for w.pending.Length() > 0 {
		rec := w.pending.Remove().(wakeupRecord)
		if c := m.byID[rec.id]; c != nil && c.flags&flagClosing == 0 {
			m.dispatch(c, EvWakeup, rec.payload)
		}
	}
}

func (w *wakeupChannel) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		closeFD(w.writeFD)
	}
}

// readPipe pulls whatever the pipe holds into the pseudo-connection's
// receive buffer.
func readPipe(c *Conn) {
	for {
		if len(c.recv.Writable()) == 0 {
			if err := c.recv.GrowTo(c.recv.Size() + 2048); err != nil {
				return
			}
		}
		n, eof, again, err := readFD(c.fd, c.recv.Writable())
		if again || eof || err != nil {
			return
		}
		c.recv.Commit(n)
	}
}
