package core

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
	"runtime/debug"

	"github.com/evnet-io/evnet/core/buffer"
	"github.com/evnet-io/evnet/core/mqtt"
	"github.com/evnet-io/evnet/core/poller"
	"github.com/evnet-io/evnet/core/pools"
)

var (
	// ErrClosed is returned for operations on a closed manager or
	// connection.
	ErrClosed = errors.New("core: closed")
)

// Options tunes a Manager. The zero value is usable.
type Options struct {
	// EnableWakeup opens the cross-thread wakeup channel.
	EnableWakeup bool
	// RecvCeiling is the receive buffer high-water mark in bytes.
	// Defaults to buffer.DefaultCeiling (16 KiB).
	RecvCeiling int
	// MaxWSFrame caps a single WebSocket frame payload.
	MaxWSFrame int
	// MaxMQTTRemaining caps the MQTT remaining-length field.
	MaxMQTTRemaining int
	// TLS is handed to the backend on Init for tls-scheme endpoints.
	TLS *TLSOpts
	// Workers sizes the background worker pool; zero defers to
	// NumCPU when StartWorkers is used.
	Workers int
}

// Manager is the root container for one cooperative loop: it owns the
// connection table, the poller, the timer list and the wakeup channel.
// Exactly one goroutine may call Poll; Wakeup is the only operation
// safe from elsewhere.
type Manager struct {
	opts Options

	conns  *Conn // intrusive list, insertion order
	byID   map[uint64]*Conn
	byFD   map[int]*Conn
	nextID uint64

	poller  poller.Poller
	handler Handler
	timers  *Timer
	wakeup  *wakeupChannel
	workers *pools.WorkerPool

	tlsBackend TLSBackend
	resolver   *resolver
	userData   any
	closed     bool
}

// NewManager creates a manager and its poller. With opts.EnableWakeup
// the wakeup channel is opened here; failure to open it fails the
// manager as a whole.
func NewManager(opts *Options) (*Manager, error) {
	if opts == nil {
		opts = &Options{}
	}
	p, err := poller.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("core: poller: %w", err)
	}
	m := &Manager{
		opts:   *opts,
		byID:   make(map[uint64]*Conn),
		byFD:   make(map[int]*Conn),
		poller: p,
	}
	if opts.EnableWakeup {
		if err := m.openWakeup(); err != nil {
			p.Close()
			return nil, err
		}
	}
	return m, nil
}

// SetHandler installs the manager-default event handler.
func (m *Manager) SetHandler(h Handler) { m.handler = h }

// SetUserdata attaches an opaque application value.
func (m *Manager) SetUserdata(v any) { m.userData = v }

// Userdata returns the attached value.
func (m *Manager) Userdata() any { return m.userData }

// Lookup finds a live connection by id. Loop thread only.
func (m *Manager) Lookup(id uint64) *Conn { return m.byID[id] }

// StartWorkers lazily starts the background worker pool. Tasks run off
// the loop thread; results come home via Wakeup.
func (m *Manager) StartWorkers() *pools.WorkerPool {
	if m.workers == nil {
		m.workers = pools.NewWorkerPool(m.opts.Workers)
	}
	return m.workers
}

// newConn allocates a connection and links it into the table. OPEN is
// emitted here, making it the first event every connection sees.
func (m *Manager) newConn(fd int, proto protocol, flags uint32, h Handler) *Conn {
	m.nextID++
	c := &Conn{
		mgr:     m,
		id:      m.nextID,
		fd:      fd,
		flags:   flags,
		proto:   proto,
		recv:    buffer.New(2048),
		send:    buffer.New(2048),
		handler: h,
	}
	if m.opts.RecvCeiling > 0 {
		c.recv.SetCeiling(m.opts.RecvCeiling)
	}
	c.wsDecoder.MaxFrame = m.opts.MaxWSFrame

	// Append to the intrusive list so per-tick iteration follows
	// creation order.
	if m.conns == nil {
		m.conns = c
	} else {
		last := m.conns
		for last.next != nil {
			last = last.next
		}
		last.next = c
	}
	m.byID[c.id] = c
	if fd >= 0 {
		m.byFD[fd] = c
	}
	m.dispatch(c, EvOpen, nil)
	return c
}

// Listen opens a listening connection for url. Accepted connections
// inherit the listener's protocol, TLS setting and handler.
func (m *Manager) Listen(url string, h Handler) (*Conn, error) {
	if m.closed {
		return nil, ErrClosed
	}
	ep, err := parseURL(url)
	if err != nil {
		return nil, err
	}
	ip, perr := netip.ParseAddr(ep.host)
	if perr != nil {
		return nil, fmt.Errorf("%w: listen host must be a literal address", ErrBadURL)
	}
	fd, local, err := openListener(AddrFrom(ip, ep.port), ep.udp)
	if err != nil {
		return nil, fmt.Errorf("core: listen %s: %w", url, err)
	}

	flags := uint32(flagListening)
	if ep.udp {
		flags |= flagUDP
	}
	if ep.tls {
		flags |= flagTLS
	}
	c := m.newConn(fd, ep.proto, flags, h)
	c.local = local
	c.tlsOpts = m.opts.TLS
	if err := m.poller.Add(fd); err != nil {
		c.flags |= flagClosing
		return nil, err
	}
	log.Printf("listening on %s (%s)", local, ep.scheme)
	return c, nil
}

// Connect opens an outbound connection. Hostnames resolve
// asynchronously: the connection sits in the resolving state, gets
// EvResolve when the lookup lands, then proceeds to the TCP handshake.
func (m *Manager) Connect(url string, h Handler) (*Conn, error) {
	return m.connect(url, h, nil)
}

// connect implements Connect with an optional setup hook that runs
// before the dial starts, so protocol wrappers can stage state a
// synchronous connect completion would otherwise race.
func (m *Manager) connect(url string, h Handler, setup func(*Conn)) (*Conn, error) {
	if m.closed {
		return nil, ErrClosed
	}
	ep, err := parseURL(url)
	if err != nil {
		return nil, err
	}

	flags := uint32(flagClient)
	if ep.udp {
		flags |= flagUDP
	}
	if ep.tls {
		flags |= flagTLS | flagTLSHS
	}

	if ip, perr := netip.ParseAddr(ep.host); perr == nil {
		c := m.newConn(-1, ep.proto, flags, h)
		c.connectHost = ep.host
		c.connectURI = ep.uri
		c.connectPort = ep.port
		c.tlsOpts = m.opts.TLS
		if setup != nil {
			setup(c)
		}
		if err := m.startConnect(c, AddrFrom(ip, ep.port)); err != nil {
			m.dispatch(c, EvError, err.Error())
			c.flags |= flagClosing
			return c, nil
		}
		return c, nil
	}

	// Hostname: go through the async resolver.
	c := m.newConn(-1, ep.proto, flags|flagResolving, h)
	c.connectHost = ep.host
	c.connectURI = ep.uri
	c.connectPort = ep.port
	c.tlsOpts = m.opts.TLS
	if setup != nil {
		setup(c)
	}
	if err := m.resolve(c, ep.host); err != nil {
		m.dispatch(c, EvError, err.Error())
		c.flags |= flagClosing
	}
	return c, nil
}

// startConnect begins the non-blocking connect for a resolved address.
func (m *Manager) startConnect(c *Conn, peer Addr) error {
	fd, inProgress, err := startConnect(peer, c.IsUDP())
	if err != nil {
		return err
	}
	c.fd = fd
	c.remote = peer
	m.byFD[fd] = c
	if err := m.poller.Add(fd); err != nil {
		return err
	}
	if inProgress {
		c.flags |= flagConnecting
		m.poller.SetWrite(fd, true)
		return nil
	}
	m.connectDone(c)
	return nil
}

// connectDone runs once the TCP (or UDP association) handshake is
// complete.
func (m *Manager) connectDone(c *Conn) {
	c.flags &^= flagConnecting
	if a, err := localAddr(c.fd); err == nil {
		c.local = a
	}
	m.dispatch(c, EvConnect, nil)

	if c.IsTLS() {
		if m.tlsBackend == nil {
			c.fail(ErrNoTLSBackend.Error())
			return
		}
		c.rawRecv = buffer.New(2048)
		c.rawSend = buffer.New(2048)
		if err := m.tlsBackend.Init(c, c.tlsOpts); err != nil {
			c.fail("tls init: " + err.Error())
			return
		}
		if _, err := m.tlsBackend.Handshake(c); err != nil {
			c.fail("tls handshake: " + err.Error())
			return
		}
		return
	}
	m.afterTransportReady(c)
}

// afterTransportReady runs protocol-specific client openings once
// bytes can flow (post TCP connect, post TLS handshake).
func (m *Manager) afterTransportReady(c *Conn) {
	switch c.proto {
	case protoWS:
		m.openClientHandshakes(c)
	case protoMQTT:
		if !c.IsListening() && c.IsClient() {
			opts := c.mqttOpts
			if opts == nil {
				opts = &mqtt.ConnectOpts{CleanSession: true}
			}
			if err := mqtt.WriteConnect(c.send, opts); err != nil {
				c.fail("mqtt connect: " + err.Error())
			}
		}
	case protoSNTP:
		if err := writeSNTPRequest(c.send); err != nil {
			c.fail("sntp request: " + err.Error())
		}
	}
}

// dispatch invokes the per-connection handler, falling back to the
// manager default. Handler panics are trapped and logged; the loop
// survives them.
func (m *Manager) dispatch(c *Conn, ev Event, data any) {
	if c.flags&flagClosing != 0 && ev != EvClose {
		// CLOSE is exactly once and last; nothing else is delivered
		// after a connection is marked for teardown.
		return
	}
	h := c.handler
	if h == nil {
		h = m.handler
	}
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic on conn %d (%s): %v\n%s", c.id, ev, r, debug.Stack())
		}
	}()
	h(c, ev, data)
}

// removeConn drops a connection from all tables and releases its
// resources. EvClose has already been delivered.
func (m *Manager) removeConn(c *Conn) {
	for pp := &m.conns; *pp != nil; pp = &(*pp).next {
		if *pp == c {
			*pp = c.next
			break
		}
	}
	delete(m.byID, c.id)
	if c.fd >= 0 {
		delete(m.byFD, c.fd)
		m.poller.Remove(c.fd)
		closeFD(c.fd)
		c.fd = -1
	}
	if c.IsTLS() && m.tlsBackend != nil {
		m.tlsBackend.Free(c)
	}
	c.recv.Release()
	c.send.Release()
	if c.rawRecv != nil {
		c.rawRecv.Release()
	}
	if c.rawSend != nil {
		c.rawSend.Release()
	}
	c.next = nil
}

// Close tears the manager down: every owned connection observes
// EvClose, the wakeup channel and poller are released, timers are
// dropped. Poll must not be running.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true

	for c := m.conns; c != nil; c = c.next {
		c.flags |= flagClosing
	}
	m.reapClosing()

	if m.wakeup != nil {
		m.wakeup.close()
		m.wakeup = nil
	}
	if m.workers != nil {
		m.workers.Close()
		m.workers = nil
	}
	m.timers = nil
	m.poller.Close()
}

// reapClosing delivers EvClose and drops every connection flagged
// closing. CLOSE is exactly once and last: the flag is what gates
// every other delivery path.
func (m *Manager) reapClosing() {
	for {
		var victim *Conn
		for c := m.conns; c != nil; c = c.next {
			if c.flags&flagClosing != 0 {
				victim = c
				break
			}
		}
		if victim == nil {
			return
		}
		m.dispatch(victim, EvClose, nil)
		m.removeConn(victim)
	}
}
