package core

import (
	"github.com/evnet-io/evnet/core/buffer"
	"github.com/evnet-io/evnet/core/http"
	"github.com/evnet-io/evnet/core/mqtt"
	"github.com/evnet-io/evnet/core/websocket"
)

// Connection state flags. Each is a single bit; composition rules are
// enforced by the driver (a listener is never client or accepted,
// tlsHS implies tls, draining stops reads, closing drops the entry on
// the next pass).
const (
	flagListening = 1 << iota
	flagClient
	flagAccepted
	flagResolving
	flagConnecting
	flagTLS
	flagTLSHS
	flagUDP
	flagWebsocket
	flagDraining
	flagClosing
	flagFull
	flagReadable
	flagWritable
	flagResp
	flagWakeupPipe
)

// Application protocol selected by the endpoint URL.
type protocol int

const (
	protoTCP protocol = iota
	protoHTTP
	protoWS
	protoMQTT
	protoSNTP
	protoDNS
)

// Conn is one connection owned by a Manager: a socket (or the wakeup
// pseudo-connection), its buffers, state flags and handler. All access
// is loop-thread only; other threads address a Conn by its ID through
// Manager.Wakeup.
type Conn struct {
	mgr   *Manager
	next  *Conn // manager's intrusive list
	id    uint64
	fd    int
	flags uint32
	proto protocol

	local  Addr
	remote Addr

	recv *buffer.IOBuffer
	send *buffer.IOBuffer
	// TLS connections stage ciphertext here; recv and send always hold
	// plaintext and the backend translates between the pairs.
	rawRecv *buffer.IOBuffer
	rawSend *buffer.IOBuffer

	handler  Handler
	userdata any

	// HTTP parse progress.
	httpHeadLen  int
	httpHdrsSent bool
	httpChunked  bool
	httpChunks   http.ChunkState
	httpBodyLen  int

	wsDecoder websocket.Decoder

	// MQTT client state.
	mqttOpts   *mqtt.ConnectOpts
	mqttNextID uint16

	// Outbound connect bookkeeping.
	connectHost string // pending hostname while resolving
	connectPort uint16
	connectURI  string

	// WebSocket client handshake state.
	wsKey   string
	wsExtra string

	tlsOpts  *TLSOpts
	tlsState any // owned by the TLS backend
}

// ID returns the connection's 64-bit identifier, unique within its
// Manager. IDs, not pointers, are what other threads may hold.
func (c *Conn) ID() uint64 { return c.id }

// Manager returns the owning manager.
func (c *Conn) Manager() *Manager { return c.mgr }

// LocalAddr returns the bound local address.
func (c *Conn) LocalAddr() Addr { return c.local }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() Addr { return c.remote }

// SetHandler installs a per-connection handler, overriding the manager
// default for this connection.
func (c *Conn) SetHandler(h Handler) { c.handler = h }

// SetUserdata attaches an opaque value to the connection.
func (c *Conn) SetUserdata(v any) { c.userdata = v }

// Userdata returns the attached value.
func (c *Conn) Userdata() any { return c.userdata }

// State predicates.
func (c *Conn) IsListening() bool { return c.flags&flagListening != 0 }
func (c *Conn) IsClient() bool    { return c.flags&flagClient != 0 }
func (c *Conn) IsAccepted() bool  { return c.flags&flagAccepted != 0 }
func (c *Conn) IsUDP() bool       { return c.flags&flagUDP != 0 }
func (c *Conn) IsTLS() bool       { return c.flags&flagTLS != 0 }
func (c *Conn) IsWebsocket() bool { return c.flags&flagWebsocket != 0 }
func (c *Conn) IsDraining() bool  { return c.flags&flagDraining != 0 }
func (c *Conn) IsClosing() bool   { return c.flags&flagClosing != 0 }
func (c *Conn) IsResolving() bool { return c.flags&flagResolving != 0 }

// IsFull reports receive-side backpressure: the buffer crossed its
// high-water mark and has not yet drained below the low-water mark. On
// raw tcp/udp connections the driver stops requesting reads while it
// is set.
func (c *Conn) IsFull() bool { return c.recv.Full() }

// RecvLen reports bytes pending in the receive buffer.
func (c *Conn) RecvLen() int { return c.recv.Len() }

// SendLen reports bytes queued in the send buffer.
func (c *Conn) SendLen() int { return c.send.Len() }

// RecvPeek borrows a view of the receive buffer. Loop thread only.
func (c *Conn) RecvPeek(n int) []byte { return c.recv.Peek(n) }

// Send enqueues raw bytes on the send buffer. The driver flushes them
// on the next writable tick; helpers never write to the socket
// directly.
func (c *Conn) Send(p []byte) error {
	if c.flags&flagClosing != 0 {
		return ErrClosed
	}
	_, err := c.send.Append(p)
	if err != nil {
		c.fail("send buffer exhausted")
	}
	return err
}

// Drain schedules a graceful close: no further reads, the send buffer
// flushes, then the connection closes.
func (c *Conn) Drain() { c.flags |= flagDraining }

// Close marks the connection for teardown on the next dispatcher pass.
// CLOSE is still delivered before the entry is dropped.
func (c *Conn) Close() { c.flags |= flagClosing }

// Error reports a connection-local error to the handler and closes.
func (c *Conn) Error(msg string) { c.fail(msg) }

func (c *Conn) fail(msg string) {
	c.mgr.dispatch(c, EvError, msg)
	c.flags |= flagClosing
}

// --- HTTP helpers ---

// Reply writes a complete HTTP response (status, headers, body) into
// the send buffer.
func (c *Conn) Reply(status int, extraHeaders string, body []byte) error {
	return http.Reply(c.sendBuf(), status, extraHeaders, body)
}

// ReplyJSON writes a JSON response.
func (c *Conn) ReplyJSON(status int, v any) error {
	return http.ReplyJSON(c.sendBuf(), status, v)
}

// HTTPChunk writes one chunked-transfer chunk; empty terminates.
func (c *Conn) HTTPChunk(data []byte) error {
	return http.WriteChunk(c.sendBuf(), data)
}

// HTTPSSE frames one server-sent event as a chunk.
func (c *Conn) HTTPSSE(event, data string) error {
	return http.WriteSSE(c.sendBuf(), event, data)
}

// HTTPBasicAuth appends an Authorization header to an outbound request
// under composition.
func (c *Conn) HTTPBasicAuth(user, pass string) error {
	return http.WriteBasicAuth(c.sendBuf(), user, pass)
}

// ServeDir serves the request under a document root.
func (c *Conn) ServeDir(msg *http.Message, opts *http.ServeOpts) error {
	return http.ServeDir(c.sendBuf(), msg, opts)
}

// ServeFile serves a single file path.
func (c *Conn) ServeFile(msg *http.Message, path string, opts *http.ServeOpts) error {
	return http.ServeFile(c.sendBuf(), msg, path, opts)
}

// --- WebSocket helpers ---

// WSUpgrade completes the server side of the WebSocket handshake while
// processing the upgrade request's EvHTTPMsg. On success the connection
// switches to WebSocket framing and EvWSOpen is delivered.
func (c *Conn) WSUpgrade(msg *http.Message, extraHeaders string) error {
	if err := websocket.WriteUpgrade(c.sendBuf(), msg, extraHeaders); err != nil {
		return err
	}
	c.flags |= flagWebsocket
	c.proto = protoWS
	c.resetHTTPState()
	c.mgr.dispatch(c, EvWSOpen, msg)
	return nil
}

// WSSend writes one WebSocket frame. Client connections mask per RFC
// 6455; the role comes from the client flag.
func (c *Conn) WSSend(op byte, payload []byte) error {
	return websocket.WriteFrame(c.sendBuf(), op, payload, c.IsClient())
}

// --- MQTT helpers ---

// MQTTPub publishes to a topic and returns the packet id used (zero for
// QoS 0).
func (c *Conn) MQTTPub(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	var id uint16
	if qos > 0 {
		id = c.nextPacketID()
	}
	return id, mqtt.WritePublish(c.sendBuf(), topic, payload, qos, retain, id)
}

// MQTTSub subscribes to a topic filter and returns the packet id.
func (c *Conn) MQTTSub(topic string, qos byte) (uint16, error) {
	id := c.nextPacketID()
	return id, mqtt.WriteSubscribe(c.sendBuf(), topic, qos, id)
}

// MQTTPing emits a PINGREQ.
func (c *Conn) MQTTPing() error { return mqtt.WritePingreq(c.sendBuf()) }

// MQTTPong emits a PINGRESP.
func (c *Conn) MQTTPong() error { return mqtt.WritePingresp(c.sendBuf()) }

// MQTTDisconnect emits a DISCONNECT.
func (c *Conn) MQTTDisconnect() error {
	return mqtt.WriteDisconnect(c.sendBuf())
}

func (c *Conn) nextPacketID() uint16 {
	c.mqttNextID++
	if c.mqttNextID == 0 {
		c.mqttNextID = 1
	}
	return c.mqttNextID
}

func (c *Conn) resetHTTPState() {
	c.httpHeadLen = 0
	c.httpHdrsSent = false
	c.httpChunked = false
	c.httpChunks = http.ChunkState{}
	c.httpBodyLen = 0
}

// sendBuf returns the buffer response helpers append to. Helpers
// always compose plaintext; the driver encrypts on flush for TLS
// connections.
func (c *Conn) sendBuf() *buffer.IOBuffer { return c.send }

// Recv exposes the plaintext receive buffer to TLS backends.
func (c *Conn) Recv() *buffer.IOBuffer { return c.recv }

// RawRecv exposes the ciphertext receive staging buffer. Nil on
// non-TLS connections.
func (c *Conn) RawRecv() *buffer.IOBuffer { return c.rawRecv }

// RawSend exposes the ciphertext send staging buffer. Nil on non-TLS
// connections.
func (c *Conn) RawSend() *buffer.IOBuffer { return c.rawSend }
