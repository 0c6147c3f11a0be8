package core

import "errors"

// ErrNoTLSBackend is reported when a tls-scheme endpoint is used with
// no backend installed.
var ErrNoTLSBackend = errors.New("core: no TLS backend configured")

// TLSOpts is passed through to the backend uninterpreted by the core.
type TLSOpts struct {
	CA               string
	Cert             string
	Key              string
	Name             string // SNI
	SkipVerification bool
}

// TLSBackend is the pluggable TLS state machine. The core owns the
// insertion points; the backend owns the cryptography. All methods run
// on the loop thread. Ciphertext lives in the connection's RawRecv and
// RawSend buffers, plaintext in Recv and Send.
type TLSBackend interface {
	// Init sets up per-connection state. Called once when a tls-scheme
	// connection is accepted or its outbound TCP connect completes.
	Init(c *Conn, opts *TLSOpts) error
	// Handshake advances the handshake: consume RawRecv, emit into
	// RawSend. done=true completes the handshake.
	Handshake(c *Conn) (done bool, err error)
	// Read decrypts whatever full records sit in RawRecv, appending
	// plaintext to Recv. Returns the number of plaintext bytes added.
	Read(c *Conn) (int, error)
	// Write encrypts plain into RawSend.
	Write(c *Conn, plain []byte) error
	// Free releases per-connection state.
	Free(c *Conn)
}

// SetTLSBackend installs the TLS collaborator for this manager. Must be
// called before the first tls-scheme Listen or Connect.
func (m *Manager) SetTLSBackend(b TLSBackend) { m.tlsBackend = b }

// TLSState returns the backend-owned state slot for c.
func (c *Conn) TLSState() any { return c.tlsState }

// SetTLSState stores backend-owned state on c.
func (c *Conn) SetTLSState(v any) { c.tlsState = v }
