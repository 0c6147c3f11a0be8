package core

import (
	"fmt"

	"github.com/evnet-io/evnet/core/http"
	"github.com/evnet-io/evnet/core/mqtt"
	"github.com/evnet-io/evnet/core/websocket"
)

// HTTPConnect opens an outbound HTTP connection. The application
// composes the request from its handler (typically on EvConnect) with
// HTTPRequest or raw Send.
func (m *Manager) HTTPConnect(url string, h Handler) (*Conn, error) {
	return m.Connect(url, h)
}

// WSConnect opens an outbound WebSocket connection: TCP (or TLS), then
// the upgrade handshake, then EvWSOpen once the server's 101 arrives.
// extraHeaders holds preformatted lines added to the upgrade request.
func (m *Manager) WSConnect(url string, extraHeaders string, h Handler) (*Conn, error) {
	return m.connect(url, h, func(c *Conn) { c.wsExtra = extraHeaders })
}

// MQTTConnect opens an MQTT client connection. The CONNECT packet goes
// out as soon as the transport is up; the broker's CONNACK surfaces as
// EvMQTTOpen with the return code.
func (m *Manager) MQTTConnect(url string, opts *mqtt.ConnectOpts, h Handler) (*Conn, error) {
	return m.connect(url, h, func(c *Conn) { c.mqttOpts = opts })
}

// MQTTListen accepts MQTT clients. The core parses control packets and
// emits EvMQTTCmd/EvMQTTMsg; session state and topic routing belong to
// the application.
func (m *Manager) MQTTListen(url string, h Handler) (*Conn, error) {
	return m.Listen(url, h)
}

// HTTPRequest composes a request on an outbound HTTP connection using
// the host the connection was dialed with.
func (c *Conn) HTTPRequest(method, uri, extraHeaders string, body []byte) error {
	host := c.connectHost
	if host == "" {
		host = c.remote.String()
	} else {
		host = fmt.Sprintf("%s:%d", host, c.connectPort)
	}
	if uri == "" {
		uri = c.connectURI
	}
	return http.WriteRequest(c.sendBuf(), method, uri, host, extraHeaders, body)
}

// openClientHandshakes runs client-protocol openings that need the
// transport up; called from afterTransportReady.
func (m *Manager) openClientHandshakes(c *Conn) {
	if c.proto != protoWS || !c.IsClient() || c.flags&flagWebsocket != 0 {
		return
	}
	host := fmt.Sprintf("%s:%d", c.connectHost, c.connectPort)
	key, err := websocket.WriteClientRequest(c.sendBuf(), host, c.connectURI, c.wsExtra)
	if err != nil {
		c.fail("websocket: " + err.Error())
		return
	}
	c.wsKey = key
}
