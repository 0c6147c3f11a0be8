package core

import (
	"github.com/evnet-io/evnet/core/buffer"
	"github.com/evnet-io/evnet/core/http"
	"github.com/evnet-io/evnet/core/mqtt"
	"github.com/evnet-io/evnet/core/websocket"
)

// Poll drives one tick of the loop: accept, connect completion, reads,
// protocol parsing, writes, timers, wakeups, POLL fan-out, then the
// close reap. It returns after at most timeoutMS regardless of
// activity and is the only suspension point in the runtime.
func (m *Manager) Poll(timeoutMS int) error {
	if m.closed {
		return ErrClosed
	}

	// Write interest tracks pending output and in-flight connects.
	for c := m.conns; c != nil; c = c.next {
		if c.fd < 0 || c.IsListening() {
			continue
		}
		want := c.flags&flagConnecting != 0 || c.send.Len() > 0 ||
			(c.rawSend != nil && c.rawSend.Len() > 0)
		m.poller.SetWrite(c.fd, want)
	}

	ready, err := m.poller.Wait(timeoutMS)
	if err != nil {
		return err
	}

	for _, r := range ready {
		c := m.byFD[r.FD]
		if c == nil || c.flags&flagClosing != 0 {
			continue
		}
		if r.Err {
			c.fail("socket error")
			continue
		}
		switch {
		case c.flags&flagWakeupPipe != 0:
			if r.Readable {
				m.wakeup.drain(c)
			}
		case c.IsListening() && !c.IsUDP():
			if r.Readable {
				m.acceptAll(c)
			}
		default:
			if r.Writable && c.flags&flagConnecting != 0 {
				if err := finishConnect(c.fd); err != nil {
					c.fail("connect: " + err.Error())
					continue
				}
				m.connectDone(c)
			}
			if r.Readable {
				m.readConn(c)
			}
			if r.Writable {
				m.flushSend(c)
			}
		}
	}

	// Parsers consume whatever the reads appended.
	for c := m.conns; c != nil; c = c.next {
		if c.flags&flagClosing == 0 && !c.IsListening() {
			m.advanceConn(c, false)
		}
	}

	// Opportunistic flush: handlers usually fill send buffers during
	// this same tick, and the socket is almost always writable.
	for c := m.conns; c != nil; c = c.next {
		if c.flags&flagClosing == 0 && c.fd >= 0 && !c.IsListening() &&
			c.flags&flagConnecting == 0 {
			m.flushSend(c)
		}
	}

	m.pollTimers()
	if m.wakeup != nil {
		m.wakeup.deliver(m)
	}

	for c := m.conns; c != nil; c = c.next {
		if c.flags&flagClosing == 0 {
			m.dispatch(c, EvPoll, nil)
		}
	}

	m.reapClosing()
	return nil
}

// acceptAll drains the accept queue of one listener.
func (m *Manager) acceptAll(l *Conn) {
	for {
		nfd, peer, ok, err := acceptConn(l.fd)
		if err != nil {
			m.dispatch(l, EvError, "accept: "+err.Error())
			return
		}
		if !ok {
			return
		}

		flags := uint32(flagAccepted)
		if l.IsTLS() {
			flags |= flagTLS | flagTLSHS
		}
		// Server-side WebSocket connections speak HTTP until the
		// application completes the upgrade.
		proto := l.proto
		if proto == protoWS {
			proto = protoHTTP
		}
		c := m.newConn(nfd, proto, flags, l.handler)
		c.remote = peer
		c.local = l.local
		c.tlsOpts = l.tlsOpts
		if err := m.poller.Add(nfd); err != nil {
			c.fail("poller: " + err.Error())
			continue
		}
		m.dispatch(c, EvAccept, nil)

		if c.IsTLS() {
			if m.tlsBackend == nil {
				c.fail(ErrNoTLSBackend.Error())
				continue
			}
			c.rawRecv = buffer.New(2048)
			c.rawSend = buffer.New(2048)
			if err := m.tlsBackend.Init(c, c.tlsOpts); err != nil {
				c.fail("tls init: " + err.Error())
			}
		}
	}
}

// readConn moves socket bytes into the connection's receive path,
// honoring the full-flag backpressure discipline.
func (m *Manager) readConn(c *Conn) {
	dst := c.recv
	if c.IsTLS() {
		dst = c.rawRecv
	}

	for {
		if c.recv.Full() && c.proto == protoTCP {
			// High-water reached on a raw connection: the application
			// owns consumption, so stop requesting reads until it
			// drains below the low-water mark. Protocol connections
			// are bounded by their parser caps instead; an incomplete
			// message must be allowed to finish arriving.
			return
		}
		if len(dst.Writable()) == 0 {
			if err := dst.GrowTo(dst.Size() + 2048); err != nil {
				c.fail("recv buffer exhausted")
				return
			}
		}

		var n int
		var eof, again bool
		var err error
		if c.IsUDP() && c.IsListening() {
			var peer Addr
			n, peer, again, err = recvFromFD(c.fd, dst.Writable())
			if n > 0 {
				c.remote = peer
			}
		} else {
			n, eof, again, err = readFD(c.fd, dst.Writable())
		}
		if err != nil {
			c.fail("read: " + err.Error())
			return
		}
		if again {
			return
		}
		if eof {
			m.advanceConn(c, true)
			c.flags |= flagClosing
			return
		}
		dst.Commit(n)

		if c.IsTLS() {
			m.advanceTLS(c)
		} else {
			m.dispatch(c, EvRead, n)
		}
	}
}

// advanceTLS feeds staged ciphertext through the backend: first the
// handshake, then record decryption.
func (m *Manager) advanceTLS(c *Conn) {
	if c.flags&flagTLSHS != 0 {
		done, err := m.tlsBackend.Handshake(c)
		if err != nil {
			c.fail("tls handshake: " + err.Error())
			return
		}
		if !done {
			return
		}
		c.flags &^= flagTLSHS
		m.dispatch(c, EvTLSHS, nil)
		m.afterTransportReady(c)
	}
	n, err := m.tlsBackend.Read(c)
	if err != nil {
		c.fail("tls read: " + err.Error())
		return
	}
	if n > 0 {
		m.dispatch(c, EvRead, n)
	}
}

// flushSend drains the send path to the socket. On full drain of a
// draining connection, the close is completed.
func (m *Manager) flushSend(c *Conn) {
	// Encrypt staged plaintext first for established TLS sessions.
	if c.IsTLS() && c.flags&flagTLSHS == 0 && c.send.Len() > 0 && m.tlsBackend != nil {
		plain := c.send.Bytes()
		if err := m.tlsBackend.Write(c, plain); err != nil {
			c.fail("tls write: " + err.Error())
			return
		}
		c.send.Consume(len(plain))
	}

	out := c.send
	if c.IsTLS() {
		out = c.rawSend
	}

	for out.Len() > 0 {
		var n int
		var again bool
		var err error
		if c.IsUDP() && c.IsListening() {
			n, again, err = sendToFD(c.fd, out.Bytes(), c.remote)
		} else {
			n, again, err = writeFD(c.fd, out.Bytes())
		}
		if err != nil {
			c.fail("write: " + err.Error())
			return
		}
		if again {
			return
		}
		out.Consume(n)
		m.dispatch(c, EvWrite, n)
	}

	if c.flags&flagDraining != 0 && c.send.Len() == 0 &&
		(c.rawSend == nil || c.rawSend.Len() == 0) {
		c.flags |= flagClosing
	}
}

// advanceConn runs the protocol state machine over the receive buffer.
// eof signals that no further bytes will arrive (read-until-close
// response bodies complete here).
func (m *Manager) advanceConn(c *Conn, eof bool) {
	switch c.proto {
	case protoHTTP:
		m.advanceHTTP(c, eof)
	case protoWS:
		if c.flags&flagWebsocket == 0 {
			m.advanceWSHandshake(c)
		}
		if c.flags&flagWebsocket != 0 {
			m.advanceWSFrames(c)
		}
	case protoMQTT:
		m.advanceMQTT(c)
	case protoSNTP:
		m.advanceSNTP(c)
	case protoDNS:
		m.resolverAdvance(c)
	}
}

// advanceHTTP parses as many complete messages as the buffer holds,
// handling pipelining and mid-message protocol switches to WebSocket.
func (m *Manager) advanceHTTP(c *Conn, eof bool) {
	for c.proto == protoHTTP && c.flags&(flagClosing|flagDraining) == 0 {
		data := c.recv.Bytes()
		if len(data) == 0 && c.httpHeadLen == 0 {
			return
		}

		var msg http.Message
		if c.httpHeadLen == 0 {
			headLen, err := http.ParseHeaders(data, &msg)
			if err != nil {
				m.parseFail(c, "http: "+err.Error())
				return
			}
			if headLen == 0 {
				return
			}
			c.httpHeadLen = headLen
			fr := http.MessageFraming(&msg)
			c.httpChunked = fr.Chunked
			c.httpBodyLen = fr.ContentLength
			c.httpChunks = http.ChunkState{}
		} else if _, err := http.ParseHeaders(data, &msg); err != nil {
			m.parseFail(c, "http: "+err.Error())
			return
		}

		if !c.httpHdrsSent {
			c.httpHdrsSent = true
			hv := msg
			hv.Body = data[c.httpHeadLen:]
			hv.Raw = data
			m.dispatch(c, EvHTTPHdrs, &hv)
		}

		var total int
		switch {
		case c.httpChunked:
			done, err := http.DecodeChunked(c.recv, c.httpHeadLen, &c.httpChunks)
			if err != nil {
				m.parseFail(c, "http: "+err.Error())
				return
			}
			if !done {
				return
			}
			total = c.httpHeadLen + c.httpChunks.Parsed
		case c.httpBodyLen < 0:
			// Response framed by connection close.
			if !eof {
				return
			}
			total = c.recv.Len()
		default:
			total = c.httpHeadLen + c.httpBodyLen
			if c.recv.Len() < total {
				return
			}
		}

		data = c.recv.Bytes()
		if _, err := http.ParseHeaders(data, &msg); err != nil {
			m.parseFail(c, "http: "+err.Error())
			return
		}
		msg.Body = data[c.httpHeadLen:total]
		msg.Raw = data[:total]
		c.resetHTTPState()
		m.dispatch(c, EvHTTPMsg, &msg)

		c.recv.Consume(total)
		if c.proto != protoHTTP {
			// The handler upgraded mid-message; the frame parser takes
			// over from here.
			return
		}
	}
}

// advanceWSHandshake completes the client side of the upgrade: the
// server's 101 response arrives as a headers-only HTTP message.
func (m *Manager) advanceWSHandshake(c *Conn) {
	data := c.recv.Bytes()
	var msg http.Message
	headLen, err := http.ParseHeaders(data, &msg)
	if err != nil {
		m.parseFail(c, "websocket: "+err.Error())
		return
	}
	if headLen == 0 {
		return
	}
	if msg.StatusCode() != 101 {
		m.parseFail(c, "websocket: upgrade refused")
		return
	}
	if c.wsKey != "" && msg.HeaderString("Sec-WebSocket-Accept") != websocket.AcceptKey(c.wsKey) {
		m.parseFail(c, "websocket: bad accept key")
		return
	}
	c.flags |= flagWebsocket
	m.dispatch(c, EvWSOpen, &msg)
	c.recv.Consume(headLen)
}

// advanceWSFrames decodes frames, auto-answering pings the handler
// left untouched and echoing close frames.
func (m *Manager) advanceWSFrames(c *Conn) {
	for c.flags&(flagClosing|flagDraining) == 0 {
		fr, err := c.wsDecoder.Next(c.recv)
		if err != nil {
			m.parseFail(c, err.Error())
			return
		}
		if fr == nil {
			return
		}

		if !fr.IsControl() {
			m.dispatch(c, EvWSMsg, fr)
			continue
		}

		queued := c.send.Len()
		m.dispatch(c, EvWSCtl, fr)
		handled := c.send.Len() != queued

		switch fr.Op() {
		case websocket.OpPing:
			if !handled {
				c.WSSend(websocket.OpPong, fr.Payload)
			}
		case websocket.OpClose:
			if !handled {
				c.WSSend(websocket.OpClose, nil)
			}
			c.Drain()
		}
	}
}

// advanceMQTT parses control packets, running the protocol automatics:
// CONNACK surfaces as MQTT_OPEN, QoS 1 publishes are acked, pings are
// answered, DISCONNECT drains.
func (m *Manager) advanceMQTT(c *Conn) {
	for c.flags&(flagClosing|flagDraining) == 0 {
		msg, consumed, err := mqtt.Parse(c.recv.Bytes(), m.opts.MaxMQTTRemaining)
		if err != nil {
			m.parseFail(c, err.Error())
			return
		}
		if consumed == 0 {
			return
		}

		m.dispatch(c, EvMQTTCmd, msg)

		switch msg.Cmd {
		case mqtt.CmdConnack:
			m.dispatch(c, EvMQTTOpen, int(msg.Ack))
		case mqtt.CmdPublish:
			if msg.QoS == 1 {
				mqtt.WritePuback(c.send, mqtt.CmdPuback, msg.ID)
			} else if msg.QoS == 2 {
				mqtt.WritePuback(c.send, mqtt.CmdPubrec, msg.ID)
			}
			m.dispatch(c, EvMQTTMsg, msg)
		case mqtt.CmdPingreq:
			mqtt.WritePingresp(c.send)
		case mqtt.CmdPubrel:
			mqtt.WritePuback(c.send, mqtt.CmdPubcomp, msg.ID)
		case mqtt.CmdDisconnect:
			c.Drain()
		}

		c.recv.Consume(consumed)
	}
}

// parseFail implements the ParseError policy: ERROR, then a draining
// close.
func (m *Manager) parseFail(c *Conn, msg string) {
	m.dispatch(c, EvError, msg)
	c.recv.Reset()
	c.Drain()
}
