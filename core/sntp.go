package core

import (
	"encoding/binary"

	"github.com/evnet-io/evnet/core/buffer"
)

// Seconds between the NTP epoch (1900) and the Unix epoch (1970).
const ntpUnixDelta = 2208988800

// DefaultSNTPServer is used when SNTPConnect gets an empty url.
const DefaultSNTPServer = "sntp://time.google.com:123"

// SNTPConnect opens an SNTP v4 client connection. A request goes out
// as soon as the UDP association is up; the reply surfaces as
// EvSNTPTime with epoch milliseconds.
func (m *Manager) SNTPConnect(url string, h Handler) (*Conn, error) {
	if url == "" {
		url = DefaultSNTPServer
	}
	return m.Connect(url, h)
}

// SNTPRequest re-sends a time request on an established SNTP
// connection, for periodic re-synchronization via a timer.
func (c *Conn) SNTPRequest() error {
	return writeSNTPRequest(c.send)
}

// writeSNTPRequest frames a 48-byte SNTP v4 client request: LI=0,
// VN=4, Mode=3 (client).
func writeSNTPRequest(out *buffer.IOBuffer) error {
	var pkt [48]byte
	pkt[0] = 0x23
	_, err := out.Append(pkt[:])
	return err
}

// advanceSNTP decodes a server reply. The transmit timestamp at offset
// 40 is seconds-since-1900 plus a 32-bit binary fraction.
func (m *Manager) advanceSNTP(c *Conn) {
	data := c.recv.Bytes()
	if len(data) < 48 {
		return
	}

	mode := data[0] & 7
	if mode != 4 && mode != 5 {
		m.parseFail(c, "sntp: not a server reply")
		return
	}

	secs := binary.BigEndian.Uint32(data[40:44])
	frac := binary.BigEndian.Uint32(data[44:48])
	if secs < ntpUnixDelta {
		m.parseFail(c, "sntp: bad timestamp")
		return
	}
	ms := int64(secs-ntpUnixDelta)*1000 + int64(uint64(frac)*1000>>32)

	c.recv.Reset()
	m.dispatch(c, EvSNTPTime, ms)
}
