package http

import (
	"bytes"
	"errors"
)

var (
	// ErrMalformed reports an unparseable start line or header block.
	ErrMalformed = errors.New("http: malformed message")
	// ErrBadChunk reports invalid chunked-transfer framing.
	ErrBadChunk = errors.New("http: bad chunk")
)

// ParseHeaders scans data for a complete start line and header block.
// It returns the head length (through the blank line) and fills msg.
// A zero length means more bytes are needed.
func ParseHeaders(data []byte, msg *Message) (int, error) {
	headEnd := bytes.Index(data, []byte("\r\n\r\n"))
	if headEnd == -1 {
		// Tolerate bare-LF clients the way the wire actually looks.
		if headEnd = bytes.Index(data, []byte("\n\n")); headEnd == -1 {
			if len(data) > 8192 {
				return 0, ErrMalformed
			}
			return 0, nil
		}
		headEnd += 2
	} else {
		headEnd += 4
	}

	*msg = Message{}
	head := data[:headEnd]
	msg.Head = head

	lineEnd := bytes.IndexByte(head, '\n')
	line := trimCR(head[:lineEnd])

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return 0, ErrMalformed
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 < 0 {
		// Status lines may carry no reason phrase; two tokens suffice.
		sp2 = len(rest)
	}

	msg.Method = line[:sp1]
	msg.URI = rest[:sp2]
	if sp2 < len(rest) {
		msg.Proto = rest[sp2+1:]
	}

	if q := bytes.IndexByte(msg.URI, '?'); q >= 0 {
		msg.Query = msg.URI[q+1:]
		msg.URI = msg.URI[:q]
	}

	if err := parseHeaderLines(head[lineEnd+1:], msg); err != nil {
		return 0, err
	}
	return headEnd, nil
}

func parseHeaderLines(data []byte, msg *Message) error {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			break
		}
		line := trimCR(data[:lineEnd])
		data = data[lineEnd+1:]

		if len(line) == 0 {
			break
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return ErrMalformed
		}
		if msg.NHeaders >= MaxHeaders {
			// Table full; extra headers are dropped.
			continue
		}
		h := &msg.Headers[msg.NHeaders]
		h.Name = bytes.TrimSpace(line[:colon])
		h.Value = bytes.TrimSpace(line[colon+1:])
		msg.NHeaders++
	}
	return nil
}

// Framing describes how a message's body is delimited.
type Framing struct {
	Chunked       bool
	ContentLength int // valid when !Chunked; -1 means read-until-close
}

// MessageFraming determines body framing from the parsed headers.
// Requests without Content-Length or chunked encoding have empty
// bodies; responses without either are read until close.
func MessageFraming(msg *Message) Framing {
	if te := msg.Header("Transfer-Encoding"); te != nil {
		if bytes.Contains(bytes.ToLower(te), []byte("chunked")) {
			return Framing{Chunked: true}
		}
	}
	if cl := msg.Header("Content-Length"); cl != nil {
		n := 0
		for _, c := range cl {
			if c < '0' || c > '9' {
				n = 0
				break
			}
			n = n*10 + int(c-'0')
		}
		return Framing{ContentLength: n}
	}
	if msg.IsResponse() {
		return Framing{ContentLength: -1}
	}
	return Framing{ContentLength: 0}
}

// ChunkState carries incremental chunked-decode progress for one
// message: the number of de-framed body bytes accumulated so far.
type ChunkState struct {
	Parsed int
}

// Deleter is the slice of buffer behavior the chunk decoder needs: it
// strips framing bytes in place so the decoded body stays contiguous
// right after the header block.
type Deleter interface {
	Bytes() []byte
	Delete(off, n int)
}

// DecodeChunked advances the in-place chunked decode. headLen is the
// message head length in the buffer. It returns true once the
// zero-length terminator chunk has been consumed.
func DecodeChunked(b Deleter, headLen int, st *ChunkState) (bool, error) {
	for {
		data := b.Bytes()
		off := headLen + st.Parsed
		if off > len(data) {
			return false, ErrBadChunk
		}
		rest := data[off:]

		lineEnd := bytes.Index(rest, []byte("\r\n"))
		if lineEnd == -1 {
			if len(rest) > 18 {
				return false, ErrBadChunk
			}
			return false, nil
		}

		size, ok := parseHex(rest[:lineEnd])
		if !ok {
			return false, ErrBadChunk
		}

		if size == 0 {
			// Terminator: "0\r\n\r\n".
			if len(rest) < lineEnd+4 {
				return false, nil
			}
			if !bytes.Equal(rest[lineEnd:lineEnd+4], []byte("\r\n\r\n")) {
				return false, ErrBadChunk
			}
			b.Delete(off, lineEnd+4)
			return true, nil
		}

		// Need the size line, the data, and its trailing CRLF.
		if len(rest) < lineEnd+2+size+2 {
			return false, nil
		}
		if rest[lineEnd+2+size] != '\r' || rest[lineEnd+2+size+1] != '\n' {
			return false, ErrBadChunk
		}

		// Strip the trailing CRLF first so offsets stay valid.
		b.Delete(off+lineEnd+2+size, 2)
		b.Delete(off, lineEnd+2)
		st.Parsed += size
	}
}

func parseHex(s []byte) (int, bool) {
	if len(s) == 0 || len(s) > 8 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			n = n<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			n = n<<4 | int(c-'a'+10)
		case c >= 'A' && c <= 'F':
			n = n<<4 | int(c-'A'+10)
		default:
			return 0, false
		}
	}
	return n, true
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}
