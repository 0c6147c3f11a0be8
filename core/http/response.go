package http

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/evnet-io/evnet/core/buffer"
)

// statusText maps the codes the framer emits itself; anything else gets
// the generic reason phrase "Response".
var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	416: "Range Not Satisfiable",
	500: "Internal Server Error",
}

// StatusText returns the reason phrase for a status code.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Response"
}

// Reply writes a complete response into the send buffer. extraHeaders
// holds preformatted "Name: value\r\n" lines; when none of them set a
// Content-Type, text/plain is used. Content-Length always derives from
// the body.
func Reply(out *buffer.IOBuffer, status int, extraHeaders string, body []byte) error {
	var sb strings.Builder
	sb.Grow(len(extraHeaders) + len(body) + 64)
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(strconv.Itoa(status))
	sb.WriteByte(' ')
	sb.WriteString(StatusText(status))
	sb.WriteString("\r\n")
	if extraHeaders != "" {
		sb.WriteString(extraHeaders)
		if !strings.HasSuffix(extraHeaders, "\r\n") {
			sb.WriteString("\r\n")
		}
	}
	if !headerPresent(extraHeaders, "Content-Type") {
		sb.WriteString("Content-Type: text/plain\r\n")
	}
	sb.WriteString("Content-Length: ")
	sb.WriteString(strconv.Itoa(len(body)))
	sb.WriteString("\r\n\r\n")
	sb.Write(body)
	_, err := out.Append([]byte(sb.String()))
	return err
}

// WriteChunk writes one chunked-transfer chunk: a hex length line, the
// data, and a CRLF. An empty chunk terminates the stream. The caller
// owns the prior Transfer-Encoding: chunked header.
func WriteChunk(out *buffer.IOBuffer, data []byte) error {
	head := strconv.FormatInt(int64(len(data)), 16) + "\r\n"
	if _, err := out.Append([]byte(head)); err != nil {
		return err
	}
	if _, err := out.Append(data); err != nil {
		return err
	}
	_, err := out.Append([]byte("\r\n"))
	return err
}

// WriteSSE frames one server-sent event as a chunk: an "event:" line,
// one "data:" line per line of data, and a blank line.
func WriteSSE(out *buffer.IOBuffer, event, data string) error {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return WriteChunk(out, []byte(sb.String()))
}

// WriteBasicAuth appends an Authorization header to an outbound request
// being composed in the send buffer.
func WriteBasicAuth(out *buffer.IOBuffer, user, pass string) error {
	cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	_, err := out.Append([]byte("Authorization: Basic " + cred + "\r\n"))
	return err
}

// WriteRequest composes a complete request for an outbound connection:
// the head, then the body if any. Used by the client-side helpers.
func WriteRequest(out *buffer.IOBuffer, method, uri, host, extraHeaders string, body []byte) error {
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte(' ')
	if uri == "" {
		uri = "/"
	}
	sb.WriteString(uri)
	sb.WriteString(" HTTP/1.1\r\nHost: ")
	sb.WriteString(host)
	sb.WriteString("\r\n")
	if extraHeaders != "" {
		sb.WriteString(extraHeaders)
		if !strings.HasSuffix(extraHeaders, "\r\n") {
			sb.WriteString("\r\n")
		}
	}
	if len(body) > 0 || method == "POST" || method == "PUT" {
		fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	}
	sb.WriteString("\r\n")
	sb.Write(body)
	_, err := out.Append([]byte(sb.String()))
	return err
}

func headerPresent(headers, name string) bool {
	for _, line := range strings.Split(headers, "\r\n") {
		if i := strings.IndexByte(line, ':'); i > 0 {
			if strings.EqualFold(strings.TrimSpace(line[:i]), name) {
				return true
			}
		}
	}
	return false
}
