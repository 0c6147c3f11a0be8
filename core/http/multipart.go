package http

import (
	"bytes"
)

// Part is one section of a multipart/form-data body. Slices alias the
// message body.
type Part struct {
	Name     []byte
	Filename []byte
	Body     []byte
}

// NextMultipart iterates multipart/form-data parts. Pass ofs=0 on the
// first call and the returned offset on subsequent calls; a zero return
// means no further parts.
func NextMultipart(body []byte, ofs int, part *Part) int {
	if ofs >= len(body) {
		return 0
	}
	data := body[ofs:]

	// The first line at a part boundary is "--<boundary>\r\n".
	if len(data) < 2 || data[0] != '-' || data[1] != '-' {
		return 0
	}
	lineEnd := bytes.Index(data, []byte("\r\n"))
	if lineEnd < 0 {
		return 0
	}
	boundary := data[:lineEnd]
	rest := data[lineEnd+2:]
	bodyBase := ofs + lineEnd + 2

	headEnd := bytes.Index(rest, []byte("\r\n\r\n"))
	if headEnd < 0 {
		return 0
	}
	head := rest[:headEnd+4]
	content := rest[headEnd+4:]
	bodyBase += headEnd + 4

	if part != nil {
		part.Name = headerAttr(head, "name")
		part.Filename = headerAttr(head, "filename")
	}

	// Content runs until "\r\n--<boundary>".
	marker := append([]byte("\r\n"), boundary...)
	end := bytes.Index(content, marker)
	if end < 0 {
		return 0
	}
	if part != nil {
		part.Body = content[:end]
	}

	// The returned offset points at the next boundary line; a final
	// "--<boundary>--" there fails the part parse and ends iteration.
	return bodyBase + end + 2
}

// headerAttr extracts a quoted attribute value (name="...") from a
// part's header block.
func headerAttr(head []byte, attr string) []byte {
	needle := []byte(attr + `="`)
	i := bytes.Index(head, needle)
	if i < 0 {
		return nil
	}
	rest := head[i+len(needle):]
	j := bytes.IndexByte(rest, '"')
	if j < 0 {
		return nil
	}
	return rest[:j]
}
