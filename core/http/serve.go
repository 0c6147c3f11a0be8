package http

import (
	"bytes"
	"container/list"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evnet-io/evnet/core/buffer"
)

// FileProvider abstracts the filesystem for static serving. The core
// calls it only from ServeDir/ServeFile.
type FileProvider interface {
	Open(path string) (any, error)
	Stat(path string) (size int64, mtime time.Time, err error)
	Read(handle any, offset int64, n int) ([]byte, error)
	Close(handle any)
}

// OSProvider is the default FileProvider backed by the operating
// system, with an LRU cache of open descriptors.
type OSProvider struct {
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lruList  *list.List
	maxFiles int
}

type cacheEntry struct {
	file    *os.File
	element *list.Element
}

// NewOSProvider creates a provider caching up to maxFiles descriptors.
func NewOSProvider(maxFiles int) *OSProvider {
	if maxFiles <= 0 {
		maxFiles = 128
	}
	return &OSProvider{
		cache:    make(map[string]*cacheEntry),
		lruList:  list.New(),
		maxFiles: maxFiles,
	}
}

// Open returns a (possibly cached) handle for path.
func (p *OSProvider) Open(name string) (any, error) {
	p.mu.Lock()
	if entry, ok := p.cache[name]; ok {
		p.lruList.MoveToFront(entry.element)
		p.mu.Unlock()
		return entry.file, nil
	}
	p.mu.Unlock()

	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	element := p.lruList.PushFront(name)
	p.cache[name] = &cacheEntry{file: file, element: element}

	if p.lruList.Len() > p.maxFiles {
		oldest := p.lruList.Back()
		if oldest != nil {
			oldPath := oldest.Value.(string)
			if oldEntry, ok := p.cache[oldPath]; ok {
				oldEntry.file.Close()
				delete(p.cache, oldPath)
			}
			p.lruList.Remove(oldest)
		}
	}
	return file, nil
}

// Stat reports size and modification time for path.
func (p *OSProvider) Stat(name string) (int64, time.Time, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return 0, time.Time{}, err
	}
	if fi.IsDir() {
		return 0, time.Time{}, os.ErrInvalid
	}
	return fi.Size(), fi.ModTime(), nil
}

// Read reads up to n bytes at offset.
func (p *OSProvider) Read(handle any, offset int64, n int) ([]byte, error) {
	f := handle.(*os.File)
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if read > 0 {
		return buf[:read], nil
	}
	return nil, err
}

// Close is a no-op for cached handles; eviction closes them.
func (p *OSProvider) Close(handle any) {}

// CloseAll drops every cached descriptor.
func (p *OSProvider) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.cache {
		entry.file.Close()
	}
	p.cache = make(map[string]*cacheEntry)
	p.lruList.Init()
}

// builtinMime is the default extension table; ServeOpts.MimeTypes
// overrides take precedence.
var builtinMime = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".txt":  "text/plain; charset=utf-8",
}

// MimeType resolves the content type for a filename, consulting
// overrides first.
func MimeType(filename string, overrides map[string]string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if overrides != nil {
		if mt, ok := overrides[ext]; ok {
			return mt
		}
		if mt, ok := overrides[strings.TrimPrefix(ext, ".")]; ok {
			return mt
		}
	}
	if mt, ok := builtinMime[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ServeOpts configures static serving.
type ServeOpts struct {
	RootDir      string
	ExtraHeaders string            // preformatted "Name: value\r\n" lines
	MimeTypes    map[string]string // extension overrides
	Page404      string            // optional file served on miss
	Provider     FileProvider
}

// ServeDir resolves the request URI under RootDir and writes the
// response. Status policy: 200, 206 on a satisfiable Range, 304 on
// If-Modified-Since, 404 on miss, 416 on a bad range.
func ServeDir(out *buffer.IOBuffer, msg *Message, opts *ServeOpts) error {
	uri := string(URLDecode(msg.URI))
	clean := path.Clean("/" + uri)
	if clean == "/" {
		clean = "/index.html"
	}
	full := filepath.Join(opts.RootDir, filepath.FromSlash(clean))

	// Clean already collapsed dot-dots, but never step above the root.
	if !strings.HasPrefix(full, filepath.Clean(opts.RootDir)) {
		return serve404(out, opts)
	}
	return serveFile(out, msg, full, opts)
}

// ServeFile serves one file path with the same policies as ServeDir.
func ServeFile(out *buffer.IOBuffer, msg *Message, name string, opts *ServeOpts) error {
	return serveFile(out, msg, name, opts)
}

func serveFile(out *buffer.IOBuffer, msg *Message, name string, opts *ServeOpts) error {
	prov := opts.Provider
	if prov == nil {
		prov = defaultProvider
	}

	size, mtime, err := prov.Stat(name)
	if err != nil {
		return serve404(out, opts)
	}

	lastMod := mtime.UTC().Format(time.RFC1123)
	lastMod = strings.Replace(lastMod, "UTC", "GMT", 1)

	if ims := msg.Header("If-Modified-Since"); ims != nil {
		if t, perr := time.Parse(time.RFC1123, string(ims)); perr == nil {
			if !mtime.Truncate(time.Second).After(t) {
				return Reply(out, 304, opts.ExtraHeaders+"Last-Modified: "+lastMod+"\r\n", nil)
			}
		}
	}

	status := 200
	var off, length int64 = 0, size
	var contentRange string
	if rng := msg.Header("Range"); rng != nil {
		var ok bool
		off, length, ok = parseRange(rng, size)
		if !ok {
			hdrs := fmt.Sprintf("%sContent-Range: bytes */%d\r\n", opts.ExtraHeaders, size)
			return Reply(out, 416, hdrs, nil)
		}
		status = 206
		contentRange = fmt.Sprintf("Content-Range: bytes %d-%d/%d\r\n", off, off+length-1, size)
	}

	handle, err := prov.Open(name)
	if err != nil {
		return serve404(out, opts)
	}
	defer prov.Close(handle)

	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(strconv.Itoa(status))
	sb.WriteByte(' ')
	sb.WriteString(StatusText(status))
	sb.WriteString("\r\n")
	sb.WriteString(opts.ExtraHeaders)
	sb.WriteString("Content-Type: ")
	sb.WriteString(MimeType(name, opts.MimeTypes))
	sb.WriteString("\r\nLast-Modified: ")
	sb.WriteString(lastMod)
	sb.WriteString("\r\n")
	sb.WriteString(contentRange)
	sb.WriteString("Content-Length: ")
	sb.WriteString(strconv.FormatInt(length, 10))
	sb.WriteString("\r\n\r\n")
	if _, err := out.Append([]byte(sb.String())); err != nil {
		return err
	}

	if bytes.Equal(msg.Method, []byte("HEAD")) {
		return nil
	}

	const readChunk = 64 * 1024
	for length > 0 {
		n := readChunk
		if int64(n) > length {
			n = int(length)
		}
		data, rerr := prov.Read(handle, off, n)
		if rerr != nil || len(data) == 0 {
			break
		}
		if _, aerr := out.Append(data); aerr != nil {
			return aerr
		}
		off += int64(len(data))
		length -= int64(len(data))
	}
	return nil
}

func serve404(out *buffer.IOBuffer, opts *ServeOpts) error {
	if opts.Page404 != "" {
		prov := opts.Provider
		if prov == nil {
			prov = defaultProvider
		}
		if size, _, err := prov.Stat(opts.Page404); err == nil {
			if handle, err := prov.Open(opts.Page404); err == nil {
				defer prov.Close(handle)
				if data, err := prov.Read(handle, 0, int(size)); err == nil {
					hdrs := "Content-Type: " + MimeType(opts.Page404, opts.MimeTypes) + "\r\n"
					return Reply(out, 404, opts.ExtraHeaders+hdrs, data)
				}
			}
		}
	}
	return Reply(out, 404, opts.ExtraHeaders, []byte("Not Found"))
}

// parseRange handles the single-range form "bytes=a-b", "bytes=a-" and
// the suffix form "bytes=-n".
func parseRange(rng []byte, size int64) (off, length int64, ok bool) {
	s := string(rng)
	if !strings.HasPrefix(s, "bytes=") {
		return 0, 0, false
	}
	s = s[len("bytes="):]
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return 0, 0, false
	}
	start, end := strings.TrimSpace(s[:dash]), strings.TrimSpace(s[dash+1:])

	if start == "" {
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(end, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, true
	}

	a, err := strconv.ParseInt(start, 10, 64)
	if err != nil || a < 0 || a >= size {
		return 0, 0, false
	}
	if end == "" {
		return a, size - a, true
	}
	b, err := strconv.ParseInt(end, 10, 64)
	if err != nil || b < a {
		return 0, 0, false
	}
	if b >= size {
		b = size - 1
	}
	return a, b - a + 1, true
}

var defaultProvider = NewOSProvider(128)
