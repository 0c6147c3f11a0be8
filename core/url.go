package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadURL reports an endpoint string the runtime cannot interpret.
var ErrBadURL = errors.New("core: bad endpoint url")

// endpoint is a parsed listen/connect target.
type endpoint struct {
	scheme string
	host   string // hostname or literal IP
	port   uint16
	uri    string // path + query, HTTP-family schemes only
	proto  protocol
	tls    bool
	udp    bool
}

var schemeDefaults = map[string]struct {
	port  uint16
	proto protocol
	tls   bool
	udp   bool
}{
	"tcp":   {0, protoTCP, false, false},
	"udp":   {0, protoTCP, false, true},
	"http":  {80, protoHTTP, false, false},
	"https": {443, protoHTTP, true, false},
	"ws":    {80, protoWS, false, false},
	"wss":   {443, protoWS, true, false},
	"mqtt":  {1883, protoMQTT, false, false},
	"mqtts": {8883, protoMQTT, true, false},
	"sntp":  {123, protoSNTP, false, true},
	"dns":   {53, protoDNS, false, true},
}

// parseURL understands scheme://host:port/path. A missing port falls
// back to the scheme default; tcp and udp require an explicit one.
func parseURL(raw string) (endpoint, error) {
	var ep endpoint

	i := strings.Index(raw, "://")
	if i <= 0 {
		return ep, fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	ep.scheme = strings.ToLower(raw[:i])
	rest := raw[i+3:]

	def, ok := schemeDefaults[ep.scheme]
	if !ok {
		return ep, fmt.Errorf("%w: unknown scheme %q", ErrBadURL, ep.scheme)
	}
	ep.proto, ep.tls, ep.udp, ep.port = def.proto, def.tls, def.udp, def.port

	if j := strings.IndexAny(rest, "/?"); j >= 0 {
		ep.uri = rest[j:]
		rest = rest[:j]
	}
	if ep.uri == "" {
		ep.uri = "/"
	}

	hostport := rest
	if strings.HasPrefix(hostport, "[") {
		// Bracketed IPv6 literal.
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return ep, fmt.Errorf("%w: %q", ErrBadURL, raw)
		}
		ep.host = hostport[1:end]
		hostport = hostport[end+1:]
		if strings.HasPrefix(hostport, ":") {
			p, err := strconv.ParseUint(hostport[1:], 10, 16)
			if err != nil {
				return ep, fmt.Errorf("%w: %q", ErrBadURL, raw)
			}
			ep.port = uint16(p)
		}
	} else if j := strings.LastIndexByte(hostport, ':'); j >= 0 {
		ep.host = hostport[:j]
		p, err := strconv.ParseUint(hostport[j+1:], 10, 16)
		if err != nil {
			return ep, fmt.Errorf("%w: %q", ErrBadURL, raw)
		}
		ep.port = uint16(p)
	} else {
		ep.host = hostport
	}

	if ep.host == "" {
		return ep, fmt.Errorf("%w: missing host in %q", ErrBadURL, raw)
	}
	if ep.port == 0 && (ep.scheme == "tcp" || ep.scheme == "udp") {
		// Port zero is legal for listeners (kernel-assigned) but tcp://
		// and udp:// with no port at all is almost always a mistake;
		// require the colon.
		if !strings.Contains(rest, ":") && !strings.Contains(raw, "]:") {
			return ep, fmt.Errorf("%w: missing port in %q", ErrBadURL, raw)
		}
	}
	return ep, nil
}
