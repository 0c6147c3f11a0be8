package core

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

// resolveTimeoutMS bounds a hostname lookup before the connection
// fails with ERROR.
const resolveTimeoutMS = 5000

// resolver performs asynchronous hostname lookups over a UDP
// pseudo-connection inside the same loop, so Connect never blocks.
type resolver struct {
	conn    *Conn
	server  Addr
	nextQID uint16
	pending map[uint16]*Conn
}

// resolve queues a lookup for c's connect host. The connection stays in
// the resolving state until the answer lands or the timeout fires.
func (m *Manager) resolve(c *Conn, host string) error {
	r, err := m.resolverInit()
	if err != nil {
		return err
	}

	r.nextQID++
	if r.nextQID == 0 {
		r.nextQID = 1
	}
	qid := r.nextQID

	q, err := buildQuery(qid, host)
	if err != nil {
		return fmt.Errorf("core: resolve %s: %w", host, err)
	}
	if err := r.conn.Send(q); err != nil {
		return err
	}
	r.pending[qid] = c

	m.AddTimer(resolveTimeoutMS, TimerOnce|TimerAutodelete, func(any) {
		if r.pending[qid] == c {
			delete(r.pending, qid)
			c.fail("resolve: timeout for " + host)
		}
	}, nil)
	return nil
}

// ResolveCancel abandons an in-flight lookup and closes the
// connection without an ERROR event.
func (m *Manager) ResolveCancel(c *Conn) {
	if m.resolver != nil {
		for qid, pc := range m.resolver.pending {
			if pc == c {
				delete(m.resolver.pending, qid)
			}
		}
	}
	c.flags &^= flagResolving
	c.flags |= flagClosing
}

func (m *Manager) resolverInit() (*resolver, error) {
	if m.resolver != nil {
		return m.resolver, nil
	}
	server := systemNameserver()

	c := m.newConn(-1, protoDNS, flagClient|flagUDP, func(*Conn, Event, any) {})
	if err := m.startConnect(c, server); err != nil {
		c.flags |= flagClosing
		return nil, fmt.Errorf("core: resolver: %w", err)
	}

	m.resolver = &resolver{
		conn:    c,
		server:  server,
		pending: make(map[uint16]*Conn),
	}
	return m.resolver, nil
}

// resolverAdvance parses one answer out of the resolver connection's
// receive buffer and finishes the waiting connect.
func (m *Manager) resolverAdvance(c *Conn) {
	data := c.recv.Bytes()
	if len(data) == 0 {
		return
	}
	defer c.recv.Reset()

	var p dnsmessage.Parser
	hdr, err := p.Start(data)
	if err != nil {
		return
	}
	r := m.resolver
	target, ok := r.pending[hdr.ID]
	if !ok {
		return
	}
	delete(r.pending, hdr.ID)

	if err := p.SkipAllQuestions(); err != nil {
		target.fail("resolve: bad answer")
		return
	}

	var ip netip.Addr
	for {
		h, err := p.AnswerHeader()
		if err != nil {
			break
		}
		switch h.Type {
		case dnsmessage.TypeA:
			res, err := p.AResource()
			if err == nil {
				ip = netip.AddrFrom4(res.A)
			}
		case dnsmessage.TypeAAAA:
			res, err := p.AAAAResource()
			if err == nil && !ip.IsValid() {
				ip = netip.AddrFrom16(res.AAAA)
			}
		default:
			p.SkipAnswer()
		}
		if ip.Is4() {
			break
		}
	}

	if !ip.IsValid() {
		target.fail("resolve: no address for " + target.connectHost)
		return
	}

	target.flags &^= flagResolving
	m.dispatch(target, EvResolve, nil)
	if err := m.startConnect(target, AddrFrom(ip, target.connectPort)); err != nil {
		target.fail("connect: " + err.Error())
	}
}

func buildQuery(qid uint16, host string) ([]byte, error) {
	name, err := dnsmessage.NewName(host + ".")
	if err != nil {
		return nil, err
	}
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{
		ID:               qid,
		RecursionDesired: true,
	})
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(dnsmessage.Question{
		Name:  name,
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		return nil, err
	}
	return b.Finish()
}

// systemNameserver reads the first nameserver from /etc/resolv.conf,
// falling back to a public resolver.
func systemNameserver() Addr {
	fallback := AddrFrom(netip.AddrFrom4([4]byte{8, 8, 8, 8}), 53)
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return fallback
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) >= 2 && fields[0] == "nameserver" {
			if ip, err := netip.ParseAddr(fields[1]); err == nil {
				return AddrFrom(ip, 53)
			}
		}
	}
	return fallback
}
