package core

import (
	"fmt"
	"net/netip"
)

// Addr is an IPv4/IPv6 address record with a port.
type Addr struct {
	IP   [16]byte
	Port uint16
	Is6  bool
}

// AddrFrom builds an Addr from a parsed IP.
func AddrFrom(ip netip.Addr, port uint16) Addr {
	var a Addr
	a.Port = port
	if ip.Is4() {
		b := ip.As4()
		copy(a.IP[:4], b[:])
	} else {
		a.IP = ip.As16()
		a.Is6 = true
	}
	return a
}

// IPAddr returns the address as a netip.Addr.
func (a Addr) IPAddr() netip.Addr {
	if a.Is6 {
		return netip.AddrFrom16(a.IP)
	}
	var b [4]byte
	copy(b[:], a.IP[:4])
	return netip.AddrFrom4(b)
}

// String formats as host:port.
func (a Addr) String() string {
	if a.Is6 {
		return fmt.Sprintf("[%s]:%d", a.IPAddr(), a.Port)
	}
	return fmt.Sprintf("%s:%d", a.IPAddr(), a.Port)
}

// IsZero reports an unset address.
func (a Addr) IsZero() bool {
	return a == Addr{}
}
