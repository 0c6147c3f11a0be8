//go:build linux || darwin || freebsd || openbsd

package core

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// socketFor opens a non-blocking socket of the right family and type.
func socketFor(a Addr, udp bool) (int, error) {
	family := unix.AF_INET
	if a.Is6 {
		family = unix.AF_INET6
	}
	typ := unix.SOCK_STREAM
	if udp {
		typ = unix.SOCK_DGRAM
	}
	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// openListener binds and, for TCP, listens on addr.
func openListener(a Addr, udp bool) (int, Addr, error) {
	fd, err := socketFor(a, udp)
	if err != nil {
		return -1, Addr{}, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(fd, toSockaddr(a)); err != nil {
		unix.Close(fd)
		return -1, Addr{}, err
	}
	if !udp {
		if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
			unix.Close(fd)
			return -1, Addr{}, err
		}
	}
	local, _ := localAddr(fd)
	return fd, local, nil
}

// acceptConn accepts one pending connection; ok=false means EAGAIN.
func acceptConn(lfd int) (int, Addr, bool, error) {
	nfd, sa, err := unix.Accept(lfd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, Addr{}, false, nil
		}
		return -1, Addr{}, false, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, Addr{}, false, err
	}
	// Nagle off; the send buffer already batches.
	unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	return nfd, fromSockaddr(sa), true, nil
}

// startConnect initiates a non-blocking connect. inProgress reports
// EINPROGRESS (completion surfaces via write readiness).
func startConnect(a Addr, udp bool) (int, bool, error) {
	fd, err := socketFor(a, udp)
	if err != nil {
		return -1, false, err
	}
	if !udp {
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	err = unix.Connect(fd, toSockaddr(a))
	switch err {
	case nil:
		return fd, false, nil
	case unix.EINPROGRESS:
		return fd, true, nil
	default:
		unix.Close(fd)
		return -1, false, err
	}
}

// finishConnect reports the outcome of an in-progress connect.
func finishConnect(fd int) error {
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// readFD reads into p. eof reports orderly shutdown; again reports
// EAGAIN.
func readFD(fd int, p []byte) (n int, eof, again bool, err error) {
	n, err = unix.Read(fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return 0, false, true, nil
	case err == unix.EINTR:
		return 0, false, true, nil
	case err != nil:
		return 0, false, false, err
	case n == 0:
		return 0, true, false, nil
	}
	return n, false, false, nil
}

// writeFD writes as much of p as the kernel accepts.
func writeFD(fd int, p []byte) (int, bool, error) {
	n, err := unix.Write(fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, false, nil
}

// recvFromFD reads one datagram, reporting the sender.
func recvFromFD(fd int, p []byte) (int, Addr, bool, error) {
	n, sa, err := unix.Recvfrom(fd, p, 0)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, Addr{}, true, nil
	}
	if err != nil {
		return 0, Addr{}, false, err
	}
	return n, fromSockaddr(sa), false, nil
}

// sendToFD sends one datagram to peer.
func sendToFD(fd int, p []byte, peer Addr) (int, bool, error) {
	err := unix.Sendto(fd, p, 0, toSockaddr(peer))
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return len(p), false, nil
}

func closeFD(fd int) { unix.Close(fd) }

func localAddr(fd int) (Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Addr{}, err
	}
	return fromSockaddr(sa), nil
}

func toSockaddr(a Addr) unix.Sockaddr {
	if a.Is6 {
		sa := &unix.SockaddrInet6{Port: int(a.Port)}
		sa.Addr = a.IP
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(a.Port)}
	copy(sa.Addr[:], a.IP[:4])
	return sa
}

func fromSockaddr(sa unix.Sockaddr) Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return AddrFrom(netip.AddrFrom4(s.Addr), uint16(s.Port))
	case *unix.SockaddrInet6:
		return AddrFrom(netip.AddrFrom16(s.Addr), uint16(s.Port))
	}
	return Addr{}
}

// socketPair returns a connected non-blocking stream pair for the
// wakeup channel.
func socketPair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return [2]int{-1, -1}, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return [2]int{-1, -1}, err
		}
		unix.CloseOnExec(fd)
	}
	return fds, nil
}
