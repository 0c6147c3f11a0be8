//go:build linux
// +build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer.
type EpollPoller struct {
	epfd    int
	events  []unix.EpollEvent
	results []Ready
	write   map[int]bool
}

// NewPoller creates a new Poller (Linux).
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
		write:  make(map[int]bool),
	}, nil
}

// Add registers fd for read readiness. Level-triggered; edge-triggered
// mode would force full drains inside a single tick and break the
// backpressure discipline.
func (p *EpollPoller) Add(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// SetWrite toggles EPOLLOUT interest for fd.
func (p *EpollPoller) SetWrite(fd int, want bool) error {
	if p.write[fd] == want {
		return nil
	}
	events := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if want {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	p.write[fd] = want
	return nil
}

// Remove deregisters fd.
func (p *EpollPoller) Remove(fd int) error {
	delete(p.write, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events.
func (p *EpollPoller) Wait(timeout int) ([]Ready, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	p.results = p.results[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		p.results = append(p.results, Ready{
			FD:       int(ev.Fd),
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Err:      ev.Events&unix.EPOLLERR != 0,
		})
	}
	return p.results, nil
}

// Close closes the epoll instance.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
