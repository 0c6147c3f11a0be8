//go:build darwin || freebsd || openbsd
// +build darwin freebsd openbsd

package poller

import (
	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer.
type KqueuePoller struct {
	kqfd    int
	events  []unix.Kevent_t
	results []Ready
	write   map[int]bool
}

// NewPoller creates a new Poller (BSD/macOS).
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
		write:  make(map[int]bool),
	}, nil
}

// Add registers fd for read readiness. Level-triggered for the same
// reason as the epoll backend.
func (p *KqueuePoller) Add(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// SetWrite toggles an EVFILT_WRITE filter for fd.
func (p *KqueuePoller) SetWrite(fd int, want bool) error {
	if p.write[fd] == want {
		return nil
	}
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !want {
		flags = unix.EV_DELETE
	}
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_WRITE,
		Flags:  flags,
	}
	if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return err
	}
	p.write[fd] = want
	return nil
}

// Remove deregisters fd from both filters.
func (p *KqueuePoller) Remove(fd int) error {
	evs := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}}
	if p.write[fd] {
		evs = append(evs, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  unix.EV_DELETE,
		})
	}
	delete(p.write, fd)
	_, err := unix.Kevent(p.kqfd, evs, nil, nil)
	return err
}

// Wait waits for I/O events.
func (p *KqueuePoller) Wait(timeout int) ([]Ready, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.Timespec{
			Sec:  int64(timeout / 1000),
			Nsec: int64((timeout % 1000) * 1000000),
		}
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
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
			FD:       int(ev.Ident),
			Readable: ev.Filter == unix.EVFILT_READ,
			Writable: ev.Filter == unix.EVFILT_WRITE,
			Err:      ev.Flags&unix.EV_ERROR != 0,
		})
	}
	return p.results, nil
}

// Close closes the kqueue instance.
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
