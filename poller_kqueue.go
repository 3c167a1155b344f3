//go:build darwin || freebsd || netbsd || openbsd

package aio

import (
	"sync"

	"golang.org/x/sys/unix"
)

type fdEntry struct {
	cb       ioCallback
	interest ioInterest
	active   bool
}

type kqueuePoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t

	mu  sync.RWMutex
	fds []fdEntry
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, wrapError(CodeIOError, "kqueue", err)
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, fds: make([]fdEntry, 1024)}, nil
}

func (p *kqueuePoller) grow(fd int) {
	if fd < len(p.fds) {
		return
	}
	newFds := make([]fdEntry, fd*2+1)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *kqueuePoller) registerFD(fd int, interest ioInterest, cb ioCallback) error {
	p.mu.Lock()
	p.grow(fd)
	if p.fds[fd].active {
		p.mu.Unlock()
		return newError(CodeBusy, "fd already registered")
	}
	p.fds[fd] = fdEntry{cb: cb, interest: interest, active: true}
	p.mu.Unlock()

	kevents := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			p.mu.Lock()
			p.fds[fd] = fdEntry{}
			p.mu.Unlock()
			return wrapError(CodeIOError, "kevent add", err)
		}
	}
	return nil
}

func (p *kqueuePoller) modifyFD(fd int, interest ioInterest) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return newError(CodeBadResource, "fd not registered")
	}
	old := p.fds[fd].interest
	p.fds[fd].interest = interest
	p.mu.Unlock()

	if removed := old &^ interest; removed != 0 {
		if kevents := interestToKevents(fd, removed, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(p.kq, kevents, nil, nil)
		}
	}
	if added := interest &^ old; added != 0 {
		if kevents := interestToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
				return wrapError(CodeIOError, "kevent mod", err)
			}
		}
	}
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return newError(CodeBadResource, "fd not registered")
	}
	interest := p.fds[fd].interest
	p.fds[fd] = fdEntry{}
	p.mu.Unlock()

	if kevents := interestToKevents(fd, interest, unix.EV_DELETE); len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) poll(timeoutMs int) error {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return wrapError(CodeIOError, "kevent wait", err)
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		p.mu.RLock()
		var info fdEntry
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.mu.RUnlock()

		if info.active && info.cb != nil {
			info.cb(keventToInterest(&p.eventBuf[i]))
		}
	}
	return nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}

func interestToKevents(fd int, interest ioInterest, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if interest&ioRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&ioWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func keventToInterest(kev *unix.Kevent_t) ioInterest {
	var i ioInterest
	switch kev.Filter {
	case unix.EVFILT_READ:
		i |= ioRead
	case unix.EVFILT_WRITE:
		i |= ioWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		i |= ioError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		i |= ioHangup
	}
	return i
}
