//go:build linux

package aio

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxStaticFDs bounds the direct-indexed fast path; fds beyond it fall
// back to growing the slice, the same dynamic-growth strategy the
// teacher's Darwin poller uses unconditionally.
const maxStaticFDs = 4096

type fdEntry struct {
	cb       ioCallback
	interest ioInterest
	active   bool
}

type epollPoller struct {
	epfd     int
	eventBuf [256]unix.EpollEvent

	mu  sync.RWMutex
	fds []fdEntry
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapError(CodeIOError, "epoll_create1", err)
	}
	return &epollPoller{
		epfd: epfd,
		fds:  make([]fdEntry, maxStaticFDs),
	}, nil
}

func (p *epollPoller) grow(fd int) {
	if fd < len(p.fds) {
		return
	}
	newSize := fd*2 + 1
	newFds := make([]fdEntry, newSize)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *epollPoller) registerFD(fd int, interest ioInterest, cb ioCallback) error {
	p.mu.Lock()
	p.grow(fd)
	if p.fds[fd].active {
		p.mu.Unlock()
		return newError(CodeBusy, "fd already registered")
	}
	p.fds[fd] = fdEntry{cb: cb, interest: interest, active: true}
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.mu.Lock()
		p.fds[fd] = fdEntry{}
		p.mu.Unlock()
		return wrapError(CodeIOError, "epoll_ctl add", err)
	}
	return nil
}

func (p *epollPoller) modifyFD(fd int, interest ioInterest) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return newError(CodeBadResource, "fd not registered")
	}
	p.fds[fd].interest = interest
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return wrapError(CodeIOError, "epoll_ctl mod", err)
	}
	return nil
}

func (p *epollPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return newError(CodeBadResource, "fd not registered")
	}
	p.fds[fd] = fdEntry{}
	p.mu.Unlock()

	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) poll(timeoutMs int) error {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return wrapError(CodeIOError, "epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		p.mu.RLock()
		var info fdEntry
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.mu.RUnlock()

		if info.active && info.cb != nil {
			info.cb(epollToInterest(p.eventBuf[i].Events))
		}
	}
	return nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func interestToEpoll(i ioInterest) uint32 {
	var e uint32
	if i&ioRead != 0 {
		e |= unix.EPOLLIN
	}
	if i&ioWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToInterest(e uint32) ioInterest {
	var i ioInterest
	if e&unix.EPOLLIN != 0 {
		i |= ioRead
	}
	if e&unix.EPOLLOUT != 0 {
		i |= ioWrite
	}
	if e&unix.EPOLLERR != 0 {
		i |= ioError
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		i |= ioHangup
	}
	return i
}
