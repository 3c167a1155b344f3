//go:build darwin || freebsd || netbsd || openbsd

package aio

import "golang.org/x/sys/unix"

// wakeFD is the self-pipe fallback used on platforms without eventfd.
// This is the same cross-platform notification trick libevent itself
// uses internally, and the one the original C++ context relies on
// through event_active/event_base_loopbreak; a self-pipe is the portable
// Go equivalent where kqueue's EVFILT_USER is not wired.
type wakeFD struct {
	r, w int
}

func newWakeFD() (*wakeFD, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, wrapError(CodeIOError, "pipe2", err)
	}
	return &wakeFD{r: fds[0], w: fds[1]}, nil
}

func (w *wakeFD) readFD() int { return w.r }

func (w *wakeFD) signal() error {
	_, err := unix.Write(w.w, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (w *wakeFD) drain() {
	var buf [64]byte
	for {
		_, err := unix.Read(w.r, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeFD) close() error {
	_ = unix.Close(w.w)
	return unix.Close(w.r)
}
