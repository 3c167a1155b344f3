//go:build linux

package aio

import "golang.org/x/sys/unix"

// wakeFD is the cross-goroutine wakeup primitive used to interrupt a
// blocked poll() when Post or LoopBreak is called from outside the
// reactor's own goroutine, grounded on the teacher's own
// createWakeFd/drainWakeUpPipe (eventfd-based on Linux).
type wakeFD struct {
	fd int
}

func newWakeFD() (*wakeFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, wrapError(CodeIOError, "eventfd", err)
	}
	return &wakeFD{fd: fd}, nil
}

func (w *wakeFD) readFD() int { return w.fd }

func (w *wakeFD) signal() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (w *wakeFD) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeFD) close() error {
	return unix.Close(w.fd)
}
