//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package aio

// wakeFD is a no-op stub on platforms with no wired poller (see
// poller_stub.go); the Reactor never reaches a point where it needs a
// real wakeup mechanism, since newPoller fails construction first.
type wakeFD struct{}

func newWakeFD() (*wakeFD, error) { return &wakeFD{}, nil }
func (w *wakeFD) readFD() int     { return -1 }
func (w *wakeFD) signal() error   { return nil }
func (w *wakeFD) drain()          {}
func (w *wakeFD) close() error    { return nil }
