package aio

// ioInterest is the set of OS-level readiness conditions a poller can
// wait on for a single file descriptor. It is deliberately narrower than
// the user-facing readiness mask (Readiness, in event.go): timers, signals and
// the CLOSED condition are synthesized above the poller, not requested
// from it.
type ioInterest uint32

const (
	ioRead ioInterest = 1 << iota
	ioWrite
	ioError
	ioHangup
)

// ioCallback receives the set of interests that became ready.
type ioCallback func(ioInterest)

// poller is the OS-specific readiness multiplexer underlying the Reactor,
// mirroring the shape of the teacher's own FastPoller type (one
// implementation per platform, registered by fd with a callback).
type poller interface {
	registerFD(fd int, interest ioInterest, cb ioCallback) error
	modifyFD(fd int, interest ioInterest) error
	unregisterFD(fd int) error
	// poll blocks for up to timeoutMs (or indefinitely if negative),
	// dispatching any ready callbacks before returning.
	poll(timeoutMs int) error
	close() error
}
