package aio

import "time"

// Readiness is a bitmask of conditions a ReadinessEvent can settle with.
type Readiness uint32

const (
	// Read indicates the fd is ready for a non-blocking read.
	Read Readiness = 1 << iota
	// Write indicates the fd is ready for a non-blocking write.
	Write
	// Timeout indicates the subscription's deadline elapsed.
	Timeout
	// Closed indicates the fd (or a logical peer) has gone away.
	Closed
	// Persist is rejected as an input mask to On; use OnPersist instead.
	Persist
)

// ReadinessEvent is a per-fd (or, for synthetic waiters, per-object)
// one-shot or persistent subscription to readiness conditions. Exactly
// one subscription may be pending at a time.
type ReadinessEvent struct {
	reactor *Reactor
	fd      int // -1 for a synthetic event not backed by a real fd

	mask     Readiness // currently requested mask, valid only while pending
	resolve  func(Readiness)
	reject   func(error)
	isPending bool

	interest ioInterest // currently armed poller interest for fd-backed events
	timer    *timerTask
}

// NewReadinessEvent constructs a ReadinessEvent bound to fd. Pass fd -1
// to construct a synthetic event that only ever settles via Trigger or a
// timeout — the shape used internally by Channel's waiter lists.
func NewReadinessEvent(r *Reactor, fd int) *ReadinessEvent {
	return &ReadinessEvent{reactor: r, fd: fd}
}

// Pending reports whether a subscription is outstanding.
func (e *ReadinessEvent) Pending() bool {
	return e.isPending
}

// On registers interest in mask, settling once any requested condition
// becomes true, or after timeout elapses if timeout > 0.
func (e *ReadinessEvent) On(mask Readiness, timeout time.Duration) *Continuation[Readiness] {
	if e.isPending {
		return Reject[Readiness](e.reactor, newError(CodeBusy, "readiness event already has a pending subscription"))
	}
	if mask&Persist != 0 {
		return Reject[Readiness](e.reactor, newError(CodeInvalidArgument, "persistent flag should not be used with On"))
	}

	c, resolve, reject := NewContinuation[Readiness](e.reactor)
	e.arm(mask, timeout, resolve, reject)
	return c
}

func (e *ReadinessEvent) arm(mask Readiness, timeout time.Duration, resolve func(Readiness), reject func(error)) {
	e.isPending = true
	e.mask = mask
	e.resolve = resolve
	e.reject = reject

	if e.fd >= 0 {
		want := ioInterest(0)
		if mask&Read != 0 {
			want |= ioRead
		}
		if mask&Write != 0 {
			want |= ioWrite
		}
		e.interest = want
		_ = e.reactor.p.registerFD(e.fd, want, e.onReady)
		// registerFD fails with CodeBusy if already registered (e.g. a
		// duplex Buffer keeps the fd registered across many On calls);
		// fall back to modify in that case.
		_ = e.reactor.p.modifyFD(e.fd, want)
	}

	if timeout > 0 {
		e.timer = e.reactor.scheduleTimer(timeout, 0, func(time.Time) bool {
			e.settle(Timeout, nil)
			return false
		})
	}
}

func (e *ReadinessEvent) onReady(ready ioInterest) {
	var bits Readiness
	if ready&ioRead != 0 && e.mask&Read != 0 {
		bits |= Read
	}
	if ready&ioWrite != 0 && e.mask&Write != 0 {
		bits |= Write
	}
	if ready&(ioError|ioHangup) != 0 {
		bits |= Closed
	}
	if bits == 0 {
		return
	}
	e.settle(bits, nil)
}

func (e *ReadinessEvent) settle(bits Readiness, err error) {
	if !e.isPending {
		return
	}
	resolve, reject := e.resolve, e.reject
	e.isPending = false
	e.resolve, e.reject = nil, nil

	if e.timer != nil {
		e.reactor.cancelTimer(e.timer)
		e.timer = nil
	}
	if e.fd >= 0 {
		_ = e.reactor.p.modifyFD(e.fd, 0)
	}

	if err != nil {
		reject(err)
		return
	}
	resolve(bits)
}

// Cancel dequeues a pending subscription, rejecting it with CANCELLED.
// A no-op if nothing is pending.
func (e *ReadinessEvent) Cancel() {
	if e.isPending {
		e.settle(0, newError(CodeCancelled, "readiness event cancelled"))
	}
}

// Close unregisters the event's fd from the poller, if any, and cancels
// any pending subscription.
func (e *ReadinessEvent) Close() {
	e.Cancel()
	if e.fd >= 0 {
		_ = e.reactor.p.unregisterFD(e.fd)
	}
}

// Trigger posts a synthetic firing of bits, settling a pending
// subscription as though the underlying condition had occurred. Used by
// Channel to wake loop-side waiters without real fd activity.
func (e *ReadinessEvent) Trigger(bits Readiness) {
	if !e.isPending {
		return
	}
	e.settle(bits, nil)
}

// OnPersist repeatedly re-arms On(mask, timeout), stopping once
// predicate(bits) returns false, or the subscription is cancelled or
// errors.
func (e *ReadinessEvent) OnPersist(mask Readiness, predicate func(Readiness) bool, timeout time.Duration) *Continuation[struct{}] {
	return LoopAsync(e.reactor, func() *Continuation[LoopAction] {
		return ThenMap(e.On(mask, timeout), func(bits Readiness) (LoopAction, error) {
			if predicate(bits) {
				return Continue, nil
			}
			return Break, nil
		})
	})
}
