package aio

import "time"

// Timer is a reactor-owned deadline subscription, settling a
// Continuation once (SetTimeout) or repeatedly (SetInterval).
type Timer struct {
	reactor  *Reactor
	task     *timerTask
	onCancel func()
}

// NewTimer constructs an unarmed Timer on r.
func NewTimer(r *Reactor) *Timer {
	return &Timer{reactor: r}
}

// Pending reports whether the timer currently has an outstanding
// subscription.
func (t *Timer) Pending() bool {
	return t.task != nil && !t.task.cancelled
}

// Cancel dequeues any pending subscription, rejecting it with CANCELLED.
func (t *Timer) Cancel() {
	if t.task == nil {
		return
	}
	t.reactor.cancelTimer(t.task)
	if t.onCancel != nil {
		t.onCancel()
		t.onCancel = nil
	}
	t.task = nil
}

// SetTimeout settles once after d elapses.
func (t *Timer) SetTimeout(d time.Duration) *Continuation[struct{}] {
	t.Cancel()
	c, resolve, reject := NewContinuation[struct{}](t.reactor)
	t.onCancel = func() { reject(newError(CodeCancelled, "timer cancelled")) }
	t.task = t.reactor.scheduleTimer(d, 0, func(time.Time) bool {
		t.task = nil
		t.onCancel = nil
		resolve(struct{}{})
		return false
	})
	return c
}

// SetInterval fires every d, invoking predicate after each firing; it
// keeps re-arming as long as predicate returns true, settling once
// predicate returns false (or on Cancel, with CANCELLED).
func (t *Timer) SetInterval(d time.Duration, predicate func() bool) *Continuation[struct{}] {
	t.Cancel()
	c, resolve, reject := NewContinuation[struct{}](t.reactor)
	t.onCancel = func() { reject(newError(CodeCancelled, "timer cancelled")) }
	t.task = t.reactor.scheduleTimer(d, d, func(time.Time) bool {
		if !predicate() {
			t.task = nil
			t.onCancel = nil
			resolve(struct{}{})
			return false
		}
		return true
	})
	return c
}
