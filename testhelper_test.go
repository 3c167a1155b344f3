package aio

import (
	"testing"
	"time"
)

// newTestReactor starts a Reactor's Dispatch loop on its own goroutine and
// arranges for it to be torn down (LoopBreak + Close) when the test ends.
func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := NewReactor(WithMaxTick(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Dispatch() }()
	t.Cleanup(func() {
		r.LoopBreak()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Dispatch returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("reactor did not stop within 5s of LoopBreak")
		}
		_ = r.Close()
	})
	return r
}

// await blocks until c settles or the timeout elapses, returning the
// fulfilled value and nil, or the zero value and the rejection error.
func await[T any](t *testing.T, c *Continuation[T], timeout time.Duration) (T, error) {
	t.Helper()
	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	c.Then(func(v T) { out <- result{v: v} }).Fail(func(err error) { out <- result{err: err} })
	select {
	case r := <-out:
		return r.v, r.err
	case <-time.After(timeout):
		var zero T
		t.Fatalf("continuation did not settle within %s", timeout)
		return zero, nil
	}
}
