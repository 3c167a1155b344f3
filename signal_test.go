package aio

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSignalOnResolvesWhenSignalDelivered(t *testing.T) {
	reactor := newTestReactor(t)
	s := NewSignal(reactor, syscall.SIGUSR1)

	var pending *Continuation[struct{}]
	armed := make(chan struct{})
	reactor.Post(func() {
		pending = s.On()
		close(armed)
	})
	<-armed

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	if _, err := await(t, pending, 2*time.Second); err != nil {
		t.Fatalf("On: %v", err)
	}
}

func TestSignalRejectsSecondPendingSubscription(t *testing.T) {
	reactor := newTestReactor(t)
	s := NewSignal(reactor, syscall.SIGUSR2)

	armed := make(chan struct{})
	reactor.Post(func() {
		s.On()
		close(armed)
	})
	<-armed

	if !s.Pending() {
		t.Fatal("expected a pending subscription")
	}

	done := make(chan error, 1)
	reactor.Post(func() {
		s.On().Then(func(struct{}) { done <- nil }).Fail(func(err error) { done <- err })
	})

	select {
	case err := <-done:
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("expected ErrBusy for a second subscription, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the second On to reject")
	}

	reactor.Post(s.Cancel)
}

func TestSignalCancelRejectsWithCancelled(t *testing.T) {
	reactor := newTestReactor(t)
	s := NewSignal(reactor, syscall.SIGUSR1)

	var pending *Continuation[struct{}]
	armed := make(chan struct{})
	reactor.Post(func() {
		pending = s.On()
		close(armed)
	})
	<-armed

	reactor.Post(s.Cancel)

	_, err := await(t, pending, 2*time.Second)
	var aioErr *Error
	if !errors.As(err, &aioErr) || aioErr.Code != CodeCancelled {
		t.Fatalf("expected CodeCancelled, got %v", err)
	}
}

// Concrete scenario: OnPersist re-arms across repeated deliveries and
// stops once the predicate reports false.
func TestSignalOnPersistStopsAfterPredicateFalse(t *testing.T) {
	reactor := newTestReactor(t)
	s := NewSignal(reactor, syscall.SIGUSR2)

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}

	count := 0
	var persisted *Continuation[struct{}]
	armed := make(chan struct{})
	reactor.Post(func() {
		persisted = s.OnPersist(func() bool {
			count++
			return count < 3
		})
		close(armed)
	})
	<-armed

	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		if err := proc.Signal(syscall.SIGUSR2); err != nil {
			t.Fatalf("Signal: %v", err)
		}
	}

	if _, err := await(t, persisted, 2*time.Second); err != nil {
		t.Fatalf("OnPersist: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected predicate invoked 3 times, got %d", count)
	}
}
