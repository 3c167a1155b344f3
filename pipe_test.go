package aio

import (
	"errors"
	"testing"
	"time"
)

func TestPipeDeliversWritesOnNextLoopIteration(t *testing.T) {
	reactor := newTestReactor(t)
	a, b := Pipe(reactor)

	var pending *Continuation[[]byte]
	armed := make(chan struct{})
	reactor.Post(func() {
		pending = b.Read()
		close(armed)
	})
	<-armed

	reactor.Post(func() {
		if err := a.Submit([]byte("hello")); err != nil {
			t.Errorf("Submit: %v", err)
		}
	})

	got, err := await(t, pending, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestPipeCloseDeliversEOFToPartner(t *testing.T) {
	reactor := newTestReactor(t)
	a, b := Pipe(reactor)

	var pending *Continuation[[]byte]
	armed := make(chan struct{})
	reactor.Post(func() {
		pending = b.Read()
		close(armed)
	})
	<-armed
	reactor.Post(func() { _ = a.Close() })

	_, err := await(t, pending, time.Second)
	if !errors.Is(err, ErrEOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

// Concrete scenario (spec 8.6): A writes "hello world"; B reads(11) it;
// then A calls throws("error occurred") with no read outstanding on
// either side; B's *next* read must reject with that stored message and
// a negative code, not the ordinary EOF a clean Close would report.
func TestPipeThrowsInjectsErrorOnBothEnds(t *testing.T) {
	reactor := newTestReactor(t)
	a, b := Pipe(reactor)

	reactor.Post(func() {
		if err := a.Submit([]byte("hello world")); err != nil {
			t.Errorf("Submit: %v", err)
		}
	})

	got, err := await(t, b.ReadN(11), time.Second)
	if err != nil {
		t.Fatalf("b read: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}

	// No read is pending on either end at the moment of the throw.
	reactor.Post(func() {
		a.(*pairedBuffer).Throws("error occurred")
	})
	time.Sleep(20 * time.Millisecond)

	var pendingB *Continuation[[]byte]
	armed := make(chan struct{})
	reactor.Post(func() {
		pendingB = b.Read()
		close(armed)
	})
	<-armed

	_, err = await(t, pendingB, time.Second)
	var aioErr *Error
	if !errors.As(err, &aioErr) {
		t.Fatalf("expected an *Error, got %v (%T)", err, err)
	}
	if aioErr.Code >= 0 {
		t.Fatalf("expected a negative code, got %d", aioErr.Code)
	}
	if aioErr.Message != "error occurred" {
		t.Fatalf("expected message %q, got %q", "error occurred", aioErr.Message)
	}

	var waitA *Continuation[struct{}]
	armed2 := make(chan struct{})
	reactor.Post(func() {
		waitA = a.WaitClosed()
		close(armed2)
	})
	<-armed2
	_, err = await(t, waitA, time.Second)
	if err == nil || errors.Is(err, ErrEOF) {
		t.Fatalf("expected the throwing side to also observe a non-EOF error, got %v", err)
	}
}

func TestPipeWaitClosedDoesNotConsumeData(t *testing.T) {
	reactor := newTestReactor(t)
	a, b := Pipe(reactor)

	var waiting *Continuation[struct{}]
	armed := make(chan struct{})
	reactor.Post(func() {
		waiting = b.WaitClosed()
		close(armed)
	})
	<-armed

	reactor.Post(func() {
		_ = a.Submit([]byte("payload"))
	})
	// Give delivery a chance to land before closing, so WaitClosed has a
	// real opportunity to misfire by consuming it.
	time.Sleep(20 * time.Millisecond)
	reactor.Post(func() { _ = a.Close() })

	_, err := await(t, waiting, time.Second)
	if err != nil {
		t.Fatalf("expected WaitClosed to resolve on partner close, got %v", err)
	}

	var pendingRead *Continuation[[]byte]
	armed2 := make(chan struct{})
	reactor.Post(func() {
		pendingRead = b.ReadN(7)
		close(armed2)
	})
	<-armed2
	got, err := await(t, pendingRead, time.Second)
	if err != nil {
		t.Fatalf("expected the payload to still be readable after WaitClosed settled, got err=%v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected %q, got %q", "payload", got)
	}
}
