package aio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

// Concrete scenario: a duplex ByteBuffer pair built over a socketpair,
// exercising write -> drain -> read end to end.
func TestByteBufferDuplexRoundTrip(t *testing.T) {
	reactor := newTestReactor(t)
	fa, fb := socketPair(t)
	a := newByteBuffer(reactor, fa)
	b := newByteBuffer(reactor, fb)
	defer a.Close()
	defer b.Close()

	reactor.Post(func() {
		a.Write([]byte("ping")).Fail(func(err error) { t.Errorf("Write: %v", err) })
	})

	got, err := await(t, b.ReadN(4), time.Second)
	if err != nil {
		t.Fatalf("ReadN: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("expected %q, got %q", "ping", got)
	}

	reactor.Post(func() {
		b.Write([]byte("pong")).Fail(func(err error) { t.Errorf("Write: %v", err) })
	})
	got, err = await(t, a.ReadExactly(4), time.Second)
	if err != nil {
		t.Fatalf("ReadExactly: %v", err)
	}
	if string(got) != "pong" {
		t.Fatalf("expected %q, got %q", "pong", got)
	}
}

func TestByteBufferReadLineAcrossEOLStyles(t *testing.T) {
	reactor := newTestReactor(t)
	fa, fb := socketPair(t)
	a := newByteBuffer(reactor, fa)
	b := newByteBuffer(reactor, fb)
	defer a.Close()
	defer b.Close()

	cases := []struct {
		style EOLStyle
		wire  string
		want  string
	}{
		{CRLF, "hello\r\n", "hello"},
		{CRLF, "hello\n", "hello"},
		{CRLFStrict, "strict\r\n", "strict"},
		{LF, "bare\n", "bare"},
		{NUL, "nulterm\x00", "nulterm"},
		{ANY, "either\r", "either"},
	}
	for _, tc := range cases {
		reactor.Post(func() {
			if err := a.Submit([]byte(tc.wire)); err != nil {
				t.Errorf("Submit(%q): %v", tc.wire, err)
			}
		})
		line, err := await(t, b.ReadLine(tc.style), time.Second)
		if err != nil {
			t.Fatalf("ReadLine(%v) on %q: %v", tc.style, tc.wire, err)
		}
		if line != tc.want {
			t.Fatalf("ReadLine(%v) on %q: got %q want %q", tc.style, tc.wire, line, tc.want)
		}
	}
}

func TestByteBufferPeekDoesNotConsume(t *testing.T) {
	reactor := newTestReactor(t)
	fa, fb := socketPair(t)
	a := newByteBuffer(reactor, fa)
	b := newByteBuffer(reactor, fb)
	defer a.Close()
	defer b.Close()

	reactor.Post(func() {
		_ = a.Submit([]byte("abcdef"))
	})

	peeked, err := await(t, b.Peek(3), time.Second)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if string(peeked) != "abc" {
		t.Fatalf("expected %q, got %q", "abc", peeked)
	}

	all, err := await(t, b.ReadN(6), time.Second)
	if err != nil {
		t.Fatalf("ReadN: %v", err)
	}
	if string(all) != "abcdef" {
		t.Fatalf("expected peeked bytes still present, got %q", all)
	}
}

// Concrete scenario: a read with no data ever arriving times out after
// 50ms.
func TestByteBufferReadTimeout(t *testing.T) {
	reactor := newTestReactor(t)
	fa, _ := socketPair(t)
	a := newByteBuffer(reactor, fa)
	defer a.Close()
	a.SetTimeout(50*time.Millisecond, 0)

	start := time.Now()
	_, err := await(t, a.Read(), time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("timed out too early after %s", elapsed)
	}
}

// Concrete scenario: writing ~1MiB to a peer that never reads fills both
// socket buffers, so Drain times out after 500ms rather than hanging.
func TestByteBufferDrainTimeoutUnderBackpressure(t *testing.T) {
	reactor := newTestReactor(t)
	fa, fb := socketPair(t)
	// Shrink both ends' kernel buffers so 1MiB is guaranteed to overflow
	// them quickly instead of merely taking longer to.
	_ = unix.SetsockoptInt(fa, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096)
	_ = unix.SetsockoptInt(fb, unix.SOL_SOCKET, unix.SO_RCVBUF, 4096)

	a := newByteBuffer(reactor, fa)
	defer a.Close()
	defer unix.Close(fb) // never read from fb: the peer that stalls the pipe
	a.SetTimeout(0, 500*time.Millisecond)

	payload := bytes.Repeat([]byte{'x'}, 1<<20)
	start := time.Now()
	reactor.Post(func() {
		if err := a.Submit(payload); err != nil {
			t.Errorf("Submit: %v", err)
		}
	})

	var drain *Continuation[struct{}]
	drained := make(chan struct{})
	reactor.Post(func() {
		drain = a.Drain()
		close(drained)
	})
	<-drained

	_, err := await(t, drain, 2*time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("drain timed out too early after %s", elapsed)
	}
}

func TestByteBufferCloseRejectsPendingReadWithEOF(t *testing.T) {
	reactor := newTestReactor(t)
	fa, fb := socketPair(t)
	a := newByteBuffer(reactor, fa)
	defer unix.Close(fb)

	var pending *Continuation[[]byte]
	armed := make(chan struct{})
	reactor.Post(func() {
		pending = a.Read()
		close(armed)
	})
	<-armed
	reactor.Post(func() { _ = a.Close() })

	_, err := await(t, pending, time.Second)
	if !errors.Is(err, ErrEOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestByteBufferWaitClosedResolvesOnPeerClose(t *testing.T) {
	reactor := newTestReactor(t)
	fa, fb := socketPair(t)
	a := newByteBuffer(reactor, fa)
	defer a.Close()

	var waiting *Continuation[struct{}]
	armed := make(chan struct{})
	reactor.Post(func() {
		waiting = a.WaitClosed()
		close(armed)
	})
	<-armed
	reactor.Post(func() { _ = unix.Close(fb) })

	_, err := await(t, waiting, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
