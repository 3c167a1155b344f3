package aio

import (
	"bytes"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EOLStyle selects the line-ending convention ReadLine looks for.
type EOLStyle int

const (
	// CRLF consumes either "\r\n" or a bare "\n".
	CRLF EOLStyle = iota
	// CRLFStrict requires exactly "\r\n".
	CRLFStrict
	// LF requires a bare "\n".
	LF
	// NUL requires a NUL byte terminator.
	NUL
	// ANY matches whichever of CR or LF appears first.
	ANY
)

func (s EOLStyle) delimiter() ([]byte, error) {
	switch s {
	case CRLF, CRLFStrict:
		return []byte("\r\n"), nil
	case LF:
		return []byte("\n"), nil
	case NUL:
		return []byte{0}, nil
	default:
		return nil, newError(CodeInvalidArgument, "unsupported EOL style for writeLine")
	}
}

// inputBackpressureCap is the buffered-unread-bytes threshold above which
// read interest is disabled until the next read request arrives.
const inputBackpressureCap = 1 << 20 // 1 MiB

// Buffer is the duplex byte-stream interface shared by fd-backed byte
// buffers (sockets, TLS sessions) and in-process Paired Buffers.
type Buffer interface {
	Read() *Continuation[[]byte]
	ReadN(n int) *Continuation[[]byte]
	ReadExactly(n int) *Continuation[[]byte]
	Peek(n int) *Continuation[[]byte]
	ReadLine(style EOLStyle) *Continuation[string]
	Write(p []byte) *Continuation[struct{}]
	Submit(p []byte) error
	WriteLine(line string, style EOLStyle) error
	Drain() *Continuation[struct{}]
	Close() error
	WaitClosed() *Continuation[struct{}]
	SetTimeout(read, write time.Duration)
	Pending() int
	Available() int
	FD() int
}

// ByteBuffer wraps a duplex, non-blocking file descriptor (typically a
// connected socket) with independent read, drain, and wait-closed
// continuation slots, grounded on the original's ev::Buffer /
// bufferevent-driven state machine: a three-cell record transitioned
// only from reactor callbacks and user entry points.
type ByteBuffer struct {
	reactor *Reactor
	fd      int

	mu     sync.Mutex
	inBuf  bytes.Buffer
	outBuf bytes.Buffer
	closed bool

	readTimeout, writeTimeout time.Duration

	readPending       bool
	readTry           func() bool // attempts to satisfy/settle the pending read; returns true once settled
	readTimer         *timerTask
	pendingReadReject func(error) // rejects whichever read continuation is currently armed

	drainPending bool
	drainResolve func()
	drainReject  func(error)
	drainTimer   *timerTask

	waitClosedPending bool
	waitClosedResolve func()
	waitClosedReject  func(error)

	localAddr, remoteAddr *Address
}

// newByteBuffer wraps an already-connected, non-blocking fd.
func newByteBuffer(r *Reactor, fd int) *ByteBuffer {
	b := &ByteBuffer{reactor: r, fd: fd}
	_ = r.p.registerFD(fd, ioRead, b.onIO)
	return b
}

// onIO is the poller callback registered for the lifetime of the fd; it
// drains readable bytes and flushes writable bytes inline, the same
// split bufferevent's onBufferRead/onBufferWrite perform.
func (b *ByteBuffer) onIO(ready ioInterest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if ready&ioRead != 0 {
		b.drainReadable()
	}
	if ready&ioWrite != 0 {
		b.flushWritable()
	}
	if ready&(ioError|ioHangup) != 0 && b.inBuf.Len() == 0 {
		b.onCloseLocked(wrapError(CodeIOError, "fd hangup/error", nil))
		return
	}
	b.rearmLocked()
}

func (b *ByteBuffer) drainReadable() {
	var chunk [65536]byte
	for {
		n, err := unix.Read(b.fd, chunk[:])
		if n > 0 {
			b.inBuf.Write(chunk[:n])
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err != nil {
			b.onCloseLocked(wrapError(CodeIOError, "read", err))
			return
		}
		if n == 0 {
			if b.readPending && b.readTry != nil && b.readTry() {
				b.readPending = false
				b.readTry = nil
			}
			b.onCloseLocked(newError(CodeEOF, "peer closed"))
			return
		}
	}
	if b.readPending && b.readTry != nil {
		if b.readTry() {
			b.readPending = false
			b.readTry = nil
		}
	}
}

func (b *ByteBuffer) flushWritable() {
	for b.outBuf.Len() > 0 {
		n, err := unix.Write(b.fd, b.outBuf.Bytes())
		if n > 0 {
			b.outBuf.Next(n)
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			b.onCloseLocked(wrapError(CodeIOError, "write", err))
			return
		}
	}
	if b.outBuf.Len() == 0 && b.drainPending {
		b.settleDrainLocked(nil)
	}
}

// rearmLocked recomputes the fd's poller interest: read is armed unless
// back-pressured, write is armed only while output is queued.
func (b *ByteBuffer) rearmLocked() {
	if b.closed {
		return
	}
	want := ioInterest(0)
	if b.readPending || b.inBuf.Len() <= inputBackpressureCap {
		want |= ioRead
	}
	if b.outBuf.Len() > 0 {
		want |= ioWrite
	}
	_ = b.reactor.p.modifyFD(b.fd, want)
}

// --- read family ---

func (b *ByteBuffer) startRead(try func() bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if try() {
		return
	}
	b.readPending = true
	b.readTry = try
	b.rearmLocked()
}

func (b *ByteBuffer) armReadTimeout() {
	if b.readTimeout <= 0 {
		return
	}
	b.readTimer = b.reactor.scheduleTimer(b.readTimeout, 0, func(time.Time) bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.readPending {
			return false
		}
		reject := b.pendingReadReject
		b.readPending = false
		b.readTry = nil
		b.pendingReadReject = nil
		b.rearmLocked()
		if reject != nil {
			reject(ErrTimeout)
		}
		return false
	})
}

// Read returns whatever bytes are currently available (at least one),
// waiting for readability if none are queued.
func (b *ByteBuffer) Read() *Continuation[[]byte] { return b.readUpTo(0) }

// ReadN returns up to n available bytes (at least one).
func (b *ByteBuffer) ReadN(n int) *Continuation[[]byte] { return b.readUpTo(n) }

func (b *ByteBuffer) readUpTo(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](b.reactor)

	b.mu.Lock()
	if guardErr := b.guardRead(); guardErr != nil {
		b.mu.Unlock()
		reject(guardErr)
		return c
	}
	b.mu.Unlock()

	b.pendingReadReject = reject
	b.startRead(func() bool {
		if b.inBuf.Len() > 0 {
			take := b.inBuf.Len()
			if n > 0 && n < take {
				take = n
			}
			out := make([]byte, take)
			_, _ = b.inBuf.Read(out)
			b.cancelReadTimerLocked()
			resolve(out)
			return true
		}
		if b.closed {
			b.cancelReadTimerLocked()
			reject(ErrEOF)
			return true
		}
		return false
	})
	if b.readPending {
		b.armReadTimeout()
	}
	return c
}

// ReadExactly returns exactly n bytes, failing with EOF if the peer
// closes before n bytes accumulate.
func (b *ByteBuffer) ReadExactly(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](b.reactor)

	b.mu.Lock()
	if guardErr := b.guardRead(); guardErr != nil {
		b.mu.Unlock()
		reject(guardErr)
		return c
	}
	b.mu.Unlock()

	b.pendingReadReject = reject
	b.startRead(func() bool {
		if b.inBuf.Len() >= n {
			out := make([]byte, n)
			_, _ = b.inBuf.Read(out)
			b.cancelReadTimerLocked()
			resolve(out)
			return true
		}
		if b.closed {
			b.cancelReadTimerLocked()
			reject(ErrEOF)
			return true
		}
		return false
	})
	if b.readPending {
		b.armReadTimeout()
	}
	return c
}

// Peek returns exactly n bytes without consuming them.
func (b *ByteBuffer) Peek(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](b.reactor)

	b.mu.Lock()
	if guardErr := b.guardRead(); guardErr != nil {
		b.mu.Unlock()
		reject(guardErr)
		return c
	}
	b.mu.Unlock()

	b.pendingReadReject = reject
	b.startRead(func() bool {
		if b.inBuf.Len() >= n {
			out := make([]byte, n)
			copy(out, b.inBuf.Bytes()[:n])
			b.cancelReadTimerLocked()
			resolve(out)
			return true
		}
		if b.closed {
			b.cancelReadTimerLocked()
			reject(ErrEOF)
			return true
		}
		return false
	})
	if b.readPending {
		b.armReadTimeout()
	}
	return c
}

// ReadLine returns one line with its delimiter consumed and stripped.
func (b *ByteBuffer) ReadLine(style EOLStyle) *Continuation[string] {
	c, resolve, reject := NewContinuation[string](b.reactor)

	b.mu.Lock()
	if guardErr := b.guardRead(); guardErr != nil {
		b.mu.Unlock()
		reject(guardErr)
		return c
	}
	b.mu.Unlock()

	b.pendingReadReject = reject
	b.startRead(func() bool {
		if line, ok := b.scanLineLocked(style); ok {
			b.cancelReadTimerLocked()
			resolve(line)
			return true
		}
		if b.closed {
			b.cancelReadTimerLocked()
			reject(ErrEOF)
			return true
		}
		return false
	})
	if b.readPending {
		b.armReadTimeout()
	}
	return c
}

func (b *ByteBuffer) scanLineLocked(style EOLStyle) (string, bool) {
	data := b.inBuf.Bytes()
	switch style {
	case LF, CRLF:
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return "", false
		}
		end := idx
		if style == CRLF && end > 0 && data[end-1] == '\r' {
			end--
		}
		line := string(data[:end])
		b.inBuf.Next(idx + 1)
		return line, true
	case CRLFStrict:
		idx := bytes.Index(data, []byte("\r\n"))
		if idx < 0 {
			return "", false
		}
		line := string(data[:idx])
		b.inBuf.Next(idx + 2)
		return line, true
	case NUL:
		idx := bytes.IndexByte(data, 0)
		if idx < 0 {
			return "", false
		}
		line := string(data[:idx])
		b.inBuf.Next(idx + 1)
		return line, true
	case ANY:
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			return "", false
		}
		line := string(data[:idx])
		b.inBuf.Next(idx + 1)
		return line, true
	default:
		return "", false
	}
}

func (b *ByteBuffer) guardRead() error {
	if b.fd < 0 {
		return ErrBadResource
	}
	if b.waitClosedPending {
		return ErrBusy
	}
	if b.readPending {
		return ErrBusy
	}
	return nil
}

func (b *ByteBuffer) cancelReadTimerLocked() {
	if b.readTimer != nil {
		b.reactor.cancelTimer(b.readTimer)
		b.readTimer = nil
	}
	b.pendingReadReject = nil
}

// --- write family ---

// Submit enqueues p for writing without waiting for it to drain.
func (b *ByteBuffer) Submit(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return ErrBadResource
	}
	if b.closed {
		return ErrEOF
	}
	b.outBuf.Write(p)
	b.rearmLocked()
	return nil
}

// WriteLine submits line followed by style's delimiter bytes.
func (b *ByteBuffer) WriteLine(line string, style EOLStyle) error {
	delim, err := style.delimiter()
	if err != nil {
		return err
	}
	if err := b.Submit([]byte(line)); err != nil {
		return err
	}
	return b.Submit(delim)
}

// Write submits p, then waits for it (and anything else queued) to
// drain.
func (b *ByteBuffer) Write(p []byte) *Continuation[struct{}] {
	if err := b.Submit(p); err != nil {
		return Reject[struct{}](b.reactor, err)
	}
	return b.Drain()
}

// Drain resolves once the output queue is fully flushed.
func (b *ByteBuffer) Drain() *Continuation[struct{}] {
	c, resolve, reject := NewContinuation[struct{}](b.reactor)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fd < 0 {
		reject(ErrBadResource)
		return c
	}
	if b.drainPending {
		reject(ErrBusy)
		return c
	}
	if b.closed {
		reject(ErrEOF)
		return c
	}
	if b.outBuf.Len() == 0 {
		resolve(struct{}{})
		return c
	}

	b.drainPending = true
	b.drainResolve = func() { resolve(struct{}{}) }
	b.drainReject = reject
	if b.writeTimeout > 0 {
		b.drainTimer = b.reactor.scheduleTimer(b.writeTimeout, 0, func(time.Time) bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.settleDrainLocked(ErrTimeout)
			return false
		})
	}
	return c
}

func (b *ByteBuffer) settleDrainLocked(err error) {
	if !b.drainPending {
		return
	}
	resolve, reject := b.drainResolve, b.drainReject
	b.drainPending = false
	b.drainResolve, b.drainReject = nil, nil
	if b.drainTimer != nil {
		b.reactor.cancelTimer(b.drainTimer)
		b.drainTimer = nil
	}
	if err != nil {
		reject(err)
		return
	}
	resolve()
}

// --- close / wait-closed ---

// Close transitions the buffer to Closed, rejecting any outstanding read
// and drain with EOF, resolving any outstanding waitClosed, and
// releasing the fd. A second call returns EOF.
func (b *ByteBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEOF
	}
	b.onCloseLocked(ErrEOF)
	if b.fd >= 0 {
		_ = b.reactor.p.unregisterFD(b.fd)
		_ = unix.Close(b.fd)
		b.fd = -1
	}
	return nil
}

func (b *ByteBuffer) onCloseLocked(reason error) {
	if b.closed {
		return
	}
	b.closed = true

	if b.readPending {
		reject := b.pendingReadReject
		b.readPending = false
		b.readTry = nil
		b.cancelReadTimerLocked()
		if reject != nil {
			reject(reason)
		}
	}
	b.settleDrainLocked(reason)

	if b.waitClosedPending {
		resolve, reject := b.waitClosedResolve, b.waitClosedReject
		b.waitClosedPending = false
		b.waitClosedResolve, b.waitClosedReject = nil, nil
		if aioErr, ok := reason.(*Error); ok && aioErr.Code == CodeEOF {
			resolve()
		} else {
			reject(reason)
		}
	}
}

// WaitClosed resolves once the peer closes (EOF); other terminal I/O
// errors reject it instead.
func (b *ByteBuffer) WaitClosed() *Continuation[struct{}] {
	c, resolve, reject := NewContinuation[struct{}](b.reactor)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fd < 0 {
		reject(ErrBadResource)
		return c
	}
	if b.readPending || b.waitClosedPending {
		reject(ErrBusy)
		return c
	}
	if b.closed {
		reject(ErrEOF)
		return c
	}

	b.waitClosedPending = true
	b.waitClosedResolve = func() { resolve(struct{}{}) }
	b.waitClosedReject = reject
	b.rearmLocked()
	return c
}

// SetTimeout configures the read/write deadlines applied to future
// pending read and drain operations.
func (b *ByteBuffer) SetTimeout(read, write time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readTimeout = read
	b.writeTimeout = write
}

// Pending returns the number of bytes queued for write, or -1 once
// closed.
func (b *ByteBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return -1
	}
	return b.outBuf.Len()
}

// Available returns the number of bytes queued for read, or -1 once
// closed.
func (b *ByteBuffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return -1
	}
	return b.inBuf.Len()
}

// FD returns the underlying file descriptor, or -1 once closed.
func (b *ByteBuffer) FD() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fd
}

// LocalAddress returns the local socket address, if known.
func (b *ByteBuffer) LocalAddress() *Address { return b.localAddr }

// RemoteAddress returns the remote peer address, if known.
func (b *ByteBuffer) RemoteAddress() *Address { return b.remoteAddr }

var _ Buffer = (*ByteBuffer)(nil)
