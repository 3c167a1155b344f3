package aio

import (
	"bytes"
	"sync"
	"time"
)

// pairedBuffer is the in-process half of a Paired Buffer pipe: writes
// submitted on this end are delivered to the partner's input queue on
// the reactor's next loop iteration (never synchronously), the same
// deferred-delivery discipline the original's PairedBuffer class
// enforces so cross-pipe control flow can't starve the loop or
// reenter a caller's own stack.
type pairedBuffer struct {
	reactor *Reactor
	partner *pairedBuffer // set after both halves exist

	mu       sync.Mutex
	inBuf    bytes.Buffer
	closed   bool
	closeErr error // reason passed to the close/throws that set closed; consulted by every post-close read

	readTimeout, writeTimeout time.Duration

	readPending       bool
	readTry           func() bool
	readTimer         *timerTask
	pendingReadReject func(error)

	drainPending bool // always resolves immediately; kept for interface symmetry

	waitClosedPending bool
	waitClosedResolve func()
	waitClosedReject  func(error)
}

// Pipe constructs a connected pair of in-process duplex Buffers: bytes
// submitted on a arrive in b's input queue (and vice versa) without
// touching the OS, delivered on the next reactor loop iteration.
func Pipe(r *Reactor) (a, b Buffer) {
	pa := &pairedBuffer{reactor: r}
	pb := &pairedBuffer{reactor: r}
	pa.partner = pb
	pb.partner = pa
	return pa, pb
}

func (p *pairedBuffer) deliver(data []byte) {
	p.reactor.Post(func() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.inBuf.Write(data)
		if p.readPending && p.readTry != nil {
			if p.readTry() {
				p.readPending = false
				p.readTry = nil
			}
		}
		p.mu.Unlock()
	})
}

// Throws injects a synthetic error on both ends of the pipe: the
// partner's outstanding read/drain/waitClosed reject with it, as does
// any future operation, without the underlying pipe's normal EOF
// semantics.
func (p *pairedBuffer) Throws(message string) {
	err := newError(CodeIOError, message)
	p.mu.Lock()
	p.onCloseLocked(err)
	p.mu.Unlock()
	if partner := p.partner; partner != nil {
		p.reactor.Post(func() {
			partner.mu.Lock()
			partner.onCloseLocked(err)
			partner.mu.Unlock()
		})
	}
}

func (p *pairedBuffer) startRead(try func() bool) {
	if try() {
		return
	}
	p.readPending = true
	p.readTry = try
	if p.readTimeout > 0 {
		p.readTimer = p.reactor.scheduleTimer(p.readTimeout, 0, func(time.Time) bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			if !p.readPending {
				return false
			}
			reject := p.pendingReadReject
			p.readPending = false
			p.readTry = nil
			p.pendingReadReject = nil
			if reject != nil {
				reject(ErrTimeout)
			}
			return false
		})
	}
}

func (p *pairedBuffer) cancelReadTimerLocked() {
	if p.readTimer != nil {
		p.reactor.cancelTimer(p.readTimer)
		p.readTimer = nil
	}
	p.pendingReadReject = nil
}

func (p *pairedBuffer) guardRead() error {
	if p.readPending {
		return ErrBusy
	}
	return nil
}

func (p *pairedBuffer) Read() *Continuation[[]byte] { return p.readUpTo(0) }

func (p *pairedBuffer) ReadN(n int) *Continuation[[]byte] { return p.readUpTo(n) }

func (p *pairedBuffer) readUpTo(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](p.reactor)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardRead(); err != nil {
		reject(err)
		return c
	}
	p.pendingReadReject = reject
	p.startRead(func() bool {
		if p.inBuf.Len() > 0 {
			take := p.inBuf.Len()
			if n > 0 && n < take {
				take = n
			}
			out := make([]byte, take)
			_, _ = p.inBuf.Read(out)
			p.cancelReadTimerLocked()
			resolve(out)
			return true
		}
		if p.closed {
			p.cancelReadTimerLocked()
			reject(p.closeErr)
			return true
		}
		return false
	})
	return c
}

func (p *pairedBuffer) ReadExactly(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](p.reactor)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardRead(); err != nil {
		reject(err)
		return c
	}
	p.pendingReadReject = reject
	p.startRead(func() bool {
		if p.inBuf.Len() >= n {
			out := make([]byte, n)
			_, _ = p.inBuf.Read(out)
			p.cancelReadTimerLocked()
			resolve(out)
			return true
		}
		if p.closed {
			p.cancelReadTimerLocked()
			reject(p.closeErr)
			return true
		}
		return false
	})
	return c
}

func (p *pairedBuffer) Peek(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](p.reactor)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardRead(); err != nil {
		reject(err)
		return c
	}
	p.pendingReadReject = reject
	p.startRead(func() bool {
		if p.inBuf.Len() >= n {
			out := make([]byte, n)
			copy(out, p.inBuf.Bytes()[:n])
			p.cancelReadTimerLocked()
			resolve(out)
			return true
		}
		if p.closed {
			p.cancelReadTimerLocked()
			reject(p.closeErr)
			return true
		}
		return false
	})
	return c
}

func (p *pairedBuffer) ReadLine(style EOLStyle) *Continuation[string] {
	c, resolve, reject := NewContinuation[string](p.reactor)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardRead(); err != nil {
		reject(err)
		return c
	}
	p.pendingReadReject = reject
	p.startRead(func() bool {
		if line, ok := scanLineBuf(&p.inBuf, style); ok {
			p.cancelReadTimerLocked()
			resolve(line)
			return true
		}
		if p.closed {
			p.cancelReadTimerLocked()
			reject(p.closeErr)
			return true
		}
		return false
	})
	return c
}

// Submit hands p off to the partner's input queue, delivered on the
// reactor's next loop iteration.
func (p *pairedBuffer) Submit(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	closeErr := p.closeErr
	partner := p.partner
	p.mu.Unlock()
	if closed {
		return closeErr
	}
	if len(data) > 0 && partner != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		partner.deliver(cp)
	}
	return nil
}

func (p *pairedBuffer) WriteLine(line string, style EOLStyle) error {
	delim, err := style.delimiter()
	if err != nil {
		return err
	}
	if err := p.Submit([]byte(line)); err != nil {
		return err
	}
	return p.Submit(delim)
}

// Write submits data; delivery is asynchronous but unconditional (no
// back-pressure in an in-process pipe), so Drain always resolves
// immediately afterwards.
func (p *pairedBuffer) Write(data []byte) *Continuation[struct{}] {
	if err := p.Submit(data); err != nil {
		return Reject[struct{}](p.reactor, err)
	}
	return p.Drain()
}

// Drain always resolves immediately: a Paired Buffer has no OS-level
// write buffer to flush.
func (p *pairedBuffer) Drain() *Continuation[struct{}] {
	p.mu.Lock()
	closed := p.closed
	closeErr := p.closeErr
	p.mu.Unlock()
	if closed {
		return Reject[struct{}](p.reactor, closeErr)
	}
	return Resolve[struct{}](p.reactor, struct{}{})
}

// Close flushes nothing further (there is no write buffer) and
// delivers EOF to the partner on the reactor's next loop iteration.
func (p *pairedBuffer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrEOF
	}
	p.onCloseLocked(ErrEOF)
	partner := p.partner
	p.mu.Unlock()

	if partner != nil {
		p.reactor.Post(func() {
			partner.mu.Lock()
			partner.onCloseLocked(ErrEOF)
			partner.mu.Unlock()
		})
	}
	return nil
}

func (p *pairedBuffer) onCloseLocked(reason error) {
	if p.closed {
		return
	}
	p.closed = true
	p.closeErr = reason
	if p.readPending {
		reject := p.pendingReadReject
		p.readPending = false
		p.readTry = nil
		p.cancelReadTimerLocked()
		if reject != nil {
			reject(reason)
		}
	}
	if p.waitClosedPending {
		resolve, reject := p.waitClosedResolve, p.waitClosedReject
		p.waitClosedPending = false
		p.waitClosedResolve, p.waitClosedReject = nil, nil
		if aioErr, ok := reason.(*Error); ok && aioErr.Code == CodeEOF {
			resolve()
		} else {
			reject(reason)
		}
	}
}

// WaitClosed resolves once the partner closes (EOF); an error injected
// via Throws rejects it with that error instead.
func (p *pairedBuffer) WaitClosed() *Continuation[struct{}] {
	c, resolve, reject := NewContinuation[struct{}](p.reactor)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readPending || p.waitClosedPending {
		reject(ErrBusy)
		return c
	}
	if p.closed {
		reject(p.closeErr)
		return c
	}
	p.waitClosedPending = true
	p.waitClosedResolve = func() { resolve(struct{}{}) }
	p.waitClosedReject = reject
	return c
}

func (p *pairedBuffer) SetTimeout(read, write time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout, p.writeTimeout = read, write
}

func (p *pairedBuffer) Pending() int { return 0 }

func (p *pairedBuffer) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return -1
	}
	return p.inBuf.Len()
}

func (p *pairedBuffer) FD() int { return -1 }

func scanLineBuf(buf *bytes.Buffer, style EOLStyle) (string, bool) {
	data := buf.Bytes()
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
		buf.Next(idx + 1)
		return line, true
	case CRLFStrict:
		idx := bytes.Index(data, []byte("\r\n"))
		if idx < 0 {
			return "", false
		}
		line := string(data[:idx])
		buf.Next(idx + 2)
		return line, true
	case NUL:
		idx := bytes.IndexByte(data, 0)
		if idx < 0 {
			return "", false
		}
		line := string(data[:idx])
		buf.Next(idx + 1)
		return line, true
	case ANY:
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			return "", false
		}
		line := string(data[:idx])
		buf.Next(idx + 1)
		return line, true
	default:
		return "", false
	}
}

var _ Buffer = (*pairedBuffer)(nil)
