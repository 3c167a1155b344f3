package aio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/iosync/aio/internal/ring"
)

// Channel is a bounded, multi-producer multi-consumer queue backed by a
// lock-free ring buffer (internal/ring.Ring): Reserve/Commit and
// Acquire/Release never block on a mutex on the fast path. A mutex
// guards only the Closed flag and the two waiter lists, exactly the
// slow path the original's channel implementation falls back to once
// the ring reports full or empty.
//
// internal/ring rounds its physical capacity up to the next power of
// two, but Channel admits at most the requested capacity: size is an
// admission counter, checked and incremented with a CAS loop before
// every Reserve, so a Channel constructed with capacity N never holds
// more than N values regardless of the ring's physical size.
//
// TrySend, SendSync, TryReceive and ReceiveSync are safe to call from
// any goroutine, reactor or not — they never touch a Continuation. Send
// and Receive settle a Continuation on the owning Reactor and must only
// be called from its own goroutine.
type Channel[T any] struct {
	reactor  *Reactor
	ring     *ring.Ring[T]
	capacity int64
	size     atomic.Int64

	mu          sync.Mutex
	cond        *sync.Cond
	closed      bool
	sendWaiters []*ReadinessEvent
	recvWaiters []*ReadinessEvent
	sendPool    []*ReadinessEvent
	recvPool    []*ReadinessEvent
}

// NewChannel constructs a Channel that admits at most capacity elements.
func NewChannel[T any](r *Reactor, capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	ch := &Channel[T]{
		reactor:  r,
		ring:     ring.New[T](uint64(capacity)),
		capacity: int64(capacity),
	}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// acquireAdmission reserves one of the capacity logical slots, failing
// if the channel is already at its exact capacity even though the
// underlying ring (rounded to a power of two) may have physical room.
func (ch *Channel[T]) acquireAdmission() bool {
	for {
		cur := ch.size.Load()
		if cur >= ch.capacity {
			return false
		}
		if ch.size.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (ch *Channel[T]) releaseAdmission() {
	ch.size.Add(-1)
}

// TrySend attempts to enqueue v without blocking, failing with BUSY if
// the channel is at capacity or CLOSED if Close has already returned.
func (ch *Channel[T]) TrySend(v T) error {
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ch.acquireAdmission() {
		return ErrBusy
	}
	idx, ok := ch.ring.Reserve()
	if !ok {
		ch.releaseAdmission()
		return ErrBusy
	}
	ch.ring.Commit(idx, v)
	ch.wakeReceivers()
	return nil
}

// TryReceive attempts to dequeue a value without blocking, failing with
// BUSY if the channel is empty but open, or CLOSED if it is empty and
// closed. A receiver may keep draining values committed before Close
// ran; only once the channel is empty does it observe CLOSED.
func (ch *Channel[T]) TryReceive() (T, error) {
	if idx, val, ok := ch.ring.Acquire(); ok {
		ch.ring.Release(idx)
		ch.releaseAdmission()
		ch.wakeSenders()
		return val, nil
	}
	var zero T
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return zero, ErrClosed
	}
	return zero, ErrBusy
}

// optionalTimeout returns the first element of timeout, or 0 (no
// deadline) if none was given — the Go rendering of the spec's
// bracketed sendSync(v,[t]) / receiveSync([t]) optional argument.
func optionalTimeout(timeout []time.Duration) time.Duration {
	if len(timeout) == 0 {
		return 0
	}
	return timeout[0]
}

// SendSync blocks the calling goroutine (which need not be the
// reactor's) until v is enqueued, the channel closes, or the optional
// timeout elapses.
func (ch *Channel[T]) SendSync(v T, timeout ...time.Duration) error {
	deadline, hasDeadline := deadlineFrom(optionalTimeout(timeout))
	var timer *time.Timer
	if hasDeadline {
		timer = time.AfterFunc(time.Until(deadline), ch.cond.Broadcast)
		defer timer.Stop()
	}
	for {
		err := ch.TrySend(v)
		if err == nil || err != ErrBusy {
			return err
		}
		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			continue
		}
		if hasDeadline && !time.Now().Before(deadline) {
			ch.mu.Unlock()
			return ErrTimeout
		}
		ch.cond.Wait()
		ch.mu.Unlock()
	}
}

// ReceiveSync blocks the calling goroutine until a value is dequeued,
// the channel closes with nothing left to drain, or the optional
// timeout elapses.
func (ch *Channel[T]) ReceiveSync(timeout ...time.Duration) (T, error) {
	deadline, hasDeadline := deadlineFrom(optionalTimeout(timeout))
	var timer *time.Timer
	if hasDeadline {
		timer = time.AfterFunc(time.Until(deadline), ch.cond.Broadcast)
		defer timer.Stop()
	}
	for {
		val, err := ch.TryReceive()
		if err == nil || err != ErrBusy {
			return val, err
		}
		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			continue
		}
		if hasDeadline && !time.Now().Before(deadline) {
			ch.mu.Unlock()
			var zero T
			return zero, ErrTimeout
		}
		ch.cond.Wait()
		ch.mu.Unlock()
	}
}

func deadlineFrom(timeout time.Duration) (time.Time, bool) {
	if timeout <= 0 {
		return time.Time{}, false
	}
	return time.Now().Add(timeout), true
}

// acquireEvent pops a pooled waiter event for the given direction's
// pool, or allocates one if the pool is empty. Reusing events across
// retries (and across calls) avoids allocating a fresh synthetic
// ReadinessEvent on every ring-full/empty retry.
func acquireEvent(pool *[]*ReadinessEvent, r *Reactor) *ReadinessEvent {
	n := len(*pool)
	if n == 0 {
		return NewReadinessEvent(r, -1)
	}
	ev := (*pool)[n-1]
	*pool = (*pool)[:n-1]
	return ev
}

// Send enqueues v, retrying via a pooled Readiness Event waiter each
// time the channel reports full, settling once the send succeeds, the
// channel closes, or the optional timeout elapses. Must be called on the
// owning Reactor's goroutine.
func (ch *Channel[T]) Send(v T, timeout ...time.Duration) *Continuation[struct{}] {
	out, resolve, reject := NewContinuation[struct{}](ch.reactor)
	t := optionalTimeout(timeout)

	var step func()
	step = func() {
		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			reject(ErrClosed)
			return
		}
		if !ch.acquireAdmission() {
			ch.mu.Unlock()
			ch.sendFull(v, t, resolve, reject, step)
			return
		}
		idx, ok := ch.ring.Reserve()
		if !ok {
			ch.releaseAdmission()
			ch.mu.Unlock()
			ch.sendFull(v, t, resolve, reject, step)
			return
		}
		ch.ring.Commit(idx, v)
		ch.mu.Unlock()
		ch.wakeReceivers()
		resolve(struct{}{})
	}
	step()
	return out
}

func (ch *Channel[T]) sendFull(v T, timeout time.Duration, resolve func(struct{}), reject func(error), step func()) {
	ch.mu.Lock()
	ev := acquireEvent(&ch.sendPool, ch.reactor)
	ch.sendWaiters = append(ch.sendWaiters, ev)
	ch.mu.Unlock()
	ev.On(Write, timeout).Then(func(bits Readiness) {
		ch.mu.Lock()
		ch.sendPool = append(ch.sendPool, ev)
		ch.mu.Unlock()
		if bits&Timeout != 0 {
			reject(ErrTimeout)
			return
		}
		step()
	}).Fail(func(err error) {
		ch.mu.Lock()
		ch.sendPool = append(ch.sendPool, ev)
		ch.mu.Unlock()
		reject(err)
	})
}

// Receive dequeues a value, retrying via a pooled Readiness Event waiter
// each time the channel reports empty, settling once a value arrives,
// the channel closes with nothing left to drain, or the optional timeout
// elapses. Must be called on the owning Reactor's goroutine.
func (ch *Channel[T]) Receive(timeout ...time.Duration) *Continuation[T] {
	out, resolve, reject := NewContinuation[T](ch.reactor)
	t := optionalTimeout(timeout)

	var step func()
	step = func() {
		ch.mu.Lock()
		if idx, val, ok := ch.ring.Acquire(); ok {
			ch.ring.Release(idx)
			ch.mu.Unlock()
			ch.releaseAdmission()
			ch.wakeSenders()
			resolve(val)
			return
		}
		if ch.closed {
			ch.mu.Unlock()
			reject(ErrClosed)
			return
		}
		ch.mu.Unlock()
		ch.recvEmpty(t, resolve, reject, step)
	}
	step()
	return out
}

func (ch *Channel[T]) recvEmpty(timeout time.Duration, resolve func(T), reject func(error), step func()) {
	ch.mu.Lock()
	ev := acquireEvent(&ch.recvPool, ch.reactor)
	ch.recvWaiters = append(ch.recvWaiters, ev)
	ch.mu.Unlock()
	ev.On(Read, timeout).Then(func(bits Readiness) {
		ch.mu.Lock()
		ch.recvPool = append(ch.recvPool, ev)
		ch.mu.Unlock()
		if bits&Timeout != 0 {
			reject(ErrTimeout)
			return
		}
		step()
	}).Fail(func(err error) {
		ch.mu.Lock()
		ch.recvPool = append(ch.recvPool, ev)
		ch.mu.Unlock()
		reject(err)
	})
}

// Close marks the channel closed: no further send succeeds (TrySend,
// SendSync and Send all observe CLOSED once this call returns), and
// every waiter — sync or reactor-hosted — is woken with CLOSED.
func (ch *Channel[T]) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrClosed
	}
	ch.closed = true
	sendWaiters := ch.sendWaiters
	recvWaiters := ch.recvWaiters
	ch.sendWaiters, ch.recvWaiters = nil, nil
	ch.mu.Unlock()

	ch.cond.Broadcast()
	if len(sendWaiters) > 0 || len(recvWaiters) > 0 {
		ch.reactor.Post(func() {
			for _, ev := range sendWaiters {
				ev.Trigger(Closed)
			}
			for _, ev := range recvWaiters {
				ev.Trigger(Closed)
			}
		})
	}
	return nil
}

// wakeReceivers runs after a successful send: it wakes any ReceiveSync
// callers blocked on the condition variable, and posts a reactor task
// that triggers Read on every reactor-hosted Receive waiter enrolled at
// that moment — at most one wakeup per waiter, per the exactly-once
// delivery invariant.
func (ch *Channel[T]) wakeReceivers() {
	ch.cond.Broadcast()
	ch.mu.Lock()
	waiters := ch.recvWaiters
	ch.recvWaiters = nil
	ch.mu.Unlock()
	if len(waiters) == 0 {
		return
	}
	ch.reactor.Post(func() {
		for _, ev := range waiters {
			ev.Trigger(Read)
		}
	})
}

// wakeSenders is wakeReceivers' mirror image, run after a successful
// receive.
func (ch *Channel[T]) wakeSenders() {
	ch.cond.Broadcast()
	ch.mu.Lock()
	waiters := ch.sendWaiters
	ch.sendWaiters = nil
	ch.mu.Unlock()
	if len(waiters) == 0 {
		return
	}
	ch.reactor.Post(func() {
		for _, ev := range waiters {
			ev.Trigger(Write)
		}
	})
}

// Len returns an instantaneous estimate of the number of queued values.
func (ch *Channel[T]) Len() int { return int(ch.size.Load()) }

// Cap returns the channel's fixed capacity (exact, unlike the
// underlying ring's power-of-two-rounded physical size).
func (ch *Channel[T]) Cap() int { return int(ch.capacity) }
