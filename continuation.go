package aio

import "sync"

// continuationState mirrors the three states a Continuation can occupy,
// the same shape as the teacher's own PromiseState enum.
type continuationState int32

const (
	statePending continuationState = iota
	stateFulfilled
	stateRejected
)

// LoopAction is returned by the callback passed to Loop to decide whether
// iteration continues.
type LoopAction int

const (
	// Continue requests another iteration of Loop.
	Continue LoopAction = iota
	// Break stops Loop, fulfilling the resulting Continuation with the
	// value fn returned alongside it (LoopAsync fulfills with struct{}{}).
	Break
)

// Continuation is a value-or-error slot, settled at most once, with
// callbacks dispatched on the Reactor that owns it (via post) so user
// code never runs concurrently with the event loop's own dispatch.
//
// The zero value is not usable; construct one with NewContinuation,
// Resolve, Reject or Chain.
type Continuation[T any] struct {
	reactor *Reactor

	mu    sync.Mutex
	state continuationState
	value T
	err   error

	onOk  []func(T)
	onErr []func(error)
}

// NewContinuation returns a pending Continuation together with the
// resolve/reject functions that settle it. Settling is idempotent: only
// the first call has any effect.
func NewContinuation[T any](r *Reactor) (c *Continuation[T], resolve func(T), reject func(error)) {
	c = &Continuation[T]{reactor: r}
	return c, c.resolve, c.reject
}

// Resolve returns a Continuation already fulfilled with v.
func Resolve[T any](r *Reactor, v T) *Continuation[T] {
	c := &Continuation[T]{reactor: r, state: stateFulfilled, value: v}
	return c
}

// Reject returns a Continuation already rejected with err.
func Reject[T any](r *Reactor, err error) *Continuation[T] {
	c := &Continuation[T]{reactor: r, state: stateRejected, err: err}
	return c
}

// Chain constructs a new pending Continuation and invokes fn with its
// resolve/reject pair, the way the original promise::chain combinator
// lets a caller wire settlement into an arbitrary async operation.
func Chain[T any](r *Reactor, fn func(resolve func(T), reject func(error))) *Continuation[T] {
	c, resolve, reject := NewContinuation[T](r)
	fn(resolve, reject)
	return c
}

func (c *Continuation[T]) resolve(v T) {
	c.mu.Lock()
	if c.state != statePending {
		c.mu.Unlock()
		return
	}
	c.state = stateFulfilled
	c.value = v
	cbs := c.onOk
	c.onOk, c.onErr = nil, nil
	c.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		c.post(func() { cb(v) })
	}
}

func (c *Continuation[T]) reject(err error) {
	c.mu.Lock()
	if c.state != statePending {
		c.mu.Unlock()
		return
	}
	c.state = stateRejected
	c.err = err
	cbs := c.onErr
	c.onOk, c.onErr = nil, nil
	c.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		c.post(func() { cb(err) })
	}
}

func (c *Continuation[T]) post(fn func()) {
	if c.reactor != nil {
		c.reactor.Post(fn)
		return
	}
	fn()
}

// Pending reports whether the Continuation has not yet settled.
func (c *Continuation[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == statePending
}

// onSettle registers callbacks to run once the Continuation settles,
// dispatching immediately (via post, so it's never reentrant with the
// caller) if it has already settled.
func (c *Continuation[T]) onSettle(onOk func(T), onErr func(error)) {
	c.mu.Lock()
	switch c.state {
	case stateFulfilled:
		v := c.value
		c.mu.Unlock()
		c.post(func() { onOk(v) })
		return
	case stateRejected:
		err := c.err
		c.mu.Unlock()
		c.post(func() { onErr(err) })
		return
	}
	c.onOk = append(c.onOk, onOk)
	c.onErr = append(c.onErr, onErr)
	c.mu.Unlock()
}

// Then registers a success callback, invoked with the fulfilled value.
// Returns c for chaining with Fail/Finally.
func (c *Continuation[T]) Then(onOk func(T)) *Continuation[T] {
	c.onSettle(onOk, func(error) {})
	return c
}

// Fail registers a failure callback, invoked with the rejection error.
func (c *Continuation[T]) Fail(onErr func(error)) *Continuation[T] {
	c.onSettle(func(T) {}, onErr)
	return c
}

// Finally registers a callback invoked regardless of outcome.
func (c *Continuation[T]) Finally(fn func()) *Continuation[T] {
	c.onSettle(func(T) { fn() }, func(error) { fn() })
	return c
}

// ThenMap chains a transformation into a new Continuation[R], the
// asynchronous analog to the original's Promise::then(onFulfilled).
// If fn returns an error, the resulting Continuation is rejected.
func ThenMap[T, R any](c *Continuation[T], fn func(T) (R, error)) *Continuation[R] {
	out, resolve, reject := NewContinuation[R](c.reactor)
	c.onSettle(
		func(v T) {
			r, err := fn(v)
			if err != nil {
				reject(err)
				return
			}
			resolve(r)
		},
		func(err error) { reject(err) },
	)
	return out
}

// ThenChain chains an async continuation-producing transformation into a
// new Continuation[R], flattening the nested result the way
// Promise::then(onFulfilled) does when onFulfilled itself returns a
// Promise.
func ThenChain[T, R any](c *Continuation[T], fn func(T) *Continuation[R]) *Continuation[R] {
	out, resolve, reject := NewContinuation[R](c.reactor)
	c.onSettle(
		func(v T) {
			inner := fn(v)
			inner.onSettle(resolve, reject)
		},
		func(err error) { reject(err) },
	)
	return out
}

// All waits for every Continuation to fulfill, resolving with their
// values in order, or rejects as soon as any one rejects.
func All[T any](r *Reactor, cs ...*Continuation[T]) *Continuation[[]T] {
	out, resolve, reject := NewContinuation[[]T](r)
	if len(cs) == 0 {
		resolve(nil)
		return out
	}

	results := make([]T, len(cs))
	var mu sync.Mutex
	remaining := len(cs)
	done := false

	for i, c := range cs {
		i := i
		c.onSettle(
			func(v T) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				results[i] = v
				remaining--
				if remaining == 0 {
					done = true
					resolve(results)
				}
			},
			func(err error) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				done = true
				reject(err)
			},
		)
	}
	return out
}

// Race resolves or rejects with whichever Continuation settles first.
func Race[T any](r *Reactor, cs ...*Continuation[T]) *Continuation[T] {
	out, resolve, reject := NewContinuation[T](r)
	var mu sync.Mutex
	done := false

	for _, c := range cs {
		c.onSettle(
			func(v T) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				done = true
				resolve(v)
			},
			func(err error) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				done = true
				reject(err)
			},
		)
	}
	return out
}

// Any resolves with the first fulfilled value, or rejects once every
// input has rejected (with the last error observed).
func Any[T any](r *Reactor, cs ...*Continuation[T]) *Continuation[T] {
	out, resolve, reject := NewContinuation[T](r)
	if len(cs) == 0 {
		reject(newError(CodeInvalidArgument, "Any requires at least one continuation"))
		return out
	}

	var mu sync.Mutex
	remaining := len(cs)
	done := false
	var lastErr error

	for _, c := range cs {
		c.onSettle(
			func(v T) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				done = true
				resolve(v)
			},
			func(err error) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				lastErr = err
				remaining--
				if remaining == 0 {
					done = true
					reject(lastErr)
				}
			},
		)
	}
	return out
}

// Loop repeatedly invokes fn, resolving with the accumulated value once
// fn returns Break, or rejecting as soon as fn returns an error. This is
// the Go analog of the original's loop<T> combinator and its
// P_CONTINUE/P_BREAK/P_BREAK_V/P_BREAK_E macros: fn returns
// (value, Continue) to keep looping, (value, Break) to stop and fulfill
// with value, or a non-nil error to stop and reject.
func Loop[T any](r *Reactor, fn func() (T, LoopAction, error)) *Continuation[T] {
	out, resolve, reject := NewContinuation[T](r)

	var step func()
	step = func() {
		v, action, err := fn()
		if err != nil {
			reject(err)
			return
		}
		if action == Break {
			resolve(v)
			return
		}
		r.Post(step)
	}
	r.Post(step)
	return out
}

// LoopAsync is like Loop, but each iteration is itself asynchronous: fn
// returns a Continuation[LoopAction] that must settle before the next
// iteration is attempted. This mirrors how the original's channel
// send/receive implement retry-until-ready using promise::loop<void>.
func LoopAsync(r *Reactor, fn func() *Continuation[LoopAction]) *Continuation[struct{}] {
	out, resolve, reject := NewContinuation[struct{}](r)

	var step func()
	step = func() {
		fn().onSettle(
			func(action LoopAction) {
				if action == Break {
					resolve(struct{}{})
					return
				}
				step()
			},
			reject,
		)
	}
	step()
	return out
}
