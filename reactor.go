// Package aio implements a single-threaded, readiness-based asynchronous
// I/O core: a Reactor event loop, a Continuation value-or-error runtime,
// readiness-subscribed events, timers and signals, a duplex Byte Buffer
// state machine, an in-process Paired Buffer, stream/datagram sockets,
// a TLS transport, and a bounded lock-free Channel.
package aio

import (
	"container/heap"
	"sync"
	"time"

	"github.com/iosync/aio/internal/logging"
)

// ReactorOption configures a Reactor at construction time, the same
// functional-options shape the teacher uses for its own event loop
// (LoopOption / loopOptions).
type ReactorOption interface {
	apply(*reactorOptions)
}

type reactorOptions struct {
	logger       *logging.Logger
	tickInterval time.Duration
}

type reactorOptionFunc func(*reactorOptions)

func (f reactorOptionFunc) apply(o *reactorOptions) { f(o) }

// WithLogger overrides the Reactor's structured logger. The default
// discards all output.
func WithLogger(l *logging.Logger) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.logger = l })
}

// WithMaxTick bounds the longest a single Dispatch poll iteration will
// block even with no timers pending, so Post wakeups from other
// goroutines are never starved by platforms with coarse wake-fd support.
func WithMaxTick(d time.Duration) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.tickInterval = d })
}

func resolveOptions(opts []ReactorOption) *reactorOptions {
	o := &reactorOptions{
		logger:       logging.Nop,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(o)
		}
	}
	return o
}

// timerTask is a scheduled callback awaiting its deadline, ordered into
// a min-heap by deadline.
type timerTask struct {
	deadline time.Time
	seq      uint64 // tie-breaker, and stable cancellation handle
	period   time.Duration
	fn       func(now time.Time) (rearm bool)
	index    int
	cancelled bool
}

type timerHeap []*timerTask

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Reactor is the single-threaded event loop at the core of the package:
// it multiplexes file descriptor readiness, timers, signals and posted
// tasks into completion callbacks. A Reactor must only be driven by one
// goroutine calling Dispatch; Post and LoopBreak are safe to call from
// any goroutine.
type Reactor struct {
	log *logging.Logger

	p    poller
	wake *wakeFD

	mu         sync.Mutex
	postQueue  []func()
	breaking   bool
	dispatched bool

	timers     timerHeap
	timerSeq   uint64
	tickMax    time.Duration

	resolver *resolver
}

// NewReactor constructs a Reactor and initializes its OS poller and
// cross-goroutine wake mechanism.
func NewReactor(opts ...ReactorOption) (*Reactor, error) {
	o := resolveOptions(opts)

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	wake, err := newWakeFD()
	if err != nil {
		_ = p.close()
		return nil, err
	}

	r := &Reactor{
		log:     o.logger,
		p:       p,
		wake:    wake,
		tickMax: o.tickInterval,
	}
	r.resolver = newResolver(r)

	if fd := wake.readFD(); fd >= 0 {
		if err := p.registerFD(fd, ioRead, func(ioInterest) { wake.drain() }); err != nil {
			_ = wake.close()
			_ = p.close()
			return nil, err
		}
	}
	return r, nil
}

// Base returns the Reactor itself, serving as the shared context handle
// passed to the constructors of events, timers, signals, buffers and
// sockets — the Go analog of the original's Context{event_base, ...}.
func (r *Reactor) Base() *Reactor { return r }

// Post schedules fn to run on the reactor's own goroutine during its
// next loop iteration. Safe to call from any goroutine, including from
// within a callback already running on the reactor.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	r.postQueue = append(r.postQueue, fn)
	r.mu.Unlock()
	_ = r.wake.signal()
}

// LoopBreak requests that the current (or next) Dispatch call return as
// soon as its in-flight tasks finish.
func (r *Reactor) LoopBreak() {
	r.mu.Lock()
	r.breaking = true
	r.mu.Unlock()
	_ = r.wake.signal()
}

// Dispatch runs the event loop until LoopBreak is called, or returns the
// error if a poll fails. It does not return on its own when no fds,
// timers or signals remain registered. It must be called from a single
// goroutine at a time.
func (r *Reactor) Dispatch() error {
	for {
		r.mu.Lock()
		if r.breaking {
			r.breaking = false
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		r.runDueTimers()

		timeout := r.nextTimeout()
		if err := r.p.poll(timeout); err != nil {
			r.log.Errorf("poll failed", logging.Err(err))
			return err
		}

		r.runDueTimers()
		r.drainPosted()
	}
}

func (r *Reactor) drainPosted() {
	r.mu.Lock()
	tasks := r.postQueue
	r.postQueue = nil
	r.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

// nextTimeout computes the poll() timeout in milliseconds: the time
// until the next timer deadline, capped at tickMax so Post from other
// goroutines is never starved, or 0 if posted work is already queued.
func (r *Reactor) nextTimeout() int {
	r.mu.Lock()
	hasWork := len(r.postQueue) > 0
	var next time.Time
	hasTimer := len(r.timers) > 0
	if hasTimer {
		next = r.timers[0].deadline
	}
	maxWait := r.tickMax
	r.mu.Unlock()

	if hasWork {
		return 0
	}
	if !hasTimer {
		if maxWait <= 0 {
			return -1
		}
		return int(maxWait / time.Millisecond)
	}

	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	return int(d / time.Millisecond)
}

func (r *Reactor) runDueTimers() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.timers) == 0 {
			r.mu.Unlock()
			return
		}
		top := r.timers[0]
		if top.cancelled {
			heap.Pop(&r.timers)
			r.mu.Unlock()
			continue
		}
		if top.deadline.After(now) {
			r.mu.Unlock()
			return
		}
		heap.Pop(&r.timers)
		r.mu.Unlock()

		rearm := top.fn(now)
		if rearm && !top.cancelled {
			top.deadline = now.Add(top.period)
			r.mu.Lock()
			heap.Push(&r.timers, top)
			r.mu.Unlock()
		}
	}
}

// scheduleTimer arms fn to run once at now+delay (or repeatedly every
// period afterwards if fn returns true), returning a handle usable to
// cancel it.
func (r *Reactor) scheduleTimer(delay time.Duration, period time.Duration, fn func(now time.Time) bool) *timerTask {
	r.mu.Lock()
	r.timerSeq++
	t := &timerTask{
		deadline: time.Now().Add(delay),
		seq:      r.timerSeq,
		period:   period,
		fn:       fn,
	}
	heap.Push(&r.timers, t)
	r.mu.Unlock()
	_ = r.wake.signal()
	return t
}

func (r *Reactor) cancelTimer(t *timerTask) {
	r.mu.Lock()
	t.cancelled = true
	r.mu.Unlock()
}

// Close tears down the Reactor's poller and wake mechanism. Dispatch
// must not be called after Close.
func (r *Reactor) Close() error {
	err1 := r.wake.close()
	err2 := r.p.close()
	if err1 != nil {
		return err1
	}
	return err2
}

// AddNameserver registers an additional DNS server (host, optionally
// "host:port") to be consulted by the reactor's resolver, used by
// ConnectTCP's hostname resolution.
func (r *Reactor) AddNameserver(addr string) error {
	return r.resolver.addNameserver(addr)
}

// DNSHandle returns the reactor's resolver, for direct hostname lookups.
func (r *Reactor) DNSHandle() *resolver {
	return r.resolver
}
