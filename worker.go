package aio

import "runtime"

// Worker runs submitted tasks on a single dedicated OS thread (pinned
// via runtime.LockOSThread, the Go analog of the original's
// std::thread-backed worker), completing each one back on the owning
// Reactor's goroutine through Post — the same synthetic-completion
// path a real fd-backed readiness event would use, just without an fd.
type Worker struct {
	reactor *Reactor
	tasks   chan func()
	done    chan struct{}
}

// NewWorker starts a Worker's dedicated thread. Call Close to stop it.
func NewWorker(r *Reactor) *Worker {
	w := &Worker{
		reactor: r,
		tasks:   make(chan func(), 16),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case fn := <-w.tasks:
			fn()
		case <-w.done:
			return
		}
	}
}

// Close stops the worker's thread. Submit must not be called after
// Close.
func (w *Worker) Close() { close(w.done) }

// Submit runs fn on the worker's dedicated thread, settling the
// returned Continuation on the owning Reactor once fn returns.
func Submit[T any](w *Worker, fn func() (T, error)) *Continuation[T] {
	c, resolve, reject := NewContinuation[T](w.reactor)
	w.tasks <- func() {
		v, err := fn()
		w.reactor.Post(func() {
			if err != nil {
				reject(err)
				return
			}
			resolve(v)
		})
	}
	return c
}

// ToThread runs fn on a one-off goroutine and settles the returned
// Continuation back on r once it completes — the lighter-weight
// counterpart to Worker for a single fire-and-forget blocking call
// (e.g. a getaddrinfo-style lookup) that doesn't warrant a dedicated,
// long-lived thread.
func ToThread[T any](r *Reactor, fn func() (T, error)) *Continuation[T] {
	c, resolve, reject := NewContinuation[T](r)
	go func() {
		v, err := fn()
		r.Post(func() {
			if err != nil {
				reject(err)
				return
			}
			resolve(v)
		})
	}()
	return c
}
