// Package ring implements a bounded, lock-free, multi-producer
// multi-consumer circular buffer using the Vyukov sequence-CAS algorithm.
//
// It underlies the Channel type: reserve/commit drive the producer side,
// acquire/release drive the consumer side, so that a full or empty ring
// can be detected without taking a lock on the fast path.
package ring

import "sync/atomic"

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// Ring is a fixed-capacity circular buffer safe for concurrent use by
// multiple producers and multiple consumers without external locking.
//
// Capacity is rounded up to the next power of two.
type Ring[T any] struct {
	mask  uint64
	pad0  [7]uint64
	head  atomic.Uint64
	pad1  [7]uint64
	tail  atomic.Uint64
	pad2  [7]uint64
	cells []cell[T]
}

// New constructs a Ring with room for at least size elements.
func New[T any](size uint64) *Ring[T] {
	if size < 1 {
		size = 1
	}
	size = nextPowerOfTwo(size)

	r := &Ring[T]{
		mask:  size - 1,
		cells: make([]cell[T], size),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

// Reserve claims the next slot for a producer without publishing data,
// returning the slot index and true on success, or false if the ring is
// full. Call Commit with the returned index once the value is written.
func (r *Ring[T]) Reserve() (idx uint64, ok bool) {
	pos := r.tail.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.sequence.Load()
		dif := int64(seq) - int64(pos)

		switch {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				return pos, true
			}
			pos = r.tail.Load()
		case dif < 0:
			return 0, false
		default:
			pos = r.tail.Load()
		}
	}
}

// Commit writes the value into the slot reserved by Reserve and makes it
// visible to consumers.
func (r *Ring[T]) Commit(idx uint64, v T) {
	cell := &r.cells[idx&r.mask]
	cell.data = v
	cell.sequence.Store(idx + 1)
}

// Acquire claims the next occupied slot for a consumer, returning its
// index, the stored value, and true on success, or false if the ring is
// empty. Call Release with the returned index once done with the value.
func (r *Ring[T]) Acquire() (idx uint64, val T, ok bool) {
	pos := r.head.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.sequence.Load()
		dif := int64(seq) - int64(pos+1)

		switch {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				return pos, cell.data, true
			}
			pos = r.head.Load()
		case dif < 0:
			var zero T
			return 0, zero, false
		default:
			pos = r.head.Load()
		}
	}
}

// Release marks the slot acquired by Acquire as free for a future
// producer to reuse.
func (r *Ring[T]) Release(idx uint64) {
	cell := &r.cells[idx&r.mask]
	var zero T
	cell.data = zero
	cell.sequence.Store(idx + r.mask + 1)
}

// Len returns an instantaneous (racy) estimate of the number of occupied
// slots.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.cells)
}
