package queue

import (
	"sync/atomic"
	"unsafe"
)

// itemNode represents a node in the lock free queue.
type itemNode[T any] struct {
	value T
	next  unsafe.Pointer
}

// lockFreeQueue is a lock-free, concurrent queue implementation.
// Any number of producers may enqueue while the tick dequeues.
//
// It implements the Queue interface.
type lockFreeQueue[T any] struct {
	head   unsafe.Pointer
	tail   unsafe.Pointer
	length atomic.Int32
}

var _ Queue[int] = (*lockFreeQueue[int])(nil)

// NewLockFreeQueue creates a new lock-free queue and returns it as a Queue interface.
func NewLockFreeQueue[T any]() Queue[T] {
	n := unsafe.Pointer(&itemNode[T]{})
	return &lockFreeQueue[T]{head: n, tail: n}
}

func (q *lockFreeQueue[T]) Reset() {
	n := unsafe.Pointer(&itemNode[T]{})
	atomic.StorePointer(&q.head, n)
	atomic.StorePointer(&q.tail, n)
	q.length.Store(0)
}

// Enqueue adds an item to the tail of the queue.
func (q *lockFreeQueue[T]) Enqueue(item T) {
	n := &itemNode[T]{value: item}
	for {
		tail := load[T](&q.tail)
		next := load[T](&tail.next)
		if tail != load[T](&q.tail) {
			continue
		}

		if next != nil {
			// tail is falling behind, swing it forward.
			cas(&q.tail, tail, next)
			continue
		}

		if cas(&tail.next, next, n) {
			cas(&q.tail, tail, n)
			q.length.Add(1)
			return
		}
	}
}

// Dequeue removes and returns the item at the head of the queue.
func (q *lockFreeQueue[T]) Dequeue() (T, bool) {
	var zero T
	for {
		head := load[T](&q.head)
		tail := load[T](&q.tail)
		next := load[T](&head.next)
		if head != load[T](&q.head) {
			continue
		}

		if head == tail {
			if next == nil {
				return zero, false
			}
			cas(&q.tail, tail, next)
			continue
		}

		// read value before CAS, another dequeue might release next.
		data := next.value
		if cas(&q.head, head, next) {
			q.length.Add(-1)
			return data, true
		}
	}
}

// Peek returns the item at the head of the queue without removing it.
func (q *lockFreeQueue[T]) Peek() (T, bool) {
	var zero T
	for {
		head := load[T](&q.head)
		tail := load[T](&q.tail)
		next := load[T](&head.next)
		if head != load[T](&q.head) {
			continue
		}

		if head != tail {
			return next.value, true
		}
		if next == nil {
			return zero, false
		}
		cas(&q.tail, tail, next)
	}
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *lockFreeQueue[T]) IsEmpty() bool {
	return q.length.Load() == 0
}

// Length returns the number of items in the queue.
func (q *lockFreeQueue[T]) Length() int {
	return int(q.length.Load())
}

func load[T any](p *unsafe.Pointer) *itemNode[T] {
	return (*itemNode[T])(atomic.LoadPointer(p))
}

func cas[T any](p *unsafe.Pointer, oldItem, newItem *itemNode[T]) bool {
	return atomic.CompareAndSwapPointer(p, unsafe.Pointer(oldItem), unsafe.Pointer(newItem))
}
