// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Non-Blocking Push: producers never wait for the consumer, a push is a
//     handful of atomic operations plus one node allocation
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Value Semantics: items are stored by value, the producer may reuse its variable
//   - Single Consumer: one goroutine drains the queue via the Recv() channel
//   - FIFO per producer: items pushed by one goroutine are received in push order
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is a single element of the linked list
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// MPSC is a lock-free multi-producer single-consumer queue.
// Producers append to the tail with CAS, a background goroutine moves
// items from the head into the out channel.
type MPSC[T any] struct {
	head     atomic.Pointer[mpscNode[T]]
	tail     atomic.Pointer[mpscNode[T]]
	out      chan T
	consumer sync.WaitGroup
	closed   atomic.Bool
	pushed   atomic.Uint64
	rejected atomic.Uint64

	// wakes the consumer when it is parked on an empty list
	notify chan struct{}
}

// NewMPSC creates a new queue. outBuffer is the capacity of the receive
// channel, 0 gives an unbuffered channel.
func NewMPSC[T any](outBuffer int) *MPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &MPSC[T]{
		out:    make(chan T, outBuffer),
		notify: make(chan struct{}, 1),
	}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends an item to the queue.
// Returns false if the queue is closed, in which case the item is dropped.
//
// Thread-safety: This method is thread-safe and never blocks on the consumer.
func (q *MPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		q.rejected.Add(1)
		return false
	}

	newNode := &mpscNode[T]{value: value}

	var backoff uint8
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.pushed.Add(1)
				q.wake()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin briefly under contention, then yield
		if backoff < 6 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the list into the out channel
func (q *MPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	var zero T
	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value

			// next is the new sentinel, drop its payload for the gc
			next.value = zero
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			<-q.notify
		}
	}
}

// wake nudges the consumer without blocking, a pending token is enough
func (q *MPSC[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Recv returns the receive channel of the queue. The channel is closed
// once the queue is closed and every pending item has been delivered.
func (q *MPSC[T]) Recv() <-chan T {
	return q.out
}

// Close closes the queue for producers. Items already queued are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// Wait blocks until the consumer goroutine has delivered every item and exited.
// Only meaningful after Close and while someone keeps reading Recv().
func (q *MPSC[T]) Wait() {
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Pushed returns the number of items accepted by Push.
func (q *MPSC[T]) Pushed() uint64 {
	return q.pushed.Load()
}

// Rejected returns the number of items dropped because the queue was closed.
func (q *MPSC[T]) Rejected() uint64 {
	return q.rejected.Load()
}
