// Package admission implements the process-wide render semaphore: bounded
// admission control with a FIFO wait queue and fast failure once that queue
// is full (spec §4.1). It is the only place in the system where concurrent
// load is bounded.
//
// The critical section is a single sync.Mutex guarding an in-flight counter
// and a FIFO queue of waiters, in the spirit of the teacher's own
// mutex-guarded event loop in faster_raster.go -- generalized here from "one
// document's render actor" to "N concurrent requests across the process."
package admission

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sigma-2026/pdf2img/internal/errs"
)

// Status is a point-in-time observability snapshot (spec §4.1 status()).
type Status struct {
	Max        int
	InFlight   int
	QueueLen   int
	QueueLimit int
}

// Semaphore is the RenderSemaphore of spec §4.1.
type Semaphore struct {
	mu          sync.Mutex
	maxInFlight int
	queueLimit  int
	inFlight    int
	waiters     *list.List // of *waiter
}

type waiter struct {
	grant chan struct{}
}

// New constructs a Semaphore with the given admission and queue-depth
// bounds.
func New(maxInFlight, queueLimit int) *Semaphore {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if queueLimit < 0 {
		queueLimit = 0
	}
	return &Semaphore{
		maxInFlight: maxInFlight,
		queueLimit:  queueLimit,
		waiters:     list.New(),
	}
}

// Permit is the opaque handle returned by Acquire. Release must be called
// exactly once on every exit path; subsequent calls are no-ops.
type Permit struct {
	sem      *Semaphore
	WaitMs   float64
	mu       sync.Mutex
	released bool
}

// Acquire blocks (subject to ctx) until a slot is available, fails fast with
// QueueFull if the wait queue is already at capacity, or fails with
// Cancelled if ctx is done before a slot opens up.
func (s *Semaphore) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, "context already done", err)
	}

	s.mu.Lock()
	if s.inFlight < s.maxInFlight {
		s.inFlight++
		s.mu.Unlock()
		return &Permit{sem: s}, nil
	}

	if s.waiters.Len() >= s.queueLimit {
		s.mu.Unlock()
		return nil, errs.ErrQueueFull
	}

	w := &waiter{grant: make(chan struct{}, 1)}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	enqueuedAt := time.Now()

	select {
	case <-w.grant:
		return &Permit{sem: s, WaitMs: float64(time.Since(enqueuedAt).Milliseconds())}, nil
	case <-ctx.Done():
		s.mu.Lock()
		removed := removeWaiter(s.waiters, elem)
		s.mu.Unlock()
		if !removed {
			// Lost the race: release() already popped us off the queue and
			// granted a slot before we could cancel. Take the grant back
			// and hand the slot to the next FIFO waiter instead of leaking
			// in_flight.
			<-w.grant
			s.release()
		}
		return nil, errs.ErrCancelled
	}
}

func removeWaiter(l *list.List, target *list.Element) bool {
	for e := l.Front(); e != nil; e = e.Next() {
		if e == target {
			l.Remove(e)
			return true
		}
	}
	return false
}

// release is the internal, lock-driving half of Permit.Release: decrements
// in_flight and wakes exactly one FIFO waiter if any are queued.
func (s *Semaphore) release() {
	s.mu.Lock()
	if s.inFlight > 0 {
		s.inFlight--
	}

	front := s.waiters.Front()
	if front == nil {
		s.mu.Unlock()
		return
	}
	s.waiters.Remove(front)
	w := front.Value.(*waiter)
	s.inFlight++
	w.grant <- struct{}{} // buffered, never blocks
	s.mu.Unlock()
}

// Release releases the permit, waking exactly one FIFO waiter if any are
// queued. Idempotent: a double release is a no-op.
func (p *Permit) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	p.sem.release()
}

// Status reports a snapshot for observability (e.g. the /workers endpoint).
func (s *Semaphore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Max:        s.maxInFlight,
		InFlight:   s.inFlight,
		QueueLen:   s.waiters.Len(),
		QueueLimit: s.queueLimit,
	}
}
