package sorting

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Scheduler lets several engines share one logical event loop. Exactly one
// member holds the turn at a time; a member gives it up by waiting, and the
// next turn goes to the earliest pending wait in virtual time, ties resolved
// by arrival order. Real time elapses between grants so pacing is preserved.
type Scheduler struct {
	mu     sync.Mutex
	queue  waitQueue
	seq    uint64
	now    time.Duration
	busy   bool
	signal chan struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{signal: make(chan struct{}, 1)}
}

// Join registers a member. Its first Wait is queued immediately, so members
// take their first turn in the order they joined.
func (s *Scheduler) Join() *Member {
	m := &Member{s: s}
	s.mu.Lock()
	m.pending = s.enqueue(0)
	s.mu.Unlock()
	s.notify()
	return m
}

// Run grants turns until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.busy || s.queue.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.signal:
			}
			continue
		}

		next := s.queue[0]
		if wait := next.due - s.now; wait > 0 {
			from := s.now
			s.mu.Unlock()
			started := time.Now()
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.advance(next.due)
			case <-s.signal:
				timer.Stop()
				s.advance(min(from+time.Since(started), next.due))
			}
			continue
		}

		heap.Pop(&s.queue)
		s.busy = true
		close(next.ready)
		s.mu.Unlock()
	}
}

func (s *Scheduler) enqueue(d time.Duration) *waiter {
	s.seq++
	w := &waiter{due: s.now + max(d, 0), seq: s.seq, ready: make(chan struct{})}
	heap.Push(&s.queue, w)
	return w
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	s.notify()
}

func (s *Scheduler) advance(to time.Duration) {
	s.mu.Lock()
	if to > s.now {
		s.now = to
	}
	s.mu.Unlock()
}

func (s *Scheduler) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Member is one participant of a Scheduler. It implements Pacer and must
// only be used from a single goroutine.
type Member struct {
	s       *Scheduler
	pending *waiter
	holding bool
}

// Wait gives up the turn, if held, and blocks until the member is granted
// the turn again d later in virtual time.
func (m *Member) Wait(ctx context.Context, d time.Duration) error {
	s := m.s
	s.mu.Lock()
	w := m.pending
	m.pending = nil
	if w == nil {
		w = s.enqueue(d)
	}
	if m.holding {
		m.holding = false
		s.busy = false
	}
	s.mu.Unlock()
	s.notify()

	select {
	case <-w.ready:
		m.holding = true
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.index >= 0 {
			heap.Remove(&s.queue, w.index)
			s.mu.Unlock()
			s.notify()
			return ctx.Err()
		}
		s.mu.Unlock()
		// granted while cancelling: hand the turn straight back
		s.release()
		return ctx.Err()
	}
}

// Done leaves the scheduler, releasing the turn if held.
func (m *Member) Done() {
	s := m.s
	s.mu.Lock()
	held := m.holding
	if w := m.pending; w != nil {
		if w.index >= 0 {
			heap.Remove(&s.queue, w.index)
		} else {
			// granted but never claimed
			held = true
		}
	}
	m.pending = nil
	m.holding = false
	s.mu.Unlock()
	if held {
		s.release()
		return
	}
	s.notify()
}

type waiter struct {
	due   time.Duration
	seq   uint64
	ready chan struct{}
	index int
}

type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
