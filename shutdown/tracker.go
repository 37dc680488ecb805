// Package shutdown coordinates a graceful stop of `sdstudio serve`: running
// generations are allowed to finish, then cleanup handlers run in priority
// order.
package shutdown

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrClosed      = errors.New("shutdown: not accepting new work")
	ErrWaitTimeout = errors.New("shutdown: in-flight work did not finish in time")
)

// Tracker counts in-flight generations. After Close, Begin refuses new work.
//
//	if !tracker.Begin() {
//		return ErrClosed
//	}
//	defer tracker.End()
type Tracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active int
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin registers one unit of work. When it returns true the caller must
// call End.
func (t *Tracker) Begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.active++
	t.wg.Add(1)
	return true
}

func (t *Tracker) End() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
	t.wg.Done()
}

// Close stops Begin from accepting work. It is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Wait blocks until all work has ended or timeout elapses.
func (t *Tracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}
