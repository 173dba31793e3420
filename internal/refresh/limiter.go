package refresh

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrLimiterConcurrency = errors.New("error running refresh, reached concurrency limit")
	ErrLimiterDrain       = errors.New("draining refreshes")
)

// Limiter runs go routines limiting them by the defined concurrency.
//
// Dispatch never blocks, a routine exceeding the limit is refused and the caller retries later.
type Limiter struct {
	// waitgroup for running routines.
	wg sync.WaitGroup
	// mu is the guard for active, drain.
	mu sync.Mutex
	// concurrency is the maximum number of goroutines that can be running.
	concurrency int
	// active is the number of routines dispatched and not yet returned.
	active int
	// drain is the flag set when StopWait() invoked, with drain=true, no further routines are accepted.
	drain bool
}

// NewLimiter returns a new limiting go routine runner.
// To ensure the routines spawned by Limiter are stopped, the StopWait() method should be invoked.
func NewLimiter(concurrency int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Limiter{concurrency: concurrency}
}

// Dispatch runs the given routine in a goroutine.
//
// The routine to be executed should be wrapped in a closure.
func (l *Limiter) Dispatch(f func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.drain {
		return ErrLimiterDrain
	}

	if l.active >= l.concurrency {
		return ErrLimiterConcurrency
	}

	l.active++
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer l.release()

		f()
	}()

	return nil
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active--
}

// ActiveCount returns the count of running routines
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.active
}

// StopWait prevents any further routines from being added
// and waits until all the routines complete.
func (l *Limiter) StopWait() {
	l.mu.Lock()
	l.drain = true
	l.mu.Unlock()

	l.wg.Wait()
}
