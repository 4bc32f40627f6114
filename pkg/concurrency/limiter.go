package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// LimiterStats is a snapshot of limiter activity.
type LimiterStats struct {
	Acquired       int64
	Released       int64
	Rejected       int64
	Active         int64
	PeakConcurrent int64
	TotalWait      time.Duration
}

// AverageWait returns the mean time spent waiting for a slot.
func (s LimiterStats) AverageWait() time.Duration {
	if s.Acquired == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Acquired)
}

// Limiter bounds the number of concurrent pipeline executions and stops
// admitting work while its circuit breaker is open.
type Limiter struct {
	sem     *semaphore.Weighted
	breaker *CircuitBreaker

	acquired atomic.Int64
	released atomic.Int64
	rejected atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter creates a limiter. A nil breaker never rejects.
func NewLimiter(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		breaker: breaker,
	}
}

// Acquire blocks until a slot is free. It fails fast with ErrCircuitOpen
// while the breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.breaker != nil && !l.breaker.Allow() {
		l.rejected.Add(1)
		return ErrCircuitOpen
	}

	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.waitNs.Add(int64(time.Since(start)))
	l.acquired.Add(1)

	current := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.released.Add(1)
	l.sem.Release(1)
}

// Do runs fn while holding a slot. Errors from fn count as breaker
// failures; success closes the failure run.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn(ctx)
	if l.breaker != nil {
		if err != nil {
			l.breaker.RecordFailure()
		} else {
			l.breaker.RecordSuccess()
		}
	}
	return err
}

// Breaker returns the limiter's circuit breaker, which may be nil.
func (l *Limiter) Breaker() *CircuitBreaker { return l.breaker }

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Acquired:       l.acquired.Load(),
		Released:       l.released.Load(),
		Rejected:       l.rejected.Load(),
		Active:         l.active.Load(),
		PeakConcurrent: l.peak.Load(),
		TotalWait:      time.Duration(l.waitNs.Load()),
	}
}
