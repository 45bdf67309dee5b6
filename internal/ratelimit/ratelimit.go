package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter paces requests against a remote site.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Sleep blocks for d or until the context is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Jittered enforces a randomized min-to-max gap between consecutive actions.
// The jitter keeps the request cadence from looking machine-regular.
type Jittered struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
}

func NewJittered(minDelay, maxDelay time.Duration) *Jittered {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Jittered{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (j *Jittered) Wait(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	elapsed := time.Since(j.lastAction)
	delay := j.delay()

	if elapsed < delay {
		if err := Sleep(ctx, delay-elapsed); err != nil {
			return err
		}
	}

	j.lastAction = time.Now()
	return nil
}

func (j *Jittered) delay() time.Duration {
	if j.maxDelay == j.minDelay {
		return j.minDelay
	}
	return j.minDelay + time.Duration(rand.Int63n(int64(j.maxDelay-j.minDelay)))
}

// Adaptive widens the gap after repeated errors and slowly narrows it again
// while requests keep succeeding.
type Adaptive struct {
	*Jittered
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	floor         time.Duration
	ceiling       time.Duration
}

func NewAdaptive(minDelay, maxDelay time.Duration) *Adaptive {
	return &Adaptive{
		Jittered:      NewJittered(minDelay, maxDelay),
		maxErrorCount: 3,
		backoffFactor: 1.5,
		floor:         minDelay,
		ceiling:       10 * maxDelay,
	}
}

func (a *Adaptive) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		a.successCount = 0
	}
}

func (a *Adaptive) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMax > a.ceiling {
			newMax = a.ceiling
		}
		if newMin > newMax {
			newMin = newMax
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}
