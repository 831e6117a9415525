package ratelimit

import (
	"sync"
	"time"
)

// DefaultMinInterval between two purchase attempts of one session.
const DefaultMinInterval = 30 * time.Second

// Decision is the result of TryAcquire. Remaining is set only when Ok is false.
type Decision struct {
	Ok        bool
	Remaining time.Duration
}

// Limiter enforces a minimum spacing between attempts. The zero value is ready
// to use and has no previous attempt.
type Limiter struct {
	mu     sync.Mutex
	last   time.Time
	primed bool
}

func New() *Limiter {
	return &Limiter{}
}

// TryAcquire records an attempt at now when at least minInterval has passed
// since the last recorded one. A throttled call leaves the state untouched.
func (l *Limiter) TryAcquire(now time.Time, minInterval time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.primed {
		if elapsed := now.Sub(l.last); elapsed < minInterval {
			return Decision{Remaining: minInterval - elapsed}
		}
	}
	l.last = now
	l.primed = true
	return Decision{Ok: true}
}

// LastAttemptAt returns the time of the last accepted attempt, if any.
func (l *Limiter) LastAttemptAt() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.primed
}
