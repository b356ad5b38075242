package ratelimit

import (
	"context"
	"sync"
	"time"
)

type tokenWindow struct {
	minuteBucket int64
	minuteCount  int
	dayBucket    int64
	dayCount     int
}

// MemoryLimiter keeps per-token fixed windows in process memory. Windows are
// aligned to wall-clock buckets (unix time divided by the window length) and
// reset lazily on first use after a bucket change.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*tokenWindow
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*tokenWindow),
		now:     time.Now,
	}
}

// ConsumeOrDeny admits the request and counts it against both windows, or
// denies it without consuming anything.
func (l *MemoryLimiter) ConsumeOrDeny(_ context.Context, token string, rpm, rpd int) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().Unix()
	minuteBucket := now / 60
	dayBucket := now / 86400

	w := l.windows[token]
	if w == nil {
		w = &tokenWindow{minuteBucket: minuteBucket, dayBucket: dayBucket}
		l.windows[token] = w
	}
	if w.minuteBucket != minuteBucket {
		w.minuteBucket = minuteBucket
		w.minuteCount = 0
	}
	if w.dayBucket != dayBucket {
		w.dayBucket = dayBucket
		w.dayCount = 0
	}

	if w.minuteCount >= rpm {
		return Snapshot{}, &DeniedError{Message: "minute limit reached", Window: "minute"}
	}
	if w.dayCount >= rpd {
		return Snapshot{}, &DeniedError{Message: "daily limit reached", Window: "day"}
	}

	w.minuteCount++
	w.dayCount++
	return Snapshot{
		LimitMinute:     rpm,
		RemainingMinute: max(rpm-w.minuteCount, 0),
		LimitDay:        rpd,
		RemainingDay:    max(rpd-w.dayCount, 0),
	}, nil
}
