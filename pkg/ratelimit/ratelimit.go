// Package ratelimit enforces per-token request quotas over two fixed
// windows, one per minute and one per day.
package ratelimit

import (
	"context"
)

// Snapshot reports the state of both windows after a successful consume.
// Remaining values are never negative.
type Snapshot struct {
	LimitMinute     int
	RemainingMinute int
	LimitDay        int
	RemainingDay    int
}

// DeniedError reports that a request exceeded one of its windows. The
// message is returned verbatim in the error envelope; Window names the
// window that denied ("minute" or "day") for metrics.
type DeniedError struct {
	Message string
	Window  string
}

func (e *DeniedError) Error() string {
	return e.Message
}

// Limiter admits or denies one request under a token's quotas. A denial is
// reported as *DeniedError; any other error means the limiter itself failed.
type Limiter interface {
	ConsumeOrDeny(ctx context.Context, token string, rpm, rpd int) (Snapshot, error)
}
