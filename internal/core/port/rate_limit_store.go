package port

import (
	"context"
	"time"
)

// RateLimitStore keeps per-key attempt timestamps for sliding-window limits.
// Keys combine the rule name with the client identifier, e.g. "register_ip:203.0.113.7".
type RateLimitStore interface {
	// TrimWindow drops attempts older than now-window.
	TrimWindow(ctx context.Context, key string, window time.Duration, now time.Time) error
	CountAttempts(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	RecordAttempt(ctx context.Context, key string, at time.Time) error
	// OldestAttempt reports the earliest attempt still inside the window, if any.
	OldestAttempt(ctx context.Context, key string, window time.Duration, now time.Time) (time.Time, bool, error)
}
