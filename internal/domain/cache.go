package domain

import (
	"context"
	"time"
)

// EventCache provides fast event lookups in front of the state store.
type EventCache interface {
	Set(ctx context.Context, ev Event) error
	Get(ctx context.Context, id int64) (Event, error)
	Invalidate(ctx context.Context, id int64) error
}

// LockManager provides per-event locking so that mutating commands on the
// same event are serialized even across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles callers of the command endpoints.
type RateLimiter interface {
	// Allow reports whether a request under key fits the limit for the
	// window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request under key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for settlement
// announcements (event created, bet placed, event resolved, claim paid).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
