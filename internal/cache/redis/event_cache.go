package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predictlabs/settled/internal/domain"
)

const eventTTL = 5 * time.Minute

// EventCache implements domain.EventCache using Redis hashes with
// JSON-serialized Event data.
//
// Key schema:
//
//	event:{id} - hash with field "data" containing JSON
type EventCache struct {
	rdb *redis.Client
}

// NewEventCache creates an EventCache backed by the given Client.
func NewEventCache(c *Client) *EventCache {
	return &EventCache{rdb: c.Underlying()}
}

func eventKey(id int64) string {
	return "event:" + strconv.FormatInt(id, 10)
}

// Set stores an Event in the cache with a 5-minute TTL.
func (ec *EventCache) Set(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %d: %w", ev.ID, err)
	}

	key := eventKey(ev.ID)

	pipe := ec.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, eventTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set event %d: %w", ev.ID, err)
	}
	return nil
}

// Get retrieves an Event by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (ec *EventCache) Get(ctx context.Context, id int64) (domain.Event, error) {
	data, err := ec.rdb.HGet(ctx, eventKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("redis: get event %d: %w", id, err)
	}

	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("redis: unmarshal event %d: %w", id, err)
	}
	return ev, nil
}

// Invalidate removes an Event from the cache. Mutating commands call this
// after every write so readers never see stale totals or a stale resolved
// flag.
func (ec *EventCache) Invalidate(ctx context.Context, id int64) error {
	if err := ec.rdb.Del(ctx, eventKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate event %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventCache = (*EventCache)(nil)
