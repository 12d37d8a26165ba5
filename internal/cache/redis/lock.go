package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/predictlabs/settled/internal/domain"
)

// lockPrefix namespaces lock keys so they never collide with cached events
// or rate-limit counters sharing the same Redis database.
const lockPrefix = "settled:lock:"

// releaseTimeout bounds the unlock round trip when the acquiring context is
// already gone.
const releaseTimeout = 5 * time.Second

// releaseScript deletes the lock key only when it still holds the caller's
// token. A holder whose TTL expired must not delete a lock that has since
// been re-acquired by someone else.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager serializes settlement commands per event using Redis SET NX
// with a TTL. Every bet, resolution, and claim against an event runs under
// its lock so pool totals never see interleaved writes.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the lock for key or fails fast with domain.ErrLockHeld.
// There is no wait queue: callers retry at their own cadence. The returned
// release function may be called any number of times; only the first call
// does work.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockPrefix + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() { lm.releaseLock(lk, token) })
	}, nil
}

// releaseLock runs under its own deadline so a cancelled caller context does
// not leave the lock pinned until the TTL fires.
func (lm *LockManager) releaseLock(lk, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	_ = lm.release.Run(ctx, lm.rdb, []string{lk}, token).Err()
}

var _ domain.LockManager = (*LockManager)(nil)
