package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/predictlabs/settled/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEventCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	ec := NewEventCache(newTestClient(t))

	ev := domain.Event{
		ID:        7,
		Name:      "rain tomorrow",
		EndTime:   1900000000,
		YesBets:   2,
		NoBets:    1,
		YesAmount: 120,
		NoAmount:  30,
		CreatedBy: "0xadmin",
	}

	if err := ec.Set(ctx, ev); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := ec.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != ev.Name || got.YesAmount != ev.YesAmount || got.EndTime != ev.EndTime {
		t.Fatalf("Get = %+v, want %+v", got, ev)
	}

	if err := ec.Invalidate(ctx, 7); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := ec.Get(ctx, 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after invalidate = %v, want ErrNotFound", err)
	}
}

func TestEventCacheMiss(t *testing.T) {
	ec := NewEventCache(newTestClient(t))

	if _, err := ec.Get(context.Background(), 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestLockManagerExclusion(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(newTestClient(t))

	unlock, err := lm.Acquire(ctx, "event:1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := lm.Acquire(ctx, "event:1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire = %v, want ErrLockHeld", err)
	}

	// A different key is independent.
	unlock2, err := lm.Acquire(ctx, "event:2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire other key: %v", err)
	}
	unlock2()

	unlock()
	unlock() // safe to call twice

	if _, err := lm.Acquire(ctx, "event:1", time.Minute); err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
}

func TestSignalBusPubSub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sb := NewSignalBus(newTestClient(t))

	ch, err := sb.Subscribe(ctx, domain.ChannelBets)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sb.Publish(ctx, domain.ChannelBets, []byte(`{"kind":"bet_placed"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != `{"kind":"bet_placed"}` {
			t.Fatalf("received %q", msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	sb := NewSignalBus(newTestClient(t))

	for _, payload := range []string{"one", "two", "three"} {
		if err := sb.StreamAppend(ctx, domain.StreamSettlement, []byte(payload)); err != nil {
			t.Fatalf("StreamAppend %q: %v", payload, err)
		}
	}

	msgs, err := sb.StreamRead(ctx, domain.StreamSettlement, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("read %d messages, want 3", len(msgs))
	}
	if string(msgs[0].Payload) != "one" || string(msgs[2].Payload) != "three" {
		t.Fatalf("unexpected payload order: %q, %q", msgs[0].Payload, msgs[2].Payload)
	}

	// Resume after the last seen id.
	more, err := sb.StreamRead(ctx, domain.StreamSettlement, msgs[1].ID, 10)
	if err != nil {
		t.Fatalf("StreamRead resume: %v", err)
	}
	if len(more) != 1 || string(more[0].Payload) != "three" {
		t.Fatalf("resume read = %v", more)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(newTestClient(t))

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "bettor:0xabc", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("Allow #%d = false, want true", i+1)
		}
	}

	allowed, err := rl.Allow(ctx, "bettor:0xabc", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("Allow over limit = true, want false")
	}

	// Other keys are unaffected.
	allowed, err = rl.Allow(ctx, "bettor:0xdef", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow other key: %v", err)
	}
	if !allowed {
		t.Fatal("Allow other key = false, want true")
	}
}
