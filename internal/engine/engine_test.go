package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/predictlabs/settled/internal/domain"
	"github.com/predictlabs/settled/internal/store/memory"
)

const (
	admin = "0xadmin"
	user1 = "0xuser1"
	user2 = "0xuser2"
	user3 = "0xuser3"
)

// testClock is a settable clock shared with the engine under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memory.Store, *testClock) {
	t.Helper()

	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(store, cfg, logger)

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	e.now = clock.Now

	if err := e.Initialize(context.Background(), admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return e, store, clock
}

// createOpenEvent creates an event ending one hour from the clock's now.
func createOpenEvent(t *testing.T, e *Engine, clock *testClock) int64 {
	t.Helper()
	id, err := e.CreateEvent(context.Background(), admin, "test event", clock.Now().Unix()+3600)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return id
}

func TestInitializeOnlyOnce(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	err := e.Initialize(context.Background(), "0xother")
	if !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestCreateEvent(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()

	id1 := createOpenEvent(t, e, clock)
	id2 := createOpenEvent(t, e, clock)
	if id1 != 1 || id2 != 2 {
		t.Fatalf("event ids: got %d, %d, want 1, 2", id1, id2)
	}

	ev, err := e.GetEvent(ctx, id1)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev.Resolved || ev.YesBets != 0 || ev.NoBets != 0 || ev.YesAmount != 0 || ev.NoAmount != 0 {
		t.Fatalf("new event not zeroed: %+v", ev)
	}
	if ev.CreatedBy != admin {
		t.Fatalf("created_by: got %q, want %q", ev.CreatedBy, admin)
	}
}

func TestCreateEventValidation(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  string
		endTime int64
		wantErr error
	}{
		{"non-admin caller", user1, clock.Now().Unix() + 3600, domain.ErrUnauthorized},
		{"end time in the past", admin, clock.Now().Unix() - 1, domain.ErrEndTimeNotFuture},
		{"end time exactly now", admin, clock.Now().Unix(), domain.ErrEndTimeNotFuture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.CreateEvent(ctx, tt.caller, "x", tt.endTime); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlaceBet(t *testing.T) {
	e, store, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	b1, err := e.PlaceBet(ctx, user1, evID, true, 100)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	b2, err := e.PlaceBet(ctx, user2, evID, false, 50)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if b1 != 1 || b2 != 2 {
		t.Fatalf("bet ids: got %d, %d, want 1, 2", b1, b2)
	}

	ev, _ := e.GetEvent(ctx, evID)
	if ev.YesBets != 1 || ev.YesAmount != 100 || ev.NoBets != 1 || ev.NoAmount != 50 {
		t.Fatalf("totals: %+v", ev)
	}

	bal, err := e.PoolBalance(ctx, evID)
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if bal != 150 {
		t.Fatalf("pool balance: got %d, want 150", bal)
	}

	byUser, err := store.ListBetsByBettor(ctx, user1, domain.ListOpts{})
	if err != nil || len(byUser) != 1 || byUser[0].ID != b1 {
		t.Fatalf("bets by user: %v, %v", byUser, err)
	}
	byEvent, err := store.ListBetsByEvent(ctx, evID, domain.ListOpts{})
	if err != nil || len(byEvent) != 2 {
		t.Fatalf("bets by event: %v, %v", byEvent, err)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown event", func(t *testing.T) {
		e, _, _ := newTestEngine(t, Config{})
		if _, err := e.PlaceBet(ctx, user1, 99, true, 10); !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("got %v, want ErrEventNotFound", err)
		}
	})

	t.Run("non-positive amount", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{})
		evID := createOpenEvent(t, e, clock)
		for _, amount := range []int64{0, -5} {
			if _, err := e.PlaceBet(ctx, user1, evID, true, amount); !errors.Is(err, domain.ErrAmountNotPositive) {
				t.Fatalf("amount %d: got %v, want ErrAmountNotPositive", amount, err)
			}
		}
	})

	t.Run("betting period ended", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{})
		evID := createOpenEvent(t, e, clock)
		clock.Advance(2 * time.Hour)
		if _, err := e.PlaceBet(ctx, user1, evID, true, 10); !errors.Is(err, domain.ErrBettingEnded) {
			t.Fatalf("got %v, want ErrBettingEnded", err)
		}
	})

	t.Run("event resolved", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{})
		evID := createOpenEvent(t, e, clock)
		if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if _, err := e.PlaceBet(ctx, user1, evID, true, 10); !errors.Is(err, domain.ErrEventResolved) {
			t.Fatalf("got %v, want ErrEventResolved", err)
		}
	})
}

// Failed bets must leave the event and the pool byte-identical.
func TestPlaceBetFailureMutatesNothing(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	if _, err := e.PlaceBet(ctx, user1, evID, true, 100); err != nil {
		t.Fatalf("place bet: %v", err)
	}
	before, _ := e.GetEvent(ctx, evID)
	balBefore, _ := e.PoolBalance(ctx, evID)

	clock.Advance(2 * time.Hour)
	if _, err := e.PlaceBet(ctx, user2, evID, false, 50); !errors.Is(err, domain.ErrBettingEnded) {
		t.Fatalf("got %v, want ErrBettingEnded", err)
	}

	after, _ := e.GetEvent(ctx, evID)
	balAfter, _ := e.PoolBalance(ctx, evID)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("event mutated by failed bet:\nbefore %+v\nafter  %+v", before, after)
	}
	if balBefore != balAfter {
		t.Fatalf("pool mutated by failed bet: %d -> %d", balBefore, balAfter)
	}
}

func TestResolveEvent(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	if _, err := e.PlaceBet(ctx, user1, evID, true, 100); err != nil {
		t.Fatalf("place bet: %v", err)
	}
	before, _ := e.GetEvent(ctx, evID)

	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ev, _ := e.GetEvent(ctx, evID)
	if !ev.Resolved || !ev.Outcome {
		t.Fatalf("event not resolved true: %+v", ev)
	}
	// Pool totals are the historical record; resolution must not recompute them.
	if ev.YesBets != before.YesBets || ev.NoBets != before.NoBets ||
		ev.YesAmount != before.YesAmount || ev.NoAmount != before.NoAmount {
		t.Fatalf("totals changed by resolution:\nbefore %+v\nafter  %+v", before, ev)
	}
}

func TestResolveEventValidation(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	if err := e.ResolveEvent(ctx, user1, evID, true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin: got %v, want ErrUnauthorized", err)
	}
	if err := e.ResolveEvent(ctx, admin, 99, true); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("unknown event: got %v, want ErrEventNotFound", err)
	}
}

// Resolving twice fails the second time and leaves state exactly as the
// first resolution left it.
func TestResolveEventExactlyOnce(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	afterFirst, _ := e.GetEvent(ctx, evID)

	if err := e.ResolveEvent(ctx, admin, evID, false); !errors.Is(err, domain.ErrEventResolved) {
		t.Fatalf("second resolve: got %v, want ErrEventResolved", err)
	}
	afterSecond, _ := e.GetEvent(ctx, evID)
	if !reflect.DeepEqual(afterFirst, afterSecond) {
		t.Fatalf("failed second resolve mutated state:\nfirst  %+v\nsecond %+v", afterFirst, afterSecond)
	}
}

func TestResolveAfterEndOnlyPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("enforced", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{ResolveAfterEndOnly: true})
		evID := createOpenEvent(t, e, clock)

		if err := e.ResolveEvent(ctx, admin, evID, true); !errors.Is(err, domain.ErrBettingNotEnded) {
			t.Fatalf("early resolve: got %v, want ErrBettingNotEnded", err)
		}
		clock.Advance(2 * time.Hour)
		if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
			t.Fatalf("resolve after end: %v", err)
		}
	})

	t.Run("not enforced", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{})
		evID := createOpenEvent(t, e, clock)
		if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
			t.Fatalf("early resolve with policy off: %v", err)
		}
	})
}

// Scenario A: 100 on yes vs 50 on no, resolved yes. The winner takes
// 100 + floor(100*50/100) = 150; the loser's claim is refused.
func TestClaimProportionalPayout(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{ResolveAfterEndOnly: true})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	b1, _ := e.PlaceBet(ctx, user1, evID, true, 100)
	b2, _ := e.PlaceBet(ctx, user2, evID, false, 50)

	clock.Advance(2 * time.Hour)
	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	payout, err := e.ClaimWinnings(ctx, user1, b1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 150 {
		t.Fatalf("payout: got %d, want 150", payout)
	}

	if _, err := e.ClaimWinnings(ctx, user2, b2); !errors.Is(err, domain.ErrLosingBet) {
		t.Fatalf("losing claim: got %v, want ErrLosingBet", err)
	}
}

// Scenario B: single bettor, nobody on the other side. The stake comes back
// exactly, no profit and no loss.
func TestClaimNoOpposingStake(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	bID, _ := e.PlaceBet(ctx, user1, evID, true, 50)
	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	payout, err := e.ClaimWinnings(ctx, user1, bID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 50 {
		t.Fatalf("payout: got %d, want 50", payout)
	}
}

// Scenario C: two winners share the loser's 50 proportionally and the pool
// is emptied exactly.
func TestClaimTwoWinnersShareLoserPool(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	bA, _ := e.PlaceBet(ctx, user1, evID, true, 20)
	bB, _ := e.PlaceBet(ctx, user2, evID, true, 30)
	if _, err := e.PlaceBet(ctx, user3, evID, false, 50); err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pA, err := e.ClaimWinnings(ctx, user1, bA)
	if err != nil {
		t.Fatalf("claim A: %v", err)
	}
	pB, err := e.ClaimWinnings(ctx, user2, bB)
	if err != nil {
		t.Fatalf("claim B: %v", err)
	}
	if pA != 40 || pB != 60 {
		t.Fatalf("payouts: got %d, %d, want 40, 60", pA, pB)
	}

	bal, _ := e.PoolBalance(ctx, evID)
	if bal != 0 {
		t.Fatalf("pool after both claims: got %d, want 0", bal)
	}
}

func TestClaimValidation(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)
	bID, _ := e.PlaceBet(ctx, user1, evID, true, 100)

	if _, err := e.ClaimWinnings(ctx, user1, 99); !errors.Is(err, domain.ErrBetNotFound) {
		t.Fatalf("unknown bet: got %v, want ErrBetNotFound", err)
	}
	if _, err := e.ClaimWinnings(ctx, user2, bID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("wrong caller: got %v, want ErrUnauthorized", err)
	}
	if _, err := e.ClaimWinnings(ctx, user1, bID); !errors.Is(err, domain.ErrEventNotResolved) {
		t.Fatalf("unresolved event: got %v, want ErrEventNotResolved", err)
	}
}

// A second claim on the same bet fails and moves no value.
func TestClaimExactlyOnce(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	bID, _ := e.PlaceBet(ctx, user1, evID, true, 100)
	if _, err := e.PlaceBet(ctx, user2, evID, false, 50); err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := e.ClaimWinnings(ctx, user1, bID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	balAfterFirst, _ := e.PoolBalance(ctx, evID)

	if _, err := e.ClaimWinnings(ctx, user1, bID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}
	bal, _ := e.PoolBalance(ctx, evID)
	if bal != balAfterFirst {
		t.Fatalf("second claim moved value: %d -> %d", balAfterFirst, bal)
	}
}

// Nothing forbids one user holding several bets on the same event and side;
// each bet is paid out independently.
func TestMultipleBetsSameUserSameSide(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	b1, _ := e.PlaceBet(ctx, user1, evID, true, 10)
	b2, _ := e.PlaceBet(ctx, user1, evID, true, 30)
	if _, err := e.PlaceBet(ctx, user2, evID, false, 40); err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	p1, err := e.ClaimWinnings(ctx, user1, b1)
	if err != nil {
		t.Fatalf("claim b1: %v", err)
	}
	p2, err := e.ClaimWinnings(ctx, user1, b2)
	if err != nil {
		t.Fatalf("claim b2: %v", err)
	}
	if p1 != 20 || p2 != 60 {
		t.Fatalf("payouts: got %d, %d, want 20, 60", p1, p2)
	}
}

// Floor division can strand dust in the pool; it is never claimable.
func TestDustStaysInPool(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	b1, _ := e.PlaceBet(ctx, user1, evID, true, 1)
	b2, _ := e.PlaceBet(ctx, user2, evID, true, 2)
	if _, err := e.PlaceBet(ctx, user3, evID, false, 10); err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if err := e.ResolveEvent(ctx, admin, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	p1, _ := e.ClaimWinnings(ctx, user1, b1) // floor(1*13/3) = 4
	p2, _ := e.ClaimWinnings(ctx, user2, b2) // floor(2*13/3) = 8
	if p1 != 4 || p2 != 8 {
		t.Fatalf("payouts: got %d, %d, want 4, 8", p1, p2)
	}

	bal, _ := e.PoolBalance(ctx, evID)
	if bal != 1 {
		t.Fatalf("dust: got %d, want 1", bal)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{})
		evID := createOpenEvent(t, e, clock)
		if _, err := e.EmergencyWithdraw(ctx, admin, evID); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("non-admin", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{AllowEmergencyWithdraw: true})
		evID := createOpenEvent(t, e, clock)
		if _, err := e.EmergencyWithdraw(ctx, user1, evID); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("empty pool", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{AllowEmergencyWithdraw: true})
		evID := createOpenEvent(t, e, clock)
		if _, err := e.EmergencyWithdraw(ctx, admin, evID); !errors.Is(err, domain.ErrNoBalanceToWithdraw) {
			t.Fatalf("got %v, want ErrNoBalanceToWithdraw", err)
		}
	})

	t.Run("sweeps the whole balance", func(t *testing.T) {
		e, _, clock := newTestEngine(t, Config{AllowEmergencyWithdraw: true})
		evID := createOpenEvent(t, e, clock)
		if _, err := e.PlaceBet(ctx, user1, evID, true, 75); err != nil {
			t.Fatalf("place bet: %v", err)
		}

		swept, err := e.EmergencyWithdraw(ctx, admin, evID)
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		if swept != 75 {
			t.Fatalf("swept: got %d, want 75", swept)
		}
		bal, _ := e.PoolBalance(ctx, evID)
		if bal != 0 {
			t.Fatalf("pool after sweep: got %d, want 0", bal)
		}
	})
}

// Concurrent bets on one event must serialize their read-modify-write of the
// totals: every bet id is assigned once and the totals add up exactly.
func TestConcurrentPlaceBet(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()
	evID := createOpenEvent(t, e, clock)

	const n = 64
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(yes bool) {
			defer wg.Done()
			id, err := e.PlaceBet(ctx, user1, evID, yes, 1)
			if err != nil {
				t.Errorf("place bet: %v", err)
				return
			}
			ids <- id
		}(i%2 == 0)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate bet id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("bets recorded: got %d, want %d", len(seen), n)
	}

	ev, _ := e.GetEvent(ctx, evID)
	if ev.YesBets+ev.NoBets != n || ev.YesAmount+ev.NoAmount != n {
		t.Fatalf("totals: %+v", ev)
	}
	bal, _ := e.PoolBalance(ctx, evID)
	if bal != n {
		t.Fatalf("pool: got %d, want %d", bal, n)
	}
}

func TestListEventsSince(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createOpenEvent(t, e, clock)
	}

	evs, err := e.ListEventsSince(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 3 || evs[0].ID != 3 || evs[2].ID != 5 {
		t.Fatalf("events since 2: %+v", evs)
	}

	evs, _ = e.ListEventsSince(ctx, 0, 2)
	if len(evs) != 2 || evs[0].ID != 1 {
		t.Fatalf("limited page: %+v", evs)
	}
}
