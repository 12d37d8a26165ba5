package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/predictlabs/settled/internal/domain"
)

func seed(t *testing.T) (*Store, int64) {
	t.Helper()
	s := New()
	ctx := context.Background()

	if err := s.InitState(ctx, "0xadmin"); err != nil {
		t.Fatalf("init: %v", err)
	}
	evID, err := s.InsertEvent(ctx, domain.Event{
		Name:    "seeded",
		EndTime: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return s, evID
}

func TestInitStateOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetState(ctx); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("state before init: got %v, want ErrNotInitialized", err)
	}
	if err := s.InitState(ctx, "0xadmin"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := s.InitState(ctx, "0xother"); !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("second init: got %v, want ErrAlreadyInitialized", err)
	}

	st, err := s.GetState(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Admin != "0xadmin" || st.EventCounter != 0 || st.BetCounter != 0 {
		t.Fatalf("state: %+v", st)
	}
}

func TestInsertEventRequiresInit(t *testing.T) {
	s := New()
	if _, err := s.InsertEvent(context.Background(), domain.Event{}); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}

func TestApplyBetAtomicBookkeeping(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	id, err := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 40})
	if err != nil {
		t.Fatalf("apply bet: %v", err)
	}
	if id != 1 {
		t.Fatalf("bet id: got %d, want 1", id)
	}

	ev, _ := s.GetEvent(ctx, evID)
	if ev.YesBets != 1 || ev.YesAmount != 40 {
		t.Fatalf("event totals: %+v", ev)
	}
	bal, _ := s.PoolBalance(ctx, evID)
	if bal != 40 {
		t.Fatalf("pool: got %d, want 40", bal)
	}

	moves, err := s.PoolMovements(ctx, evID, domain.ListOpts{})
	if err != nil || len(moves) != 1 {
		t.Fatalf("movements: %v, %v", moves, err)
	}
	if moves[0].Amount != 40 || moves[0].Reason != "bet" || moves[0].Party != "0xa" {
		t.Fatalf("movement: %+v", moves[0])
	}
}

func TestApplyBetUnknownEvent(t *testing.T) {
	s, _ := seed(t)
	if _, err := s.ApplyBet(context.Background(), domain.Bet{EventID: 42}); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("got %v, want ErrEventNotFound", err)
	}
}

func TestMarkResolvedCompareAndSet(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	if err := s.MarkResolved(ctx, evID, true); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.MarkResolved(ctx, evID, false); !errors.Is(err, domain.ErrEventResolved) {
		t.Fatalf("second: got %v, want ErrEventResolved", err)
	}
	ev, _ := s.GetEvent(ctx, evID)
	if !ev.Outcome {
		t.Fatalf("losing second resolve overwrote outcome: %+v", ev)
	}
}

func TestSettleClaimCompareAndSet(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	betID, _ := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 100})

	if err := s.SettleClaim(ctx, betID, 100, "0xa"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.SettleClaim(ctx, betID, 100, "0xa"); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}

	bal, _ := s.PoolBalance(ctx, evID)
	if bal != 0 {
		t.Fatalf("pool: got %d, want 0", bal)
	}
}

func TestSettleClaimGuardsPool(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	betID, _ := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 10})

	if err := s.SettleClaim(ctx, betID, 11, "0xa"); !errors.Is(err, domain.ErrInsufficientPool) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientPool", err)
	}

	// The refused debit must not have flipped the claimed flag.
	b, _ := s.GetBet(ctx, betID)
	if b.Claimed {
		t.Fatalf("claimed flag set by refused debit")
	}
}

func TestDrainPool(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	if _, err := s.DrainPool(ctx, evID, "0xadmin"); !errors.Is(err, domain.ErrNoBalanceToWithdraw) {
		t.Fatalf("empty pool: got %v, want ErrNoBalanceToWithdraw", err)
	}

	if _, err := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: false, Amount: 30}); err != nil {
		t.Fatalf("apply bet: %v", err)
	}
	swept, err := s.DrainPool(ctx, evID, "0xadmin")
	if err != nil || swept != 30 {
		t.Fatalf("drain: %d, %v", swept, err)
	}
}

func TestBetListsPaginate(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 1}); err != nil {
			t.Fatalf("apply bet: %v", err)
		}
	}

	page, err := s.ListBetsByBettor(ctx, "0xa", domain.ListOpts{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != 3 || page[1].ID != 4 {
		t.Fatalf("page: %+v", page)
	}

	all, _ := s.ListBetsByEvent(ctx, evID, domain.ListOpts{})
	if len(all) != 5 {
		t.Fatalf("by event: got %d, want 5", len(all))
	}
}

func TestListResolvedEventsBefore(t *testing.T) {
	s, evID := seed(t)
	ctx := context.Background()

	past, err := s.InsertEvent(ctx, domain.Event{Name: "old", EndTime: time.Now().Add(-48 * time.Hour).Unix()})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkResolved(ctx, past, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// evID is unresolved; it must not appear.
	_ = evID

	out, err := s.ListResolvedEventsBefore(ctx, time.Now().Add(-24*time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != past {
		t.Fatalf("resolved before cutoff: %+v", out)
	}
}
