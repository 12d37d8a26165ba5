package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/predictlabs/settled/internal/domain"
	"github.com/predictlabs/settled/internal/store/memory"
)

func setup(t *testing.T) (*Ledger, *memory.Store, int64) {
	t.Helper()
	s := memory.New()
	ctx := context.Background()

	if err := s.InitState(ctx, "0xadmin"); err != nil {
		t.Fatalf("init: %v", err)
	}
	evID, err := s.InsertEvent(ctx, domain.Event{
		Name:    "solvency",
		EndTime: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}

	l := New(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return l, s, evID
}

func TestOutstandingUnresolvedEvent(t *testing.T) {
	l, s, evID := setup(t)
	ctx := context.Background()

	if _, err := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 100}); err != nil {
		t.Fatalf("apply bet: %v", err)
	}

	owed, err := l.Outstanding(ctx, evID)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if owed != 0 {
		t.Fatalf("owed before resolution: got %d, want 0", owed)
	}
}

func TestOutstandingTracksClaims(t *testing.T) {
	l, s, evID := setup(t)
	ctx := context.Background()

	winner, _ := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 100})
	if _, err := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xb", Outcome: false, Amount: 50}); err != nil {
		t.Fatalf("apply bet: %v", err)
	}
	if err := s.MarkResolved(ctx, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	owed, err := l.Outstanding(ctx, evID)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if owed != 150 {
		t.Fatalf("owed: got %d, want 150", owed)
	}
	if err := l.CheckSolvency(ctx, evID); err != nil {
		t.Fatalf("solvency with full pool: %v", err)
	}

	if err := s.SettleClaim(ctx, winner, 150, "0xa"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	owed, _ = l.Outstanding(ctx, evID)
	if owed != 0 {
		t.Fatalf("owed after claim: got %d, want 0", owed)
	}
	if err := l.CheckSolvency(ctx, evID); err != nil {
		t.Fatalf("solvency after claim: %v", err)
	}
}

func TestCheckSolvencyDetectsUnderfunding(t *testing.T) {
	l, s, evID := setup(t)
	ctx := context.Background()

	if _, err := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 100}); err != nil {
		t.Fatalf("apply bet: %v", err)
	}
	if err := s.MarkResolved(ctx, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Sweep value out from under the unclaimed winner.
	if _, err := s.DrainPool(ctx, evID, "0xadmin"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	err := l.CheckSolvency(ctx, evID)
	if !errors.Is(err, domain.ErrInsufficientPool) {
		t.Fatalf("got %v, want ErrInsufficientPool", err)
	}
}

func TestMovementsTrail(t *testing.T) {
	l, s, evID := setup(t)
	ctx := context.Background()

	betID, _ := s.ApplyBet(ctx, domain.Bet{EventID: evID, Bettor: "0xa", Outcome: true, Amount: 25})
	if err := s.MarkResolved(ctx, evID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.SettleClaim(ctx, betID, 25, "0xa"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	moves, err := l.Movements(ctx, evID, domain.ListOpts{})
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(moves) != 2 || moves[0].Amount != 25 || moves[1].Amount != -25 {
		t.Fatalf("trail: %+v", moves)
	}
}
