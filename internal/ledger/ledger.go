// Package ledger exposes the custody side of settlement: per-event pooled
// balances, the movement trail, and a solvency check verifying that a pool
// can always pay every legitimate future claim.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/predictlabs/settled/internal/domain"
	"github.com/predictlabs/settled/internal/engine"
)

// Store is the slice of the settlement store the ledger needs.
type Store interface {
	domain.LedgerReader
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	ListBetsByEvent(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error)
}

// Ledger reads custody state. All debits and credits happen inside the
// store's atomic command paths; the ledger itself never moves value.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New creates a Ledger over the given store.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Balance returns the pooled balance currently held for an event.
func (l *Ledger) Balance(ctx context.Context, eventID int64) (int64, error) {
	return l.store.PoolBalance(ctx, eventID)
}

// Movements returns the event's credit/debit trail.
func (l *Ledger) Movements(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.PoolMovement, error) {
	return l.store.PoolMovements(ctx, eventID, opts)
}

// Outstanding returns the sum of payouts still owed to unclaimed winning
// bets. For an unresolved event nothing is owed yet, so it returns 0.
func (l *Ledger) Outstanding(ctx context.Context, eventID int64) (int64, error) {
	ev, err := l.store.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !ev.Resolved {
		return 0, nil
	}

	var owed int64
	offset := 0
	const page = 500
	for {
		bets, err := l.store.ListBetsByEvent(ctx, eventID, domain.ListOpts{Limit: page, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("ledger: outstanding for event %d: %w", eventID, err)
		}
		for _, b := range bets {
			if b.Claimed || b.Outcome != ev.Outcome {
				continue
			}
			owed += engine.Payout(b.Amount, ev.WinningAmount(), ev.LosingAmount())
		}
		if len(bets) < page {
			return owed, nil
		}
		offset += page
	}
}

// CheckSolvency verifies the custody invariant: the pooled balance covers
// every unclaimed winning payout. The floor-division payout formula makes
// this hold by construction; a violation means value moved outside the
// command path.
func (l *Ledger) CheckSolvency(ctx context.Context, eventID int64) error {
	balance, err := l.Balance(ctx, eventID)
	if err != nil {
		return err
	}
	owed, err := l.Outstanding(ctx, eventID)
	if err != nil {
		return err
	}
	if balance < owed {
		l.logger.ErrorContext(ctx, "pool underfunded",
			slog.Int64("event_id", eventID),
			slog.Int64("balance", balance),
			slog.Int64("outstanding", owed),
		)
		return fmt.Errorf("ledger: event %d pool holds %d but owes %d: %w",
			eventID, balance, owed, domain.ErrInsufficientPool)
	}
	return nil
}
