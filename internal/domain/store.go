package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// EventReader is the read-only event surface consumed by the display layer.
type EventReader interface {
	GetEvent(ctx context.Context, id int64) (Event, error)
	// ListEventsSince pages through events with id > sinceID in ascending
	// order, up to limit.
	ListEventsSince(ctx context.Context, sinceID int64, limit int) ([]Event, error)
	// ListResolvedEventsBefore returns resolved events whose betting deadline
	// is strictly before the cutoff, for archival.
	ListResolvedEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Event, error)
}

// BetReader is the read-only bet surface consumed by the display layer.
type BetReader interface {
	GetBet(ctx context.Context, id int64) (Bet, error)
	ListBetsByBettor(ctx context.Context, bettor string, opts ListOpts) ([]Bet, error)
	ListBetsByEvent(ctx context.Context, eventID int64, opts ListOpts) ([]Bet, error)
}

// LedgerReader exposes the custody ledger's pooled balances.
type LedgerReader interface {
	PoolBalance(ctx context.Context, eventID int64) (int64, error)
	PoolMovements(ctx context.Context, eventID int64, opts ListOpts) ([]PoolMovement, error)
}

// SettlementStore is the state store underneath the settlement engine. All
// mutating methods are atomic: they either apply fully or leave every record
// untouched. Implementations must serialize read-modify-write access to a
// single event (striped mutexes in memory, row locks in postgres); commands
// touching different events may proceed in parallel.
type SettlementStore interface {
	EventReader
	BetReader
	LedgerReader

	// InitState creates the singleton market state. It fails with
	// ErrAlreadyInitialized on any call after the first.
	InitState(ctx context.Context, admin string) error

	// GetState returns the market state, or ErrNotInitialized.
	GetState(ctx context.Context) (MarketState, error)

	// InsertEvent bumps the event counter and inserts the event under the
	// newly assigned id, which it returns.
	InsertEvent(ctx context.Context, ev Event) (int64, error)

	// ApplyBet bumps the bet counter, inserts the bet under the new id,
	// increments the matching side's count and amount on the event, and
	// credits the event's pool, all in one atomic step. It returns the
	// assigned bet id.
	ApplyBet(ctx context.Context, b Bet) (int64, error)

	// MarkResolved flips the event's resolved flag and records the outcome.
	// The flip is a compare-and-set: a second call fails with
	// ErrEventResolved and changes nothing. Pool totals are not touched.
	MarkResolved(ctx context.Context, eventID int64, outcome bool) error

	// SettleClaim flips the bet's claimed flag and debits payout from the
	// event's pool in favor of the bettor, atomically. The flip is a
	// compare-and-set: a second call fails with ErrAlreadyClaimed.
	SettleClaim(ctx context.Context, betID int64, payout int64, to string) error

	// DrainPool zeroes the event's pooled balance in favor of the given
	// party, returning the amount swept. An empty pool fails with
	// ErrNoBalanceToWithdraw.
	DrainPool(ctx context.Context, eventID int64, to string) (int64, error)
}
