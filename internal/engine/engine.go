// Package engine implements the settlement rules of the prediction market:
// how events are created, how bets are escrowed, how an event is resolved
// exactly once by the admin, and how winners withdraw a proportional share of
// the pool exactly once. The engine validates and decides; durable state and
// value movement live in the SettlementStore it is given.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictlabs/settled/internal/domain"
)

// Config holds the engine's policy switches.
type Config struct {
	// ResolveAfterEndOnly requires the betting deadline to have passed
	// before ResolveEvent is accepted. The reference markets disagree on
	// this rule, so it is an explicit policy rather than a baked-in choice.
	ResolveAfterEndOnly bool

	// AllowEmergencyWithdraw enables the admin-only EmergencyWithdraw
	// command. Off by default; when disabled the command is refused outright.
	AllowEmergencyWithdraw bool
}

// Engine executes settlement commands against a SettlementStore. Commands on
// the same event are serialized; commands on different events run in
// parallel. Every command either applies fully or reports a specific error
// with state untouched.
type Engine struct {
	store  domain.SettlementStore
	cfg    Config
	locks  *eventLocks
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine on top of the given store.
func New(store domain.SettlementStore, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg,
		locks:  newEventLocks(),
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
	}
}

// Initialize creates the market's singleton state with the given admin
// identity. It fails with ErrAlreadyInitialized on any call after the first.
func (e *Engine) Initialize(ctx context.Context, admin string) error {
	if err := e.store.InitState(ctx, admin); err != nil {
		return fmt.Errorf("engine: initialize: %w", err)
	}
	e.logger.InfoContext(ctx, "market initialized", slog.String("admin", admin))
	return nil
}

// CreateEvent registers a new proposition and returns its id. Admin only.
func (e *Engine) CreateEvent(ctx context.Context, caller, name string, endTime int64) (int64, error) {
	st, err := e.store.GetState(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: create event: %w", err)
	}
	if caller != st.Admin {
		return 0, domain.ErrUnauthorized
	}
	now := e.now()
	if endTime <= now.Unix() {
		return 0, domain.ErrEndTimeNotFuture
	}

	id, err := e.store.InsertEvent(ctx, domain.Event{
		Name:      name,
		EndTime:   endTime,
		CreatedBy: caller,
		CreatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("engine: create event: %w", err)
	}

	e.logger.InfoContext(ctx, "event created",
		slog.Int64("event_id", id),
		slog.String("name", name),
		slog.Int64("end_time", endTime),
	)
	return id, nil
}

// PlaceBet escrows amount on one side of an open event and returns the bet
// id. The bet record, the event totals, and the pool credit commit as one
// atomic unit.
func (e *Engine) PlaceBet(ctx context.Context, caller string, eventID int64, outcome bool, amount int64) (int64, error) {
	unlock := e.locks.lock(eventID)
	defer unlock()

	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, domain.ErrAmountNotPositive
	}
	now := e.now()
	if now.Unix() >= ev.EndTime {
		return 0, domain.ErrBettingEnded
	}
	if ev.Resolved {
		return 0, domain.ErrEventResolved
	}

	id, err := e.store.ApplyBet(ctx, domain.Bet{
		EventID:  eventID,
		Bettor:   caller,
		Outcome:  outcome,
		Amount:   amount,
		PlacedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("engine: place bet: %w", err)
	}

	e.logger.InfoContext(ctx, "bet placed",
		slog.Int64("bet_id", id),
		slog.Int64("event_id", eventID),
		slog.String("bettor", caller),
		slog.Bool("outcome", outcome),
		slog.Int64("amount", amount),
	)
	return id, nil
}

// ResolveEvent fixes the event's outcome. Admin only; succeeds at most once
// per event. Pool totals are left exactly as they were: they are the
// historical record of what was staked.
func (e *Engine) ResolveEvent(ctx context.Context, caller string, eventID int64, outcome bool) error {
	st, err := e.store.GetState(ctx)
	if err != nil {
		return fmt.Errorf("engine: resolve event: %w", err)
	}
	if caller != st.Admin {
		return domain.ErrUnauthorized
	}

	unlock := e.locks.lock(eventID)
	defer unlock()

	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Resolved {
		return domain.ErrEventResolved
	}
	if e.cfg.ResolveAfterEndOnly && e.now().Unix() < ev.EndTime {
		return domain.ErrBettingNotEnded
	}

	// The store's compare-and-set backs the check above, so the flag flips
	// exactly once even if two resolvers race past the read.
	if err := e.store.MarkResolved(ctx, eventID, outcome); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "event resolved",
		slog.Int64("event_id", eventID),
		slog.Bool("outcome", outcome),
	)
	return nil
}

// ClaimWinnings pays out a winning bet to its bettor and returns the payout.
// Marking the bet claimed and debiting the pool commit together; a second
// claim on the same bet fails with ErrAlreadyClaimed.
func (e *Engine) ClaimWinnings(ctx context.Context, caller string, betID int64) (int64, error) {
	b, err := e.store.GetBet(ctx, betID)
	if err != nil {
		return 0, err
	}

	unlock := e.locks.lock(b.EventID)
	defer unlock()

	// Re-read under the event lock so a concurrent claim is visible.
	b, err = e.store.GetBet(ctx, betID)
	if err != nil {
		return 0, err
	}
	ev, err := e.store.GetEvent(ctx, b.EventID)
	if err != nil {
		return 0, err
	}
	if b.Bettor != caller {
		return 0, domain.ErrUnauthorized
	}
	if !ev.Resolved {
		return 0, domain.ErrEventNotResolved
	}
	if b.Outcome != ev.Outcome {
		return 0, domain.ErrLosingBet
	}
	if b.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}

	payout := Payout(b.Amount, ev.WinningAmount(), ev.LosingAmount())
	if err := e.store.SettleClaim(ctx, betID, payout, caller); err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "winnings claimed",
		slog.Int64("bet_id", betID),
		slog.Int64("event_id", b.EventID),
		slog.String("bettor", caller),
		slog.Int64("payout", payout),
	)
	return payout, nil
}

// EmergencyWithdraw sweeps an event's entire remaining pool balance to the
// admin. It is refused unless enabled in the engine config.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller string, eventID int64) (int64, error) {
	if !e.cfg.AllowEmergencyWithdraw {
		return 0, domain.ErrUnauthorized
	}
	st, err := e.store.GetState(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: emergency withdraw: %w", err)
	}
	if caller != st.Admin {
		return 0, domain.ErrUnauthorized
	}
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return 0, err
	}

	unlock := e.locks.lock(eventID)
	defer unlock()

	amount, err := e.store.DrainPool(ctx, eventID, caller)
	if err != nil {
		return 0, err
	}

	e.logger.WarnContext(ctx, "pool drained by admin",
		slog.Int64("event_id", eventID),
		slog.Int64("amount", amount),
	)
	return amount, nil
}

// GetEvent returns one event by id.
func (e *Engine) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	return e.store.GetEvent(ctx, id)
}

// GetBet returns one bet by id.
func (e *Engine) GetBet(ctx context.Context, id int64) (domain.Bet, error) {
	return e.store.GetBet(ctx, id)
}

// ListEventsSince pages through events with id greater than sinceID.
func (e *Engine) ListEventsSince(ctx context.Context, sinceID int64, limit int) ([]domain.Event, error) {
	return e.store.ListEventsSince(ctx, sinceID, limit)
}

// ListBetsByUser returns all bets placed by the given identity.
func (e *Engine) ListBetsByUser(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error) {
	return e.store.ListBetsByBettor(ctx, bettor, opts)
}

// ListBetsByEvent returns all bets placed against the given event.
func (e *Engine) ListBetsByEvent(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error) {
	return e.store.ListBetsByEvent(ctx, eventID, opts)
}

// PoolBalance returns the custody balance currently held for an event.
func (e *Engine) PoolBalance(ctx context.Context, eventID int64) (int64, error) {
	return e.store.PoolBalance(ctx, eventID)
}
