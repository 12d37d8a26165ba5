// Package service orchestrates settlement commands: distributed locking in
// front of the engine, cache maintenance, signal-bus announcements, and
// operator notifications.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/predictlabs/settled/internal/domain"
	"github.com/predictlabs/settled/internal/engine"
	"github.com/predictlabs/settled/internal/metrics"
	"github.com/predictlabs/settled/internal/notify"
)

// SettlementService wraps the engine with the infrastructure concerns a
// command needs around it. The engine's per-process event locks serialize
// commands inside one process; the distributed lock manager extends that
// guarantee across replicas sharing a store.
type SettlementService struct {
	engine   *engine.Engine
	cache    domain.EventCache
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier *notify.Notifier
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies. notifier may be nil when notifications are disabled.
func NewSettlementService(
	eng *engine.Engine,
	cache domain.EventCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine:   eng,
		cache:    cache,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

func eventLockKey(eventID int64) string {
	return "event:" + strconv.FormatInt(eventID, 10)
}

// Initialize establishes the market with the given admin identity.
func (s *SettlementService) Initialize(ctx context.Context, admin string) error {
	err := s.engine.Initialize(ctx, admin)
	metrics.ObserveCommand("initialize", err)
	return err
}

// CreateEvent registers a new proposition and announces it.
func (s *SettlementService) CreateEvent(ctx context.Context, caller, name string, endTime int64) (int64, error) {
	id, err := s.engine.CreateEvent(ctx, caller, name, endTime)
	metrics.ObserveCommand("create_event", err)
	if err != nil {
		return 0, err
	}

	s.announce(ctx, domain.ChannelEvents, domain.Announcement{
		Kind:    domain.AnnounceEventCreated,
		EventID: id,
		Party:   caller,
		At:      time.Now().UTC(),
	})
	return id, nil
}

// PlaceBet escrows a stake on one side of an event. The distributed lock
// covers the read-validate-apply window across replicas.
func (s *SettlementService) PlaceBet(ctx context.Context, caller string, eventID int64, outcome bool, amount int64) (int64, error) {
	unlock, err := s.locks.Acquire(ctx, eventLockKey(eventID), s.lockTTL)
	if err != nil {
		return 0, err
	}
	defer unlock()

	id, err := s.engine.PlaceBet(ctx, caller, eventID, outcome, amount)
	metrics.ObserveCommand("place_bet", err)
	if err != nil {
		return 0, err
	}
	metrics.ObserveStake(amount)

	s.invalidate(ctx, eventID)
	s.announce(ctx, domain.ChannelBets, domain.Announcement{
		Kind:    domain.AnnounceBetPlaced,
		EventID: eventID,
		BetID:   id,
		Party:   caller,
		Outcome: &outcome,
		Amount:  amount,
		At:      time.Now().UTC(),
	})
	return id, nil
}

// ResolveEvent fixes an event's outcome and fans out the announcement.
func (s *SettlementService) ResolveEvent(ctx context.Context, caller string, eventID int64, outcome bool) error {
	unlock, err := s.locks.Acquire(ctx, eventLockKey(eventID), s.lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.engine.ResolveEvent(ctx, caller, eventID, outcome)
	metrics.ObserveCommand("resolve_event", err)
	if err != nil {
		return err
	}

	s.invalidate(ctx, eventID)
	s.announce(ctx, domain.ChannelEvents, domain.Announcement{
		Kind:    domain.AnnounceEventResolved,
		EventID: eventID,
		Party:   caller,
		Outcome: &outcome,
		At:      time.Now().UTC(),
	})
	s.notify(ctx, "event_resolved", "Event resolved",
		fmt.Sprintf("Event %d resolved with outcome %t", eventID, outcome))
	return nil
}

// ClaimWinnings pays out a winning bet and returns the payout amount.
func (s *SettlementService) ClaimWinnings(ctx context.Context, caller string, betID int64) (int64, error) {
	b, err := s.engine.GetBet(ctx, betID)
	if err != nil {
		return 0, err
	}

	unlock, err := s.locks.Acquire(ctx, eventLockKey(b.EventID), s.lockTTL)
	if err != nil {
		return 0, err
	}
	defer unlock()

	payout, err := s.engine.ClaimWinnings(ctx, caller, betID)
	metrics.ObserveCommand("claim_winnings", err)
	if err != nil {
		return 0, err
	}
	metrics.ObservePayout(payout)

	s.invalidate(ctx, b.EventID)
	s.announce(ctx, domain.ChannelClaims, domain.Announcement{
		Kind:    domain.AnnounceWinningsClaimed,
		EventID: b.EventID,
		BetID:   betID,
		Party:   caller,
		Amount:  payout,
		At:      time.Now().UTC(),
	})
	s.notify(ctx, "winnings_claimed", "Winnings claimed",
		fmt.Sprintf("Bet %d paid out %d to %s", betID, payout, caller))
	return payout, nil
}

// EmergencyWithdraw sweeps an event's remaining pool to the admin.
func (s *SettlementService) EmergencyWithdraw(ctx context.Context, caller string, eventID int64) (int64, error) {
	unlock, err := s.locks.Acquire(ctx, eventLockKey(eventID), s.lockTTL)
	if err != nil {
		return 0, err
	}
	defer unlock()

	amount, err := s.engine.EmergencyWithdraw(ctx, caller, eventID)
	metrics.ObserveCommand("emergency_withdraw", err)
	if err != nil {
		return 0, err
	}

	s.invalidate(ctx, eventID)
	s.announce(ctx, domain.ChannelEvents, domain.Announcement{
		Kind:    domain.AnnouncePoolDrained,
		EventID: eventID,
		Party:   caller,
		Amount:  amount,
		At:      time.Now().UTC(),
	})
	s.notify(ctx, "pool_drained", "Pool drained",
		fmt.Sprintf("Event %d pool of %d swept by admin", eventID, amount))
	return amount, nil
}

// GetEvent retrieves an event by ID, checking the cache first and falling
// back to the store on a cache miss.
func (s *SettlementService) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	ev, err := s.cache.Get(ctx, id)
	if err == nil {
		return ev, nil
	}

	// Cache miss or error -- fall through to store.
	ev, err = s.engine.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, ev); cacheErr != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.Int64("event_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return ev, nil
}

// GetBet returns one bet by id, straight from the store.
func (s *SettlementService) GetBet(ctx context.Context, id int64) (domain.Bet, error) {
	return s.engine.GetBet(ctx, id)
}

// ListEventsSince pages through events with id greater than sinceID.
func (s *SettlementService) ListEventsSince(ctx context.Context, sinceID int64, limit int) ([]domain.Event, error) {
	return s.engine.ListEventsSince(ctx, sinceID, limit)
}

// ListBetsByUser returns all bets placed by the given identity.
func (s *SettlementService) ListBetsByUser(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.engine.ListBetsByUser(ctx, bettor, opts)
}

// ListBetsByEvent returns all bets placed against the given event.
func (s *SettlementService) ListBetsByEvent(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.engine.ListBetsByEvent(ctx, eventID, opts)
}

// PoolBalance returns the custody balance currently held for an event.
func (s *SettlementService) PoolBalance(ctx context.Context, eventID int64) (int64, error) {
	return s.engine.PoolBalance(ctx, eventID)
}

// invalidate drops the cached copy of an event after a mutation. Failures are
// logged and swallowed; the entry expires on its own.
func (s *SettlementService) invalidate(ctx context.Context, eventID int64) {
	if err := s.cache.Invalidate(ctx, eventID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.Int64("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

// announce publishes an announcement on the ephemeral channel and appends it
// to the durable settlement stream. Both are best-effort: settlement already
// committed, and subscribers can always re-read the store.
func (s *SettlementService) announce(ctx context.Context, channel string, a domain.Announcement) {
	payload, err := json.Marshal(a)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal announcement failed",
			slog.String("kind", a.Kind),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish announcement failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamSettlement, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("kind", a.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// notify forwards an operator notification when a notifier is configured.
func (s *SettlementService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
