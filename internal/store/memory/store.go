// Package memory implements domain.SettlementStore with plain maps and a
// mutex. It backs the engine's test suite and single-node deployments that
// run without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/predictlabs/settled/internal/domain"
)

// Store holds all settlement state in process memory. All methods are safe
// for concurrent use; every mutating method applies fully or not at all.
type Store struct {
	mu sync.RWMutex

	state *domain.MarketState

	events map[int64]domain.Event
	bets   map[int64]domain.Bet

	// Reverse-lookup lists, append-only.
	betsByEvent  map[int64][]int64
	betsByBettor map[string][]int64

	// Custody ledger: pooled balance per event plus the movement trail.
	pools     map[int64]int64
	movements map[int64][]domain.PoolMovement
	moveSeq   int64
}

// New creates an empty Store. Initialize must run before any other command.
func New() *Store {
	return &Store{
		events:       make(map[int64]domain.Event),
		bets:         make(map[int64]domain.Bet),
		betsByEvent:  make(map[int64][]int64),
		betsByBettor: make(map[string][]int64),
		pools:        make(map[int64]int64),
		movements:    make(map[int64][]domain.PoolMovement),
	}
}

// InitState creates the singleton market state.
func (s *Store) InitState(_ context.Context, admin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil {
		return domain.ErrAlreadyInitialized
	}
	s.state = &domain.MarketState{
		Admin:         admin,
		InitializedAt: time.Now(),
	}
	return nil
}

// GetState returns the market state.
func (s *Store) GetState(_ context.Context) (domain.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return domain.MarketState{}, domain.ErrNotInitialized
	}
	return *s.state, nil
}

// InsertEvent assigns the next event id and stores the event.
func (s *Store) InsertEvent(_ context.Context, ev domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return 0, domain.ErrNotInitialized
	}
	s.state.EventCounter++
	ev.ID = s.state.EventCounter
	ev.Resolved = false
	ev.YesBets, ev.NoBets = 0, 0
	ev.YesAmount, ev.NoAmount = 0, 0
	s.events[ev.ID] = ev
	return ev.ID, nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(_ context.Context, id int64) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, nil
}

// ListEventsSince returns events with id > sinceID in ascending id order.
func (s *Store) ListEventsSince(_ context.Context, sinceID int64, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for id, ev := range s.events {
		if id > sinceID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListResolvedEventsBefore returns resolved events whose deadline precedes
// the cutoff.
func (s *Store) ListResolvedEventsBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.Resolved && ev.EndTime < cutoff.Unix() {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyBet assigns the next bet id and commits the bet record, the event
// totals bump, and the pool credit as one unit.
func (s *Store) ApplyBet(_ context.Context, b domain.Bet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return 0, domain.ErrNotInitialized
	}
	ev, ok := s.events[b.EventID]
	if !ok {
		return 0, domain.ErrEventNotFound
	}
	if ev.Resolved {
		return 0, domain.ErrEventResolved
	}

	s.state.BetCounter++
	b.ID = s.state.BetCounter
	b.Claimed = false
	s.bets[b.ID] = b

	if b.Outcome {
		ev.YesBets++
		ev.YesAmount += b.Amount
	} else {
		ev.NoBets++
		ev.NoAmount += b.Amount
	}
	s.events[ev.ID] = ev

	s.betsByEvent[b.EventID] = append(s.betsByEvent[b.EventID], b.ID)
	s.betsByBettor[b.Bettor] = append(s.betsByBettor[b.Bettor], b.ID)

	s.creditLocked(b.EventID, b.Amount, b.Bettor, "bet")
	return b.ID, nil
}

// GetBet returns one bet by id.
func (s *Store) GetBet(_ context.Context, id int64) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrBetNotFound
	}
	return b, nil
}

// ListBetsByBettor returns the bettor's bets in placement order.
func (s *Store) ListBetsByBettor(_ context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectBets(s.betsByBettor[bettor], opts), nil
}

// ListBetsByEvent returns the event's bets in placement order.
func (s *Store) ListBetsByEvent(_ context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectBets(s.betsByEvent[eventID], opts), nil
}

func (s *Store) collectBets(ids []int64, opts domain.ListOpts) []domain.Bet {
	if opts.Offset > len(ids) {
		return nil
	}
	ids = ids[opts.Offset:]
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	out := make([]domain.Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bets[id])
	}
	return out
}

// MarkResolved flips the event's resolved flag exactly once. Pool totals are
// not touched.
func (s *Store) MarkResolved(_ context.Context, eventID int64, outcome bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if ev.Resolved {
		return domain.ErrEventResolved
	}
	ev.Resolved = true
	ev.Outcome = outcome
	s.events[eventID] = ev
	return nil
}

// SettleClaim flips the bet's claimed flag and debits the payout together.
func (s *Store) SettleClaim(_ context.Context, betID int64, payout int64, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betID]
	if !ok {
		return domain.ErrBetNotFound
	}
	if b.Claimed {
		return domain.ErrAlreadyClaimed
	}
	if s.pools[b.EventID] < payout {
		return domain.ErrInsufficientPool
	}

	b.Claimed = true
	s.bets[betID] = b
	s.debitLocked(b.EventID, payout, to, "claim")
	return nil
}

// DrainPool sweeps the event's entire pooled balance to the given party.
func (s *Store) DrainPool(_ context.Context, eventID int64, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		return 0, domain.ErrEventNotFound
	}
	bal := s.pools[eventID]
	if bal <= 0 {
		return 0, domain.ErrNoBalanceToWithdraw
	}
	s.debitLocked(eventID, bal, to, "emergency_withdraw")
	return bal, nil
}

// PoolBalance returns the custody balance held for an event.
func (s *Store) PoolBalance(_ context.Context, eventID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.events[eventID]; !ok {
		return 0, domain.ErrEventNotFound
	}
	return s.pools[eventID], nil
}

// PoolMovements returns the event's custody trail in chronological order.
func (s *Store) PoolMovements(_ context.Context, eventID int64, opts domain.ListOpts) ([]domain.PoolMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	moves := s.movements[eventID]
	if opts.Offset > len(moves) {
		return nil, nil
	}
	moves = moves[opts.Offset:]
	if opts.Limit > 0 && len(moves) > opts.Limit {
		moves = moves[:opts.Limit]
	}
	out := make([]domain.PoolMovement, len(moves))
	copy(out, moves)
	return out, nil
}

func (s *Store) creditLocked(eventID, amount int64, party, reason string) {
	s.pools[eventID] += amount
	s.appendMovementLocked(eventID, amount, party, reason)
}

func (s *Store) debitLocked(eventID, amount int64, party, reason string) {
	s.pools[eventID] -= amount
	s.appendMovementLocked(eventID, -amount, party, reason)
}

func (s *Store) appendMovementLocked(eventID, amount int64, party, reason string) {
	s.moveSeq++
	s.movements[eventID] = append(s.movements[eventID], domain.PoolMovement{
		ID:        s.moveSeq,
		EventID:   eventID,
		Amount:    amount,
		Party:     party,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}

// Compile-time interface check.
var _ domain.SettlementStore = (*Store)(nil)
