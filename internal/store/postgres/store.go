package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predictlabs/settled/internal/domain"
)

// Store implements domain.SettlementStore on top of a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const eventColumns = `id, name, end_time, resolved, outcome,
	yes_bets, no_bets, yes_amount, no_amount, created_by, created_at`

const betColumns = `id, event_id, bettor, outcome, amount, claimed, placed_at`

// InitState inserts the singleton market state row.
func (s *Store) InitState(ctx context.Context, admin string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO market_state (id, admin) VALUES (TRUE, $1)
		ON CONFLICT (id) DO NOTHING`,
		admin,
	)
	if err != nil {
		return fmt.Errorf("postgres: init state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyInitialized
	}
	return nil
}

// GetState returns the singleton market state.
func (s *Store) GetState(ctx context.Context) (domain.MarketState, error) {
	var st domain.MarketState
	err := s.pool.QueryRow(ctx, `
		SELECT admin, event_counter, bet_counter, initialized_at
		FROM market_state`,
	).Scan(&st.Admin, &st.EventCounter, &st.BetCounter, &st.InitializedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketState{}, domain.ErrNotInitialized
		}
		return domain.MarketState{}, fmt.Errorf("postgres: get state: %w", err)
	}
	return st, nil
}

// InsertEvent allocates the next event id, inserts the event, and opens its
// pool row, all in one transaction.
func (s *Store) InsertEvent(ctx context.Context, ev domain.Event) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert event: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		UPDATE market_state SET event_counter = event_counter + 1
		RETURNING event_counter`,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotInitialized
		}
		return 0, fmt.Errorf("postgres: insert event: bump counter: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, name, end_time, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, ev.Name, ev.EndTime, ev.CreatedBy, ev.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert event %d: %w", id, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO pools (event_id, balance) VALUES ($1, 0)`, id,
	); err != nil {
		return 0, fmt.Errorf("postgres: open pool for event %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: insert event: commit: %w", err)
	}
	return id, nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %d: %w", id, err)
	}
	return ev, nil
}

// ListEventsSince returns events with id > sinceID in ascending id order.
func (s *Store) ListEventsSince(ctx context.Context, sinceID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events since %d: %w", sinceID, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListResolvedEventsBefore returns resolved events whose deadline precedes
// the cutoff.
func (s *Store) ListResolvedEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE resolved AND end_time < $1
		ORDER BY id ASC LIMIT $2`,
		cutoff.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ApplyBet commits the bet row, the event totals bump, and the pool credit
// in one transaction. The FOR UPDATE row lock on the event serializes
// concurrent bets against it across processes.
func (s *Store) ApplyBet(ctx context.Context, b domain.Bet) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: apply bet: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var resolved bool
	err = tx.QueryRow(ctx,
		`SELECT resolved FROM events WHERE id = $1 FOR UPDATE`, b.EventID,
	).Scan(&resolved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrEventNotFound
		}
		return 0, fmt.Errorf("postgres: apply bet: lock event %d: %w", b.EventID, err)
	}
	if resolved {
		return 0, domain.ErrEventResolved
	}

	var id int64
	err = tx.QueryRow(ctx, `
		UPDATE market_state SET bet_counter = bet_counter + 1
		RETURNING bet_counter`,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotInitialized
		}
		return 0, fmt.Errorf("postgres: apply bet: bump counter: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bets (id, event_id, bettor, outcome, amount, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, b.EventID, b.Bettor, b.Outcome, b.Amount, b.PlacedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert bet %d: %w", id, err)
	}

	if b.Outcome {
		_, err = tx.Exec(ctx, `
			UPDATE events SET yes_bets = yes_bets + 1, yes_amount = yes_amount + $2
			WHERE id = $1`,
			b.EventID, b.Amount,
		)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE events SET no_bets = no_bets + 1, no_amount = no_amount + $2
			WHERE id = $1`,
			b.EventID, b.Amount,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: bump totals for event %d: %w", b.EventID, err)
	}

	if err := moveLocked(ctx, tx, b.EventID, b.Amount, b.Bettor, "bet"); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: apply bet: commit: %w", err)
	}
	return id, nil
}

// GetBet returns one bet by id.
func (s *Store) GetBet(ctx context.Context, id int64) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrBetNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d: %w", id, err)
	}
	return b, nil
}

// ListBetsByBettor returns the bettor's bets in placement order.
func (s *Store) ListBetsByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE bettor = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`,
		bettor, listLimit(opts), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by bettor %s: %w", bettor, err)
	}
	defer rows.Close()
	return collectBets(rows)
}

// ListBetsByEvent returns the event's bets in placement order.
func (s *Store) ListBetsByEvent(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE event_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`,
		eventID, listLimit(opts), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by event %d: %w", eventID, err)
	}
	defer rows.Close()
	return collectBets(rows)
}

// MarkResolved is a compare-and-set on the resolved flag; the WHERE clause
// guarantees the flip happens at most once even across processes.
func (s *Store) MarkResolved(ctx context.Context, eventID int64, outcome bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET resolved = TRUE, outcome = $2
		WHERE id = $1 AND NOT resolved`,
		eventID, outcome,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark resolved %d: %w", eventID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: missing event or already resolved.
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return err
	}
	return domain.ErrEventResolved
}

// SettleClaim flips the bet's claimed flag and debits the payout from the
// event's pool in one transaction.
func (s *Store) SettleClaim(ctx context.Context, betID int64, payout int64, to string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: settle claim: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var eventID int64
	var claimed bool
	err = tx.QueryRow(ctx,
		`SELECT event_id, claimed FROM bets WHERE id = $1 FOR UPDATE`, betID,
	).Scan(&eventID, &claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrBetNotFound
		}
		return fmt.Errorf("postgres: settle claim: lock bet %d: %w", betID, err)
	}
	if claimed {
		return domain.ErrAlreadyClaimed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bets SET claimed = TRUE WHERE id = $1`, betID,
	); err != nil {
		return fmt.Errorf("postgres: settle claim: flip bet %d: %w", betID, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pools SET balance = balance - $2
		WHERE event_id = $1 AND balance >= $2`,
		eventID, payout,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle claim: debit pool %d: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientPool
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO pool_movements (event_id, amount, party, reason)
		VALUES ($1, $2, $3, 'claim')`,
		eventID, -payout, to,
	); err != nil {
		return fmt.Errorf("postgres: settle claim: record movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: settle claim: commit: %w", err)
	}
	return nil
}

// DrainPool sweeps the event's entire pooled balance to the given party.
func (s *Store) DrainPool(ctx context.Context, eventID int64, to string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: drain pool: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM pools WHERE event_id = $1 FOR UPDATE`, eventID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrEventNotFound
		}
		return 0, fmt.Errorf("postgres: drain pool: lock %d: %w", eventID, err)
	}
	if balance <= 0 {
		return 0, domain.ErrNoBalanceToWithdraw
	}

	if _, err := tx.Exec(ctx,
		`UPDATE pools SET balance = 0 WHERE event_id = $1`, eventID,
	); err != nil {
		return 0, fmt.Errorf("postgres: drain pool %d: %w", eventID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO pool_movements (event_id, amount, party, reason)
		VALUES ($1, $2, $3, 'emergency_withdraw')`,
		eventID, -balance, to,
	); err != nil {
		return 0, fmt.Errorf("postgres: drain pool: record movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: drain pool: commit: %w", err)
	}
	return balance, nil
}

// PoolBalance returns the custody balance held for an event.
func (s *Store) PoolBalance(ctx context.Context, eventID int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM pools WHERE event_id = $1`, eventID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrEventNotFound
		}
		return 0, fmt.Errorf("postgres: pool balance %d: %w", eventID, err)
	}
	return balance, nil
}

// PoolMovements returns the event's custody trail in chronological order.
func (s *Store) PoolMovements(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.PoolMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, amount, party, reason, created_at
		FROM pool_movements
		WHERE event_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`,
		eventID, listLimit(opts), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool movements %d: %w", eventID, err)
	}
	defer rows.Close()

	var out []domain.PoolMovement
	for rows.Next() {
		var m domain.PoolMovement
		if err := rows.Scan(&m.ID, &m.EventID, &m.Amount, &m.Party, &m.Reason, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// moveLocked records a pool credit inside an open transaction that already
// holds the event row lock.
func moveLocked(ctx context.Context, tx pgx.Tx, eventID, amount int64, party, reason string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE pools SET balance = balance + $2 WHERE event_id = $1`,
		eventID, amount,
	); err != nil {
		return fmt.Errorf("postgres: credit pool %d: %w", eventID, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO pool_movements (event_id, amount, party, reason)
		VALUES ($1, $2, $3, $4)`,
		eventID, amount, party, reason,
	); err != nil {
		return fmt.Errorf("postgres: record movement: %w", err)
	}
	return nil
}

func listLimit(opts domain.ListOpts) int {
	if opts.Limit <= 0 {
		return 100
	}
	return opts.Limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var ev domain.Event
	err := row.Scan(
		&ev.ID, &ev.Name, &ev.EndTime, &ev.Resolved, &ev.Outcome,
		&ev.YesBets, &ev.NoBets, &ev.YesAmount, &ev.NoAmount,
		&ev.CreatedBy, &ev.CreatedAt,
	)
	return ev, err
}

func scanBet(row rowScanner) (domain.Bet, error) {
	var b domain.Bet
	err := row.Scan(
		&b.ID, &b.EventID, &b.Bettor, &b.Outcome, &b.Amount,
		&b.Claimed, &b.PlacedAt,
	)
	return b, err
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.SettlementStore = (*Store)(nil)
