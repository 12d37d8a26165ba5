// Package domain defines the core settlement models (market state, events,
// bets, pool movements) and the store/cache interfaces implemented by the
// memory, postgres, and redis packages.
package domain

import "time"

// Event is one resolvable proposition. Pool totals only grow while betting is
// open and are frozen the moment the event resolves; a resolved event is never
// deleted and remains queryable as a closed ledger.
type Event struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	EndTime   int64     `json:"end_time"` // unix seconds; betting closes at this instant
	Resolved  bool      `json:"resolved"`
	Outcome   bool      `json:"outcome"` // meaningful only when Resolved
	YesBets   int64     `json:"yes_bets"`
	NoBets    int64     `json:"no_bets"`
	YesAmount int64     `json:"yes_amount"`
	NoAmount  int64     `json:"no_amount"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Pool returns the total value escrowed against the event across both sides.
func (e Event) Pool() int64 {
	return e.YesAmount + e.NoAmount
}

// WinningAmount returns the amount staked on the side matching the resolved
// outcome. Only meaningful when Resolved is true.
func (e Event) WinningAmount() int64 {
	if e.Outcome {
		return e.YesAmount
	}
	return e.NoAmount
}

// LosingAmount returns the amount staked on the side opposite the resolved
// outcome. Only meaningful when Resolved is true.
func (e Event) LosingAmount() int64 {
	if e.Outcome {
		return e.NoAmount
	}
	return e.YesAmount
}

// BettingOpenAt reports whether bets may still be placed at the given time.
func (e Event) BettingOpenAt(now time.Time) bool {
	return !e.Resolved && now.Unix() < e.EndTime
}
