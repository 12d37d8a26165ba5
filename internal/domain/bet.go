package domain

import "time"

// Bet is one user's stake on one event. Amount is fixed at creation; Claimed
// transitions false to true at most once, and only via a successful claim by
// the bettor on a winning bet.
type Bet struct {
	ID       int64     `json:"id"`
	EventID  int64     `json:"event_id"`
	Bettor   string    `json:"bettor"`
	Outcome  bool      `json:"outcome"` // true = yes side
	Amount   int64     `json:"amount"`
	Claimed  bool      `json:"claimed"`
	PlacedAt time.Time `json:"placed_at"`
}

// Won reports whether the bet is on the event's resolved outcome.
func (b Bet) Won(ev Event) bool {
	return ev.Resolved && b.Outcome == ev.Outcome
}

// MarketState is the process-wide singleton created by initialize: the admin
// identity plus the last-assigned event and bet ids. It is owned by the state
// store and mutated only when events or bets are created.
type MarketState struct {
	Admin         string    `json:"admin"`
	EventCounter  int64     `json:"event_counter"`
	BetCounter    int64     `json:"bet_counter"`
	InitializedAt time.Time `json:"initialized_at"`
}

// PoolMovement records a single custody-ledger credit or debit against an
// event's pooled balance. Kept as an append-only trail for audits and for the
// archiver.
type PoolMovement struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Amount    int64     `json:"amount"` // positive = credit, negative = debit
	Party     string    `json:"party"`  // who the value moved from or to
	Reason    string    `json:"reason"` // "bet", "claim", "emergency_withdraw"
	CreatedAt time.Time `json:"created_at"`
}
