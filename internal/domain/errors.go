package domain

import "errors"

// Settlement failures are sentinel values so callers can distinguish, for
// example, "already claimed" from "wrong outcome". Every failed command leaves
// state exactly as it was before the call.
var (
	ErrAlreadyInitialized  = errors.New("market already initialized")
	ErrNotInitialized      = errors.New("market not initialized")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrEventNotFound       = errors.New("event does not exist")
	ErrBetNotFound         = errors.New("bet does not exist")
	ErrEventResolved       = errors.New("event is already resolved")
	ErrEventNotResolved    = errors.New("event not resolved yet")
	ErrBettingEnded        = errors.New("event betting period has ended")
	ErrBettingNotEnded     = errors.New("event betting period has not ended")
	ErrAmountNotPositive   = errors.New("bet amount must be greater than 0")
	ErrEndTimeNotFuture    = errors.New("end time must be in the future")
	ErrLosingBet           = errors.New("bet did not win")
	ErrAlreadyClaimed      = errors.New("winnings already claimed")
	ErrNoBalanceToWithdraw = errors.New("no balance to withdraw")

	// ErrInsufficientPool means a debit would overdraw an event's pooled
	// balance. The payout formula makes this unreachable through the normal
	// command path; it guards the ledger against misuse.
	ErrInsufficientPool = errors.New("insufficient pool balance")

	// ErrNotFound is the generic store-level miss for lookups that are not
	// settlement preconditions (caches, archived objects).
	ErrNotFound = errors.New("not found")

	// ErrLockHeld is returned when a per-event lock is already held by
	// another party.
	ErrLockHeld = errors.New("lock already held")
)
