package domain

import "time"

// Pub/sub channels and the durable stream used for settlement announcements.
const (
	ChannelEvents = "ch:events"
	ChannelBets   = "ch:bets"
	ChannelClaims = "ch:claims"

	StreamSettlement = "stream:settlement"
)

// Announcement kinds.
const (
	AnnounceEventCreated    = "event_created"
	AnnounceBetPlaced       = "bet_placed"
	AnnounceEventResolved   = "event_resolved"
	AnnounceWinningsClaimed = "winnings_claimed"
	AnnouncePoolDrained     = "pool_drained"
)

// Announcement is the JSON envelope published on the signal bus after a
// settlement command commits. The display layer and the WebSocket hub consume
// these; they are informational and carry no authority.
type Announcement struct {
	Kind    string    `json:"kind"`
	EventID int64     `json:"event_id"`
	BetID   int64     `json:"bet_id,omitempty"`
	Party   string    `json:"party,omitempty"`
	Outcome *bool     `json:"outcome,omitempty"`
	Amount  int64     `json:"amount,omitempty"`
	At      time.Time `json:"at"`
}
