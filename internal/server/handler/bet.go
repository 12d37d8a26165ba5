package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/predictlabs/settled/internal/crypto"
	"github.com/predictlabs/settled/internal/domain"
)

// BetService defines the methods that the bet handler requires from the
// service layer.
type BetService interface {
	PlaceBet(ctx context.Context, caller string, eventID int64, outcome bool, amount int64) (int64, error)
	ClaimWinnings(ctx context.Context, caller string, betID int64) (int64, error)
	GetBet(ctx context.Context, id int64) (domain.Bet, error)
	ListBetsByUser(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error)
}

// BetHandler serves bet-related HTTP endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetCommand is the signed payload for placing a bet.
type placeBetCommand struct {
	EventID int64 `json:"event_id"`
	Outcome bool  `json:"outcome"`
	Amount  int64 `json:"amount"`
}

// PlaceBet escrows a stake on one side of an event from a signed command.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var cmd placeBetCommand
	caller, ok := decodeSigned(w, r, &cmd)
	if !ok {
		return
	}
	if cmd.EventID <= 0 {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}

	id, err := h.bets.PlaceBet(r.Context(), caller, cmd.EventID, cmd.Outcome, cmd.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"bet_id":   id,
		"event_id": cmd.EventID,
		"bettor":   caller,
	})
}

// claimCommand is the signed payload for claiming winnings.
type claimCommand struct {
	BetID int64 `json:"bet_id"`
}

// ClaimWinnings pays out a winning bet from a signed command.
// POST /api/bets/{id}/claim
func (h *BetHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var cmd claimCommand
	caller, ok := decodeSigned(w, r, &cmd)
	if !ok {
		return
	}
	if cmd.BetID != id {
		writeError(w, http.StatusBadRequest, "command bet_id does not match path")
		return
	}

	payout, err := h.bets.ClaimWinnings(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim winnings", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bet_id": id,
		"payout": payout,
		"bettor": caller,
	})
}

// GetBet returns a single bet by its ID.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	b, err := h.bets.GetBet(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get bet", err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ListBets returns the bets placed by a bettor.
// GET /api/bets?bettor=0x...&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bettor := r.URL.Query().Get("bettor")
	if bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor query parameter required")
		return
	}
	// Parties are stored in canonical lowercase form.
	bettor = crypto.CanonicalAddress(bettor)

	bets, err := h.bets.ListBetsByUser(r.Context(), bettor, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bettor": bettor,
		"bets":   bets,
	})
}
