package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/predictlabs/settled/internal/domain"
)

// LedgerService defines the custody queries the ledger handler requires.
type LedgerService interface {
	Balance(ctx context.Context, eventID int64) (int64, error)
	Movements(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.PoolMovement, error)
	Outstanding(ctx context.Context, eventID int64) (int64, error)
	CheckSolvency(ctx context.Context, eventID int64) error
}

// LedgerHandler serves custody-trail HTTP endpoints.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler with the given service and logger.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

// ListMovements returns the event's credit/debit trail.
// GET /api/events/{id}/movements?limit=50&offset=0
func (h *LedgerHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	moves, err := h.ledger.Movements(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list movements", err)
		return
	}
	if moves == nil {
		moves = []domain.PoolMovement{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  id,
		"movements": moves,
	})
}

// GetSolvency reports whether the event's pool covers every unclaimed winning
// payout.
// GET /api/events/{id}/solvency
func (h *LedgerHandler) GetSolvency(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get solvency", err)
		return
	}
	owed, err := h.ledger.Outstanding(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get solvency", err)
		return
	}

	solvent := true
	if err := h.ledger.CheckSolvency(r.Context(), id); err != nil {
		if !errors.Is(err, domain.ErrInsufficientPool) {
			writeDomainError(w, r, h.logger, "get solvency", err)
			return
		}
		solvent = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":    id,
		"balance":     balance,
		"outstanding": owed,
		"solvent":     solvent,
	})
}
