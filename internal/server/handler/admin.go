package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// AdminService defines the methods that the admin handler requires from the
// service layer.
type AdminService interface {
	Initialize(ctx context.Context, admin string) error
	EmergencyWithdraw(ctx context.Context, caller string, eventID int64) (int64, error)
}

// AdminHandler serves admin-only HTTP endpoints.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// initializeCommand is the signed payload for market initialization. The
// signer of the command becomes the admin.
type initializeCommand struct {
	Action string `json:"action"`
}

// Initialize establishes the market with the caller as admin.
// POST /api/admin/initialize
func (h *AdminHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var cmd initializeCommand
	caller, ok := decodeSigned(w, r, &cmd)
	if !ok {
		return
	}
	if cmd.Action != "initialize" {
		writeError(w, http.StatusBadRequest, `action must be "initialize"`)
		return
	}

	if err := h.admin.Initialize(r.Context(), caller); err != nil {
		writeDomainError(w, r, h.logger, "initialize", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"admin":  caller,
		"status": "initialized",
	})
}

// withdrawCommand is the signed payload for the emergency pool sweep.
type withdrawCommand struct {
	EventID int64 `json:"event_id"`
}

// EmergencyWithdraw sweeps an event's remaining pool to the admin.
// POST /api/events/{id}/withdraw
func (h *AdminHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var cmd withdrawCommand
	caller, ok := decodeSigned(w, r, &cmd)
	if !ok {
		return
	}
	if cmd.EventID != id {
		writeError(w, http.StatusBadRequest, "command event_id does not match path")
		return
	}

	amount, err := h.admin.EmergencyWithdraw(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "emergency withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"amount":   amount,
		"status":   "drained",
	})
}
