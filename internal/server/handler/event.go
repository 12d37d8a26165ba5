package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/predictlabs/settled/internal/domain"
)

// EventService defines the methods that the event handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type EventService interface {
	CreateEvent(ctx context.Context, caller, name string, endTime int64) (int64, error)
	ResolveEvent(ctx context.Context, caller string, eventID int64, outcome bool) error
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	ListEventsSince(ctx context.Context, sinceID int64, limit int) ([]domain.Event, error)
	ListBetsByEvent(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error)
	PoolBalance(ctx context.Context, eventID int64) (int64, error)
}

// EventHandler serves event-related HTTP endpoints.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// createEventCommand is the signed payload for event creation.
type createEventCommand struct {
	Name    string `json:"name"`
	EndTime int64  `json:"end_time"`
}

// CreateEvent registers a new event from a signed command.
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var cmd createEventCommand
	caller, ok := decodeSigned(w, r, &cmd)
	if !ok {
		return
	}
	if cmd.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := h.events.CreateEvent(r.Context(), caller, cmd.Name, cmd.EndTime)
	if err != nil {
		writeDomainError(w, r, h.logger, "create event", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"event_id": id,
	})
}

// resolveEventCommand is the signed payload for event resolution.
type resolveEventCommand struct {
	EventID int64 `json:"event_id"`
	Outcome bool  `json:"outcome"`
}

// ResolveEvent fixes an event's outcome from a signed admin command.
// POST /api/events/{id}/resolve
func (h *EventHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var cmd resolveEventCommand
	caller, ok := decodeSigned(w, r, &cmd)
	if !ok {
		return
	}
	if cmd.EventID != id {
		writeError(w, http.StatusBadRequest, "command event_id does not match path")
		return
	}

	if err := h.events.ResolveEvent(r.Context(), caller, id, cmd.Outcome); err != nil {
		writeDomainError(w, r, h.logger, "resolve event", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"outcome":  cmd.Outcome,
		"status":   "resolved",
	})
}

// GetEvent returns a single event by its ID.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get event", err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// listEventsResponse wraps the list endpoint output with the cursor needed to
// fetch the next page.
type listEventsResponse struct {
	Events []domain.Event `json:"events"`
	Next   int64          `json:"next"`
}

// ListEvents pages through events by id cursor.
// GET /api/events?since=0&limit=50
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since int64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		since = n
	}
	limit := parseListOpts(r).Limit

	events, err := h.events.ListEventsSince(r.Context(), since, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}

	next := since
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: events,
		Next:   next,
	})
}

// ListEventBets returns the bets placed against an event.
// GET /api/events/{id}/bets?limit=50&offset=0
func (h *EventHandler) ListEventBets(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	bets, err := h.events.ListBetsByEvent(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list event bets", err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"bets":     bets,
	})
}

// GetPool returns the custody balance currently held for an event.
// GET /api/events/{id}/pool
func (h *EventHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	balance, err := h.events.PoolBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool balance", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"balance":  balance,
	})
}
