package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/predictlabs/settled/internal/crypto"
	"github.com/predictlabs/settled/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a settlement error to its HTTP status and writes it.
// Unexpected errors are logged and reported as a generic 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, ok := domainStatus(err)
	if !ok {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
		return
	}
	writeError(w, status, err.Error())
}

// domainStatus returns the HTTP status for a known settlement error. The
// second return is false for errors that should not reach clients verbatim.
func domainStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrBetNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, true
	case errors.Is(err, domain.ErrAmountNotPositive),
		errors.Is(err, domain.ErrEndTimeNotFuture):
		return http.StatusBadRequest, true
	case errors.Is(err, domain.ErrAlreadyInitialized),
		errors.Is(err, domain.ErrNotInitialized),
		errors.Is(err, domain.ErrEventResolved),
		errors.Is(err, domain.ErrEventNotResolved),
		errors.Is(err, domain.ErrBettingEnded),
		errors.Is(err, domain.ErrBettingNotEnded),
		errors.Is(err, domain.ErrLosingBet),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrNoBalanceToWithdraw),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, true
	default:
		return 0, false
	}
}

// signedRequest is the envelope every command endpoint accepts: the raw
// command payload plus a personal-sign signature over those exact bytes. The
// caller's identity is whatever address the signature recovers to.
type signedRequest struct {
	Command   json.RawMessage `json:"command"`
	Signature string          `json:"signature"`
}

// decodeSigned reads a signed command envelope, recovers the caller address,
// and unmarshals the command payload into dst. It writes the error response
// itself and returns ok=false on failure.
func decodeSigned(w http.ResponseWriter, r *http.Request, dst any) (caller string, ok bool) {
	var req signedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	if len(req.Command) == 0 || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "command and signature are required")
		return "", false
	}

	caller, err := crypto.RecoverSigner(req.Command, req.Signature)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return "", false
	}

	if err := json.Unmarshal(req.Command, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command payload: "+err.Error())
		return "", false
	}
	return caller, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// idParam extracts a numeric path parameter using Go 1.22+ built-in routing.
// It returns ok=false and writes a 400 when the value is missing or not a
// positive integer.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing "+name)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
