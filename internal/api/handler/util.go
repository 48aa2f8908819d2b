package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/payment-ledger/internal/api/problem"
	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/service"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// respondServiceError maps service and domain errors to problem documents.
// missingAccount is the status used for ErrAccountNotFound, which differs between reads and writes.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, missingAccount int, op string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		RespondError(w, r, missingAccount, "account/not-found", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		RespondError(w, r, http.StatusUnprocessableEntity, "transaction/insufficient-funds", err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		RespondError(w, r, http.StatusConflict, "idempotency/key-conflict", "idempotency key already used")
	case errors.Is(err, domain.ErrUnsupportedKind):
		RespondError(w, r, http.StatusBadRequest, "request/unsupported-type", err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	case errors.Is(err, service.ErrAccountExists):
		RespondError(w, r, http.StatusConflict, "account/already-exists", err.Error())
	case errors.Is(err, service.ErrNothingToReplay):
		RespondError(w, r, http.StatusNotFound, "outbox/nothing-to-replay", err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		RespondError(w, r, http.StatusConflict, "outbox/invalid-state", err.Error())
	default:
		zap.L().Error(op+" failed", zap.Error(err), zap.String("path", r.URL.Path))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}
