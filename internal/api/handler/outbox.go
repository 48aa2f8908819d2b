package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/payment-ledger/internal/api/middleware"
	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/service"
	"github.com/google/uuid"
)

// OutboxHandler is the operator surface for inspecting and replaying outbox events.
type OutboxHandler struct {
	outbox *service.OutboxService
}

func NewOutboxHandler(outbox *service.OutboxService) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// ListEvents handles GET /v1/admin/outbox?status=FAILED&limit=50 and ?transaction_id=.
func (h *OutboxHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if raw := strings.TrimSpace(r.URL.Query().Get("transaction_id")); raw != "" {
		txID, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction_id")
			return
		}
		events, err := h.outbox.EventsForTransaction(r.Context(), txID)
		if err != nil {
			respondServiceError(w, r, err, http.StatusNotFound, "list outbox events")
			return
		}
		RespondJSON(w, http.StatusOK, map[string]interface{}{"items": events})
		return
	}

	status := domain.OutboxStatusFailed
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseOutboxStatus(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-status", err.Error())
			return
		}
		status = parsed
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}

	events, err := h.outbox.ListByStatus(r.Context(), status, int32(limit))
	if err != nil {
		respondServiceError(w, r, err, http.StatusNotFound, "list outbox events")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}

// Replay handles POST /v1/admin/outbox/replay with an optional body {"ids": [...], "limit": n}.
func (h *OutboxHandler) Replay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs   []uuid.UUID `json:"ids"`
		Limit int32       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	replayed, err := h.outbox.ReplayFailed(r.Context(), service.ReplayRequest{
		IDs:     req.IDs,
		Limit:   req.Limit,
		ActorID: middleware.UserIDFromContext(r.Context()),
	})
	if err != nil {
		respondServiceError(w, r, err, http.StatusNotFound, "replay outbox events")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"replayed": replayed, "count": len(replayed)})
}
