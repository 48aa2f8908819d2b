package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/service"
	"github.com/shopspring/decimal"
)

type TransactionHandler struct {
	engine *service.TransactionEngine
}

func NewTransactionHandler(engine *service.TransactionEngine) *TransactionHandler {
	return &TransactionHandler{engine: engine}
}

// CreateTransactionRequest is the body of POST /v1/transactions.
type CreateTransactionRequest struct {
	Type          string          `json:"type"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransactionResponse renders amounts with exactly two fractional digits.
type TransactionResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	FromAccountID  *string   `json:"from_account_id,omitempty"`
	ToAccountID    *string   `json:"to_account_id,omitempty"`
	Amount         string    `json:"amount"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

func newTransactionResponse(tx models.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:             tx.ID.String(),
		Type:           string(tx.Kind),
		FromAccountID:  tx.FromAccountID,
		ToAccountID:    tx.ToAccountID,
		Amount:         domain.FormatAmount(tx.Amount),
		Status:         string(tx.Status),
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt,
	}
}

// CreateTransaction handles POST /v1/transactions.
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		RespondError(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	}

	var req CreateTransactionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	kind, err := domain.ParseTransactionKind(req.Type)
	if err != nil {
		respondServiceError(w, r, err, http.StatusBadRequest, "create transaction")
		return
	}

	tx, err := h.engine.CreateTransaction(r.Context(), idempotencyKey, domain.CreateTransactionRequest{
		Kind:          kind,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
	})
	if err != nil {
		respondServiceError(w, r, err, http.StatusBadRequest, "create transaction")
		return
	}

	RespondJSON(w, http.StatusCreated, newTransactionResponse(*tx))
}
