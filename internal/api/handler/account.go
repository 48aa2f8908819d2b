package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/payment-ledger/internal/api/middleware"
	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type AccountHandler struct {
	accounts *service.AccountService
	engine   *service.TransactionEngine
}

func NewAccountHandler(accounts *service.AccountService, engine *service.TransactionEngine) *AccountHandler {
	return &AccountHandler{accounts: accounts, engine: engine}
}

type AccountResponse struct {
	AccountID string    `json:"account_id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newAccountResponse(a models.Account) AccountResponse {
	return AccountResponse{
		AccountID: a.ID,
		Balance:   domain.FormatAmount(a.Balance),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type HistoryItemResponse struct {
	TransactionResponse
	Direction string `json:"direction"`
}

type HistoryResponse struct {
	Items            []HistoryItemResponse `json:"items"`
	Page             int                   `json:"page"`
	Size             int                   `json:"size"`
	NumberOfElements int                   `json:"number_of_elements"`
	TotalElements    int64                 `json:"total_elements"`
	TotalPages       int                   `json:"total_pages"`
}

// GetAccount handles GET /v1/accounts/{id}.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, http.StatusNotFound, "get account")
		return
	}
	RespondJSON(w, http.StatusOK, newAccountResponse(*account))
}

// GetHistory handles GET /v1/accounts/{id}/transactions?page=&size=.
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-page", err.Error())
		return
	}
	size, err := queryInt(r, "size", domain.DefaultPageSize)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-page-size", err.Error())
		return
	}

	result, err := h.engine.GetHistory(r.Context(), chi.URLParam(r, "id"), page, size)
	if err != nil {
		respondServiceError(w, r, err, http.StatusNotFound, "get history")
		return
	}

	items := make([]HistoryItemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, HistoryItemResponse{
			TransactionResponse: newTransactionResponse(item.Transaction),
			Direction:           item.Direction,
		})
	}
	RespondJSON(w, http.StatusOK, HistoryResponse{
		Items:            items,
		Page:             result.PageNumber,
		Size:             result.PageSize,
		NumberOfElements: result.ItemCount,
		TotalElements:    result.TotalItems,
		TotalPages:       result.TotalPages,
	})
}

// CreateAccount handles POST /v1/admin/accounts.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string          `json:"account_id"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-account-id", "account_id is required")
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req.AccountID, req.OpeningBalance, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, http.StatusNotFound, "create account")
		return
	}
	RespondJSON(w, http.StatusCreated, newAccountResponse(*account))
}
