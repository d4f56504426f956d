package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/middleware"
	"github.com/taskstake/backend/internal/models"
)

// WalletHandler serves the wallet endpoints.
type WalletHandler struct {
	Ledger ledger.Service
	Logger *slog.Logger
}

// Get handles GET /api/v1/wallet.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.Ledger.Wallet(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("load wallet", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit handles POST /api/v1/wallet/deposit.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	wallet, err := h.Ledger.Deposit(r.Context(), user.ID, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error("deposit", "error", err)
		writeError(w, http.StatusInternalServerError, "deposit failed")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type transactionsResponse struct {
	Transactions []*models.Transaction `json:"transactions"`
	Total        int                   `json:"total"`
}

// Transactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, total, err := h.Ledger.Transactions(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.Logger.Error("list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: list, Total: total})
}

type reconcileResponse struct {
	Wallet *models.Wallet  `json:"wallet"`
	Delta  decimal.Decimal `json:"delta"`
}

// Reconcile handles POST /api/v1/wallet/reconcile: recompute the locked
// amount from active stakes and repair any drift.
func (h *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, delta, err := h.Ledger.Reconcile(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("reconcile wallet", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Wallet: wallet, Delta: delta})
}
