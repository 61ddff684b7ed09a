package handlers

import (
	"net/http"

	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/services"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	billing *services.BillingService
	wallets services.WalletStore
}

func NewWalletHandler(billing *services.BillingService, wallets services.WalletStore) *WalletHandler {
	return &WalletHandler{billing: billing, wallets: wallets}
}

// BalanceResponse is the ledger-derived balance of the caller.
type BalanceResponse struct {
	OwnerID int64           `json:"owner_id"`
	Balance decimal.Decimal `json:"balance"`
}

// TopUpRequest credits the caller's wallet.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Balance returns the caller's balance
// @Summary Balance
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} BalanceResponse
// @Router /balance [get]
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}
	balance, err := h.wallets.Balance(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{OwnerID: ownerID, Balance: balance})
}

// Wallet returns the caller's wallet, creating it on first use
// @Summary Wallet
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Wallet
// @Router /wallet [get]
func (h *WalletHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.GetOrCreate(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// TopUp credits the caller's wallet
// @Summary Top up
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TopUpRequest true "Amount to credit"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Router /topup [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}
	var req TopUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.billing.TopUp(r.Context(), ownerID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Transactions pages through the caller's ledger entries, newest first
// @Summary Transactions
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param skip query int false "Offset"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} Page[models.LedgerEntry]
// @Router /transactions [get]
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}
	skip, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.wallets.Transactions(r.Context(), ownerID, skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.wallets.Count(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[models.LedgerEntry]{Items: entries, Total: total, Skip: skip, Limit: limit})
}
