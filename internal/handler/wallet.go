package handler

import (
	"net/http"
	"time"

	"github.com/cradoe/walletrecon/internal/context"
	"github.com/cradoe/walletrecon/internal/errHandler"
	"github.com/cradoe/walletrecon/internal/repository"
	"github.com/cradoe/walletrecon/internal/response"
)

// Amounts are in minor units (kobo).
type WalletResponseData struct {
	ID                string    `json:"id"`
	Balance           int64     `json:"balance"`
	BonusBalance      int64     `json:"bonus_balance"`
	CommissionBalance int64     `json:"commission_balance"`
	Currency          string    `json:"currency"`
	Locked            bool      `json:"locked"`
	CreatedAt         time.Time `json:"created_at"`
}

type WalletHandler struct {
	DB         repository.Database
	ErrHandler *errHandler.ErrorHandler
}

func NewWalletHandler(handler *WalletHandler) *WalletHandler {
	return &WalletHandler{
		DB:         handler.DB,
		ErrHandler: handler.ErrHandler,
	}
}

func (h *WalletHandler) HandleMyWallet(w http.ResponseWriter, r *http.Request) {
	ownerID := context.ContextGetAuthenticatedOwner(r)

	wallet, found, err := h.DB.Wallet().GetByOwner(r.Context(), ownerID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	if !found {
		h.ErrHandler.NotFound(w, r)
		return
	}

	message := "Wallet details fetched successfully"

	data := &WalletResponseData{
		ID:                wallet.ID,
		Balance:           wallet.Balance,
		BonusBalance:      wallet.BonusBalance,
		CommissionBalance: wallet.CommissionBalance,
		Currency:          wallet.Currency,
		Locked:            wallet.IsLocked(),
		CreatedAt:         wallet.CreatedAt,
	}
	err = response.JSONOkResponse(w, data, message, nil)

	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
