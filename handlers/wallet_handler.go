package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"showtix/internal/status"
	"showtix/services"
)

// WalletHandler exposes a creator's earnings ledger and the withdrawal
// entry point.
type WalletHandler struct {
	wallets *services.WalletService
}

func NewWalletHandler(wallets *services.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

func (h *WalletHandler) Get(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	wallet, err := h.wallets.Wallet(e.Request.Context(), e.Auth.Id)
	if err != nil {
		if errors.Is(err, status.ErrWalletNotFound) {
			return apis.NewNotFoundError("No wallet for this account", nil)
		}
		return apis.NewBadRequestError("Failed to load wallet", err)
	}
	return e.JSON(http.StatusOK, wallet)
}

// RequestPayout validates the withdrawal and enqueues it; the transfer
// itself is asynchronous and lands as payout updates on the wallet.
func (h *WalletHandler) RequestPayout(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	err := h.wallets.RequestPayout(e.Request.Context(), e.Auth.Id, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrInsufficientBalance):
			return apis.NewBadRequestError("Insufficient available balance", nil)
		case errors.Is(err, status.ErrInvalidTransition):
			return apis.NewBadRequestError("A payout is already in progress", nil)
		case errors.Is(err, status.ErrWalletNotFound):
			return apis.NewNotFoundError("No wallet for this account", nil)
		}
		return apis.NewBadRequestError("Failed to request payout", err)
	}
	return e.JSON(http.StatusAccepted, map[string]any{"amount": req.Amount})
}
