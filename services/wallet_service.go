package services

import (
	"context"
	"fmt"

	"showtix/config"
	"showtix/internal/status"
	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/store"
)

// WalletService is the creator-facing side of the earnings ledger. Payout
// requests are validated up front and then handed to the payout worker,
// which owns the processor round trips.
type WalletService struct {
	store  store.Store
	queue  queue.Enqueuer
	config *config.Config
}

func NewWalletService(st store.Store, q queue.Enqueuer, cfg *config.Config) *WalletService {
	return &WalletService{store: st, queue: q, config: cfg}
}

func (s *WalletService) Wallet(ctx context.Context, userID string) (*models.Wallet, error) {
	return s.store.WalletByUser(ctx, userID)
}

// RequestPayout validates a withdrawal and enqueues the payout job. The
// balance is only held once the worker applies the wallet transition, so
// the check here is advisory; the machine enforces it again.
func (s *WalletService) RequestPayout(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("payout amount must be positive, got %d", amount)
	}
	wallet, err := s.store.WalletByUser(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.Status != models.WalletAvailable {
		return status.ErrInvalidTransition
	}
	if amount > wallet.AvailableBalance {
		return status.ErrInsufficientBalance
	}
	creator, err := s.store.CreatorByID(ctx, userID)
	if err != nil {
		return err
	}
	if creator.PayoutAddress == "" {
		return fmt.Errorf("no payout address on file for %s", userID)
	}
	return s.queue.Enqueue(ctx, &queue.Job{
		Queue: machines.QueuePayout,
		Type:  JobCreatePayout,
		Payload: map[string]any{
			"user_id":     userID,
			"amount":      amount,
			"currency":    wallet.Currency,
			"destination": creator.PayoutAddress,
		},
		MaxAttempts: s.config.MaxJobAttempts,
	}, 0)
}
