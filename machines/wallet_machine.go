package machines

import (
	"time"

	"showtix/internal/status"
	"showtix/models"
)

// Wallet machine event types.
const (
	ShowEarningsPosted   = "SHOW EARNINGS POSTED"
	ShowCommissionPosted = "SHOW COMMISSION POSTED"
	PayoutRequested      = "PAYOUT REQUESTED"
	PayoutSentEvent      = "PAYOUT SENT"
	PayoutComplete       = "PAYOUT COMPLETE"
	PayoutFailed         = "PAYOUT FAILED"
)

type WalletEvent struct {
	Type string
	// Earnings/commission posting.
	Show              *models.Show
	EarningPercentage int
	// Payout lifecycle.
	Payout      *models.Payout
	Transaction *models.Transaction
	PayoutID    string
}

// AtomicUpdateFunc persists a wallet mutation with a match condition, so
// concurrent finalizing shows cannot double-post the same earning.
type AtomicUpdateFunc func(wallet *models.Wallet, matched bool) error

// WalletMachine guards a creator's earnings ledger. Unlike the ticket and
// show machines, inconsistent money states are hard errors: a payout event
// for a payout not in the expected status must fail the job.
type WalletMachine struct {
	wallet *models.Wallet
	update AtomicUpdateFunc
}

func NewWalletMachine(wallet *models.Wallet, update AtomicUpdateFunc) *WalletMachine {
	return &WalletMachine{wallet: wallet, update: update}
}

func (m *WalletMachine) Wallet() *models.Wallet {
	return m.wallet
}

func (m *WalletMachine) Can(event WalletEvent) bool {
	switch event.Type {
	case ShowEarningsPosted, ShowCommissionPosted:
		return event.Show != nil
	case PayoutRequested:
		return m.wallet.Status == models.WalletAvailable && event.Payout != nil &&
			event.Payout.Amount <= m.wallet.AvailableBalance
	case PayoutSentEvent:
		return m.wallet.Status == models.WalletPayoutInProgress && event.Transaction != nil
	case PayoutComplete:
		return m.wallet.FindPayout(event.PayoutID, models.PayoutSent) != nil
	case PayoutFailed:
		return m.wallet.Status == models.WalletPayoutInProgress
	}
	return false
}

func (m *WalletMachine) Send(event WalletEvent) error {
	switch event.Type {
	case ShowEarningsPosted:
		return m.postEarnings(event, models.EarningsShowPerformance)
	case ShowCommissionPosted:
		return m.postEarnings(event, models.EarningsCommission)
	case PayoutRequested:
		return m.requestPayout(event)
	case PayoutSentEvent:
		return m.payoutSent(event)
	case PayoutComplete:
		return m.payoutComplete(event)
	case PayoutFailed:
		return m.payoutFailed(event)
	}
	return status.ErrInvalidTransition
}

// postEarnings credits the wallet's share of a finalized show's revenue.
// Posting is at-most-once per show: a wallet that already holds an earning
// for the show is left untouched, which makes concurrent finalize
// deliveries safe.
func (m *WalletMachine) postEarnings(event WalletEvent, source models.EarningsSource) error {
	if event.Show == nil {
		return status.ErrInvalidTransition
	}
	if m.wallet.HasEarningForShow(event.Show.ID) {
		return m.persist(false)
	}
	revenue := event.Show.ShowState.SalesStats.TotalRevenue.Get(m.wallet.Currency)
	amount := revenue * int64(event.EarningPercentage) / 100
	m.wallet.Earnings = append(m.wallet.Earnings, models.Earning{
		EarnedAt:          time.Now(),
		ShowID:            event.Show.ID,
		Amount:            amount,
		Currency:          m.wallet.Currency,
		Source:            source,
		EarningPercentage: event.EarningPercentage,
	})
	m.wallet.Balance += amount
	m.wallet.AvailableBalance += amount
	return m.persist(true)
}

func (m *WalletMachine) requestPayout(event WalletEvent) error {
	if m.wallet.Status != models.WalletAvailable {
		return status.ErrInvalidTransition
	}
	payout := event.Payout
	if payout == nil {
		return status.ErrInvalidTransition
	}
	if payout.Amount > m.wallet.AvailableBalance {
		return status.ErrInsufficientBalance
	}
	m.wallet.Status = models.WalletPayoutInProgress
	m.wallet.Payouts = append(m.wallet.Payouts, *payout)
	m.wallet.AvailableBalance -= payout.Amount
	m.wallet.OnHoldBalance += payout.Amount
	return m.persist(true)
}

func (m *WalletMachine) payoutSent(event WalletEvent) error {
	if m.wallet.Status != models.WalletPayoutInProgress {
		return status.ErrInvalidTransition
	}
	transaction := event.Transaction
	if transaction == nil {
		return status.ErrInvalidTransition
	}
	payout := m.wallet.FindPayout(transaction.PayoutID, models.PayoutPending)
	if payout == nil {
		return status.ErrPayoutNotPending
	}
	payout.TransactionID = transaction.ID
	payout.Status = models.PayoutSent
	m.wallet.Status = models.WalletAvailable
	m.wallet.Balance -= payout.Amount
	m.wallet.OnHoldBalance -= payout.Amount
	return m.persist(true)
}

func (m *WalletMachine) payoutComplete(event WalletEvent) error {
	payout := m.wallet.FindPayout(event.PayoutID, models.PayoutSent)
	if payout == nil {
		return status.ErrPayoutNotSent
	}
	payout.Status = models.PayoutComplete
	return m.persist(true)
}

func (m *WalletMachine) payoutFailed(event WalletEvent) error {
	if m.wallet.Status != models.WalletPayoutInProgress {
		return status.ErrInvalidTransition
	}
	payout := event.Payout
	if payout != nil {
		if held := m.wallet.FindPayout(payout.PayoutID, models.PayoutPending); held != nil {
			held.Status = models.PayoutFailed
			m.wallet.AvailableBalance += held.Amount
			m.wallet.OnHoldBalance -= held.Amount
		}
	}
	m.wallet.Status = models.WalletAvailable
	return m.persist(true)
}

func (m *WalletMachine) persist(mutated bool) error {
	if m.update == nil {
		return nil
	}
	return m.update(m.wallet, mutated)
}
