package models

import (
	"time"
)

type WalletStatus string

const (
	WalletAvailable        WalletStatus = "AVAILABLE"
	WalletPayoutInProgress WalletStatus = "PAYOUT IN PROGRESS"
)

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "PENDING"
	PayoutSent     PayoutStatus = "SENT"
	PayoutComplete PayoutStatus = "COMPLETE"
	PayoutFailed   PayoutStatus = "FAILED"
)

type EarningsSource string

const (
	EarningsShowPerformance EarningsSource = "SHOW PERFORMANCE"
	EarningsCommission      EarningsSource = "COMMISSION"
)

type Earning struct {
	EarnedAt          time.Time      `json:"earned_at"`
	ShowID            string         `json:"show_id"`
	Amount            int64          `json:"amount"`
	Currency          CurrencyType   `json:"currency"`
	Source            EarningsSource `json:"source"`
	EarningPercentage int            `json:"earning_percentage"`
}

type Payout struct {
	PayoutID      string       `json:"payout_id"`
	Amount        int64        `json:"amount"`
	Currency      CurrencyType `json:"currency"`
	Destination   string       `json:"destination"`
	Status        PayoutStatus `json:"status"`
	TransactionID string       `json:"transaction_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Wallet is a creator's earnings ledger. At rest between transactions
// Balance == AvailableBalance + OnHoldBalance.
type Wallet struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Status           WalletStatus `json:"status"`
	Currency         CurrencyType `json:"currency"`
	Balance          int64        `json:"balance"`
	AvailableBalance int64        `json:"available_balance"`
	OnHoldBalance    int64        `json:"on_hold_balance"`
	Earnings         []Earning    `json:"earnings"`
	Payouts          []Payout     `json:"payouts"`
}

func NewWallet(userID string, currency CurrencyType) *Wallet {
	return &Wallet{
		UserID:   userID,
		Status:   WalletAvailable,
		Currency: currency,
		Earnings: []Earning{},
		Payouts:  []Payout{},
	}
}

// HasEarningForShow guards against double-posting earnings for one show.
func (w *Wallet) HasEarningForShow(showID string) bool {
	for _, earning := range w.Earnings {
		if earning.ShowID == showID {
			return true
		}
	}
	return false
}

// FindPayout returns the payout with the given id in the given status.
func (w *Wallet) FindPayout(payoutID string, status PayoutStatus) *Payout {
	for i := range w.Payouts {
		if w.Payouts[i].PayoutID == payoutID && w.Payouts[i].Status == status {
			return &w.Payouts[i]
		}
	}
	return nil
}
