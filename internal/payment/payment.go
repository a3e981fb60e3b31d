package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"showtix/models"
)

// Invoice statuses reported by the payment processor.
const (
	InvoicePending  = "pending"
	InvoicePaid     = "paid"
	InvoiceComplete = "complete"
	InvoiceExpired  = "expired"
	InvoiceInvalid  = "invalid"
	InvoiceRefunded = "refunded"
)

// Payout statuses reported by the payment processor.
const (
	PayoutPending   = "pending"
	PayoutApproved  = "approved"
	PayoutSent      = "sent"
	PayoutComplete  = "complete"
	PayoutCancelled = "cancelled"
	PayoutFailed    = "failed"
)

// Invoice is a processor-side payment request for one ticket.
type Invoice struct {
	ID             string              `json:"id"`
	Status         string              `json:"status"`
	PaymentAddress string              `json:"payment_address"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       models.CurrencyType `json:"currency"`
	Rate           decimal.Decimal     `json:"rate"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Payout is a processor-side outbound transfer, either a refund back to a
// customer or a creator withdrawal.
type Payout struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	Amount      decimal.Decimal     `json:"amount"`
	Currency    models.CurrencyType `json:"currency"`
	Destination string              `json:"destination"`
	MaxFee      decimal.Decimal     `json:"max_fee"`
	TxHash      string              `json:"tx_hash,omitempty"`
}

// PaymentDetail is one settled payment reported against an invoice.
type PaymentDetail struct {
	Amount   decimal.Decimal     `json:"amount"`
	Currency models.CurrencyType `json:"currency"`
	Rate     decimal.Decimal     `json:"rate"`
	Address  string              `json:"payment_address"`
}

type CreateInvoiceParams struct {
	Amount     int64
	Currency   models.CurrencyType
	OrderID    string
	BuyerEmail string
	// NotificationURL overrides the client-wide webhook endpoint, letting
	// the caller embed a per-invoice token.
	NotificationURL string
	RedirectURL     string
}

type RefundParams struct {
	InvoiceID string
	Amount    int64
	Currency  models.CurrencyType
	// Destination the customer supplied for the refund payout.
	Destination string
}

type CreatePayoutParams struct {
	Amount      int64
	Currency    models.CurrencyType
	Destination string
	StoreID     string
}

// Processor is the outbound port to the payment backend. All calls block
// on the network and honor the context.
type Processor interface {
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	InvoicePayments(ctx context.Context, invoiceID string) ([]PaymentDetail, error)

	// RefundInvoice opens a refund against a paid invoice and returns the
	// payout created for it.
	RefundInvoice(ctx context.Context, params RefundParams) (*Payout, error)

	CreatePayout(ctx context.Context, params CreatePayoutParams) (*Payout, error)
	GetPayout(ctx context.Context, payoutID string) (*Payout, error)
	// ModifyPayout raises the fee ceiling on a stuck payout.
	ModifyPayout(ctx context.Context, payoutID string, maxFee decimal.Decimal) error
	ApprovePayout(ctx context.Context, payoutID string) (*Payout, error)
	SendPayout(ctx context.Context, payoutID string) (*Payout, error)
	CancelPayout(ctx context.Context, payoutID string) error
}
