package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionReason string

const (
	TransactionTicketPayment TransactionReason = "TICKET PAYMENT"
	TransactionTicketRefund  TransactionReason = "TICKET REFUND"
	TransactionDisputeRefund TransactionReason = "DISPUTE REFUND"
	TransactionCreatorPayout TransactionReason = "CREATOR PAYOUT"
)

// Transaction is an immutable record of money moving through the payment
// processor. Sale and refund entries reference transactions by id.
type Transaction struct {
	ID        string            `json:"id"`
	TicketID  string            `json:"ticket_id,omitempty"`
	CreatorID string            `json:"creator_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	Hash      string            `json:"hash,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Reason    TransactionReason `json:"reason"`
	Amount    int64             `json:"amount"`
	Currency  CurrencyType      `json:"currency"`
	Rate      decimal.Decimal   `json:"rate"`
	InvoiceID string            `json:"invoice_id,omitempty"`
	PayoutID  string            `json:"payout_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Payment converts the transaction into a sale/refund payment entry,
// freezing the exchange rate at transaction time.
func (t *Transaction) Payment() Payment {
	return Payment{
		Amount:   t.Amount,
		Currency: t.Currency,
		Rate:     t.Rate,
	}
}

// ShowEvent is an append-only audit record of a show-machine event.
type ShowEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ShowID    string    `json:"show_id"`
	CreatorID string    `json:"creator_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	TicketID  string    `json:"ticket_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
