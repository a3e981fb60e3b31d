package models

import (
	"time"
)

type TicketStatus string

const (
	TicketCreated              TicketStatus = "CREATED"
	TicketWaitingInvoice       TicketStatus = "WAITING FOR INVOICE"
	TicketWaitingPayment       TicketStatus = "WAITING FOR PAYMENT"
	TicketPaymentInitiated     TicketStatus = "PAYMENT INITIATED"
	TicketPaymentReceived      TicketStatus = "PAYMENT RECEIVED"
	TicketFullyPaid            TicketStatus = "FULLY PAID"
	TicketRefundRequested      TicketStatus = "REFUND REQUESTED"
	TicketWaitingRefund        TicketStatus = "WAITING FOR REFUND"
	TicketRedeemed             TicketStatus = "REDEEMED"
	TicketInEscrow             TicketStatus = "IN ESCROW"
	TicketMissedShow           TicketStatus = "MISSED SHOW"
	TicketInDispute            TicketStatus = "IN DISPUTE"
	TicketWaitingDisputeRefund TicketStatus = "WAITING FOR DISPUTE REFUND"
	TicketCancelled            TicketStatus = "CANCELLED"
	TicketFinalized            TicketStatus = "FINALIZED"
)

// TicketState is the mutable projection persisted on the ticket document.
// The ticket machine must be re-derivable from this state alone after a
// crash, so nothing machine-only lives outside it.
type TicketState struct {
	Status         TicketStatus `json:"status"`
	Active         bool         `json:"active"`
	Sale           *Sale        `json:"sale,omitempty"`
	Refund         *Refund      `json:"refund,omitempty"`
	Dispute        *Dispute     `json:"dispute,omitempty"`
	Escrow         *Escrow      `json:"escrow,omitempty"`
	Redemption     *Redemption  `json:"redemption,omitempty"`
	Feedback       *Feedback    `json:"feedback,omitempty"`
	Finalize       *Finalize    `json:"finalize,omitempty"`
	Cancel         *Cancel      `json:"cancel,omitempty"`
	PaymentAddress string       `json:"payment_address,omitempty"`
}

func NewTicketState() TicketState {
	return TicketState{
		Status: TicketCreated,
		Active: true,
	}
}

type Ticket struct {
	ID           string      `json:"id"`
	ShowID       string      `json:"show_id"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name"`
	CreatorID    string      `json:"creator_id"`
	AgentID      string      `json:"agent_id,omitempty"`
	Price        Money       `json:"price"`
	InvoiceID    string      `json:"invoice_id,omitempty"`
	TicketState  TicketState `json:"ticket_state"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PaidTotal is the sum of all payments converted at their historical rates.
func (t *Ticket) PaidTotal() int64 {
	if t.TicketState.Sale == nil {
		return 0
	}
	return CalcTotal(t.TicketState.Sale.Payments)
}

func (t *Ticket) HasPayments() bool {
	return t.PaidTotal() > 0
}
