package models

import (
	"time"
)

// ActorType identifies who triggered a lifecycle action.
type ActorType string

const (
	ActorCustomer   ActorType = "CUSTOMER"
	ActorCreator    ActorType = "CREATOR"
	ActorAgent      ActorType = "AGENT"
	ActorArbitrator ActorType = "ARBITRATOR"
	ActorTimer      ActorType = "TIMER"
)

type CancelReason string

const (
	CancelCreatorNoShow     CancelReason = "CREATOR NO SHOW"
	CancelCustomerNoShow    CancelReason = "CUSTOMER NO SHOW"
	CancelShowRescheduled   CancelReason = "SHOW RESCHEDULED"
	CancelCreatorCancelled  CancelReason = "CREATOR CANCELLED"
	CancelCustomerCancelled CancelReason = "CUSTOMER CANCELLED"
	CancelPaymentTimeout    CancelReason = "PAYMENT TIMEOUT"
)

type RefundReason string

const (
	RefundShowCancelled   RefundReason = "SHOW CANCELLED"
	RefundCustomerCancel  RefundReason = "CUSTOMER CANCELLED"
	RefundDisputeDecision RefundReason = "DISPUTE DECISION"
	RefundUnknown         RefundReason = "UNKNOWN"
)

type DisputeReason string

const (
	DisputeAttemptedScam DisputeReason = "ATTEMPTED SCAM"
	DisputeEndedEarly    DisputeReason = "ENDED EARLY"
	DisputeLowQuality    DisputeReason = "LOW QUALITY"
	DisputeNoShow        DisputeReason = "CREATOR NO SHOW"
)

type DisputeDecision string

const (
	DecisionNoRefund      DisputeDecision = "NO REFUND"
	DecisionPartialRefund DisputeDecision = "PARTIAL REFUND"
	DecisionFullRefund    DisputeDecision = "FULL REFUND"
)

type Cancel struct {
	CancelledAt      time.Time    `json:"cancelled_at"`
	CancelledInState string       `json:"cancelled_in_state,omitempty"`
	RequestedBy      ActorType    `json:"requested_by"`
	Reason           CancelReason `json:"reason"`
}

type Finalize struct {
	FinalizedAt time.Time `json:"finalized_at"`
	FinalizedBy ActorType `json:"finalized_by"`
}

type Escrow struct {
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type Runtime struct {
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type Redemption struct {
	RedeemedAt time.Time `json:"redeemed_at"`
}

type Feedback struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Dispute struct {
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	DisputedBy ActorType       `json:"disputed_by"`
	Reason     DisputeReason   `json:"reason"`
	Decision   DisputeDecision `json:"decision,omitempty"`
	Resolved   bool            `json:"resolved"`
}

// Sale tracks everything paid against a ticket, keyed by settlement currency.
type Sale struct {
	SoldAt       time.Time                  `json:"sold_at"`
	Transactions []string                   `json:"transactions"`
	Payments     map[CurrencyType][]Payment `json:"payments"`
	Totals       CurrencyTotals             `json:"totals"`
}

func NewSale() *Sale {
	return &Sale{
		SoldAt:       time.Now(),
		Transactions: []string{},
		Payments:     map[CurrencyType][]Payment{},
		Totals:       CurrencyTotals{},
	}
}

func (s *Sale) AddPayment(transactionID string, payment Payment) {
	s.Transactions = append(s.Transactions, transactionID)
	s.Totals.Add(payment.Currency, payment.Amount)
	s.Payments[payment.Currency] = append(s.Payments[payment.Currency], payment)
}

// Refund tracks a requested refund and the payouts made against it.
type Refund struct {
	RequestedAt      time.Time                  `json:"requested_at"`
	Transactions     []string                   `json:"transactions"`
	RequestedAmounts CurrencyTotals             `json:"requested_amounts"`
	ApprovedAmounts  CurrencyTotals             `json:"approved_amounts"`
	Payouts          map[CurrencyType][]Payment `json:"payouts"`
	Totals           CurrencyTotals             `json:"totals"`
	Reason           RefundReason               `json:"reason"`
}

func NewRefund(reason RefundReason, requested CurrencyTotals) *Refund {
	approved := CurrencyTotals{}
	for currency, amount := range requested {
		approved[currency] = amount
	}
	return &Refund{
		RequestedAt:      time.Now(),
		Transactions:     []string{},
		RequestedAmounts: requested,
		ApprovedAmounts:  approved,
		Payouts:          map[CurrencyType][]Payment{},
		Totals:           CurrencyTotals{},
		Reason:           reason,
	}
}

func (r *Refund) AddPayout(transactionID string, payout Payment) {
	r.Transactions = append(r.Transactions, transactionID)
	r.Totals.Add(payout.Currency, payout.Amount)
	r.Payouts[payout.Currency] = append(r.Payouts[payout.Currency], payout)
}
