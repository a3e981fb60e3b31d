package models

import (
	"time"
)

type ShowStatus string

const (
	ShowCreated               ShowStatus = "CREATED"
	ShowBoxOfficeOpen         ShowStatus = "BOX OFFICE OPEN"
	ShowBoxOfficeClosed       ShowStatus = "BOX OFFICE CLOSED"
	ShowLive                  ShowStatus = "LIVE"
	ShowStopped               ShowStatus = "STOPPED"
	ShowInEscrow              ShowStatus = "IN ESCROW"
	ShowInDispute             ShowStatus = "IN DISPUTE"
	ShowCancellationInitiated ShowStatus = "CANCELLATION INITIATED"
	ShowRefundInitiated       ShowStatus = "REFUND INITIATED"
	ShowCancelled             ShowStatus = "CANCELLED"
	ShowFinalized             ShowStatus = "FINALIZED"
)

// SalesStats aggregates ticket movement for a show. TicketsAvailable never
// goes below zero and never exceeds the show's original capacity.
type SalesStats struct {
	TicketsAvailable int            `json:"tickets_available"`
	TicketsSold      int            `json:"tickets_sold"`
	TicketsReserved  int            `json:"tickets_reserved"`
	TicketsRefunded  int            `json:"tickets_refunded"`
	TicketsRedeemed  int            `json:"tickets_redeemed"`
	TicketsFinalized int            `json:"tickets_finalized"`
	TotalSales       CurrencyTotals `json:"total_sales"`
	TotalRefunds     CurrencyTotals `json:"total_refunds"`
	TotalRevenue     CurrencyTotals `json:"total_revenue"`
}

type FeedbackStats struct {
	NumberOfReviews int     `json:"number_of_reviews"`
	AverageRating   float64 `json:"average_rating"`
}

type DisputeStats struct {
	TotalDisputes         int `json:"total_disputes"`
	TotalDisputesResolved int `json:"total_disputes_resolved"`
	TotalDisputesRefunded int `json:"total_disputes_refunded"`
}

// ShowState is the mutable projection persisted on the show document. The
// per-category ticket-id lists are an append-only audit trail.
type ShowState struct {
	Status        ShowStatus    `json:"status"`
	Active        bool          `json:"active"`
	SalesStats    SalesStats    `json:"sales_stats"`
	FeedbackStats FeedbackStats `json:"feedback_stats"`
	DisputeStats  DisputeStats  `json:"dispute_stats"`
	Cancel        *Cancel       `json:"cancel,omitempty"`
	Finalize      *Finalize     `json:"finalize,omitempty"`
	Escrow        *Escrow       `json:"escrow,omitempty"`
	Runtime       *Runtime      `json:"runtime,omitempty"`

	Sales         []string `json:"sales"`
	Refunds       []string `json:"refunds"`
	Disputes      []string `json:"disputes"`
	Reservations  []string `json:"reservations"`
	Redemptions   []string `json:"redemptions"`
	Finalizations []string `json:"finalizations"`
	Cancellations []string `json:"cancellations"`
}

func NewShowState(capacity int) ShowState {
	return ShowState{
		Status: ShowCreated,
		Active: true,
		SalesStats: SalesStats{
			TicketsAvailable: capacity,
			TotalSales:       CurrencyTotals{},
			TotalRefunds:     CurrencyTotals{},
			TotalRevenue:     CurrencyTotals{},
		},
		Sales:         []string{},
		Refunds:       []string{},
		Disputes:      []string{},
		Reservations:  []string{},
		Redemptions:   []string{},
		Finalizations: []string{},
		Cancellations: []string{},
	}
}

type CreatorInfo struct {
	Name            string  `json:"name"`
	ProfileImageURL string  `json:"profile_image_url,omitempty"`
	AverageRating   float64 `json:"average_rating"`
	NumberOfReviews int     `json:"number_of_reviews"`
}

type Show struct {
	ID          string      `json:"id"`
	CreatorID   string      `json:"creator_id"`
	AgentID     string      `json:"agent_id,omitempty"`
	Name        string      `json:"name"`
	Duration    int         `json:"duration"` // minutes
	Capacity    int         `json:"capacity"`
	Price       Money       `json:"price"`
	CreatorInfo CreatorInfo `json:"creator_info"`
	ShowState   ShowState   `json:"show_state"`
	CreatedAt   time.Time   `json:"created_at"`
}
