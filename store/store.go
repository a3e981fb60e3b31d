package store

import (
	"context"

	"showtix/models"
)

// TicketStatusCounts maps ticket status to how many tickets of a show hold it.
type TicketStatusCounts map[models.TicketStatus]int

// FeedbackAggregate is the rating roll-up over a show's finalized tickets.
type FeedbackAggregate struct {
	NumberOfReviews int
	AverageRating   float64
}

// MoneyAggregate is the per-currency sale/refund sum over a show's tickets.
type MoneyAggregate struct {
	TotalSales   models.CurrencyTotals
	TotalRefunds models.CurrencyTotals
}

// Store is the persistence port for the state machines and workers. A
// single implementation backs all aggregates so cross-aggregate reads in
// the workers stay on one handle.
type Store interface {
	TicketByID(ctx context.Context, id string) (*models.Ticket, error)
	TicketByInvoice(ctx context.Context, invoiceID string) (*models.Ticket, error)
	ActiveTicketsForShow(ctx context.Context, showID string) ([]*models.Ticket, error)
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	UpdateTicketState(ctx context.Context, id string, state models.TicketState) error
	SetTicketInvoice(ctx context.Context, id, invoiceID string) error

	ShowByID(ctx context.Context, id string) (*models.Show, error)
	ActiveShows(ctx context.Context) ([]*models.Show, error)
	CreateShow(ctx context.Context, show *models.Show) error
	UpdateShowState(ctx context.Context, id string, state models.ShowState) error

	WalletByUser(ctx context.Context, userID string) (*models.Wallet, error)
	// WalletByPayout finds the wallet holding a payout entry with the
	// given processor payout id.
	WalletByPayout(ctx context.Context, payoutID string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	// UpdateWalletGuarded persists the wallet only while no earning for
	// guardShowID exists on the stored copy. Ran in a transaction so two
	// concurrent finalize jobs cannot both post the same show's earnings.
	// An empty guardShowID updates unconditionally.
	UpdateWalletGuarded(ctx context.Context, wallet *models.Wallet, guardShowID string) error

	CreatorByID(ctx context.Context, id string) (*models.Creator, error)
	// UpdateCreatorStatsGuarded writes the creator's feedback and sales
	// stats, no-op when the stored copy already counts guardShowID as
	// settled. Ran in a transaction so a replayed settlement cannot roll
	// the same show into the totals twice. An empty guardShowID updates
	// unconditionally.
	UpdateCreatorStatsGuarded(ctx context.Context, creator *models.Creator, guardShowID string) error

	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	TransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	// TransactionByPayout finds the refund transaction recorded when a
	// processor payout was opened for a ticket.
	TransactionByPayout(ctx context.Context, payoutID string) (*models.Transaction, error)
	TransactionsByTicket(ctx context.Context, ticketID string) ([]*models.Transaction, error)

	AppendShowEvent(ctx context.Context, event *models.ShowEvent) error

	// Aggregations over the ticket JSON state, used when a show settles.
	CountTicketStatuses(ctx context.Context, showID string) (TicketStatusCounts, error)
	AggregateFeedback(ctx context.Context, showID string) (FeedbackAggregate, error)
	AggregateTicketTotals(ctx context.Context, showID string) (MoneyAggregate, error)
}
