package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"showtix/internal/status"
	"showtix/models"
)

const (
	collectionShows        = "shows"
	collectionTickets      = "tickets"
	collectionWallets      = "wallets"
	collectionCreators     = "creators"
	collectionTransactions = "transactions"
	collectionShowEvents   = "show_events"
)

// PBStore persists aggregates as PocketBase records with the machine state
// in a JSON column.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func (s *PBStore) TicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	record, err := s.app.FindRecordById(collectionTickets, id)
	if err != nil {
		return nil, notFound(err, status.ErrTicketNotFound)
	}
	return recordToTicket(record)
}

func (s *PBStore) TicketByInvoice(ctx context.Context, invoiceID string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		collectionTickets,
		"invoice_id = {:invoice}",
		dbx.Params{"invoice": invoiceID},
	)
	if err != nil {
		return nil, notFound(err, status.ErrTicketNotFound)
	}
	return recordToTicket(record)
}

func (s *PBStore) ActiveTicketsForShow(ctx context.Context, showID string) ([]*models.Ticket, error) {
	records, err := s.app.FindAllRecords(
		collectionTickets,
		dbx.HashExp{"show_id": showID},
		dbx.NewExp("json_extract(state, '$.active') = 1"),
	)
	if err != nil {
		return nil, err
	}
	tickets := make([]*models.Ticket, 0, len(records))
	for _, record := range records {
		ticket, err := recordToTicket(record)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

func (s *PBStore) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionTickets)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	if ticket.ID != "" {
		record.Id = ticket.ID
	}
	record.Set("show_id", ticket.ShowID)
	record.Set("customer_id", ticket.CustomerID)
	record.Set("customer_name", ticket.CustomerName)
	record.Set("creator_id", ticket.CreatorID)
	record.Set("agent_id", ticket.AgentID)
	record.Set("price_amount", ticket.Price.Amount)
	record.Set("price_currency", string(ticket.Price.Currency))
	record.Set("invoice_id", ticket.InvoiceID)
	record.Set("state", ticket.TicketState)
	if err := s.app.Save(record); err != nil {
		return err
	}
	ticket.ID = record.Id
	ticket.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (s *PBStore) UpdateTicketState(ctx context.Context, id string, state models.TicketState) error {
	record, err := s.app.FindRecordById(collectionTickets, id)
	if err != nil {
		return notFound(err, status.ErrTicketNotFound)
	}
	record.Set("state", state)
	return s.app.Save(record)
}

func (s *PBStore) SetTicketInvoice(ctx context.Context, id, invoiceID string) error {
	record, err := s.app.FindRecordById(collectionTickets, id)
	if err != nil {
		return notFound(err, status.ErrTicketNotFound)
	}
	record.Set("invoice_id", invoiceID)
	return s.app.Save(record)
}

func (s *PBStore) ShowByID(ctx context.Context, id string) (*models.Show, error) {
	record, err := s.app.FindRecordById(collectionShows, id)
	if err != nil {
		return nil, notFound(err, status.ErrShowNotFound)
	}
	return recordToShow(record)
}

func (s *PBStore) ActiveShows(ctx context.Context) ([]*models.Show, error) {
	records, err := s.app.FindAllRecords(
		collectionShows,
		dbx.NewExp("json_extract(state, '$.active') = 1"),
	)
	if err != nil {
		return nil, err
	}
	shows := make([]*models.Show, 0, len(records))
	for _, record := range records {
		show, err := recordToShow(record)
		if err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, nil
}

func (s *PBStore) CreateShow(ctx context.Context, show *models.Show) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionShows)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	if show.ID != "" {
		record.Id = show.ID
	}
	record.Set("creator_id", show.CreatorID)
	record.Set("agent_id", show.AgentID)
	record.Set("name", show.Name)
	record.Set("duration", show.Duration)
	record.Set("capacity", show.Capacity)
	record.Set("price_amount", show.Price.Amount)
	record.Set("price_currency", string(show.Price.Currency))
	record.Set("creator_info", show.CreatorInfo)
	record.Set("state", show.ShowState)
	if err := s.app.Save(record); err != nil {
		return err
	}
	show.ID = record.Id
	show.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (s *PBStore) UpdateShowState(ctx context.Context, id string, state models.ShowState) error {
	record, err := s.app.FindRecordById(collectionShows, id)
	if err != nil {
		return notFound(err, status.ErrShowNotFound)
	}
	record.Set("state", state)
	return s.app.Save(record)
}

func (s *PBStore) WalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	record, err := s.app.FindFirstRecordByFilter(
		collectionWallets,
		"user_id = {:user}",
		dbx.Params{"user": userID},
	)
	if err != nil {
		return nil, notFound(err, status.ErrWalletNotFound)
	}
	return recordToWallet(record)
}

func (s *PBStore) WalletByPayout(ctx context.Context, payoutID string) (*models.Wallet, error) {
	// The payouts column is a JSON array; a substring match on the payout
	// id is enough because processor ids are opaque and unique.
	record, err := s.app.FindFirstRecordByFilter(
		collectionWallets,
		"payouts ~ {:payout}",
		dbx.Params{"payout": payoutID},
	)
	if err != nil {
		return nil, notFound(err, status.ErrWalletNotFound)
	}
	return recordToWallet(record)
}

func (s *PBStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionWallets)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	if wallet.ID != "" {
		record.Id = wallet.ID
	}
	setWalletFields(record, wallet)
	if err := s.app.Save(record); err != nil {
		return err
	}
	wallet.ID = record.Id
	return nil
}

// UpdateWalletGuarded re-reads the wallet inside a transaction and refuses
// the write when the stored copy already carries an earning for
// guardShowID. The caller treats the refusal as an applied no-op.
func (s *PBStore) UpdateWalletGuarded(ctx context.Context, wallet *models.Wallet, guardShowID string) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		record, err := txApp.FindRecordById(collectionWallets, wallet.ID)
		if err != nil {
			return notFound(err, status.ErrWalletNotFound)
		}
		if guardShowID != "" {
			stored, err := recordToWallet(record)
			if err != nil {
				return err
			}
			if stored.HasEarningForShow(guardShowID) {
				return nil
			}
		}
		setWalletFields(record, wallet)
		return txApp.Save(record)
	})
}

func setWalletFields(record *core.Record, wallet *models.Wallet) {
	record.Set("user_id", wallet.UserID)
	record.Set("status", string(wallet.Status))
	record.Set("currency", string(wallet.Currency))
	record.Set("balance", wallet.Balance)
	record.Set("available_balance", wallet.AvailableBalance)
	record.Set("on_hold_balance", wallet.OnHoldBalance)
	record.Set("earnings", wallet.Earnings)
	record.Set("payouts", wallet.Payouts)
}

func (s *PBStore) CreatorByID(ctx context.Context, id string) (*models.Creator, error) {
	record, err := s.app.FindRecordById(collectionCreators, id)
	if err != nil {
		return nil, notFound(err, status.ErrCreatorNotFound)
	}
	creator := &models.Creator{
		ID:              record.Id,
		UserID:          record.GetString("user_id"),
		AgentID:         record.GetString("agent_id"),
		Name:            record.GetString("name"),
		ProfileImageURL: record.GetString("profile_image_url"),
		CommissionRate:  record.GetInt("commission_rate"),
		PayoutAddress:   record.GetString("payout_address"),
	}
	if err := record.UnmarshalJSONField("feedback_stats", &creator.FeedbackStats); err != nil {
		return nil, err
	}
	if err := record.UnmarshalJSONField("sales_stats", &creator.SalesStats); err != nil {
		return nil, err
	}
	return creator, nil
}

// UpdateCreatorStatsGuarded mirrors UpdateWalletGuarded: re-read inside a
// transaction and refuse the write when the stored stats already count
// guardShowID as settled.
func (s *PBStore) UpdateCreatorStatsGuarded(ctx context.Context, creator *models.Creator, guardShowID string) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		record, err := txApp.FindRecordById(collectionCreators, creator.ID)
		if err != nil {
			return notFound(err, status.ErrCreatorNotFound)
		}
		if guardShowID != "" {
			var stored models.CreatorSalesStats
			if err := record.UnmarshalJSONField("sales_stats", &stored); err != nil {
				return err
			}
			if stored.Settled(guardShowID) {
				return nil
			}
		}
		record.Set("feedback_stats", creator.FeedbackStats)
		record.Set("sales_stats", creator.SalesStats)
		return txApp.Save(record)
	})
}

func (s *PBStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionTransactions)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	if transaction.ID != "" {
		record.Id = transaction.ID
	}
	record.Set("ticket_id", transaction.TicketID)
	record.Set("creator_id", transaction.CreatorID)
	record.Set("agent_id", transaction.AgentID)
	record.Set("hash", transaction.Hash)
	record.Set("from", transaction.From)
	record.Set("to", transaction.To)
	record.Set("reason", string(transaction.Reason))
	record.Set("amount", transaction.Amount)
	record.Set("currency", string(transaction.Currency))
	record.Set("rate", transaction.Rate.String())
	record.Set("invoice_id", transaction.InvoiceID)
	record.Set("payout_id", transaction.PayoutID)
	if err := s.app.Save(record); err != nil {
		return err
	}
	transaction.ID = record.Id
	transaction.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (s *PBStore) TransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	record, err := s.app.FindRecordById(collectionTransactions, id)
	if err != nil {
		return nil, notFound(err, status.ErrTransactionNotFound)
	}
	return recordToTransaction(record)
}

func (s *PBStore) TransactionsByTicket(ctx context.Context, ticketID string) ([]*models.Transaction, error) {
	records, err := s.app.FindAllRecords(collectionTransactions, dbx.HashExp{"ticket_id": ticketID})
	if err != nil {
		return nil, err
	}
	transactions := make([]*models.Transaction, 0, len(records))
	for _, record := range records {
		transaction, err := recordToTransaction(record)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (s *PBStore) TransactionByPayout(ctx context.Context, payoutID string) (*models.Transaction, error) {
	record, err := s.app.FindFirstRecordByFilter(
		collectionTransactions,
		"payout_id = {:payout}",
		dbx.Params{"payout": payoutID},
	)
	if err != nil {
		return nil, notFound(err, status.ErrTransactionNotFound)
	}
	return recordToTransaction(record)
}

func (s *PBStore) AppendShowEvent(ctx context.Context, event *models.ShowEvent) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionShowEvents)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	record.Set("type", event.Type)
	record.Set("show_id", event.ShowID)
	record.Set("creator_id", event.CreatorID)
	record.Set("agent_id", event.AgentID)
	record.Set("ticket_id", event.TicketID)
	if err := s.app.Save(record); err != nil {
		return err
	}
	event.ID = record.Id
	return nil
}

// CountTicketStatuses groups a show's tickets by the status embedded in the
// state JSON, pushed down to SQLite instead of loading every ticket.
func (s *PBStore) CountTicketStatuses(ctx context.Context, showID string) (TicketStatusCounts, error) {
	rows := []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}{}
	err := s.app.DB().
		Select("json_extract(state, '$.status') AS status", "COUNT(*) AS total").
		From(collectionTickets).
		Where(dbx.HashExp{"show_id": showID}).
		GroupBy("status").
		All(&rows)
	if err != nil {
		return nil, err
	}
	counts := TicketStatusCounts{}
	for _, row := range rows {
		counts[models.TicketStatus(row.Status)] = row.Total
	}
	return counts, nil
}

// AggregateTicketTotals sums the per-currency sale and refund totals of a
// show's tickets in SQLite.
func (s *PBStore) AggregateTicketTotals(ctx context.Context, showID string) (MoneyAggregate, error) {
	aggregate := MoneyAggregate{
		TotalSales:   models.CurrencyTotals{},
		TotalRefunds: models.CurrencyTotals{},
	}
	columns := []string{}
	for _, currency := range models.Currencies {
		columns = append(columns,
			fmt.Sprintf("COALESCE(SUM(json_extract(state, '$.sale.totals.%s')), 0) AS sales_%s", currency, strings.ToLower(string(currency))),
			fmt.Sprintf("COALESCE(SUM(json_extract(state, '$.refund.totals.%s')), 0) AS refunds_%s", currency, strings.ToLower(string(currency))),
		)
	}
	row := dbx.NullStringMap{}
	err := s.app.DB().
		Select(columns...).
		From(collectionTickets).
		Where(dbx.HashExp{"show_id": showID}).
		One(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return aggregate, err
	}
	for _, currency := range models.Currencies {
		lower := strings.ToLower(string(currency))
		if sales := sumColumn(row, "sales_"+lower); sales != 0 {
			aggregate.TotalSales[currency] = sales
		}
		if refunds := sumColumn(row, "refunds_"+lower); refunds != 0 {
			aggregate.TotalRefunds[currency] = refunds
		}
	}
	return aggregate, nil
}

func sumColumn(row dbx.NullStringMap, column string) int64 {
	value, ok := row[column]
	if !ok || !value.Valid {
		return 0
	}
	parsed, err := strconv.ParseInt(value.String, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func (s *PBStore) AggregateFeedback(ctx context.Context, showID string) (FeedbackAggregate, error) {
	var aggregate FeedbackAggregate
	err := s.app.DB().
		Select(
			"COUNT(*) AS reviews",
			"COALESCE(AVG(json_extract(state, '$.feedback.rating')), 0) AS average",
		).
		From(collectionTickets).
		Where(dbx.HashExp{"show_id": showID}).
		AndWhere(dbx.NewExp("json_extract(state, '$.feedback.rating') IS NOT NULL")).
		Row(&aggregate.NumberOfReviews, &aggregate.AverageRating)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return aggregate, err
	}
	return aggregate, nil
}

func recordToTicket(record *core.Record) (*models.Ticket, error) {
	ticket := &models.Ticket{
		ID:           record.Id,
		ShowID:       record.GetString("show_id"),
		CustomerID:   record.GetString("customer_id"),
		CustomerName: record.GetString("customer_name"),
		CreatorID:    record.GetString("creator_id"),
		AgentID:      record.GetString("agent_id"),
		Price: models.Money{
			Amount:   int64(record.GetInt("price_amount")),
			Currency: models.CurrencyType(record.GetString("price_currency")),
		},
		InvoiceID: record.GetString("invoice_id"),
		CreatedAt: record.GetDateTime("created").Time(),
	}
	if err := record.UnmarshalJSONField("state", &ticket.TicketState); err != nil {
		return nil, err
	}
	return ticket, nil
}

func recordToShow(record *core.Record) (*models.Show, error) {
	show := &models.Show{
		ID:        record.Id,
		CreatorID: record.GetString("creator_id"),
		AgentID:   record.GetString("agent_id"),
		Name:      record.GetString("name"),
		Duration:  record.GetInt("duration"),
		Capacity:  record.GetInt("capacity"),
		Price: models.Money{
			Amount:   int64(record.GetInt("price_amount")),
			Currency: models.CurrencyType(record.GetString("price_currency")),
		},
		CreatedAt: record.GetDateTime("created").Time(),
	}
	if err := record.UnmarshalJSONField("creator_info", &show.CreatorInfo); err != nil {
		return nil, err
	}
	if err := record.UnmarshalJSONField("state", &show.ShowState); err != nil {
		return nil, err
	}
	return show, nil
}

func recordToWallet(record *core.Record) (*models.Wallet, error) {
	wallet := &models.Wallet{
		ID:               record.Id,
		UserID:           record.GetString("user_id"),
		Status:           models.WalletStatus(record.GetString("status")),
		Currency:         models.CurrencyType(record.GetString("currency")),
		Balance:          int64(record.GetInt("balance")),
		AvailableBalance: int64(record.GetInt("available_balance")),
		OnHoldBalance:    int64(record.GetInt("on_hold_balance")),
	}
	if err := record.UnmarshalJSONField("earnings", &wallet.Earnings); err != nil {
		return nil, err
	}
	if err := record.UnmarshalJSONField("payouts", &wallet.Payouts); err != nil {
		return nil, err
	}
	return wallet, nil
}

func decimalFromRecord(record *core.Record, field string) (decimal.Decimal, error) {
	raw := record.GetString(field)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func recordToTransaction(record *core.Record) (*models.Transaction, error) {
	rate, err := decimalFromRecord(record, "rate")
	if err != nil {
		return nil, err
	}
	return &models.Transaction{
		ID:        record.Id,
		TicketID:  record.GetString("ticket_id"),
		CreatorID: record.GetString("creator_id"),
		AgentID:   record.GetString("agent_id"),
		Hash:      record.GetString("hash"),
		From:      record.GetString("from"),
		To:        record.GetString("to"),
		Reason:    models.TransactionReason(record.GetString("reason")),
		Amount:    int64(record.GetInt("amount")),
		Currency:  models.CurrencyType(record.GetString("currency")),
		Rate:      rate,
		InvoiceID: record.GetString("invoice_id"),
		PayoutID:  record.GetString("payout_id"),
		CreatedAt: record.GetDateTime("created").Time(),
	}, nil
}
