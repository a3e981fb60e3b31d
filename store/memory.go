package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"showtix/internal/status"
	"showtix/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu           sync.Mutex
	tickets      map[string]*models.Ticket
	shows        map[string]*models.Show
	wallets      map[string]*models.Wallet
	creators     map[string]*models.Creator
	transactions map[string]*models.Transaction
	showEvents   []*models.ShowEvent
	nextID       int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:      map[string]*models.Ticket{},
		shows:        map[string]*models.Show{},
		wallets:      map[string]*models.Wallet{},
		creators:     map[string]*models.Creator{},
		transactions: map[string]*models.Transaction{},
	}
}

func (s *MemoryStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func deepCopy[T any](value *T) *T {
	data, _ := json.Marshal(value)
	clone := new(T)
	_ = json.Unmarshal(data, clone)
	return clone
}

func (s *MemoryStore) TicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	return deepCopy(ticket), nil
}

func (s *MemoryStore) TicketByInvoice(ctx context.Context, invoiceID string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range s.tickets {
		if ticket.InvoiceID == invoiceID {
			return deepCopy(ticket), nil
		}
	}
	return nil, status.ErrTicketNotFound
}

func (s *MemoryStore) ActiveTicketsForShow(ctx context.Context, showID string) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []*models.Ticket
	for _, ticket := range s.tickets {
		if ticket.ShowID == showID && ticket.TicketState.Active {
			tickets = append(tickets, deepCopy(ticket))
		}
	}
	return tickets, nil
}

func (s *MemoryStore) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = s.id("ticket")
	}
	s.tickets[ticket.ID] = deepCopy(ticket)
	return nil
}

func (s *MemoryStore) UpdateTicketState(ctx context.Context, id string, state models.TicketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return status.ErrTicketNotFound
	}
	ticket.TicketState = *deepCopy(&state)
	return nil
}

func (s *MemoryStore) SetTicketInvoice(ctx context.Context, id, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return status.ErrTicketNotFound
	}
	ticket.InvoiceID = invoiceID
	return nil
}

func (s *MemoryStore) ShowByID(ctx context.Context, id string) (*models.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[id]
	if !ok {
		return nil, status.ErrShowNotFound
	}
	return deepCopy(show), nil
}

func (s *MemoryStore) ActiveShows(ctx context.Context) ([]*models.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var shows []*models.Show
	for _, show := range s.shows {
		if show.ShowState.Active {
			shows = append(shows, deepCopy(show))
		}
	}
	return shows, nil
}

func (s *MemoryStore) CreateShow(ctx context.Context, show *models.Show) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if show.ID == "" {
		show.ID = s.id("show")
	}
	s.shows[show.ID] = deepCopy(show)
	return nil
}

func (s *MemoryStore) UpdateShowState(ctx context.Context, id string, state models.ShowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[id]
	if !ok {
		return status.ErrShowNotFound
	}
	show.ShowState = *deepCopy(&state)
	return nil
}

func (s *MemoryStore) WalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wallet := range s.wallets {
		if wallet.UserID == userID {
			return deepCopy(wallet), nil
		}
	}
	return nil, status.ErrWalletNotFound
}

func (s *MemoryStore) WalletByPayout(ctx context.Context, payoutID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wallet := range s.wallets {
		for _, payout := range wallet.Payouts {
			if payout.PayoutID == payoutID {
				return deepCopy(wallet), nil
			}
		}
	}
	return nil, status.ErrWalletNotFound
}

func (s *MemoryStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wallet.ID == "" {
		wallet.ID = s.id("wallet")
	}
	s.wallets[wallet.ID] = deepCopy(wallet)
	return nil
}

func (s *MemoryStore) UpdateWalletGuarded(ctx context.Context, wallet *models.Wallet, guardShowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.wallets[wallet.ID]
	if !ok {
		return status.ErrWalletNotFound
	}
	if guardShowID != "" && stored.HasEarningForShow(guardShowID) {
		return nil
	}
	s.wallets[wallet.ID] = deepCopy(wallet)
	return nil
}

func (s *MemoryStore) CreatorByID(ctx context.Context, id string) (*models.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creator, ok := s.creators[id]
	if !ok {
		return nil, status.ErrCreatorNotFound
	}
	return deepCopy(creator), nil
}

// CreateCreator seeds a creator, for tests.
func (s *MemoryStore) CreateCreator(ctx context.Context, creator *models.Creator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creator.ID == "" {
		creator.ID = s.id("creator")
	}
	s.creators[creator.ID] = deepCopy(creator)
	return nil
}

func (s *MemoryStore) UpdateCreatorStatsGuarded(ctx context.Context, creator *models.Creator, guardShowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.creators[creator.ID]
	if !ok {
		return status.ErrCreatorNotFound
	}
	if guardShowID != "" && stored.SalesStats.Settled(guardShowID) {
		return nil
	}
	stored.FeedbackStats = *deepCopy(&creator.FeedbackStats)
	stored.SalesStats = *deepCopy(&creator.SalesStats)
	return nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if transaction.ID == "" {
		transaction.ID = s.id("tx")
	}
	s.transactions[transaction.ID] = deepCopy(transaction)
	return nil
}

func (s *MemoryStore) TransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transaction, ok := s.transactions[id]
	if !ok {
		return nil, status.ErrTransactionNotFound
	}
	return deepCopy(transaction), nil
}

func (s *MemoryStore) TransactionsByTicket(ctx context.Context, ticketID string) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var transactions []*models.Transaction
	for _, transaction := range s.transactions {
		if transaction.TicketID == ticketID {
			transactions = append(transactions, deepCopy(transaction))
		}
	}
	return transactions, nil
}

func (s *MemoryStore) TransactionByPayout(ctx context.Context, payoutID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, transaction := range s.transactions {
		if transaction.PayoutID == payoutID {
			return deepCopy(transaction), nil
		}
	}
	return nil, status.ErrTransactionNotFound
}

func (s *MemoryStore) AppendShowEvent(ctx context.Context, event *models.ShowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = s.id("evt")
	}
	s.showEvents = append(s.showEvents, deepCopy(event))
	return nil
}

// ShowEvents returns the recorded audit trail, for assertions in tests.
func (s *MemoryStore) ShowEvents() []*models.ShowEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]*models.ShowEvent, len(s.showEvents))
	copy(events, s.showEvents)
	return events
}

func (s *MemoryStore) CountTicketStatuses(ctx context.Context, showID string) (TicketStatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := TicketStatusCounts{}
	for _, ticket := range s.tickets {
		if ticket.ShowID == showID {
			counts[ticket.TicketState.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) AggregateFeedback(ctx context.Context, showID string) (FeedbackAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var aggregate FeedbackAggregate
	var ratingSum int
	for _, ticket := range s.tickets {
		if ticket.ShowID == showID && ticket.TicketState.Feedback != nil {
			aggregate.NumberOfReviews++
			ratingSum += ticket.TicketState.Feedback.Rating
		}
	}
	if aggregate.NumberOfReviews > 0 {
		aggregate.AverageRating = float64(ratingSum) / float64(aggregate.NumberOfReviews)
	}
	return aggregate, nil
}

func (s *MemoryStore) AggregateTicketTotals(ctx context.Context, showID string) (MoneyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aggregate := MoneyAggregate{
		TotalSales:   models.CurrencyTotals{},
		TotalRefunds: models.CurrencyTotals{},
	}
	for _, ticket := range s.tickets {
		if ticket.ShowID != showID {
			continue
		}
		if sale := ticket.TicketState.Sale; sale != nil {
			for currency, amount := range sale.Totals {
				aggregate.TotalSales.Add(currency, amount)
			}
		}
		if refund := ticket.TicketState.Refund; refund != nil {
			for currency, amount := range refund.Totals {
				aggregate.TotalRefunds.Add(currency, amount)
			}
		}
	}
	return aggregate, nil
}
