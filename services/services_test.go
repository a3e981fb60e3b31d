package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"showtix/config"
	"showtix/internal/payment"
	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/store"
)

// fakeQueue collects enqueued jobs in memory so flows can be pumped
// synchronously through the workers.
type fakeQueue struct {
	mu     sync.Mutex
	nextID int
	jobs   []*queue.Job
	delays map[string]time.Duration
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{delays: map[string]time.Duration{}}
}

func (f *fakeQueue) Enqueue(ctx context.Context, job *queue.Job, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		f.nextID++
		job.ID = fmt.Sprintf("job-%d", f.nextID)
	}
	f.jobs = append(f.jobs, job)
	f.delays[job.ID] = delay
	return nil
}

func (f *fakeQueue) pop() *queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job
}

func (f *fakeQueue) pending(jobType string) []*queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*queue.Job
	for _, job := range f.jobs {
		if job.Type == jobType {
			matched = append(matched, job)
		}
	}
	return matched
}

// fakeProcessor is an in-memory payment backend with just enough behavior
// for the worker flows: invoices, payments and payout state changes are
// driven explicitly by the test.
type fakeProcessor struct {
	mu            sync.Mutex
	nextID        int
	invoices      map[string]*payment.Invoice
	invoiceParams map[string]payment.CreateInvoiceParams
	payments      map[string][]payment.PaymentDetail
	payouts       map[string]*payment.Payout
	approved      []string
	sent          []string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		invoices:      map[string]*payment.Invoice{},
		invoiceParams: map[string]payment.CreateInvoiceParams{},
		payments:      map[string][]payment.PaymentDetail{},
		payouts:       map[string]*payment.Payout{},
	}
}

func (p *fakeProcessor) id(prefix string) string {
	p.nextID++
	return fmt.Sprintf("%s-%d", prefix, p.nextID)
}

func (p *fakeProcessor) CreateInvoice(ctx context.Context, params payment.CreateInvoiceParams) (*payment.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	invoice := &payment.Invoice{
		ID:        p.id("inv"),
		Status:    payment.InvoicePending,
		Amount:    decimal.New(params.Amount, -2),
		Currency:  params.Currency,
		Rate:      decimal.NewFromInt(1),
		CreatedAt: time.Now(),
	}
	invoice.PaymentAddress = "addr-" + invoice.ID
	p.invoices[invoice.ID] = invoice
	p.invoiceParams[invoice.ID] = params
	return invoice, nil
}

func (p *fakeProcessor) GetInvoice(ctx context.Context, invoiceID string) (*payment.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	invoice, ok := p.invoices[invoiceID]
	if !ok {
		return nil, payment.ErrInvoiceNotFound
	}
	clone := *invoice
	return &clone, nil
}

func (p *fakeProcessor) InvoicePayments(ctx context.Context, invoiceID string) ([]payment.PaymentDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.PaymentDetail(nil), p.payments[invoiceID]...), nil
}

// markPaid settles the invoice with the given payments, as if the funds
// confirmed on chain.
func (p *fakeProcessor) markPaid(invoiceID string, details ...payment.PaymentDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if invoice, ok := p.invoices[invoiceID]; ok {
		invoice.Status = payment.InvoicePaid
	}
	p.payments[invoiceID] = append(p.payments[invoiceID], details...)
}

func (p *fakeProcessor) markStatus(invoiceID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if invoice, ok := p.invoices[invoiceID]; ok {
		invoice.Status = status
	}
}

func (p *fakeProcessor) RefundInvoice(ctx context.Context, params payment.RefundParams) (*payment.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.invoices[params.InvoiceID]; !ok {
		return nil, payment.ErrInvoiceNotFound
	}
	payout := &payment.Payout{
		ID:          p.id("payout"),
		Status:      payment.PayoutPending,
		Amount:      decimal.New(params.Amount, -2),
		Currency:    params.Currency,
		Destination: params.Destination,
	}
	p.payouts[payout.ID] = payout
	return payout, nil
}

func (p *fakeProcessor) CreatePayout(ctx context.Context, params payment.CreatePayoutParams) (*payment.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payout := &payment.Payout{
		ID:          p.id("payout"),
		Status:      payment.PayoutPending,
		Amount:      decimal.New(params.Amount, -2),
		Currency:    params.Currency,
		Destination: params.Destination,
	}
	p.payouts[payout.ID] = payout
	return payout, nil
}

func (p *fakeProcessor) GetPayout(ctx context.Context, payoutID string) (*payment.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payout, ok := p.payouts[payoutID]
	if !ok {
		return nil, payment.ErrPayoutNotFound
	}
	clone := *payout
	return &clone, nil
}

func (p *fakeProcessor) ModifyPayout(ctx context.Context, payoutID string, maxFee decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payout, ok := p.payouts[payoutID]; ok {
		payout.MaxFee = maxFee
	}
	return nil
}

func (p *fakeProcessor) ApprovePayout(ctx context.Context, payoutID string) (*payment.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payout, ok := p.payouts[payoutID]
	if !ok {
		return nil, payment.ErrPayoutNotFound
	}
	payout.Status = payment.PayoutApproved
	p.approved = append(p.approved, payoutID)
	clone := *payout
	return &clone, nil
}

func (p *fakeProcessor) SendPayout(ctx context.Context, payoutID string) (*payment.Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payout, ok := p.payouts[payoutID]
	if !ok {
		return nil, payment.ErrPayoutNotFound
	}
	payout.Status = payment.PayoutSent
	p.sent = append(p.sent, payoutID)
	clone := *payout
	return &clone, nil
}

func (p *fakeProcessor) CancelPayout(ctx context.Context, payoutID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payout, ok := p.payouts[payoutID]; ok {
		payout.Status = payment.PayoutCancelled
	}
	return nil
}

func (p *fakeProcessor) payoutIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.payouts))
	for id := range p.payouts {
		ids = append(ids, id)
	}
	return ids
}

// testEnv wires the full service layer against the in-memory store, the
// collecting queue and the fake processor.
type testEnv struct {
	store     *store.MemoryStore
	queue     *fakeQueue
	processor *fakeProcessor
	config    *config.Config

	tickets *TicketService
	shows   *ShowService
	wallets *WalletService
	resumer *Resumer

	showWorker    *ShowWorker
	ticketWorker  *TicketWorker
	payoutWorker  *PayoutWorker
	invoiceWorker *InvoiceWorker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     store.NewMemoryStore(),
		queue:     newFakeQueue(),
		processor: newFakeProcessor(),
		config: &config.Config{
			GracePeriod:    10 * time.Minute,
			EscrowPeriod:   6 * time.Minute,
			PaymentPeriod:  time.Hour,
			MaxJobAttempts: 5,
			AuthSalt:       "test-salt",
			WebhookBaseURL: "http://localhost:8092",
			PaymentStoreID: "store-1",
		},
	}
	notifier := NewNotifier(nil)
	env.tickets = NewTicketService(env.store, env.queue, notifier, env.config)
	env.shows = NewShowService(env.store, env.queue, env.config)
	env.wallets = NewWalletService(env.store, env.queue, env.config)
	env.showWorker = NewShowWorker(env.store, env.queue, notifier, env.config)
	env.ticketWorker = NewTicketWorker(env.store, env.tickets, env.queue, env.config)
	env.payoutWorker = NewPayoutWorker(env.store, env.queue, env.processor, env.config)
	env.invoiceWorker = NewInvoiceWorker(env.store, env.queue, env.processor, env.config)
	env.resumer = NewResumer(env.store, env.queue, env.showWorker, env.config)
	return env
}

// route hands one job to the worker owning its queue.
func (env *testEnv) route(ctx context.Context, t *testing.T, job *queue.Job) error {
	t.Helper()
	switch job.Queue {
	case machines.QueueShow:
		return env.showWorker.Handle(ctx, job)
	case machines.QueueTicket:
		return env.ticketWorker.Handle(ctx, job)
	case machines.QueuePayout:
		return env.payoutWorker.Handle(ctx, job)
	case machines.QueueInvoice:
		return env.invoiceWorker.Handle(ctx, job)
	default:
		t.Fatalf("job %s on unknown queue %s", job.ID, job.Queue)
		return nil
	}
}

// pump drains the queue synchronously, routing each job to its worker.
// Delays are ignored; a delayed job runs as if its timer already fired.
func (env *testEnv) pump(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		job := env.queue.pop()
		if job == nil {
			return
		}
		err := env.route(ctx, t, job)
		require.NoError(t, err, "job %s (%s) on %s", job.ID, job.Type, job.Queue)
	}
	t.Fatal("queue did not drain")
}

func (env *testEnv) seedCreator(t *testing.T, id, agentID string, commissionRate int) *models.Creator {
	t.Helper()
	creator := &models.Creator{
		ID:             id,
		AgentID:        agentID,
		Name:           "Creator " + id,
		CommissionRate: commissionRate,
		PayoutAddress:  "dest-" + id,
		SalesStats:     models.NewCreatorSalesStats(),
	}
	require.NoError(t, env.store.CreateCreator(context.Background(), creator))
	wallet := models.NewWallet(id, models.CurrencyUSD)
	require.NoError(t, env.store.CreateWallet(context.Background(), wallet))
	if agentID != "" {
		agentWallet := models.NewWallet(agentID, models.CurrencyUSD)
		require.NoError(t, env.store.CreateWallet(context.Background(), agentWallet))
	}
	return creator
}

func (env *testEnv) createShow(t *testing.T, creatorID, agentID string, capacity int, price int64) *models.Show {
	t.Helper()
	show, err := env.shows.Create(context.Background(), CreateShowParams{
		CreatorID: creatorID,
		AgentID:   agentID,
		Name:      "Evening Show",
		Duration:  60,
		Capacity:  capacity,
		Price:     models.Money{Amount: price, Currency: models.CurrencyUSD},
	})
	require.NoError(t, err)
	return show
}

// payTicket walks one ticket through invoice creation and full payment.
func (env *testEnv) payTicket(t *testing.T, ticketID string) {
	t.Helper()
	ctx := context.Background()
	env.pump(t)

	ticket, err := env.store.TicketByID(ctx, ticketID)
	require.NoError(t, err)
	require.NotEmpty(t, ticket.InvoiceID)

	env.processor.markPaid(ticket.InvoiceID, payment.PaymentDetail{
		Amount:   decimal.New(ticket.Price.Amount, -2),
		Currency: ticket.Price.Currency,
		Rate:     decimal.NewFromInt(1),
		Address:  "payer-" + ticketID,
	})
	require.NoError(t, env.queue.Enqueue(ctx, &queue.Job{
		Queue:   machines.QueueInvoice,
		Type:    JobInvoiceUpdate,
		Payload: map[string]any{"invoice_id": ticket.InvoiceID, "status": payment.InvoicePaid},
	}, 0))
	env.pump(t)
}
