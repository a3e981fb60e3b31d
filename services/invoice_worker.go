package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"showtix/config"
	"showtix/internal/payment"
	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/store"
	"showtix/utils"
)

// InvoiceWorker consumes the invoice queue: it opens processor invoices
// for reserved tickets and folds invoice status changes back into ticket
// events. Status changes arrive both from the processor webhook and from
// a delayed self-check scheduled at invoice creation.
type InvoiceWorker struct {
	store     store.Store
	queue     queue.Enqueuer
	processor payment.Processor
	config    *config.Config
}

func NewInvoiceWorker(st store.Store, q queue.Enqueuer, processor payment.Processor, cfg *config.Config) *InvoiceWorker {
	return &InvoiceWorker{store: st, queue: q, processor: processor, config: cfg}
}

func (w *InvoiceWorker) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case machines.JobCreateInvoice:
		return w.createInvoice(ctx, job)
	case JobInvoiceUpdate:
		return w.invoiceUpdate(ctx, job)
	}
	return fmt.Errorf("%w: unknown invoice job type %q", queue.ErrUnrecoverable, job.Type)
}

func (w *InvoiceWorker) createInvoice(ctx context.Context, job *queue.Job) error {
	ticketID := payloadString(job.Payload, "ticket_id")
	if ticketID == "" {
		return fmt.Errorf("%w: invoice job %s has no ticket_id", queue.ErrUnrecoverable, job.ID)
	}
	ticket, err := w.store.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.TicketState.Status != models.TicketWaitingInvoice {
		slog.Info("invoice job skipped", "ticket_id", ticketID, "status", ticket.TicketState.Status)
		return nil
	}

	var invoice *payment.Invoice
	if ticket.InvoiceID != "" {
		// Replay after a crash between invoice creation and the ticket
		// event; pick the existing invoice back up.
		invoice, err = w.processor.GetInvoice(ctx, ticket.InvoiceID)
		if err != nil {
			return err
		}
	} else {
		notificationURL, err := w.notificationURL(ticket.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
		}
		invoice, err = w.processor.CreateInvoice(ctx, payment.CreateInvoiceParams{
			Amount:          ticket.Price.Amount,
			Currency:        ticket.Price.Currency,
			OrderID:         ticket.ID,
			NotificationURL: notificationURL,
		})
		if err != nil {
			return err
		}
		if err := w.store.SetTicketInvoice(ctx, ticket.ID, invoice.ID); err != nil {
			return err
		}
		// Self-check at the payment deadline in case the webhook never
		// lands; an unpaid invoice cancels the ticket from there.
		err = w.enqueue(ctx, JobInvoiceUpdate, map[string]any{
			"invoice_id": invoice.ID,
		}, w.config.PaymentPeriod)
		if err != nil {
			return err
		}
	}

	return w.enqueueTicket(ctx, machines.InvoiceReceived, map[string]any{
		"ticket_id":       ticket.ID,
		"payment_address": invoice.PaymentAddress,
	})
}

// notificationURL builds the processor callback for one ticket; the path
// carries a sealed token the webhook handler unseals to authenticate the
// call.
func (w *InvoiceWorker) notificationURL(ticketID string) (string, error) {
	token, err := utils.EncryptToken(ticketID, w.config.AuthSalt)
	if err != nil {
		return "", err
	}
	return w.config.WebhookBaseURL + "/webhooks/invoices/" + token, nil
}

func (w *InvoiceWorker) invoiceUpdate(ctx context.Context, job *queue.Job) error {
	invoiceID := payloadString(job.Payload, "invoice_id")
	if invoiceID == "" {
		return fmt.Errorf("%w: invoice update %s has no invoice_id", queue.ErrUnrecoverable, job.ID)
	}
	ticket, err := w.store.TicketByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	invoiceStatus := payloadString(job.Payload, "status")
	if invoiceStatus == "" {
		// Scheduled self-check; ask the processor directly.
		invoice, err := w.processor.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		invoiceStatus = invoice.Status
	}

	switch invoiceStatus {
	case payment.InvoicePaid, payment.InvoiceComplete:
		return w.recordPayments(ctx, ticket, invoiceID)
	case payment.InvoiceExpired, payment.InvoiceInvalid:
		return w.enqueueTicket(ctx, machines.CancellationRequested, map[string]any{
			"ticket_id": ticket.ID,
			"cancel": models.Cancel{
				CancelledAt: time.Now(),
				RequestedBy: models.ActorTimer,
				Reason:      models.CancelPaymentTimeout,
			},
		})
	}
	return nil
}

// recordPayments diffs the processor's payment list against the sale
// already on the ticket and raises one payment event per new entry.
// Replayed updates see no excess and do nothing.
func (w *InvoiceWorker) recordPayments(ctx context.Context, ticket *models.Ticket, invoiceID string) error {
	details, err := w.processor.InvoicePayments(ctx, invoiceID)
	if err != nil {
		return err
	}
	byCurrency := map[models.CurrencyType][]payment.PaymentDetail{}
	for _, detail := range details {
		byCurrency[detail.Currency] = append(byCurrency[detail.Currency], detail)
	}
	for currency, incoming := range byCurrency {
		recorded := 0
		if sale := ticket.TicketState.Sale; sale != nil {
			recorded = len(sale.Payments[currency])
		}
		for _, detail := range incoming[recorded:] {
			transaction := &models.Transaction{
				TicketID:  ticket.ID,
				CreatorID: ticket.CreatorID,
				AgentID:   ticket.AgentID,
				From:      detail.Address,
				Reason:    models.TransactionTicketPayment,
				Amount:    detail.Amount.Shift(currency.Exponent()).IntPart(),
				Currency:  currency,
				Rate:      detail.Rate,
				InvoiceID: invoiceID,
				CreatedAt: time.Now(),
			}
			if err := w.store.CreateTransaction(ctx, transaction); err != nil {
				return err
			}
			err := w.enqueueTicket(ctx, machines.PaymentReceived, map[string]any{
				"ticket_id":      ticket.ID,
				"transaction_id": transaction.ID,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *InvoiceWorker) enqueue(ctx context.Context, jobType string, payload map[string]any, delay time.Duration) error {
	return w.queue.Enqueue(ctx, &queue.Job{
		Queue:       machines.QueueInvoice,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: w.config.MaxJobAttempts,
	}, delay)
}

func (w *InvoiceWorker) enqueueTicket(ctx context.Context, jobType string, payload map[string]any) error {
	return w.queue.Enqueue(ctx, &queue.Job{
		Queue:       machines.QueueTicket,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: w.config.MaxJobAttempts,
	}, 0)
}
