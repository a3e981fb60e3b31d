package services

import (
	"context"
	"fmt"

	"showtix/config"
	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/store"
)

// TicketWorker consumes the ticket queue and replays each job onto the
// ticket machine. Delivery is at least once, so every branch goes through
// ApplyIfAble and treats an impossible transition as already done.
type TicketWorker struct {
	store   store.Store
	tickets *TicketService
	queue   queue.Enqueuer
	config  *config.Config
}

func NewTicketWorker(st store.Store, tickets *TicketService, q queue.Enqueuer, cfg *config.Config) *TicketWorker {
	return &TicketWorker{store: st, tickets: tickets, queue: q, config: cfg}
}

func (w *TicketWorker) Handle(ctx context.Context, job *queue.Job) error {
	ticketID := payloadString(job.Payload, "ticket_id")
	if ticketID == "" {
		return fmt.Errorf("%w: ticket job %s has no ticket_id", queue.ErrUnrecoverable, job.ID)
	}
	event, err := w.buildEvent(ctx, job)
	if err != nil {
		return err
	}
	if err := w.tickets.ApplyIfAble(ctx, ticketID, event); err != nil {
		return err
	}
	if event.Type == machines.ShowCancelled {
		return w.raiseRefundForCancellation(ctx, ticketID)
	}
	return nil
}

func (w *TicketWorker) buildEvent(ctx context.Context, job *queue.Job) (machines.TicketEvent, error) {
	event := machines.TicketEvent{Type: job.Type}
	switch job.Type {
	case machines.ShowEnded, machines.PaymentInitiated, machines.RefundInitiated:
		// Nothing beyond the type.
	case machines.ShowCancelled, machines.CancellationRequested:
		cancel, err := payloadField[models.Cancel](job.Payload, "cancel")
		if err != nil {
			return event, fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
		}
		event.Cancel = cancel
	case machines.TicketFinalized:
		finalize, err := payloadField[models.Finalize](job.Payload, "finalize")
		if err != nil {
			return event, fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
		}
		event.Finalize = finalize
	case machines.InvoiceReceived:
		event.PaymentAddress = payloadString(job.Payload, "payment_address")
	case machines.PaymentReceived, machines.RefundReceived:
		transactionID := payloadString(job.Payload, "transaction_id")
		if transactionID == "" {
			return event, fmt.Errorf("%w: %s job %s has no transaction_id",
				queue.ErrUnrecoverable, job.Type, job.ID)
		}
		transaction, err := w.store.TransactionByID(ctx, transactionID)
		if err != nil {
			return event, err
		}
		event.Transaction = transaction
	default:
		return event, fmt.Errorf("%w: unknown ticket job type %q", queue.ErrUnrecoverable, job.Type)
	}
	return event, nil
}

// raiseRefundForCancellation runs after a show-cancellation job whether or
// not the transition applied this time. A paid ticket parks in refund
// requested, so replays converge on the same two idempotent jobs: the show
// moves to its refund leg and the payout worker creates the refund.
func (w *TicketWorker) raiseRefundForCancellation(ctx context.Context, ticketID string) error {
	ticket, err := w.store.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.TicketState.Status != models.TicketRefundRequested {
		return nil
	}
	err = w.queue.Enqueue(ctx, &queue.Job{
		Queue:       machines.QueueShow,
		Type:        machines.ShowRefundInitiated,
		Payload:     map[string]any{"show_id": ticket.ShowID},
		MaxAttempts: w.config.MaxJobAttempts,
	}, 0)
	if err != nil {
		return err
	}
	return w.queue.Enqueue(ctx, &queue.Job{
		Queue:       machines.QueuePayout,
		Type:        machines.JobCreateRefund,
		Payload:     map[string]any{"ticket_id": ticket.ID},
		MaxAttempts: w.config.MaxJobAttempts,
	}, 0)
}
