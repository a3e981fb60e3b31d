package services

import (
	"context"
	"log/slog"
	"time"

	"showtix/config"
	"showtix/internal/status"
	"showtix/machines"
	"showtix/models"
	"showtix/monitoring"
	"showtix/queue"
	"showtix/store"
)

// TicketService is the command side of the ticket lifecycle. Every
// operation loads the ticket, runs its machine, persists the new state and
// dispatches the machine's side effects onto the queues.
type TicketService struct {
	store    store.Store
	queue    queue.Enqueuer
	notifier *Notifier
	config   *config.Config
}

func NewTicketService(st store.Store, q queue.Enqueuer, notifier *Notifier, cfg *config.Config) *TicketService {
	return &TicketService{
		store:    st,
		queue:    q,
		notifier: notifier,
		config:   cfg,
	}
}

type ReserveTicketParams struct {
	ShowID       string
	CustomerID   string
	CustomerName string
}

// Reserve creates a ticket against the show and runs the reservation
// transition. The show machine is probed first so a sold out or closed box
// office rejects before anything is written.
func (s *TicketService) Reserve(ctx context.Context, params ReserveTicketParams) (*models.Ticket, error) {
	show, err := s.store.ShowByID(ctx, params.ShowID)
	if err != nil {
		return nil, err
	}

	showMachine := machines.NewShowMachine(show, s.showOptions())
	if !showMachine.Can(machines.ShowEvent{Type: machines.NotifyTicketReserved}) {
		if show.ShowState.SalesStats.TicketsAvailable <= 0 {
			return nil, status.ErrSoldOut
		}
		return nil, status.ErrInvalidTransition
	}

	ticket := &models.Ticket{
		ShowID:       show.ID,
		CustomerID:   params.CustomerID,
		CustomerName: params.CustomerName,
		CreatorID:    show.CreatorID,
		AgentID:      show.AgentID,
		Price:        show.Price,
		TicketState:  models.NewTicketState(),
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, ticket, machines.TicketEvent{Type: machines.TicketReserved}); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Apply runs one event against the ticket and returns the updated ticket.
// An event the current state refuses comes back as ErrInvalidTransition.
func (s *TicketService) Apply(ctx context.Context, ticketID string, event machines.TicketEvent) (*models.Ticket, error) {
	ticket, err := s.store.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, ticket, event); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ApplyIfAble is the at-least-once job path: an event the state refuses is
// logged and dropped instead of failing the job, so redelivered or stale
// jobs drain without retry storms.
func (s *TicketService) ApplyIfAble(ctx context.Context, ticketID string, event machines.TicketEvent) error {
	ticket, err := s.store.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	machine := machines.NewTicketMachine(ticket)
	if !machine.Can(event) {
		slog.Info("ticket event skipped", "ticket_id", ticketID,
			"event", event.Type, "status", ticket.TicketState.Status)
		monitoring.TrackTransition("ticket", event.Type, "skipped")
		return nil
	}
	return s.run(ctx, ticket, machine, event)
}

func (s *TicketService) apply(ctx context.Context, ticket *models.Ticket, event machines.TicketEvent) error {
	machine := machines.NewTicketMachine(ticket)
	if !machine.Can(event) {
		monitoring.TrackTransition("ticket", event.Type, "rejected")
		return status.ErrInvalidTransition
	}
	return s.run(ctx, ticket, machine, event)
}

func (s *TicketService) run(ctx context.Context, ticket *models.Ticket, machine *machines.TicketMachine, event machines.TicketEvent) error {
	if err := machine.Send(event); err != nil {
		monitoring.TrackTransition("ticket", event.Type, "rejected")
		return err
	}
	ticket.TicketState = machine.State()
	if err := s.store.UpdateTicketState(ctx, ticket.ID, ticket.TicketState); err != nil {
		return err
	}
	if err := dispatchCommands(ctx, s.queue, s.config.MaxJobAttempts, machine.Commands()); err != nil {
		return err
	}
	monitoring.TrackTransition("ticket", event.Type, "applied")
	s.notifier.TicketUpdated(ticket)
	return nil
}

func (s *TicketService) showOptions() machines.ShowMachineOptions {
	return machines.ShowMachineOptions{
		GracePeriod:  s.config.GracePeriod,
		EscrowPeriod: s.config.EscrowPeriod,
	}
}

// RequestCancellation is the customer-facing cancel. Paid tickets move to
// refund requested; unpaid ones cancel outright.
func (s *TicketService) RequestCancellation(ctx context.Context, ticketID string, requestedBy models.ActorType, reason models.CancelReason) (*models.Ticket, error) {
	return s.Apply(ctx, ticketID, machines.TicketEvent{
		Type: machines.CancellationRequested,
		Cancel: &models.Cancel{
			CancelledAt: time.Now(),
			RequestedBy: requestedBy,
			Reason:      reason,
		},
	})
}

func (s *TicketService) InitiatePayment(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.Apply(ctx, ticketID, machines.TicketEvent{Type: machines.PaymentInitiated})
}

func (s *TicketService) JoinShow(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.Apply(ctx, ticketID, machines.TicketEvent{Type: machines.ShowJoined})
}

func (s *TicketService) LeaveShow(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.Apply(ctx, ticketID, machines.TicketEvent{Type: machines.ShowLeft})
}

func (s *TicketService) SubmitFeedback(ctx context.Context, ticketID string, rating int, comment string) (*models.Ticket, error) {
	return s.Apply(ctx, ticketID, machines.TicketEvent{
		Type: machines.FeedbackReceived,
		Feedback: &models.Feedback{
			Rating:    rating,
			Comment:   comment,
			CreatedAt: time.Now(),
		},
	})
}

func (s *TicketService) InitiateDispute(ctx context.Context, ticketID string, disputedBy models.ActorType, reason models.DisputeReason) (*models.Ticket, error) {
	return s.Apply(ctx, ticketID, machines.TicketEvent{
		Type: machines.DisputeInitiated,
		Dispute: &models.Dispute{
			StartedAt:  time.Now(),
			DisputedBy: disputedBy,
			Reason:     reason,
		},
	})
}

// DecideDispute records the arbitrator ruling. A partial refund approves
// half of what was paid; a full refund approves all of it.
func (s *TicketService) DecideDispute(ctx context.Context, ticketID string, decision models.DisputeDecision) (*models.Ticket, error) {
	ticket, err := s.store.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	event := machines.TicketEvent{
		Type:     machines.DisputeDecided,
		Decision: decision,
	}
	if decision != models.DecisionNoRefund && ticket.TicketState.Sale != nil {
		requested := models.CurrencyTotals{}
		for currency, amount := range ticket.TicketState.Sale.Totals {
			requested[currency] = amount
		}
		refund := models.NewRefund(models.RefundDisputeDecision, requested)
		if decision == models.DecisionPartialRefund {
			for currency, amount := range refund.ApprovedAmounts {
				refund.ApprovedAmounts[currency] = amount / 2
			}
		}
		event.Refund = refund
	}

	if err := s.apply(ctx, ticket, event); err != nil {
		return nil, err
	}

	// An approved refund needs a payout against the original invoice.
	if decision != models.DecisionNoRefund {
		job := &queue.Job{
			Queue: machines.QueuePayout,
			Type:  JobDisputePayout,
			Payload: map[string]any{
				"ticket_id":  ticket.ID,
				"invoice_id": ticket.InvoiceID,
			},
			MaxAttempts: s.config.MaxJobAttempts,
		}
		if err := s.queue.Enqueue(ctx, job, 0); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

func (s *TicketService) Ticket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.store.TicketByID(ctx, ticketID)
}
