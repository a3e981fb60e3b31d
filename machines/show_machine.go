package machines

import (
	"encoding/json"
	"time"

	"showtix/internal/status"
	"showtix/models"
)

// Show machine event types. The TICKET-prefixed events arrive as queue jobs
// raised by ticket machines; the SHOW-prefixed ones come from creator
// commands or delayed timer jobs.
const (
	ShowStarted           = "SHOW STARTED"
	ShowStopped           = "SHOW STOPPED"
	ShowEndedEvent        = "SHOW ENDED"
	ShowFinalizedEvent    = "SHOW FINALIZED"
	CancellationInitiated = "CANCELLATION INITIATED"
	ShowRefundInitiated   = "REFUND INITIATED"
	ShowCancelledEvent    = "SHOW CANCELLED"
)

// ShowMachineOptions carries the configured lifecycle timers. The delayed
// SHOW ENDED and SHOW FINALIZED jobs are scheduled with these periods.
type ShowMachineOptions struct {
	GracePeriod  time.Duration
	EscrowPeriod time.Duration
}

type ShowEvent struct {
	Type     string
	TicketID string
	Cancel   *models.Cancel
	Finalize *models.Finalize
	Decision models.DisputeDecision
}

// ShowMachine drives one show's lifecycle over an in-memory copy of its
// persisted state. It owns capacity and the aggregate sales stats.
type ShowMachine struct {
	show     *models.Show
	state    models.ShowState
	options  ShowMachineOptions
	commands []Command
}

func NewShowMachine(show *models.Show, options ShowMachineOptions) *ShowMachine {
	return &ShowMachine{
		show:    show,
		state:   cloneShowState(show.ShowState),
		options: options,
	}
}

func (m *ShowMachine) State() models.ShowState {
	return m.state
}

func (m *ShowMachine) Commands() []Command {
	commands := m.commands
	m.commands = nil
	return commands
}

func (m *ShowMachine) Can(event ShowEvent) bool {
	probe := &ShowMachine{show: m.show, state: cloneShowState(m.state), options: m.options}
	return probe.Send(event) == nil
}

func (m *ShowMachine) Send(event ShowEvent) error {
	switch event.Type {
	case NotifyTicketReserved:
		return m.ticketReserved(event)
	case NotifyTicketSold:
		return m.ticketSold(event)
	case NotifyTicketRedeemed:
		return m.ticketRedeemed(event)
	case NotifyTicketCancelled:
		return m.ticketCancelled(event)
	case NotifyTicketRefunded:
		return m.ticketRefunded(event)
	case NotifyTicketFinalized:
		return m.ticketFinalized(event)
	case NotifyTicketDisputed:
		return m.ticketDisputed(event)
	case NotifyDisputeResolved:
		return m.disputeResolved(event)
	case NotifyCustomerJoined, NotifyCustomerLeft:
		// Presence changes are audit-only; the showevents trail records them.
		return nil
	case ShowStarted:
		return m.start()
	case ShowStopped:
		return m.stop()
	case ShowEndedEvent:
		return m.end()
	case ShowFinalizedEvent:
		return m.finalize(event)
	case CancellationInitiated:
		return m.initiateCancellation(event)
	case ShowRefundInitiated:
		return m.initiateRefund()
	case ShowCancelledEvent:
		return m.cancel()
	}
	return status.ErrInvalidTransition
}

func (m *ShowMachine) boxOfficeOpen() bool {
	switch m.state.Status {
	case models.ShowCreated, models.ShowBoxOfficeOpen:
		return true
	}
	return false
}

func (m *ShowMachine) ticketReserved(event ShowEvent) error {
	if !m.boxOfficeOpen() {
		return status.ErrInvalidTransition
	}
	if m.state.SalesStats.TicketsAvailable <= 0 {
		// The reservation guard upstream should have rejected this; never
		// let the count go negative.
		return status.ErrSoldOut
	}
	m.state.SalesStats.TicketsAvailable--
	m.state.SalesStats.TicketsReserved++
	m.state.Reservations = append(m.state.Reservations, event.TicketID)
	if m.state.SalesStats.TicketsAvailable == 0 {
		m.state.Status = models.ShowBoxOfficeClosed
	} else {
		m.state.Status = models.ShowBoxOfficeOpen
	}
	return nil
}

func (m *ShowMachine) ticketSold(event ShowEvent) error {
	m.state.SalesStats.TicketsSold++
	m.state.Sales = append(m.state.Sales, event.TicketID)
	return nil
}

func (m *ShowMachine) ticketRedeemed(event ShowEvent) error {
	m.state.SalesStats.TicketsRedeemed++
	m.state.Redemptions = append(m.state.Redemptions, event.TicketID)
	return nil
}

func (m *ShowMachine) ticketCancelled(event ShowEvent) error {
	m.releaseSeat()
	m.state.SalesStats.TicketsReserved--
	if m.state.SalesStats.TicketsReserved < 0 {
		m.state.SalesStats.TicketsReserved = 0
	}
	m.state.Cancellations = append(m.state.Cancellations, event.TicketID)
	return nil
}

func (m *ShowMachine) ticketRefunded(event ShowEvent) error {
	m.releaseSeat()
	m.state.SalesStats.TicketsRefunded++
	m.state.Refunds = append(m.state.Refunds, event.TicketID)
	return nil
}

// releaseSeat returns a seat to the pool, capped at the original capacity,
// and reopens the box office while the show has not gone live.
func (m *ShowMachine) releaseSeat() {
	if m.state.SalesStats.TicketsAvailable < m.show.Capacity {
		m.state.SalesStats.TicketsAvailable++
	}
	if m.state.Status == models.ShowBoxOfficeClosed && m.state.SalesStats.TicketsAvailable > 0 {
		m.state.Status = models.ShowBoxOfficeOpen
	}
}

func (m *ShowMachine) ticketFinalized(event ShowEvent) error {
	m.state.SalesStats.TicketsFinalized++
	m.state.Finalizations = append(m.state.Finalizations, event.TicketID)
	return nil
}

func (m *ShowMachine) ticketDisputed(event ShowEvent) error {
	m.state.DisputeStats.TotalDisputes++
	m.state.Disputes = append(m.state.Disputes, event.TicketID)
	return nil
}

func (m *ShowMachine) disputeResolved(event ShowEvent) error {
	m.state.DisputeStats.TotalDisputesResolved++
	if event.Decision == models.DecisionFullRefund || event.Decision == models.DecisionPartialRefund {
		m.state.DisputeStats.TotalDisputesRefunded++
	}
	return nil
}

func (m *ShowMachine) start() error {
	switch m.state.Status {
	case models.ShowBoxOfficeOpen, models.ShowBoxOfficeClosed:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Status = models.ShowLive
	m.state.Runtime = &models.Runtime{StartedAt: time.Now()}
	return nil
}

func (m *ShowMachine) stop() error {
	if m.state.Status != models.ShowLive {
		return status.ErrInvalidTransition
	}
	now := time.Now()
	m.state.Status = models.ShowStopped
	if m.state.Runtime != nil {
		m.state.Runtime.EndedAt = &now
	}
	// Stragglers get the grace period before the show is truly over.
	m.command(Command{
		Queue:   QueueShow,
		Type:    ShowEndedEvent,
		Payload: map[string]any{"show_id": m.show.ID},
		Delay:   m.options.GracePeriod,
	})
	return nil
}

func (m *ShowMachine) end() error {
	if m.state.Status != models.ShowStopped {
		return status.ErrInvalidTransition
	}
	m.state.Status = models.ShowInEscrow
	m.state.Escrow = &models.Escrow{StartedAt: time.Now()}
	m.command(Command{
		Queue: QueueShow,
		Type:  ShowFinalizedEvent,
		Payload: map[string]any{
			"show_id": m.show.ID,
			"finalize": models.Finalize{
				FinalizedAt: time.Now(),
				FinalizedBy: models.ActorTimer,
			},
		},
		Delay: m.options.EscrowPeriod,
	})
	return nil
}

func (m *ShowMachine) finalize(event ShowEvent) error {
	if m.state.Status == models.ShowFinalized {
		// Already finalized; repeat delivery reports success without
		// reapplying.
		return status.ErrInvalidTransition
	}
	if m.state.Status != models.ShowInEscrow {
		return status.ErrInvalidTransition
	}
	now := time.Now()
	m.state.Status = models.ShowFinalized
	m.state.Active = false
	m.state.Finalize = event.Finalize
	if m.state.Escrow != nil {
		m.state.Escrow.EndedAt = &now
	}
	return nil
}

func (m *ShowMachine) initiateCancellation(event ShowEvent) error {
	switch m.state.Status {
	case models.ShowCreated, models.ShowBoxOfficeOpen, models.ShowBoxOfficeClosed:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Status = models.ShowCancellationInitiated
	m.state.Cancel = event.Cancel
	return nil
}

func (m *ShowMachine) initiateRefund() error {
	if m.state.Status != models.ShowCancellationInitiated {
		return status.ErrInvalidTransition
	}
	m.state.Status = models.ShowRefundInitiated
	return nil
}

func (m *ShowMachine) cancel() error {
	switch m.state.Status {
	case models.ShowCancellationInitiated, models.ShowRefundInitiated:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Status = models.ShowCancelled
	m.state.Active = false
	return nil
}

func (m *ShowMachine) command(command Command) {
	m.commands = append(m.commands, command)
}

func cloneShowState(state models.ShowState) models.ShowState {
	data, _ := json.Marshal(state)
	var clone models.ShowState
	_ = json.Unmarshal(data, &clone)
	return clone
}
