package machines

import (
	"encoding/json"
	"time"

	"showtix/internal/status"
	"showtix/models"
)

// Ticket machine event types. Job names on the queues match these strings.
const (
	TicketReserved        = "TICKET RESERVED"
	InvoiceReceived       = "INVOICE RECEIVED"
	PaymentInitiated      = "PAYMENT INITIATED"
	PaymentReceived       = "PAYMENT RECEIVED"
	CancellationRequested = "CANCELLATION REQUESTED"
	RefundInitiated       = "REFUND INITIATED"
	RefundReceived        = "REFUND RECEIVED"
	ShowJoined            = "SHOW JOINED"
	ShowLeft              = "SHOW LEFT"
	ShowEnded             = "SHOW ENDED"
	ShowCancelled         = "SHOW CANCELLED"
	FeedbackReceived      = "FEEDBACK RECEIVED"
	DisputeInitiated      = "DISPUTE INITIATED"
	DisputeDecided        = "DISPUTE DECIDED"
	TicketFinalized       = "TICKET FINALIZED"
)

// Show-directed notification types raised by ticket transitions.
const (
	NotifyTicketReserved  = "TICKET RESERVED"
	NotifyTicketSold      = "TICKET SOLD"
	NotifyTicketRedeemed  = "TICKET REDEEMED"
	NotifyTicketCancelled = "TICKET CANCELLED"
	NotifyTicketRefunded  = "TICKET REFUNDED"
	NotifyTicketFinalized = "TICKET FINALIZED"
	NotifyTicketDisputed  = "TICKET DISPUTED"
	NotifyDisputeResolved = "DISPUTE RESOLVED"
	NotifyCustomerJoined  = "CUSTOMER JOINED"
	NotifyCustomerLeft    = "CUSTOMER LEFT"
)

// Payout/invoice job types scheduled by ticket transitions.
const (
	JobCreateInvoice = "CREATE INVOICE"
	JobCreateRefund  = "CREATE REFUND"
)

type TicketEvent struct {
	Type        string
	Transaction *models.Transaction
	Cancel      *models.Cancel
	Refund      *models.Refund
	Feedback    *models.Feedback
	Dispute     *models.Dispute
	Finalize    *models.Finalize
	Decision    models.DisputeDecision
	// Payment address delivered with INVOICE RECEIVED.
	PaymentAddress string
}

// TicketMachine drives one ticket's lifecycle over an in-memory copy of its
// persisted state. Transitions are pure: (state, event) -> (state, commands).
type TicketMachine struct {
	ticket   *models.Ticket
	state    models.TicketState
	commands []Command
}

func NewTicketMachine(ticket *models.Ticket) *TicketMachine {
	return &TicketMachine{
		ticket: ticket,
		state:  cloneTicketState(ticket.TicketState),
	}
}

// State returns the current snapshot.
func (m *TicketMachine) State() models.TicketState {
	return m.state
}

// Commands drains the side effects accumulated by Send.
func (m *TicketMachine) Commands() []Command {
	commands := m.commands
	m.commands = nil
	return commands
}

// Can reports whether the event would be accepted in the current state.
// Callers on the job-orchestrator path always check this before Send so
// replaying a stale job is a safe no-op.
func (m *TicketMachine) Can(event TicketEvent) bool {
	probe := &TicketMachine{ticket: m.ticket, state: cloneTicketState(m.state)}
	return probe.Send(event) == nil
}

// Send applies the event. Internal cascades (feedback finalizing the ticket,
// a no-refund decision finalizing it) are processed in a deterministic loop
// within this call, never re-entering the queue for the same aggregate.
func (m *TicketMachine) Send(event TicketEvent) error {
	queue := []TicketEvent{event}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		raised, err := m.apply(next)
		if err != nil {
			return err
		}
		queue = append(queue, raised...)
	}
	return nil
}

func (m *TicketMachine) apply(event TicketEvent) ([]TicketEvent, error) {
	switch event.Type {
	case TicketReserved:
		return nil, m.reserve()
	case InvoiceReceived:
		return nil, m.receiveInvoice(event)
	case PaymentInitiated:
		return nil, m.initiatePayment()
	case PaymentReceived:
		return nil, m.receivePayment(event)
	case CancellationRequested, ShowCancelled:
		return nil, m.requestCancellation(event)
	case RefundInitiated:
		return nil, m.initiateRefund(event)
	case RefundReceived:
		return m.receiveRefund(event)
	case ShowJoined:
		return nil, m.joinShow()
	case ShowLeft:
		return nil, m.leaveShow()
	case ShowEnded:
		return nil, m.endShow()
	case FeedbackReceived:
		return m.receiveFeedback(event)
	case DisputeInitiated:
		return nil, m.initiateDispute(event)
	case DisputeDecided:
		return m.decideDispute(event)
	case TicketFinalized:
		return nil, m.finalize(event)
	}
	return nil, status.ErrInvalidTransition
}

func (m *TicketMachine) reserve() error {
	if m.state.Status != models.TicketCreated {
		return status.ErrInvalidTransition
	}
	m.notifyShow(NotifyTicketReserved, nil)
	if m.ticket.Price.Amount == 0 {
		// Free tickets skip the whole invoice/payment leg.
		m.state.Status = models.TicketFullyPaid
		m.state.Sale = models.NewSale()
		m.notifyShow(NotifyTicketSold, nil)
		return nil
	}
	m.state.Status = models.TicketWaitingInvoice
	m.command(Command{
		Queue: QueueInvoice,
		Type:  JobCreateInvoice,
		Payload: map[string]any{
			"ticket_id": m.ticket.ID,
		},
	})
	return nil
}

func (m *TicketMachine) receiveInvoice(event TicketEvent) error {
	if m.state.Status != models.TicketWaitingInvoice {
		return status.ErrInvalidTransition
	}
	m.state.Status = models.TicketWaitingPayment
	m.state.PaymentAddress = event.PaymentAddress
	return nil
}

func (m *TicketMachine) initiatePayment() error {
	switch m.state.Status {
	case models.TicketWaitingPayment:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Status = models.TicketPaymentInitiated
	if m.state.Sale == nil {
		m.state.Sale = models.NewSale()
	}
	return nil
}

func (m *TicketMachine) receivePayment(event TicketEvent) error {
	switch m.state.Status {
	case models.TicketWaitingPayment, models.TicketPaymentInitiated, models.TicketPaymentReceived:
	default:
		return status.ErrInvalidTransition
	}
	if event.Transaction == nil {
		return status.ErrInvalidTransition
	}
	if m.state.Sale == nil {
		m.state.Sale = models.NewSale()
	}
	m.state.Sale.AddPayment(event.Transaction.ID, event.Transaction.Payment())
	if m.fullyPaid() {
		m.state.Status = models.TicketFullyPaid
		m.notifyShow(NotifyTicketSold, map[string]any{"sale": m.state.Sale})
		return nil
	}
	// Under paid; further payments can still land.
	m.state.Status = models.TicketPaymentReceived
	return nil
}

// fullyPaid re-derives from the full persisted payment history so that
// out-of-order delivery never trusts in-flight machine memory.
func (m *TicketMachine) fullyPaid() bool {
	if m.state.Sale == nil {
		return false
	}
	return models.CalcTotal(m.state.Sale.Payments) >= m.ticket.Price.Amount
}

func (m *TicketMachine) requestCancellation(event TicketEvent) error {
	switch m.state.Status {
	case models.TicketCreated, models.TicketWaitingInvoice, models.TicketWaitingPayment,
		models.TicketPaymentInitiated, models.TicketPaymentReceived, models.TicketFullyPaid:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Cancel = event.Cancel
	if !m.canBeRefunded() {
		// Nothing has been paid; cancel outright.
		m.cancel()
		m.notifyShow(NotifyTicketCancelled, map[string]any{"cancel": event.Cancel})
		return nil
	}
	reason := models.RefundCustomerCancel
	if event.Type == ShowCancelled {
		reason = models.RefundShowCancelled
	}
	requested := models.CurrencyTotals{}
	for currency, amount := range m.state.Sale.Totals {
		requested[currency] = amount
	}
	m.state.Status = models.TicketRefundRequested
	m.state.Refund = models.NewRefund(reason, requested)
	if event.Type == CancellationRequested {
		// Customer-initiated refunds go straight to the payout worker. A
		// cancelled show instead batches refunds behind REFUND INITIATED.
		m.command(Command{
			Queue: QueuePayout,
			Type:  JobCreateRefund,
			Payload: map[string]any{
				"ticket_id":  m.ticket.ID,
				"invoice_id": m.ticket.InvoiceID,
			},
		})
	}
	return nil
}

func (m *TicketMachine) canBeRefunded() bool {
	return m.state.Sale != nil && models.CalcTotal(m.state.Sale.Payments) > 0
}

func (m *TicketMachine) initiateRefund(event TicketEvent) error {
	if m.state.Status != models.TicketRefundRequested {
		return status.ErrInvalidTransition
	}
	if event.Refund != nil {
		m.state.Refund = event.Refund
	}
	m.state.Status = models.TicketWaitingRefund
	return nil
}

func (m *TicketMachine) receiveRefund(event TicketEvent) ([]TicketEvent, error) {
	switch m.state.Status {
	case models.TicketWaitingRefund, models.TicketWaitingDisputeRefund:
	default:
		return nil, status.ErrInvalidTransition
	}
	if event.Transaction == nil || m.state.Refund == nil {
		return nil, status.ErrInvalidTransition
	}
	disputed := m.state.Status == models.TicketWaitingDisputeRefund
	m.state.Refund.AddPayout(event.Transaction.ID, event.Transaction.Payment())
	if !m.fullyRefunded() {
		// Partial refund; wait for the rest.
		return nil, nil
	}
	if disputed {
		return []TicketEvent{{
			Type: TicketFinalized,
			Finalize: &models.Finalize{
				FinalizedAt: time.Now(),
				FinalizedBy: models.ActorArbitrator,
			},
		}}, nil
	}
	m.cancel()
	m.notifyShow(NotifyTicketRefunded, map[string]any{"refund": m.state.Refund})
	return nil, nil
}

// fullyRefunded checks every currency present in the approved amounts
// against the refund totals accumulated so far.
func (m *TicketMachine) fullyRefunded() bool {
	refund := m.state.Refund
	if refund == nil || len(refund.ApprovedAmounts) == 0 {
		return false
	}
	for currency, approved := range refund.ApprovedAmounts {
		if approved == 0 {
			return false
		}
		if refund.Totals.Get(currency) < approved {
			return false
		}
	}
	return true
}

func (m *TicketMachine) joinShow() error {
	switch m.state.Status {
	case models.TicketFullyPaid:
		m.state.Status = models.TicketRedeemed
		m.state.Redemption = &models.Redemption{RedeemedAt: time.Now()}
		m.notifyShow(NotifyTicketRedeemed, nil)
		m.notifyShow(NotifyCustomerJoined, map[string]any{"customer_name": m.ticket.CustomerName})
		return nil
	case models.TicketRedeemed:
		m.notifyShow(NotifyCustomerJoined, map[string]any{"customer_name": m.ticket.CustomerName})
		return nil
	}
	return status.ErrInvalidTransition
}

func (m *TicketMachine) leaveShow() error {
	if m.state.Status != models.TicketRedeemed {
		return status.ErrInvalidTransition
	}
	m.notifyShow(NotifyCustomerLeft, map[string]any{"customer_name": m.ticket.CustomerName})
	return nil
}

func (m *TicketMachine) endShow() error {
	switch m.state.Status {
	case models.TicketFullyPaid, models.TicketRedeemed, models.TicketPaymentReceived:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Status = models.TicketInEscrow
	m.state.Escrow = &models.Escrow{StartedAt: time.Now()}
	// Immediate re-evaluation: a ticket never redeemed missed the show.
	if m.state.Redemption == nil {
		m.state.Status = models.TicketMissedShow
	}
	return nil
}

func (m *TicketMachine) receiveFeedback(event TicketEvent) ([]TicketEvent, error) {
	if m.state.Status != models.TicketInEscrow {
		return nil, status.ErrInvalidTransition
	}
	if event.Feedback == nil {
		return nil, status.ErrInvalidTransition
	}
	m.state.Feedback = event.Feedback
	// Feedback is enough to settle; no need to wait out the escrow timer.
	return []TicketEvent{{
		Type: TicketFinalized,
		Finalize: &models.Finalize{
			FinalizedAt: time.Now(),
			FinalizedBy: models.ActorCustomer,
		},
	}}, nil
}

func (m *TicketMachine) initiateDispute(event TicketEvent) error {
	switch m.state.Status {
	case models.TicketInEscrow, models.TicketMissedShow:
	default:
		return status.ErrInvalidTransition
	}
	if event.Dispute == nil {
		return status.ErrInvalidTransition
	}
	m.state.Status = models.TicketInDispute
	m.state.Dispute = event.Dispute
	m.notifyShow(NotifyTicketDisputed, map[string]any{"dispute": event.Dispute})
	return nil
}

func (m *TicketMachine) decideDispute(event TicketEvent) ([]TicketEvent, error) {
	if m.state.Status != models.TicketInDispute {
		return nil, status.ErrInvalidTransition
	}
	if m.state.Dispute == nil {
		return nil, status.ErrInvalidTransition
	}
	now := time.Now()
	m.state.Dispute.Decision = event.Decision
	m.state.Dispute.EndedAt = &now
	m.state.Dispute.Resolved = true
	m.notifyShow(NotifyDisputeResolved, map[string]any{"decision": event.Decision})
	if event.Decision == models.DecisionNoRefund {
		return []TicketEvent{{
			Type: TicketFinalized,
			Finalize: &models.Finalize{
				FinalizedAt: now,
				FinalizedBy: models.ActorArbitrator,
			},
		}}, nil
	}
	if event.Refund != nil {
		m.state.Refund = event.Refund
	}
	m.state.Status = models.TicketWaitingDisputeRefund
	return nil, nil
}

func (m *TicketMachine) finalize(event TicketEvent) error {
	if m.state.Status == models.TicketFinalized {
		// Re-applying finalize is a success no-op; at-least-once delivery
		// depends on it.
		return nil
	}
	switch m.state.Status {
	case models.TicketInEscrow, models.TicketMissedShow,
		models.TicketInDispute, models.TicketWaitingDisputeRefund:
	default:
		return status.ErrInvalidTransition
	}
	m.state.Status = models.TicketFinalized
	m.state.Finalize = event.Finalize
	m.state.Active = false
	m.notifyShow(NotifyTicketFinalized, nil)
	return nil
}

// cancel moves the ticket into its terminal cancelled state.
func (m *TicketMachine) cancel() {
	m.state.Status = models.TicketCancelled
	m.state.Active = false
}

func (m *TicketMachine) notifyShow(eventType string, extra map[string]any) {
	payload := map[string]any{
		"show_id":   m.ticket.ShowID,
		"ticket_id": m.ticket.ID,
	}
	for key, value := range extra {
		payload[key] = value
	}
	m.command(Command{Queue: QueueShow, Type: eventType, Payload: payload})
}

func (m *TicketMachine) command(command Command) {
	m.commands = append(m.commands, command)
}

func cloneTicketState(state models.TicketState) models.TicketState {
	data, _ := json.Marshal(state)
	var clone models.TicketState
	_ = json.Unmarshal(data, &clone)
	return clone
}
