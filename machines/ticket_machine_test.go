package machines

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtix/internal/status"
	"showtix/models"
)

func newTestTicket(price int64) *models.Ticket {
	return &models.Ticket{
		ID:           "ticket-1",
		ShowID:       "show-1",
		CustomerID:   "customer-1",
		CustomerName: "Alice",
		CreatorID:    "creator-1",
		Price:        models.Money{Amount: price, Currency: models.CurrencyUSD},
		InvoiceID:    "invoice-1",
		TicketState:  models.NewTicketState(),
		CreatedAt:    time.Now(),
	}
}

func usdTransaction(id string, amount int64) *models.Transaction {
	return &models.Transaction{
		ID:        id,
		Reason:    models.TransactionTicketPayment,
		Amount:    amount,
		Currency:  models.CurrencyUSD,
		Rate:      decimal.NewFromInt(1),
		InvoiceID: "invoice-1",
	}
}

func commandTypes(commands []Command) []string {
	types := make([]string, 0, len(commands))
	for _, command := range commands {
		types = append(types, command.Type)
	}
	return types
}

func TestTicketMachine_ReserveSchedulesInvoice(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.True(t, machine.Can(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))

	assert.Equal(t, models.TicketWaitingInvoice, machine.State().Status)

	commands := machine.Commands()
	require.Len(t, commands, 2)
	assert.Equal(t, NotifyTicketReserved, commands[0].Type)
	assert.Equal(t, QueueShow, commands[0].Queue)
	assert.Equal(t, JobCreateInvoice, commands[1].Type)
	assert.Equal(t, QueueInvoice, commands[1].Queue)
	assert.Equal(t, "ticket-1", commands[1].Payload["ticket_id"])

	// Commands drain on read.
	assert.Empty(t, machine.Commands())
}

func TestTicketMachine_FreeTicketSkipsPayment(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(0))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))

	assert.Equal(t, models.TicketFullyPaid, machine.State().Status)
	assert.NotNil(t, machine.State().Sale)
	assert.Equal(t, []string{NotifyTicketReserved, NotifyTicketSold}, commandTypes(machine.Commands()))
}

func TestTicketMachine_ReserveTwiceRejected(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))

	assert.False(t, machine.Can(TicketEvent{Type: TicketReserved}))
	assert.ErrorIs(t, machine.Send(TicketEvent{Type: TicketReserved}), status.ErrInvalidTransition)
}

func TestTicketMachine_FullPaymentPath(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived, PaymentAddress: "addr-1"}))
	assert.Equal(t, models.TicketWaitingPayment, machine.State().Status)
	assert.Equal(t, "addr-1", machine.State().PaymentAddress)

	require.NoError(t, machine.Send(TicketEvent{Type: PaymentInitiated}))
	assert.Equal(t, models.TicketPaymentInitiated, machine.State().Status)

	machine.Commands()
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 1000)}))

	state := machine.State()
	assert.Equal(t, models.TicketFullyPaid, state.Status)
	assert.Equal(t, int64(1000), state.Sale.Totals.Get(models.CurrencyUSD))
	assert.Equal(t, []string{"tx-1"}, state.Sale.Transactions)
	assert.Equal(t, []string{NotifyTicketSold}, commandTypes(machine.Commands()))
}

func TestTicketMachine_PartialPaymentsAccumulate(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived, PaymentAddress: "addr-1"}))
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentInitiated}))
	machine.Commands()

	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 400)}))
	assert.Equal(t, models.TicketPaymentReceived, machine.State().Status)
	assert.Empty(t, machine.Commands(), "under-paid ticket must not announce a sale")

	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-2", 600)}))
	assert.Equal(t, models.TicketFullyPaid, machine.State().Status)
	assert.Equal(t, []string{NotifyTicketSold}, commandTypes(machine.Commands()))
}

func TestTicketMachine_MultiCurrencyPaymentConvertsAtHistoricalRate(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived}))
	machine.Commands()

	// 2 units of ETH at a rate of 300 covers 600 of the USD price.
	eth := &models.Transaction{
		ID:       "tx-eth",
		Amount:   2,
		Currency: models.CurrencyETH,
		Rate:     decimal.NewFromInt(300),
	}
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: eth}))
	assert.Equal(t, models.TicketPaymentReceived, machine.State().Status)

	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-usd", 400)}))
	assert.Equal(t, models.TicketFullyPaid, machine.State().Status)
}

func TestTicketMachine_CancelBeforePaymentIsOutright(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	machine.Commands()

	cancel := &models.Cancel{
		CancelledAt: time.Now(),
		RequestedBy: models.ActorCustomer,
		Reason:      models.CancelCustomerCancelled,
	}
	require.NoError(t, machine.Send(TicketEvent{Type: CancellationRequested, Cancel: cancel}))

	state := machine.State()
	assert.Equal(t, models.TicketCancelled, state.Status)
	assert.False(t, state.Active)
	assert.Nil(t, state.Refund)
	assert.Equal(t, []string{NotifyTicketCancelled}, commandTypes(machine.Commands()))
}

func TestTicketMachine_CancelAfterPaymentRequestsRefund(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived}))
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 400)}))
	machine.Commands()

	cancel := &models.Cancel{RequestedBy: models.ActorCustomer, Reason: models.CancelCustomerCancelled}
	require.NoError(t, machine.Send(TicketEvent{Type: CancellationRequested, Cancel: cancel}))

	state := machine.State()
	assert.Equal(t, models.TicketRefundRequested, state.Status)
	assert.True(t, state.Active)
	require.NotNil(t, state.Refund)
	assert.Equal(t, models.RefundCustomerCancel, state.Refund.Reason)
	assert.Equal(t, int64(400), state.Refund.RequestedAmounts.Get(models.CurrencyUSD))
	assert.Equal(t, int64(400), state.Refund.ApprovedAmounts.Get(models.CurrencyUSD))

	commands := machine.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, JobCreateRefund, commands[0].Type)
	assert.Equal(t, QueuePayout, commands[0].Queue)
}

func TestTicketMachine_ShowCancelledDoesNotScheduleRefundJob(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived}))
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 1000)}))
	machine.Commands()

	cancel := &models.Cancel{RequestedBy: models.ActorCreator, Reason: models.CancelCreatorCancelled}
	require.NoError(t, machine.Send(TicketEvent{Type: ShowCancelled, Cancel: cancel}))

	state := machine.State()
	assert.Equal(t, models.TicketRefundRequested, state.Status)
	assert.Equal(t, models.RefundShowCancelled, state.Refund.Reason)
	// Refund jobs for a cancelled show are batched by the show worker.
	assert.Empty(t, commandTypes(machine.Commands()))
}

func TestTicketMachine_RefundCompletion(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived}))
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 1000)}))
	cancel := &models.Cancel{RequestedBy: models.ActorCustomer, Reason: models.CancelCustomerCancelled}
	require.NoError(t, machine.Send(TicketEvent{Type: CancellationRequested, Cancel: cancel}))
	require.NoError(t, machine.Send(TicketEvent{Type: RefundInitiated}))
	assert.Equal(t, models.TicketWaitingRefund, machine.State().Status)
	machine.Commands()

	// First partial refund payout does not settle the ticket.
	refund1 := &models.Transaction{ID: "rf-1", Amount: 400, Currency: models.CurrencyUSD, Rate: decimal.NewFromInt(1)}
	require.NoError(t, machine.Send(TicketEvent{Type: RefundReceived, Transaction: refund1}))
	assert.Equal(t, models.TicketWaitingRefund, machine.State().Status)
	assert.Empty(t, machine.Commands())

	refund2 := &models.Transaction{ID: "rf-2", Amount: 600, Currency: models.CurrencyUSD, Rate: decimal.NewFromInt(1)}
	require.NoError(t, machine.Send(TicketEvent{Type: RefundReceived, Transaction: refund2}))

	state := machine.State()
	assert.Equal(t, models.TicketCancelled, state.Status)
	assert.False(t, state.Active)
	assert.Equal(t, int64(1000), state.Refund.Totals.Get(models.CurrencyUSD))
	assert.Equal(t, []string{NotifyTicketRefunded}, commandTypes(machine.Commands()))
}

func TestTicketMachine_RedeemAndFeedbackFinalize(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(0))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	machine.Commands()

	require.NoError(t, machine.Send(TicketEvent{Type: ShowJoined}))
	state := machine.State()
	assert.Equal(t, models.TicketRedeemed, state.Status)
	require.NotNil(t, state.Redemption)
	assert.Equal(t, []string{NotifyTicketRedeemed, NotifyCustomerJoined}, commandTypes(machine.Commands()))

	// Re-joining an already redeemed ticket only announces presence.
	require.NoError(t, machine.Send(TicketEvent{Type: ShowJoined}))
	assert.Equal(t, []string{NotifyCustomerJoined}, commandTypes(machine.Commands()))

	require.NoError(t, machine.Send(TicketEvent{Type: ShowLeft}))
	assert.Equal(t, []string{NotifyCustomerLeft}, commandTypes(machine.Commands()))

	require.NoError(t, machine.Send(TicketEvent{Type: ShowEnded}))
	assert.Equal(t, models.TicketInEscrow, machine.State().Status)

	feedback := &models.Feedback{Rating: 5, Comment: "great", CreatedAt: time.Now()}
	require.NoError(t, machine.Send(TicketEvent{Type: FeedbackReceived, Feedback: feedback}))

	// Feedback settles the ticket in the same call via the raised finalize.
	state = machine.State()
	assert.Equal(t, models.TicketFinalized, state.Status)
	assert.False(t, state.Active)
	require.NotNil(t, state.Finalize)
	assert.Equal(t, models.ActorCustomer, state.Finalize.FinalizedBy)
	assert.Contains(t, commandTypes(machine.Commands()), NotifyTicketFinalized)
}

func TestTicketMachine_MissedShow(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(0))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	machine.Commands()

	// Fully paid but never joined.
	require.NoError(t, machine.Send(TicketEvent{Type: ShowEnded}))
	assert.Equal(t, models.TicketMissedShow, machine.State().Status)
}

func TestTicketMachine_DisputeNoRefundFinalizes(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(0))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: ShowJoined}))
	require.NoError(t, machine.Send(TicketEvent{Type: ShowEnded}))
	machine.Commands()

	dispute := &models.Dispute{
		StartedAt:  time.Now(),
		DisputedBy: models.ActorCustomer,
		Reason:     models.DisputeEndedEarly,
	}
	require.NoError(t, machine.Send(TicketEvent{Type: DisputeInitiated, Dispute: dispute}))
	assert.Equal(t, models.TicketInDispute, machine.State().Status)
	assert.Equal(t, []string{NotifyTicketDisputed}, commandTypes(machine.Commands()))

	require.NoError(t, machine.Send(TicketEvent{Type: DisputeDecided, Decision: models.DecisionNoRefund}))

	state := machine.State()
	assert.Equal(t, models.TicketFinalized, state.Status)
	assert.True(t, state.Dispute.Resolved)
	assert.Equal(t, models.DecisionNoRefund, state.Dispute.Decision)
	assert.Equal(t, models.ActorArbitrator, state.Finalize.FinalizedBy)
	assert.Equal(t, []string{NotifyDisputeResolved, NotifyTicketFinalized}, commandTypes(machine.Commands()))
}

func TestTicketMachine_DisputeRefundThenFinalize(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: InvoiceReceived}))
	require.NoError(t, machine.Send(TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 1000)}))
	require.NoError(t, machine.Send(TicketEvent{Type: ShowJoined}))
	require.NoError(t, machine.Send(TicketEvent{Type: ShowEnded}))
	dispute := &models.Dispute{DisputedBy: models.ActorCustomer, Reason: models.DisputeLowQuality}
	require.NoError(t, machine.Send(TicketEvent{Type: DisputeInitiated, Dispute: dispute}))
	machine.Commands()

	// Partial refund approves half of the requested amount.
	refund := models.NewRefund(models.RefundDisputeDecision, models.CurrencyTotals{models.CurrencyUSD: 1000})
	refund.ApprovedAmounts[models.CurrencyUSD] = 500
	require.NoError(t, machine.Send(TicketEvent{
		Type:     DisputeDecided,
		Decision: models.DecisionPartialRefund,
		Refund:   refund,
	}))
	assert.Equal(t, models.TicketWaitingDisputeRefund, machine.State().Status)
	machine.Commands()

	payout := &models.Transaction{ID: "rf-1", Amount: 500, Currency: models.CurrencyUSD, Rate: decimal.NewFromInt(1)}
	require.NoError(t, machine.Send(TicketEvent{Type: RefundReceived, Transaction: payout}))

	// A settled dispute refund finalizes instead of cancelling.
	state := machine.State()
	assert.Equal(t, models.TicketFinalized, state.Status)
	assert.Equal(t, models.ActorArbitrator, state.Finalize.FinalizedBy)
	assert.Contains(t, commandTypes(machine.Commands()), NotifyTicketFinalized)
}

func TestTicketMachine_FinalizeIsIdempotent(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(0))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))
	require.NoError(t, machine.Send(TicketEvent{Type: ShowJoined}))
	require.NoError(t, machine.Send(TicketEvent{Type: ShowEnded}))

	finalize := &models.Finalize{FinalizedAt: time.Now(), FinalizedBy: models.ActorTimer}
	require.NoError(t, machine.Send(TicketEvent{Type: TicketFinalized, Finalize: finalize}))
	machine.Commands()

	// Redelivery succeeds without emitting anything new.
	require.True(t, machine.Can(TicketEvent{Type: TicketFinalized, Finalize: finalize}))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketFinalized, Finalize: finalize}))
	assert.Empty(t, machine.Commands())
	assert.Equal(t, models.TicketFinalized, machine.State().Status)
}

func TestTicketMachine_CanDoesNotMutate(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))

	assert.True(t, machine.Can(TicketEvent{Type: TicketReserved}))
	assert.Equal(t, models.TicketCreated, machine.State().Status)
	assert.Empty(t, machine.Commands())
}

func TestTicketMachine_StaleEventRejected(t *testing.T) {
	machine := NewTicketMachine(newTestTicket(1000))
	require.NoError(t, machine.Send(TicketEvent{Type: TicketReserved}))

	// A payment arriving before the invoice is out of order.
	event := TicketEvent{Type: PaymentReceived, Transaction: usdTransaction("tx-1", 1000)}
	assert.False(t, machine.Can(event))
	assert.ErrorIs(t, machine.Send(event), status.ErrInvalidTransition)
}
