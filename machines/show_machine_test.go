package machines

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtix/internal/status"
	"showtix/models"
)

func newTestShow(capacity int) *models.Show {
	return &models.Show{
		ID:        "show-1",
		CreatorID: "creator-1",
		Name:      "Test Show",
		Duration:  60,
		Capacity:  capacity,
		Price:     models.Money{Amount: 1000, Currency: models.CurrencyUSD},
		ShowState: models.NewShowState(capacity),
		CreatedAt: time.Now(),
	}
}

func newTestShowMachine(capacity int) *ShowMachine {
	return NewShowMachine(newTestShow(capacity), ShowMachineOptions{
		GracePeriod:  10 * time.Minute,
		EscrowPeriod: 6 * time.Minute,
	})
}

func TestShowMachine_ReservationsTrackCapacity(t *testing.T) {
	machine := newTestShowMachine(2)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	state := machine.State()
	assert.Equal(t, models.ShowBoxOfficeOpen, state.Status)
	assert.Equal(t, 1, state.SalesStats.TicketsAvailable)
	assert.Equal(t, 1, state.SalesStats.TicketsReserved)
	assert.Equal(t, []string{"t-1"}, state.Reservations)

	// Last seat closes the box office.
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-2"}))
	state = machine.State()
	assert.Equal(t, models.ShowBoxOfficeClosed, state.Status)
	assert.Equal(t, 0, state.SalesStats.TicketsAvailable)
}

func TestShowMachine_SoldOutRejectsReservation(t *testing.T) {
	machine := newTestShowMachine(1)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))

	event := ShowEvent{Type: NotifyTicketReserved, TicketID: "t-2"}
	assert.False(t, machine.Can(event))
	assert.Error(t, machine.Send(event))
	// Available never goes negative.
	assert.Equal(t, 0, machine.State().SalesStats.TicketsAvailable)
}

func TestShowMachine_CancellationReopensBoxOffice(t *testing.T) {
	machine := newTestShowMachine(1)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	assert.Equal(t, models.ShowBoxOfficeClosed, machine.State().Status)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketCancelled, TicketID: "t-1"}))
	state := machine.State()
	assert.Equal(t, models.ShowBoxOfficeOpen, state.Status)
	assert.Equal(t, 1, state.SalesStats.TicketsAvailable)
	assert.Equal(t, 0, state.SalesStats.TicketsReserved)
	assert.Equal(t, []string{"t-1"}, state.Cancellations)
}

func TestShowMachine_ReleaseNeverExceedsCapacity(t *testing.T) {
	machine := newTestShowMachine(1)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketCancelled, TicketID: "t-1"}))
	// A duplicate cancelled notification must not mint a seat.
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketCancelled, TicketID: "t-1"}))

	state := machine.State()
	assert.Equal(t, 1, state.SalesStats.TicketsAvailable)
	assert.Equal(t, 0, state.SalesStats.TicketsReserved)
}

func TestShowMachine_SoldAndRedeemedCounters(t *testing.T) {
	machine := newTestShowMachine(5)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketSold, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: ShowStarted}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketRedeemed, TicketID: "t-1"}))

	state := machine.State()
	assert.Equal(t, 1, state.SalesStats.TicketsSold)
	assert.Equal(t, 1, state.SalesStats.TicketsRedeemed)
	assert.Equal(t, []string{"t-1"}, state.Sales)
	assert.Equal(t, []string{"t-1"}, state.Redemptions)
}

func TestShowMachine_LifecycleToFinalized(t *testing.T) {
	machine := newTestShowMachine(5)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: ShowStarted}))
	state := machine.State()
	assert.Equal(t, models.ShowLive, state.Status)
	require.NotNil(t, state.Runtime)
	machine.Commands()

	require.NoError(t, machine.Send(ShowEvent{Type: ShowStopped}))
	state = machine.State()
	assert.Equal(t, models.ShowStopped, state.Status)
	require.NotNil(t, state.Runtime.EndedAt)

	// Stopping schedules the delayed SHOW ENDED job with the grace period.
	commands := machine.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, ShowEndedEvent, commands[0].Type)
	assert.Equal(t, QueueShow, commands[0].Queue)
	assert.Equal(t, 10*time.Minute, commands[0].Delay)

	require.NoError(t, machine.Send(ShowEvent{Type: ShowEndedEvent}))
	state = machine.State()
	assert.Equal(t, models.ShowInEscrow, state.Status)
	require.NotNil(t, state.Escrow)

	commands = machine.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, ShowFinalizedEvent, commands[0].Type)
	assert.Equal(t, 6*time.Minute, commands[0].Delay)

	finalize := &models.Finalize{FinalizedAt: time.Now(), FinalizedBy: models.ActorTimer}
	require.NoError(t, machine.Send(ShowEvent{Type: ShowFinalizedEvent, Finalize: finalize}))
	state = machine.State()
	assert.Equal(t, models.ShowFinalized, state.Status)
	assert.False(t, state.Active)
	require.NotNil(t, state.Escrow.EndedAt)
}

func TestShowMachine_FinalizeTwiceRejected(t *testing.T) {
	machine := newTestShowMachine(5)
	require.NoError(t, machine.Send(ShowEvent{Type: ShowStarted}))
	require.NoError(t, machine.Send(ShowEvent{Type: ShowStopped}))
	require.NoError(t, machine.Send(ShowEvent{Type: ShowEndedEvent}))
	finalize := &models.Finalize{FinalizedAt: time.Now(), FinalizedBy: models.ActorTimer}
	require.NoError(t, machine.Send(ShowEvent{Type: ShowFinalizedEvent, Finalize: finalize}))

	// The worker treats a failed Can on a finalized show as already done.
	event := ShowEvent{Type: ShowFinalizedEvent, Finalize: finalize}
	assert.False(t, machine.Can(event))
	assert.ErrorIs(t, machine.Send(event), status.ErrInvalidTransition)
}

func TestShowMachine_StartRequiresBoxOffice(t *testing.T) {
	machine := newTestShowMachine(5)

	// CREATED has no reservations yet; a show cannot go live unsold.
	assert.False(t, machine.Can(ShowEvent{Type: ShowStarted}))

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	assert.True(t, machine.Can(ShowEvent{Type: ShowStarted}))
}

func TestShowMachine_CancellationFlow(t *testing.T) {
	machine := newTestShowMachine(5)
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))

	cancel := &models.Cancel{
		CancelledAt: time.Now(),
		RequestedBy: models.ActorCreator,
		Reason:      models.CancelCreatorCancelled,
	}
	require.NoError(t, machine.Send(ShowEvent{Type: CancellationInitiated, Cancel: cancel}))
	assert.Equal(t, models.ShowCancellationInitiated, machine.State().Status)

	require.NoError(t, machine.Send(ShowEvent{Type: ShowRefundInitiated}))
	assert.Equal(t, models.ShowRefundInitiated, machine.State().Status)

	require.NoError(t, machine.Send(ShowEvent{Type: ShowCancelledEvent}))
	state := machine.State()
	assert.Equal(t, models.ShowCancelled, state.Status)
	assert.False(t, state.Active)
}

func TestShowMachine_CancellationRejectedOnceLive(t *testing.T) {
	machine := newTestShowMachine(5)
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: ShowStarted}))

	cancel := &models.Cancel{RequestedBy: models.ActorCreator, Reason: models.CancelCreatorCancelled}
	assert.False(t, machine.Can(ShowEvent{Type: CancellationInitiated, Cancel: cancel}))
}

func TestShowMachine_DisputeCounters(t *testing.T) {
	machine := newTestShowMachine(5)

	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketDisputed, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyDisputeResolved, TicketID: "t-1", Decision: models.DecisionPartialRefund}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyTicketDisputed, TicketID: "t-2"}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyDisputeResolved, TicketID: "t-2", Decision: models.DecisionNoRefund}))

	stats := machine.State().DisputeStats
	assert.Equal(t, 2, stats.TotalDisputes)
	assert.Equal(t, 2, stats.TotalDisputesResolved)
	assert.Equal(t, 1, stats.TotalDisputesRefunded)
	assert.Equal(t, []string{"t-1", "t-2"}, machine.State().Disputes)
}

func TestShowMachine_PresenceEventsAreNoOps(t *testing.T) {
	machine := newTestShowMachine(5)

	before := machine.State()
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyCustomerJoined, TicketID: "t-1"}))
	require.NoError(t, machine.Send(ShowEvent{Type: NotifyCustomerLeft, TicketID: "t-1"}))
	assert.Equal(t, before.Status, machine.State().Status)
	assert.Empty(t, machine.Commands())
}

func TestShowMachine_CanDoesNotMutate(t *testing.T) {
	machine := newTestShowMachine(1)

	assert.True(t, machine.Can(ShowEvent{Type: NotifyTicketReserved, TicketID: "t-1"}))
	state := machine.State()
	assert.Equal(t, 1, state.SalesStats.TicketsAvailable)
	assert.Empty(t, state.Reservations)
	assert.Empty(t, machine.Commands())
}
