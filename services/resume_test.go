package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtix/machines"
	"showtix/models"
)

func TestResumer_ReArmsEscrowTimer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCreator(t, "creator-1", "", 0)
	show := env.createShow(t, "creator-1", "", 1, 1000)

	// The process died two minutes into the six minute escrow window.
	state := show.ShowState
	state.Status = models.ShowInEscrow
	state.Escrow = &models.Escrow{StartedAt: time.Now().Add(-2 * time.Minute)}
	require.NoError(t, env.store.UpdateShowState(ctx, show.ID, state))

	require.NoError(t, env.resumer.Resume(ctx))

	jobs := env.queue.pending(machines.ShowFinalizedEvent)
	require.Len(t, jobs, 1)
	delay := env.queue.delays[jobs[0].ID]
	assert.Greater(t, delay, 3*time.Minute)
	assert.LessOrEqual(t, delay, 4*time.Minute)

	env.pump(t)
	refreshed, err := env.store.ShowByID(ctx, show.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShowFinalized, refreshed.ShowState.Status)
	assert.False(t, refreshed.ShowState.Active)
}

func TestResumer_StoppedShowGetsGraceTimer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCreator(t, "creator-1", "", 0)

	fresh := env.createShow(t, "creator-1", "", 1, 1000)
	endedAt := time.Now().Add(-2 * time.Minute)
	state := fresh.ShowState
	state.Status = models.ShowStopped
	state.Runtime = &models.Runtime{StartedAt: endedAt.Add(-30 * time.Minute), EndedAt: &endedAt}
	require.NoError(t, env.store.UpdateShowState(ctx, fresh.ID, state))

	// A second show whose grace period already ran out while down.
	overdue := env.createShow(t, "creator-1", "", 1, 1000)
	longGone := time.Now().Add(-15 * time.Minute)
	state = overdue.ShowState
	state.Status = models.ShowStopped
	state.Runtime = &models.Runtime{StartedAt: longGone.Add(-30 * time.Minute), EndedAt: &longGone}
	require.NoError(t, env.store.UpdateShowState(ctx, overdue.ID, state))

	require.NoError(t, env.resumer.Resume(ctx))

	jobs := env.queue.pending(machines.ShowEndedEvent)
	require.Len(t, jobs, 2)
	byShow := map[string]time.Duration{}
	for _, job := range jobs {
		byShow[payloadString(job.Payload, "show_id")] = env.queue.delays[job.ID]
	}
	assert.Greater(t, byShow[fresh.ID], 7*time.Minute)
	assert.LessOrEqual(t, byShow[fresh.ID], 8*time.Minute)
	assert.Equal(t, time.Duration(0), byShow[overdue.ID])
}

func TestResumer_ResumesCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedCreator(t, "creator-1", "", 0)
	show := env.createShow(t, "creator-1", "", 1, 1000)

	ticket, err := env.tickets.Reserve(ctx, ReserveTicketParams{
		ShowID: show.ID, CustomerID: "cust-1", CustomerName: "Ana",
	})
	require.NoError(t, err)
	env.payTicket(t, ticket.ID)

	// The creator cancelled and the process died before the fan-out
	// reached any ticket.
	current, err := env.store.ShowByID(ctx, show.ID)
	require.NoError(t, err)
	state := current.ShowState
	state.Status = models.ShowCancellationInitiated
	state.Cancel = &models.Cancel{
		CancelledAt: time.Now(),
		RequestedBy: models.ActorCreator,
		Reason:      models.CancelCreatorCancelled,
	}
	require.NoError(t, env.store.UpdateShowState(ctx, show.ID, state))

	require.NoError(t, env.resumer.Resume(ctx))
	env.pump(t)

	refreshedTicket, err := env.store.TicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketWaitingRefund, refreshedTicket.TicketState.Status)
	refreshedShow, err := env.store.ShowByID(ctx, show.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShowRefundInitiated, refreshedShow.ShowState.Status)
	require.Len(t, env.processor.payoutIDs(), 1)

	// A second restart lands in the refund wait; rescanning must not
	// open another refund.
	require.NoError(t, env.resumer.Resume(ctx))
	env.pump(t)
	assert.Len(t, env.processor.payoutIDs(), 1)
}
