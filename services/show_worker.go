package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"showtix/config"
	"showtix/machines"
	"showtix/models"
	"showtix/monitoring"
	"showtix/queue"
	"showtix/store"
)

// ShowWorker consumes the show queue. Every show-state write in the system
// happens here, so ticket notifications and creator commands never race
// each other on the same show document.
type ShowWorker struct {
	store    store.Store
	queue    queue.Enqueuer
	notifier *Notifier
	config   *config.Config
}

func NewShowWorker(st store.Store, q queue.Enqueuer, notifier *Notifier, cfg *config.Config) *ShowWorker {
	return &ShowWorker{store: st, queue: q, notifier: notifier, config: cfg}
}

func (w *ShowWorker) Handle(ctx context.Context, job *queue.Job) error {
	showID := payloadString(job.Payload, "show_id")
	if showID == "" {
		return fmt.Errorf("%w: show job %s has no show_id", queue.ErrUnrecoverable, job.ID)
	}
	show, err := w.store.ShowByID(ctx, showID)
	if err != nil {
		return err
	}
	event, err := w.buildEvent(job)
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
	}

	machine := machines.NewShowMachine(show, w.options())
	if !machine.Can(event) {
		// The FINALIZED state is persisted before settlement runs, so a
		// redelivered finalize job must re-enter settlement rather than
		// skip. Every settlement step is guarded against double-apply.
		if event.Type == machines.ShowFinalizedEvent && show.ShowState.Status == models.ShowFinalized {
			slog.Info("re-running settlement for finalized show", "show_id", showID)
			return w.settle(ctx, show)
		}
		// Jobs are delivered at least once; a replay against a show that
		// already moved on reports success instead of burning retries.
		slog.Info("show event skipped", "show_id", showID,
			"event", event.Type, "status", show.ShowState.Status)
		monitoring.TrackTransition("show", event.Type, "skipped")
		return nil
	}
	if err := machine.Send(event); err != nil {
		monitoring.TrackTransition("show", event.Type, "rejected")
		return err
	}
	show.ShowState = machine.State()
	if err := w.store.UpdateShowState(ctx, show.ID, show.ShowState); err != nil {
		return err
	}
	if err := dispatchCommands(ctx, w.queue, w.config.MaxJobAttempts, machine.Commands()); err != nil {
		return err
	}
	monitoring.TrackTransition("show", event.Type, "applied")
	w.appendAudit(ctx, show, event)
	w.notifier.ShowUpdated(show)

	return w.afterApply(ctx, show, job, event)
}

func (w *ShowWorker) buildEvent(job *queue.Job) (machines.ShowEvent, error) {
	event := machines.ShowEvent{
		Type:     job.Type,
		TicketID: payloadString(job.Payload, "ticket_id"),
		Decision: models.DisputeDecision(payloadString(job.Payload, "decision")),
	}
	cancel, err := payloadField[models.Cancel](job.Payload, "cancel")
	if err != nil {
		return event, err
	}
	event.Cancel = cancel
	finalize, err := payloadField[models.Finalize](job.Payload, "finalize")
	if err != nil {
		return event, err
	}
	event.Finalize = finalize
	return event, nil
}

// afterApply runs the orchestration a transition implies: fanning a
// cancellation out to tickets, converging on SHOW CANCELLED, and the
// finalize settlement pass.
func (w *ShowWorker) afterApply(ctx context.Context, show *models.Show, job *queue.Job, event machines.ShowEvent) error {
	switch event.Type {
	case machines.CancellationInitiated:
		return w.fanOutCancellation(ctx, show, event.Cancel)
	case machines.ShowRefundInitiated:
		return w.requestPendingRefunds(ctx, show)
	case machines.NotifyTicketCancelled, machines.NotifyTicketRefunded:
		return w.checkCancellationProgress(ctx, show)
	case machines.ShowEndedEvent:
		return w.broadcastShowEnded(ctx, show)
	case machines.NotifyTicketFinalized:
		return w.afterTicketFinalized(ctx, show)
	case machines.ShowFinalizedEvent:
		return w.settle(ctx, show)
	case machines.NotifyCustomerJoined:
		w.notifier.CustomerPresence(show.ID, payloadString(job.Payload, "customer_name"), "joined")
	case machines.NotifyCustomerLeft:
		w.notifier.CustomerPresence(show.ID, payloadString(job.Payload, "customer_name"), "left")
	}
	return nil
}

func (w *ShowWorker) options() machines.ShowMachineOptions {
	return machines.ShowMachineOptions{
		GracePeriod:  w.config.GracePeriod,
		EscrowPeriod: w.config.EscrowPeriod,
	}
}

func (w *ShowWorker) appendAudit(ctx context.Context, show *models.Show, event machines.ShowEvent) {
	record := &models.ShowEvent{
		Type:      event.Type,
		ShowID:    show.ID,
		CreatorID: show.CreatorID,
		AgentID:   show.AgentID,
		TicketID:  event.TicketID,
		CreatedAt: time.Now(),
	}
	if err := w.store.AppendShowEvent(ctx, record); err != nil {
		// The audit trail is best effort; losing one entry is not worth
		// replaying a state transition that already committed.
		slog.Warn("append show event failed", "show_id", show.ID,
			"event", event.Type, "error", err)
	}
}

func (w *ShowWorker) enqueue(ctx context.Context, queueName, jobType string, payload map[string]any, delay time.Duration) error {
	return w.queue.Enqueue(ctx, &queue.Job{
		Queue:       queueName,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: w.config.MaxJobAttempts,
	}, delay)
}

// fanOutCancellation tells every active ticket the show is cancelled. Paid
// tickets move to refund requested and come back through the refund leg;
// unpaid ones cancel outright. A show with no active tickets cancels
// immediately.
func (w *ShowWorker) fanOutCancellation(ctx context.Context, show *models.Show, cancel *models.Cancel) error {
	tickets, err := w.store.ActiveTicketsForShow(ctx, show.ID)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return w.enqueue(ctx, machines.QueueShow, machines.ShowCancelledEvent,
			map[string]any{"show_id": show.ID}, 0)
	}
	for _, ticket := range tickets {
		err := w.enqueue(ctx, machines.QueueTicket, machines.ShowCancelled, map[string]any{
			"show_id":   show.ID,
			"ticket_id": ticket.ID,
			"cancel":    cancel,
		}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// requestPendingRefunds creates refund jobs for every ticket already
// waiting on one. The ticket worker also raises a refund job per ticket as
// it processes the cancellation, so this pass only matters on replay after
// a crash; the payout worker tolerates the duplicates.
func (w *ShowWorker) requestPendingRefunds(ctx context.Context, show *models.Show) error {
	tickets, err := w.store.ActiveTicketsForShow(ctx, show.ID)
	if err != nil {
		return err
	}
	for _, ticket := range tickets {
		if ticket.TicketState.Status != models.TicketRefundRequested {
			continue
		}
		err := w.enqueue(ctx, machines.QueuePayout, machines.JobCreateRefund, map[string]any{
			"ticket_id": ticket.ID,
		}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// checkCancellationProgress converges the cancellation: once the last
// active ticket has cancelled or been refunded, the show itself cancels.
func (w *ShowWorker) checkCancellationProgress(ctx context.Context, show *models.Show) error {
	switch show.ShowState.Status {
	case models.ShowCancellationInitiated, models.ShowRefundInitiated:
	default:
		return nil
	}
	tickets, err := w.store.ActiveTicketsForShow(ctx, show.ID)
	if err != nil {
		return err
	}
	if len(tickets) > 0 {
		return nil
	}
	return w.enqueue(ctx, machines.QueueShow, machines.ShowCancelledEvent,
		map[string]any{"show_id": show.ID}, 0)
}

func (w *ShowWorker) broadcastShowEnded(ctx context.Context, show *models.Show) error {
	tickets, err := w.store.ActiveTicketsForShow(ctx, show.ID)
	if err != nil {
		return err
	}
	for _, ticket := range tickets {
		err := w.enqueue(ctx, machines.QueueTicket, machines.ShowEnded, map[string]any{
			"show_id":   show.ID,
			"ticket_id": ticket.ID,
		}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// afterTicketFinalized ends the escrow early when every ticket has already
// settled; there is nothing left to wait for.
func (w *ShowWorker) afterTicketFinalized(ctx context.Context, show *models.Show) error {
	if show.ShowState.Status != models.ShowInEscrow {
		return nil
	}
	tickets, err := w.store.ActiveTicketsForShow(ctx, show.ID)
	if err != nil {
		return err
	}
	if len(tickets) > 0 {
		return nil
	}
	return w.enqueue(ctx, machines.QueueShow, machines.ShowFinalizedEvent, map[string]any{
		"show_id": show.ID,
		"finalize": models.Finalize{
			FinalizedAt: time.Now(),
			FinalizedBy: models.ActorCustomer,
		},
	}, 0)
}

// settle runs once per show, right after the FINALIZED transition commits.
// It force-finalizes stragglers, folds the ticket ledger into the show's
// sales stats, rolls the result into the creator's lifetime stats, and
// posts the earnings and commission splits.
func (w *ShowWorker) settle(ctx context.Context, show *models.Show) error {
	if err := w.finalizeStragglers(ctx, show); err != nil {
		return err
	}
	if err := w.aggregateStats(ctx, show); err != nil {
		return err
	}
	creator, err := w.store.CreatorByID(ctx, show.CreatorID)
	if err != nil {
		return err
	}
	if err := w.rollUpCreatorStats(ctx, show, creator); err != nil {
		return err
	}
	return w.postEarnings(ctx, show, creator)
}

func (w *ShowWorker) finalizeStragglers(ctx context.Context, show *models.Show) error {
	tickets, err := w.store.ActiveTicketsForShow(ctx, show.ID)
	if err != nil {
		return err
	}
	for _, ticket := range tickets {
		err := w.enqueue(ctx, machines.QueueTicket, machines.TicketFinalized, map[string]any{
			"show_id":   show.ID,
			"ticket_id": ticket.ID,
			"finalize": models.Finalize{
				FinalizedAt: time.Now(),
				FinalizedBy: models.ActorTimer,
			},
		}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// aggregateStats recomputes the money and feedback totals from the ticket
// documents themselves rather than trusting incrementally tracked numbers.
func (w *ShowWorker) aggregateStats(ctx context.Context, show *models.Show) error {
	totals, err := w.store.AggregateTicketTotals(ctx, show.ID)
	if err != nil {
		return err
	}
	feedback, err := w.store.AggregateFeedback(ctx, show.ID)
	if err != nil {
		return err
	}
	show.ShowState.SalesStats.TotalSales = totals.TotalSales
	show.ShowState.SalesStats.TotalRefunds = totals.TotalRefunds
	revenue := models.CurrencyTotals{}
	for _, currency := range models.Currencies {
		net := totals.TotalSales.Get(currency) - totals.TotalRefunds.Get(currency)
		if net != 0 {
			revenue.Add(currency, net)
		}
	}
	show.ShowState.SalesStats.TotalRevenue = revenue
	show.ShowState.FeedbackStats = models.FeedbackStats{
		NumberOfReviews: feedback.NumberOfReviews,
		AverageRating:   feedback.AverageRating,
	}
	return w.store.UpdateShowState(ctx, show.ID, show.ShowState)
}

// rollUpCreatorStats is incremental, so it carries its own replay guard:
// the show's ID is recorded in the sales stats and both this copy and the
// stored one refuse a second roll-up for the same show.
func (w *ShowWorker) rollUpCreatorStats(ctx context.Context, show *models.Show, creator *models.Creator) error {
	if creator.SalesStats.Settled(show.ID) {
		slog.Info("creator stats already settled for show", "show_id", show.ID, "creator_id", creator.ID)
		return nil
	}
	stats := &creator.SalesStats
	stats.CompletedShows++
	stats.SettledShowIDs = append(stats.SettledShowIDs, show.ID)
	for _, currency := range models.Currencies {
		if sales := show.ShowState.SalesStats.TotalSales.Get(currency); sales != 0 {
			stats.TotalSales.Add(currency, sales)
		}
		if refunds := show.ShowState.SalesStats.TotalRefunds.Get(currency); refunds != 0 {
			stats.TotalRefunds.Add(currency, refunds)
		}
		if revenue := show.ShowState.SalesStats.TotalRevenue.Get(currency); revenue != 0 {
			stats.TotalRevenue.Add(currency, revenue)
		}
	}
	shown := show.ShowState.FeedbackStats
	if shown.NumberOfReviews > 0 {
		have := creator.FeedbackStats
		count := have.NumberOfReviews + shown.NumberOfReviews
		creator.FeedbackStats.AverageRating = (have.AverageRating*float64(have.NumberOfReviews) +
			shown.AverageRating*float64(shown.NumberOfReviews)) / float64(count)
		creator.FeedbackStats.NumberOfReviews = count
	}
	return w.store.UpdateCreatorStatsGuarded(ctx, creator, show.ID)
}

// postEarnings splits the show revenue between the creator and, when an
// agent brokered the show, the agent. The guarded wallet write keeps the
// posting at most once per show per wallet even across job replays.
func (w *ShowWorker) postEarnings(ctx context.Context, show *models.Show, creator *models.Creator) error {
	commission := 0
	if show.AgentID != "" {
		commission = creator.CommissionRate
	}
	err := w.postWalletEarning(ctx, show, show.CreatorID, machines.WalletEvent{
		Type:              machines.ShowEarningsPosted,
		Show:              show,
		EarningPercentage: 100 - commission,
	})
	if err != nil {
		return err
	}
	if commission == 0 {
		return nil
	}
	return w.postWalletEarning(ctx, show, show.AgentID, machines.WalletEvent{
		Type:              machines.ShowCommissionPosted,
		Show:              show,
		EarningPercentage: commission,
	})
}

func (w *ShowWorker) postWalletEarning(ctx context.Context, show *models.Show, userID string, event machines.WalletEvent) error {
	wallet, err := w.store.WalletByUser(ctx, userID)
	if err != nil {
		return err
	}
	machine := machines.NewWalletMachine(wallet, func(updated *models.Wallet, matched bool) error {
		if !matched {
			slog.Info("earning already posted", "show_id", show.ID, "user_id", userID)
			return nil
		}
		return w.store.UpdateWalletGuarded(ctx, updated, show.ID)
	})
	if err := machine.Send(event); err != nil {
		monitoring.TrackTransition("wallet", event.Type, "rejected")
		return err
	}
	monitoring.TrackTransition("wallet", event.Type, "applied")
	return nil
}
