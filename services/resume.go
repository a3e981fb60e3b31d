package services

import (
	"context"
	"log/slog"
	"time"

	"showtix/config"
	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/store"
)

// Resumer re-arms the timer jobs for shows that were mid-lifecycle when
// the process went down. Jobs that survived in Redis are simply skipped
// when the duplicate arrives, so rescheduling is always safe.
type Resumer struct {
	store  store.Store
	queue  queue.Enqueuer
	shows  *ShowWorker
	config *config.Config
}

func NewResumer(st store.Store, q queue.Enqueuer, shows *ShowWorker, cfg *config.Config) *Resumer {
	return &Resumer{store: st, queue: q, shows: shows, config: cfg}
}

func (r *Resumer) Resume(ctx context.Context) error {
	shows, err := r.store.ActiveShows(ctx)
	if err != nil {
		return err
	}
	resumed := 0
	for _, show := range shows {
		if err := r.resumeShow(ctx, show); err != nil {
			slog.Error("resume show failed", "show_id", show.ID,
				"status", show.ShowState.Status, "error", err)
			continue
		}
		resumed++
	}
	slog.Info("show resume pass done", "active", len(shows), "resumed", resumed)
	return nil
}

func (r *Resumer) resumeShow(ctx context.Context, show *models.Show) error {
	state := show.ShowState
	switch state.Status {
	case models.ShowStopped:
		var endedAt time.Time
		if state.Runtime != nil && state.Runtime.EndedAt != nil {
			endedAt = *state.Runtime.EndedAt
		}
		return r.enqueueShow(ctx, machines.ShowEndedEvent, map[string]any{
			"show_id": show.ID,
		}, remaining(endedAt, r.config.GracePeriod))
	case models.ShowInEscrow:
		var startedAt time.Time
		if state.Escrow != nil {
			startedAt = state.Escrow.StartedAt
		}
		return r.enqueueShow(ctx, machines.ShowFinalizedEvent, map[string]any{
			"show_id": show.ID,
			"finalize": models.Finalize{
				FinalizedAt: time.Now(),
				FinalizedBy: models.ActorTimer,
			},
		}, remaining(startedAt, r.config.EscrowPeriod))
	case models.ShowCancellationInitiated:
		return r.shows.fanOutCancellation(ctx, show, state.Cancel)
	case models.ShowRefundInitiated:
		if err := r.shows.requestPendingRefunds(ctx, show); err != nil {
			return err
		}
		return r.shows.checkCancellationProgress(ctx, show)
	}
	return nil
}

func (r *Resumer) enqueueShow(ctx context.Context, jobType string, payload map[string]any, delay time.Duration) error {
	return r.queue.Enqueue(ctx, &queue.Job{
		Queue:       machines.QueueShow,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: r.config.MaxJobAttempts,
	}, delay)
}

// remaining computes how much of a period is left since its start, zero
// when the deadline already passed or the start was never recorded.
func remaining(since time.Time, period time.Duration) time.Duration {
	if since.IsZero() {
		return 0
	}
	left := time.Until(since.Add(period))
	if left < 0 {
		return 0
	}
	return left
}
