package services

import (
	"context"
	"time"

	"showtix/config"
	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/store"
)

// Job types owned by the services layer. The machine-raised job types live
// next to the machines.
const (
	JobDisputePayout = "DISPUTE PAYOUT"
	JobCreatePayout  = "CREATE PAYOUT"
	JobPayoutUpdate  = "PAYOUT UPDATE"
	JobInvoiceUpdate = "INVOICE UPDATE"
)

// ShowService is the command side of the show lifecycle. Creator commands
// are serialized through the show queue so every show-state write happens
// on the show worker.
type ShowService struct {
	store  store.Store
	queue  queue.Enqueuer
	config *config.Config
}

func NewShowService(st store.Store, q queue.Enqueuer, cfg *config.Config) *ShowService {
	return &ShowService{store: st, queue: q, config: cfg}
}

type CreateShowParams struct {
	CreatorID string
	AgentID   string
	Name      string
	Duration  int
	Capacity  int
	Price     models.Money
}

func (s *ShowService) Create(ctx context.Context, params CreateShowParams) (*models.Show, error) {
	creator, err := s.store.CreatorByID(ctx, params.CreatorID)
	if err != nil {
		return nil, err
	}
	show := &models.Show{
		CreatorID: params.CreatorID,
		AgentID:   params.AgentID,
		Name:      params.Name,
		Duration:  params.Duration,
		Capacity:  params.Capacity,
		Price:     params.Price,
		CreatorInfo: models.CreatorInfo{
			Name:            creator.Name,
			ProfileImageURL: creator.ProfileImageURL,
			AverageRating:   creator.FeedbackStats.AverageRating,
			NumberOfReviews: creator.FeedbackStats.NumberOfReviews,
		},
		ShowState: models.NewShowState(params.Capacity),
	}
	if err := s.store.CreateShow(ctx, show); err != nil {
		return nil, err
	}
	return show, nil
}

func (s *ShowService) Show(ctx context.Context, showID string) (*models.Show, error) {
	return s.store.ShowByID(ctx, showID)
}

func (s *ShowService) enqueueShowJob(ctx context.Context, jobType string, payload map[string]any) error {
	job := &queue.Job{
		Queue:       machines.QueueShow,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: s.config.MaxJobAttempts,
	}
	return s.queue.Enqueue(ctx, job, 0)
}

func (s *ShowService) Start(ctx context.Context, showID string) error {
	return s.enqueueShowJob(ctx, machines.ShowStarted, map[string]any{"show_id": showID})
}

func (s *ShowService) Stop(ctx context.Context, showID string) error {
	return s.enqueueShowJob(ctx, machines.ShowStopped, map[string]any{"show_id": showID})
}

// Cancel starts the cancellation flow; the show worker fans the
// cancellation out to every active ticket.
func (s *ShowService) Cancel(ctx context.Context, showID string, requestedBy models.ActorType, reason models.CancelReason) error {
	return s.enqueueShowJob(ctx, machines.CancellationInitiated, map[string]any{
		"show_id": showID,
		"cancel": models.Cancel{
			CancelledAt: time.Now(),
			RequestedBy: requestedBy,
			Reason:      reason,
		},
	})
}
