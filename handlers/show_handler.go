package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"showtix/internal/status"
	"showtix/models"
	"showtix/services"
)

// ShowHandler is the creator-facing show API. Lifecycle commands only
// enqueue show jobs; the show worker applies them in order, so a start
// or stop returns before the state actually moved.
type ShowHandler struct {
	shows *services.ShowService
}

func NewShowHandler(shows *services.ShowService) *ShowHandler {
	return &ShowHandler{shows: shows}
}

func (h *ShowHandler) Create(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Name     string `json:"name"`
		Duration int    `json:"duration"`
		Capacity int    `json:"capacity"`
		AgentID  string `json:"agent_id"`
		Price    struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"price"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Name == "" || req.Capacity <= 0 || req.Duration <= 0 {
		return apis.NewBadRequestError("Name, positive capacity and duration are required", nil)
	}
	if req.Price.Amount < 0 {
		return apis.NewBadRequestError("Price cannot be negative", nil)
	}
	currency := models.CurrencyUSD
	if req.Price.Currency != "" {
		currency = models.CurrencyType(req.Price.Currency)
	}

	show, err := h.shows.Create(e.Request.Context(), services.CreateShowParams{
		CreatorID: e.Auth.Id,
		AgentID:   req.AgentID,
		Name:      req.Name,
		Duration:  req.Duration,
		Capacity:  req.Capacity,
		Price:     models.Money{Amount: req.Price.Amount, Currency: currency},
	})
	if err != nil {
		if errors.Is(err, status.ErrCreatorNotFound) {
			return apis.NewBadRequestError("No creator profile for this account", nil)
		}
		return apis.NewBadRequestError("Failed to create show", err)
	}
	return e.JSON(http.StatusOK, show)
}

func (h *ShowHandler) Get(e *core.RequestEvent) error {
	show, err := h.shows.Show(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		if errors.Is(err, status.ErrShowNotFound) {
			return apis.NewNotFoundError("Show not found", nil)
		}
		return apis.NewBadRequestError("Failed to load show", err)
	}
	return e.JSON(http.StatusOK, show)
}

func (h *ShowHandler) Start(e *core.RequestEvent) error {
	show, err := h.loadOwned(e)
	if err != nil {
		return err
	}
	if err := h.shows.Start(e.Request.Context(), show.ID); err != nil {
		return apis.NewBadRequestError("Failed to start show", err)
	}
	return e.JSON(http.StatusAccepted, map[string]any{"show_id": show.ID})
}

func (h *ShowHandler) Stop(e *core.RequestEvent) error {
	show, err := h.loadOwned(e)
	if err != nil {
		return err
	}
	if err := h.shows.Stop(e.Request.Context(), show.ID); err != nil {
		return apis.NewBadRequestError("Failed to stop show", err)
	}
	return e.JSON(http.StatusAccepted, map[string]any{"show_id": show.ID})
}

func (h *ShowHandler) Cancel(e *core.RequestEvent) error {
	show, err := h.loadOwned(e)
	if err != nil {
		return err
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	reason := models.CancelCreatorCancelled
	if req.Reason != "" {
		reason = models.CancelReason(req.Reason)
	}
	actor := models.ActorCreator
	if e.HasSuperuserAuth() {
		actor = models.ActorArbitrator
	}

	if err := h.shows.Cancel(e.Request.Context(), show.ID, actor, reason); err != nil {
		return apis.NewBadRequestError("Failed to cancel show", err)
	}
	return e.JSON(http.StatusAccepted, map[string]any{"show_id": show.ID})
}

func (h *ShowHandler) loadOwned(e *core.RequestEvent) (*models.Show, error) {
	if e.Auth == nil {
		return nil, apis.NewUnauthorizedError("Unauthorized", nil)
	}
	show, err := h.shows.Show(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		if errors.Is(err, status.ErrShowNotFound) {
			return nil, apis.NewNotFoundError("Show not found", nil)
		}
		return nil, apis.NewBadRequestError("Failed to load show", err)
	}
	if show.CreatorID != e.Auth.Id && !e.HasSuperuserAuth() {
		return nil, apis.NewForbiddenError("Not your show", nil)
	}
	return show, nil
}
