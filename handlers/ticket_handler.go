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

// TicketHandler is the customer-facing ticket API. Every mutation goes
// through the ticket service, which owns the state machine; handlers only
// translate HTTP to events.
type TicketHandler struct {
	tickets *services.TicketService
}

func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// Reserve holds a seat on a show for the authenticated customer.
func (h *TicketHandler) Reserve(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticket, err := h.tickets.Reserve(e.Request.Context(), services.ReserveTicketParams{
		ShowID:       e.Request.PathValue("showId"),
		CustomerID:   e.Auth.Id,
		CustomerName: e.Auth.GetString("name"),
	})
	if err != nil {
		if errors.Is(err, status.ErrSoldOut) {
			return apis.NewBadRequestError("Show is sold out", nil)
		}
		if errors.Is(err, status.ErrInvalidTransition) {
			return apis.NewBadRequestError("Show is not selling tickets", nil)
		}
		return apis.NewBadRequestError("Failed to reserve ticket", err)
	}

	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Get(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, ticket)
}

// Pay signals payment intent; the customer is about to send funds to the
// invoice address.
func (h *TicketHandler) Pay(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}
	ticket, err = h.tickets.InitiatePayment(e.Request.Context(), ticket.ID)
	if err != nil {
		return transitionError("Ticket is not awaiting payment", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Join(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}
	ticket, err = h.tickets.JoinShow(e.Request.Context(), ticket.ID)
	if err != nil {
		return transitionError("Ticket cannot join the show", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Leave(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}
	ticket, err = h.tickets.LeaveShow(e.Request.Context(), ticket.ID)
	if err != nil {
		return transitionError("Ticket is not in the show", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Cancel(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	reason := models.CancelCustomerCancelled
	if req.Reason != "" {
		reason = models.CancelReason(req.Reason)
	}

	ticket, err = h.tickets.RequestCancellation(e.Request.Context(), ticket.ID, models.ActorCustomer, reason)
	if err != nil {
		return transitionError("Ticket cannot be cancelled", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Feedback(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}

	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Rating < 1 || req.Rating > 5 {
		return apis.NewBadRequestError("Rating must be between 1 and 5", nil)
	}

	ticket, err = h.tickets.SubmitFeedback(e.Request.Context(), ticket.ID, req.Rating, req.Comment)
	if err != nil {
		return transitionError("Ticket cannot take feedback", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) Dispute(e *core.RequestEvent) error {
	ticket, err := h.loadOwned(e)
	if err != nil {
		return err
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Reason == "" {
		return apis.NewBadRequestError("Dispute reason is required", nil)
	}

	ticket, err = h.tickets.InitiateDispute(e.Request.Context(), ticket.ID,
		models.ActorCustomer, models.DisputeReason(req.Reason))
	if err != nil {
		return transitionError("Ticket cannot be disputed", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

// loadOwned fetches the ticket from the path and checks the caller may act
// on it. Superusers pass for support tooling.
func (h *TicketHandler) loadOwned(e *core.RequestEvent) (*models.Ticket, error) {
	if e.Auth == nil {
		return nil, apis.NewUnauthorizedError("Unauthorized", nil)
	}
	ticket, err := h.tickets.Ticket(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return nil, apis.NewNotFoundError("Ticket not found", nil)
		}
		return nil, apis.NewBadRequestError("Failed to load ticket", err)
	}
	if ticket.CustomerID != e.Auth.Id && !e.HasSuperuserAuth() {
		return nil, apis.NewForbiddenError("Not your ticket", nil)
	}
	return ticket, nil
}

// transitionError folds a state machine rejection into a client error and
// keeps everything else as a generic failure.
func transitionError(message string, err error) error {
	if errors.Is(err, status.ErrInvalidTransition) {
		return apis.NewBadRequestError(message, nil)
	}
	return apis.NewBadRequestError("Request failed", err)
}
