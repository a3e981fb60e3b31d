package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"showtix/machines"
	"showtix/models"
	"showtix/queue"
	"showtix/services"
)

// AdminHandler holds the arbitrator and operations surface: dispute
// rulings and queue depth introspection. Everything here requires
// superuser auth.
type AdminHandler struct {
	tickets *services.TicketService
	queue   *queue.Queue
}

func NewAdminHandler(tickets *services.TicketService, q *queue.Queue) *AdminHandler {
	return &AdminHandler{tickets: tickets, queue: q}
}

// DecideDispute records the arbitrator ruling on a disputed ticket.
func (h *AdminHandler) DecideDispute(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Arbitrator access required", nil)
	}

	var req struct {
		Decision string `json:"decision"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	decision := models.DisputeDecision(req.Decision)
	switch decision {
	case models.DecisionNoRefund, models.DecisionPartialRefund, models.DecisionFullRefund:
	default:
		return apis.NewBadRequestError("Unknown dispute decision", nil)
	}

	ticket, err := h.tickets.DecideDispute(e.Request.Context(), e.Request.PathValue("id"), decision)
	if err != nil {
		return transitionError("Ticket is not in dispute", err)
	}
	return e.JSON(http.StatusOK, ticket)
}

// QueueStats reports waiting, delayed and dead counts per queue.
func (h *AdminHandler) QueueStats(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Admin access required", nil)
	}

	ctx := e.Request.Context()
	stats := map[string]any{}
	for _, name := range []string{machines.QueueShow, machines.QueueTicket, machines.QueuePayout, machines.QueueInvoice} {
		waiting, delayed, dead, err := h.queue.Depth(ctx, name)
		if err != nil {
			return apis.NewBadRequestError("Failed to read queue depth", err)
		}
		stats[name] = map[string]int64{
			"waiting": waiting,
			"delayed": delayed,
			"dead":    dead,
		}
	}
	return e.JSON(http.StatusOK, stats)
}
