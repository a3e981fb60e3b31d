package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"showtix/config"
	"showtix/machines"
	"showtix/monitoring"
	"showtix/queue"
	"showtix/security"
	"showtix/services"
	"showtix/store"
	"showtix/utils"
)

// WebhookHandler receives payment processor callbacks on a dedicated
// server, away from the client API. Callbacks only enqueue jobs; all state
// movement stays on the workers, so a webhook burst cannot race them.
//
// Invoice callbacks authenticate through the sealed token minted into the
// notification URL at invoice creation. An invalid token gets the same
// empty 200 as a valid one, so a caller probing tokens learns nothing.
type WebhookHandler struct {
	store  store.Store
	queue  queue.Enqueuer
	config *config.Config
}

func NewWebhookHandler(st store.Store, q queue.Enqueuer, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{store: st, queue: q, config: cfg}
}

// Server builds the webhook echo instance with its middleware and routes.
func (h *WebhookHandler) Server(limiter *security.RateLimiter) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	if limiter != nil {
		e.Use(limiter.WebhookRateLimit())
	}
	e.POST("/webhooks/invoices/:token", h.InvoiceUpdate)
	e.POST("/webhooks/payouts", h.PayoutUpdate)
	return e
}

func (h *WebhookHandler) InvoiceUpdate(c echo.Context) error {
	ticketID, err := utils.DecryptToken(c.PathParam("token"), h.config.AuthSalt)
	if err != nil {
		monitoring.TrackWebhook("invoice", "rejected")
		return c.NoContent(http.StatusOK)
	}

	var req struct {
		InvoiceID string `json:"invoice_id"`
		Status    string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		monitoring.TrackWebhook("invoice", "rejected")
		return c.NoContent(http.StatusOK)
	}

	ticket, err := h.store.TicketByID(c.Request().Context(), ticketID)
	if err != nil {
		monitoring.TrackWebhook("invoice", "rejected")
		return c.NoContent(http.StatusOK)
	}
	// The token proves the caller knows our minted URL; the invoice id
	// must still match the ticket it was minted for.
	if ticket.InvoiceID == "" ||
		(req.InvoiceID != "" && subtle.ConstantTimeCompare([]byte(req.InvoiceID), []byte(ticket.InvoiceID)) != 1) {
		monitoring.TrackWebhook("invoice", "rejected")
		return c.NoContent(http.StatusOK)
	}

	job := &queue.Job{
		Queue: machines.QueueInvoice,
		Type:  services.JobInvoiceUpdate,
		Payload: map[string]any{
			"invoice_id": ticket.InvoiceID,
			"status":     req.Status,
		},
		MaxAttempts: h.config.MaxJobAttempts,
	}
	if err := h.queue.Enqueue(c.Request().Context(), job, 0); err != nil {
		slog.Error("enqueue invoice webhook failed", "ticket_id", ticketID, "error", err)
		monitoring.TrackWebhook("invoice", "error")
		// A non-200 makes the processor redeliver later.
		return c.NoContent(http.StatusInternalServerError)
	}

	monitoring.TrackWebhook("invoice", "accepted")
	return c.NoContent(http.StatusOK)
}

// PayoutUpdate is the webhook twin of the payout notification channel;
// the processor retries it, so a missed realtime message still lands.
func (h *WebhookHandler) PayoutUpdate(c echo.Context) error {
	if h.config.PaymentAuthToken != "" {
		token := c.Request().Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(token), []byte("Bearer "+h.config.PaymentAuthToken)) != 1 {
			monitoring.TrackWebhook("payout", "rejected")
			return c.NoContent(http.StatusOK)
		}
	}

	var req struct {
		PayoutID string `json:"payout_id"`
		Status   string `json:"status"`
		TxHash   string `json:"tx_hash"`
	}
	if err := c.Bind(&req); err != nil || req.PayoutID == "" {
		monitoring.TrackWebhook("payout", "rejected")
		return c.NoContent(http.StatusOK)
	}

	job := &queue.Job{
		Queue: machines.QueuePayout,
		Type:  services.JobPayoutUpdate,
		Payload: map[string]any{
			"payout_id": req.PayoutID,
			"status":    req.Status,
			"tx_hash":   req.TxHash,
		},
		MaxAttempts: h.config.MaxJobAttempts,
	}
	if err := h.queue.Enqueue(c.Request().Context(), job, 0); err != nil {
		slog.Error("enqueue payout webhook failed", "payout_id", req.PayoutID, "error", err)
		monitoring.TrackWebhook("payout", "error")
		return c.NoContent(http.StatusInternalServerError)
	}

	monitoring.TrackWebhook("payout", "accepted")
	return c.NoContent(http.StatusOK)
}
