package services

import (
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"showtix/models"
)

// Notifier pushes realtime state updates to the clients watching a ticket
// or a show. Delivery is best effort: persistence and queue dispatch never
// wait on it.
type Notifier struct {
	pubnub *pubnub.PubNub
}

func NewNotifier(pn *pubnub.PubNub) *Notifier {
	return &Notifier{pubnub: pn}
}

func (n *Notifier) TicketUpdated(ticket *models.Ticket) {
	if n == nil || n.pubnub == nil {
		return
	}
	channel := fmt.Sprintf("ticket-%s", ticket.ID)
	_, pnStatus, err := n.pubnub.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":      "ticket_updated",
			"ticket_id": ticket.ID,
			"show_id":   ticket.ShowID,
			"status":    ticket.TicketState.Status,
			"active":    ticket.TicketState.Active,
		}).
		Execute()
	if err != nil || pnStatus.Error != nil {
		slog.Warn("ticket notify failed", "ticket_id", ticket.ID, "error", err)
	}
}

func (n *Notifier) ShowUpdated(show *models.Show) {
	if n == nil || n.pubnub == nil {
		return
	}
	channel := fmt.Sprintf("show-%s", show.ID)
	_, pnStatus, err := n.pubnub.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":              "show_updated",
			"show_id":           show.ID,
			"status":            show.ShowState.Status,
			"active":            show.ShowState.Active,
			"tickets_available": show.ShowState.SalesStats.TicketsAvailable,
		}).
		Execute()
	if err != nil || pnStatus.Error != nil {
		slog.Warn("show notify failed", "show_id", show.ID, "error", err)
	}
}

// CustomerPresence relays join/leave of a customer to the show channel so
// the creator's client can render the audience.
func (n *Notifier) CustomerPresence(showID, customerName, change string) {
	if n == nil || n.pubnub == nil {
		return
	}
	channel := fmt.Sprintf("show-%s", showID)
	_, pnStatus, err := n.pubnub.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":          "presence",
			"change":        change,
			"customer_name": customerName,
		}).
		Execute()
	if err != nil || pnStatus.Error != nil {
		slog.Warn("presence notify failed", "show_id", showID, "error", err)
	}
}
