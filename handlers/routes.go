package handlers

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// RegisterRoutes mounts the client API onto the PocketBase router. All
// routes require an authenticated record; the per-handler checks decide
// ownership and superuser access.
func RegisterRoutes(se *core.ServeEvent, tickets *TicketHandler, shows *ShowHandler, wallets *WalletHandler, admin *AdminHandler) {
	g := se.Router.Group("/api/showtix")
	g.Bind(apis.RequireAuth())

	g.POST("/shows", shows.Create)
	g.GET("/shows/{id}", shows.Get)
	g.POST("/shows/{id}/start", shows.Start)
	g.POST("/shows/{id}/stop", shows.Stop)
	g.POST("/shows/{id}/cancel", shows.Cancel)
	g.POST("/shows/{showId}/tickets", tickets.Reserve)

	g.GET("/tickets/{id}", tickets.Get)
	g.POST("/tickets/{id}/pay", tickets.Pay)
	g.POST("/tickets/{id}/join", tickets.Join)
	g.POST("/tickets/{id}/leave", tickets.Leave)
	g.POST("/tickets/{id}/cancel", tickets.Cancel)
	g.POST("/tickets/{id}/feedback", tickets.Feedback)
	g.POST("/tickets/{id}/dispute", tickets.Dispute)

	g.GET("/wallet", wallets.Get)
	g.POST("/wallet/payouts", wallets.RequestPayout)

	g.POST("/admin/tickets/{id}/decision", admin.DecideDispute)
	g.GET("/admin/queues", admin.QueueStats)
}
