package models

// CreatorSalesStats is the lifetime roll-up across a creator's completed
// shows, accumulated when each show finalizes. SettledShowIDs records the
// shows already folded in, so a replayed settlement cannot count a show
// twice.
type CreatorSalesStats struct {
	CompletedShows int            `json:"completed_shows"`
	TotalSales     CurrencyTotals `json:"total_sales"`
	TotalRefunds   CurrencyTotals `json:"total_refunds"`
	TotalRevenue   CurrencyTotals `json:"total_revenue"`
	SettledShowIDs []string       `json:"settled_show_ids,omitempty"`
}

// Settled reports whether the show's totals are already in the roll-up.
func (s CreatorSalesStats) Settled(showID string) bool {
	for _, id := range s.SettledShowIDs {
		if id == showID {
			return true
		}
	}
	return false
}

func NewCreatorSalesStats() CreatorSalesStats {
	return CreatorSalesStats{
		TotalSales:   CurrencyTotals{},
		TotalRefunds: CurrencyTotals{},
		TotalRevenue: CurrencyTotals{},
	}
}

type Creator struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	AgentID         string `json:"agent_id,omitempty"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	// CommissionRate is the agent's percentage of show revenue; the
	// creator keeps the remainder.
	CommissionRate int               `json:"commission_rate"`
	PayoutAddress  string            `json:"payout_address,omitempty"`
	FeedbackStats  FeedbackStats     `json:"feedback_stats"`
	SalesStats     CreatorSalesStats `json:"sales_stats"`
}
