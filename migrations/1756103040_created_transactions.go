package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("transactions")
		collection.Fields.Add(
			&core.TextField{Name: "ticket_id"},
			&core.TextField{Name: "creator_id"},
			&core.TextField{Name: "agent_id"},
			&core.TextField{Name: "hash"},
			&core.TextField{Name: "from"},
			&core.TextField{Name: "to"},
			&core.TextField{Name: "reason"},
			&core.NumberField{Name: "amount"},
			&core.TextField{Name: "currency"},
			&core.TextField{Name: "rate"},
			&core.TextField{Name: "invoice_id"},
			&core.TextField{Name: "payout_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		collection.AddIndex("idx_transactions_ticket", false, "ticket_id", "")
		collection.AddIndex("idx_transactions_payout", false, "payout_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("transactions")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
