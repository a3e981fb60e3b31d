package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")
		collection.Fields.Add(
			&core.TextField{Name: "show_id", Required: true},
			&core.TextField{Name: "customer_id", Required: true},
			&core.TextField{Name: "customer_name"},
			&core.TextField{Name: "creator_id"},
			&core.TextField{Name: "agent_id"},
			&core.NumberField{Name: "price_amount"},
			&core.TextField{Name: "price_currency"},
			&core.TextField{Name: "invoice_id"},
			&core.JSONField{Name: "state"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_tickets_show", false, "show_id", "")
		collection.AddIndex("idx_tickets_invoice", false, "invoice_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
