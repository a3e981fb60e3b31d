package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("wallets")
		collection.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "status"},
			&core.TextField{Name: "currency"},
			&core.NumberField{Name: "balance"},
			&core.NumberField{Name: "available_balance"},
			&core.NumberField{Name: "on_hold_balance"},
			&core.JSONField{Name: "earnings"},
			&core.JSONField{Name: "payouts"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_wallets_user", true, "user_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("wallets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
