package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("shows")
		collection.Fields.Add(
			&core.TextField{Name: "creator_id", Required: true},
			&core.TextField{Name: "agent_id"},
			&core.TextField{Name: "name", Required: true},
			&core.NumberField{Name: "duration"},
			&core.NumberField{Name: "capacity"},
			&core.NumberField{Name: "price_amount"},
			&core.TextField{Name: "price_currency"},
			&core.JSONField{Name: "creator_info"},
			&core.JSONField{Name: "state"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_shows_creator", false, "creator_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("shows")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
