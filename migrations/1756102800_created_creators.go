package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("creators")
		collection.Fields.Add(
			&core.TextField{Name: "user_id"},
			&core.TextField{Name: "agent_id"},
			&core.TextField{Name: "name", Required: true},
			&core.TextField{Name: "profile_image_url"},
			&core.NumberField{Name: "commission_rate"},
			&core.TextField{Name: "payout_address"},
			&core.JSONField{Name: "feedback_stats"},
			&core.JSONField{Name: "sales_stats"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_creators_user", false, "user_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("creators")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
