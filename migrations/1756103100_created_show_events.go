package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("show_events")
		collection.Fields.Add(
			&core.TextField{Name: "type", Required: true},
			&core.TextField{Name: "show_id", Required: true},
			&core.TextField{Name: "creator_id"},
			&core.TextField{Name: "agent_id"},
			&core.TextField{Name: "ticket_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		collection.AddIndex("idx_show_events_show", false, "show_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("show_events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
