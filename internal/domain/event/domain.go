package event

import (
	"encoding/json"
	"time"
)

// Event is one business occurrence fanned out by the trigger.
type Event struct {
	Name       string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	UserID     string          `json:"user_id,omitempty"`
	Audience   Audience        `json:"audience"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Audience selects who a realtime push reaches. The zero value means
// every connected user; a UserID narrows it to that user's sessions.
type Audience struct {
	UserID string `json:"user_id,omitempty"`
}

func (a Audience) Everyone() bool { return a.UserID == "" }

// Definition declares which channels an event name participates in.
// EmailTemplate == "" means no email channel; Realtime controls whether
// the trigger pushes the event to open sockets.
type Definition struct {
	Name          string
	EmailTemplate string
	Realtime      bool
}

type Catalog map[string]Definition

func (c Catalog) Lookup(name string) (Definition, bool) {
	d, ok := c[name]
	return d, ok
}

// DefaultCatalog lists the recognized farm events. Unknown names are
// logged and dropped by the trigger.
func DefaultCatalog() Catalog {
	defs := []Definition{
		{Name: "ticket.created", EmailTemplate: "ticket_created", Realtime: true},
		{Name: "ticket.updated", Realtime: true},
		{Name: "ticket.closed", Realtime: true},
		{Name: "inventory.low_stock", EmailTemplate: "low_stock_alert", Realtime: true},
		{Name: "batch.created", Realtime: true},
		{Name: "batch.closed", Realtime: true},
		{Name: "tank.updated", Realtime: true},
		{Name: "feeding.logged"},
		{Name: "wastage.recorded", EmailTemplate: "wastage_alert"},
	}
	c := make(Catalog, len(defs))
	for _, d := range defs {
		c[d.Name] = d
	}
	return c
}
