package store

import (
	"errors"

	"dropwatch/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the event log shared by the emitter and the control surface.
type Store interface {
	AppendEvent(eventType domain.EventType, itemID domain.ItemID, identity string, payload map[string]interface{}) domain.Event
	// ListEvents returns the newest events first, optionally restricted to types.
	ListEvents(limit int, types ...domain.EventType) []domain.Event
	GetEvent(id string) (domain.Event, error)
}
