package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"dropwatch/internal/domain"
	storepkg "dropwatch/internal/store"
)

const defaultCapacity = 10000

// Store keeps the most recent events in a bounded in-process log.
type Store struct {
	mu       sync.RWMutex
	capacity int
	events   []domain.Event
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		capacity: capacity,
		events:   make([]domain.Event, 0, 256),
	}
}

func (s *Store) AppendEvent(eventType domain.EventType, itemID domain.ItemID, identity string, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ItemID:    itemID,
		Identity:  identity,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = slices.Delete(s.events, 0, over)
	}
	return event
}

func (s *Store) ListEvents(limit int, types ...domain.EventType) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]domain.Event, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if len(types) > 0 && !slices.Contains(types, s.events[i].Type) {
			continue
		}
		out = append(out, s.events[i])
	}
	return out
}

func (s *Store) GetEvent(id string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID == id {
			return s.events[i], nil
		}
	}
	return domain.Event{}, storepkg.ErrNotFound
}
