package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dropwatch/internal/domain"
	storepkg "dropwatch/internal/store"
)

const schema = `create table if not exists events (
	id          uuid primary key,
	event_type  text not null,
	item_id     text not null default '',
	identity    text not null default '',
	payload     jsonb not null default '{}'::jsonb,
	created_at  timestamptz not null
)`

const selectColumns = `select id, event_type, item_id, identity, payload, created_at from events`

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewStoreFromDB(db, logger)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func NewStoreFromDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "postgres")}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate events: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AppendEvent(eventType domain.EventType, itemID domain.ItemID, identity string, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ItemID:    itemID,
		Identity:  identity,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil || payload == nil {
		raw = []byte("{}")
	}
	_, err = s.db.Exec(
		`insert into events(id, event_type, item_id, identity, payload, created_at)
		 values ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.ID, string(eventType), string(itemID), identity, string(raw), event.CreatedAt,
	)
	if err != nil {
		s.logger.Warn("append event failed", "event_type", string(eventType), "error", err)
	}
	return event
}

func (s *Store) ListEvents(limit int, types ...domain.EventType) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if len(types) == 0 {
		rows, err = s.db.Query(selectColumns+` order by created_at desc limit $1`, limit)
	} else {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		rows, err = s.db.Query(
			selectColumns+` where event_type = any($1) order by created_at desc limit $2`,
			pq.Array(names), limit,
		)
	}
	if err != nil {
		s.logger.Warn("list events failed", "error", err)
		return []domain.Event{}
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) GetEvent(id string) (domain.Event, error) {
	e, err := scanEvent(s.db.QueryRow(selectColumns+` where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, storepkg.ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (domain.Event, error) {
	var (
		e          domain.Event
		eventType  string
		itemID     string
		payloadRaw []byte
	)
	if err := row.Scan(&e.ID, &eventType, &itemID, &e.Identity, &payloadRaw, &e.CreatedAt); err != nil {
		return domain.Event{}, err
	}
	e.Type = domain.EventType(eventType)
	e.ItemID = domain.ItemID(itemID)
	_ = json.Unmarshal(payloadRaw, &e.Payload)
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	return e, nil
}
