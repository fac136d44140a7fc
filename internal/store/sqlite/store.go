// Package sqlite keeps the event log in a local SQLite file for single-node
// deployments without a postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dropwatch/internal/domain"
	storepkg "dropwatch/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		item_id    TEXT NOT NULL DEFAULT '',
		identity   TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_type_created ON events(event_type, created_at)`,
}

const selectColumns = `SELECT id, event_type, item_id, identity, payload, created_at FROM events`

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer avoids SQLITE_BUSY and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	s, err := NewStoreFromDB(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewStoreFromDB(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "sqlite")}
	for _, stmt := range schema {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("migrate events: %w", err)
		}
	}
	return s, nil
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
		`INSERT INTO events(id, event_type, item_id, identity, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(eventType), string(itemID), identity, string(raw), event.CreatedAt.UnixNano(),
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
	query := selectColumns
	args := make([]interface{}, 0, len(types)+1)
	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		query += ` WHERE event_type IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.logger.Warn("list events failed", "error", err)
		return []domain.Event{}
	}
	defer func() { _ = rows.Close() }()

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
	e, err := scanEvent(s.db.QueryRow(selectColumns+` WHERE id = ?`, id))
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
		e         domain.Event
		eventType string
		itemID    string
		payload   string
		created   int64
	)
	if err := row.Scan(&e.ID, &eventType, &itemID, &e.Identity, &payload, &created); err != nil {
		return domain.Event{}, err
	}
	e.Type = domain.EventType(eventType)
	e.ItemID = domain.ItemID(itemID)
	e.CreatedAt = time.Unix(0, created).UTC()
	_ = json.Unmarshal([]byte(payload), &e.Payload)
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	return e, nil
}
