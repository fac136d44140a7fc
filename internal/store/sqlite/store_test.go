package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwatch/internal/domain"
	storepkg "dropwatch/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndGetEvent(t *testing.T) {
	s := openTestStore(t)
	ev := s.AppendEvent(domain.EventAcquireSuccess, "5170233102089322756", "alice", map[string]interface{}{"attempt": 2})

	got, err := s.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventAcquireSuccess, got.Type)
	assert.Equal(t, domain.ItemID("5170233102089322756"), got.ItemID)
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, float64(2), got.Payload["attempt"])
	assert.WithinDuration(t, ev.CreatedAt, got.CreatedAt, 0)

	_, err = s.GetEvent("missing")
	assert.ErrorIs(t, err, storepkg.ErrNotFound)
}

func TestListEvents_NewestFirstWithTypeFilter(t *testing.T) {
	s := openTestStore(t)
	s.AppendEvent(domain.EventItemDiscovered, "1", "", nil)
	s.AppendEvent(domain.EventAcquireSummary, "1", "alice", nil)
	last := s.AppendEvent(domain.EventItemDiscovered, "2", "", nil)

	all := s.ListEvents(10)
	require.Len(t, all, 3)
	assert.Equal(t, last.ID, all[0].ID)

	discovered := s.ListEvents(10, domain.EventItemDiscovered)
	require.Len(t, discovered, 2)
	assert.Equal(t, domain.ItemID("2"), discovered[0].ItemID)

	mixed := s.ListEvents(10, domain.EventItemDiscovered, domain.EventAcquireSummary)
	assert.Len(t, mixed, 3)

	assert.Len(t, s.ListEvents(1), 1)
	assert.Empty(t, s.ListEvents(5, domain.EventPollError))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	ev := s.AppendEvent(domain.EventBaselineEstablished, "", "", map[string]interface{}{"items": 12})
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(12), got.Payload["items"])
}

func TestListEvents_HugeLimitReturnsWhatExists(t *testing.T) {
	s := openTestStore(t)
	s.AppendEvent(domain.EventItemDiscovered, "1", "", nil)

	assert.Len(t, s.ListEvents(1<<45), 1)
}
