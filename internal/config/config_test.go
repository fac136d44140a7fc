package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"POLL_INTERVAL", "SUPPLY_CEILING", "AUTO_ACQUIRE", "TERMINAL_MARKERS", "MAX_ATTEMPTS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, int64(1000), cfg.SupplyCeiling)
	assert.True(t, cfg.AutoAcquire)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, DefaultTerminalMarkers, cfg.TerminalMarkers)
	assert.False(t, cfg.PollIntervalTooLow())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "50ms")
	t.Setenv("AUTO_ACQUIRE", "false")
	t.Setenv("TERMINAL_MARKERS", " LIMIT , ,TIER ")
	t.Setenv("SUPPLY_CEILING", "not-a-number")

	cfg := Load()
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.PollIntervalTooLow())
	assert.False(t, cfg.AutoAcquire)
	assert.Equal(t, []string{"LIMIT", "TIER"}, cfg.TerminalMarkers)
	assert.Equal(t, int64(1000), cfg.SupplyCeiling)
}

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yaml")
	doc := `
identities:
  - name: main
    display_name: "@main"
    destination: "self"
    token: abc
  - name: alt
    destination: "@channel"
    token_enc: "ZW5j"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	roster, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, "main", roster.Reader)
	require.Len(t, roster.Identities, 2)
	assert.Equal(t, "@channel", roster.Identities[1].Destination)
	assert.Equal(t, "ZW5j", roster.Identities[1].TokenEnc)
}

func TestLoadRoster_RejectsUnknownReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yaml")
	doc := "reader: ghost\nidentities:\n  - name: main\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := LoadRoster(path)
	assert.ErrorContains(t, err, "reader \"ghost\"")
}

func TestLoadRoster_RejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yaml")
	doc := "identities:\n  - name: a\n  - name: a\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := LoadRoster(path)
	assert.ErrorContains(t, err, "duplicate identity")
}

func TestLoadMarkerRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.yaml")
	doc := `
markers:
  - match: SOLD_OUT
  - match: FLOOD_WAIT
    kind: transient
  - match: ""
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := LoadMarkerRules(path)
	require.NoError(t, err)
	assert.Equal(t, []MarkerRule{
		{Match: "SOLD_OUT", Kind: "terminal"},
		{Match: "FLOOD_WAIT", Kind: "transient"},
	}, rules)
}
