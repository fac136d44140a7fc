package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemIDUnmarshal_KeepsLargeNumericPrecision(t *testing.T) {
	var item Item
	raw := `{"id": 5170233102089322756, "title": "Bear", "acquisition_cost": "15"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	assert.Equal(t, ItemID("5170233102089322756"), item.ID)

	out, err := json.Marshal(item.ID)
	require.NoError(t, err)
	assert.Equal(t, `"5170233102089322756"`, string(out))
}

func TestItemIDUnmarshal_AcceptsQuotedIDs(t *testing.T) {
	var id ItemID
	require.NoError(t, json.Unmarshal([]byte(`"00042"`), &id))
	assert.Equal(t, ItemID("42"), id)

	require.NoError(t, json.Unmarshal([]byte(`"gift-abc"`), &id))
	assert.Equal(t, ItemID("gift-abc"), id)
}

func TestItemIDUnmarshal_RejectsFloats(t *testing.T) {
	var id ItemID
	err := json.Unmarshal([]byte(`1.5e20`), &id)
	assert.ErrorIs(t, err, ErrInvalidItemID)
}

func TestParseItemID_Empty(t *testing.T) {
	_, err := ParseItemID("  ")
	assert.ErrorIs(t, err, ErrInvalidItemID)
}

func TestTotalSupply(t *testing.T) {
	total := int64(500)
	limited := Item{Availability: &Availability{Remaining: 12, Total: &total}}
	got, ok := limited.TotalSupply()
	assert.True(t, ok)
	assert.Equal(t, int64(500), got)
	assert.Equal(t, int64(12), limited.Remaining())

	_, ok = Item{}.TotalSupply()
	assert.False(t, ok)
	_, ok = Item{Availability: &Availability{Remaining: 3}}.TotalSupply()
	assert.False(t, ok)
}
