package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ItemID is the remote identifier of a catalog item. Numeric ids are kept in
// canonical decimal form so ids wider than 53 bits never pass through float64.
type ItemID string

var ErrInvalidItemID = errors.New("invalid item id")

// ParseItemID normalises raw into an ItemID. Integer input is canonicalised
// ("007" -> "7"); any other non-empty token is kept verbatim.
func ParseItemID(raw string) (ItemID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidItemID
	}
	if n, ok := new(big.Int).SetString(raw, 10); ok {
		return ItemID(n.String()), nil
	}
	return ItemID(raw), nil
}

func (id ItemID) String() string { return string(id) }

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseItemID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	n, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidItemID, string(data))
	}
	*id = ItemID(n.String())
	return nil
}

func (id ItemID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// Availability is the declared supply of an item. A nil Total means unlimited.
type Availability struct {
	Remaining int64  `json:"remaining"`
	Total     *int64 `json:"total,omitempty"`
}

type Item struct {
	ID               ItemID          `json:"id"`
	Title            string          `json:"title"`
	AcquisitionCost  decimal.Decimal `json:"acquisition_cost"`
	Availability     *Availability   `json:"availability,omitempty"`
	PerIdentityLimit *int64          `json:"per_identity_limit,omitempty"`
	Restriction      string          `json:"restriction,omitempty"`
	MediaRef         string          `json:"media_ref,omitempty"`
}

// TotalSupply reports the declared total supply. ok is false for unlimited items.
func (i Item) TotalSupply() (total int64, ok bool) {
	if i.Availability == nil || i.Availability.Total == nil {
		return 0, false
	}
	return *i.Availability.Total, true
}

func (i Item) Remaining() int64 {
	if i.Availability == nil {
		return 0
	}
	return i.Availability.Remaining
}

type Identity struct {
	Name string `json:"name"`
}

// AttemptOutcome is the result of a single acquisition call.
type AttemptOutcome struct {
	Identity string `json:"identity"`
	ItemID   ItemID `json:"item_id"`
	Attempt  int    `json:"attempt"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Terminal bool   `json:"terminal"`
}

// AcquisitionSummary is the per-identity result of one item's acquisition sequence.
type AcquisitionSummary struct {
	ItemID      ItemID `json:"item_id"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Successes   int    `json:"successes"`
	Failures    int    `json:"failures"`
	Attempts    int    `json:"attempts"`
	Terminal    bool   `json:"terminal"`
	LastError   string `json:"last_error,omitempty"`

	Outcomes []AttemptOutcome `json:"outcomes,omitempty"`
}

type EventType string

const (
	EventEngineStarted       EventType = "EngineStarted"
	EventBaselineEstablished EventType = "BaselineEstablished"
	EventItemDiscovered      EventType = "ItemDiscovered"
	EventAcquireSuccess      EventType = "AcquireSuccess"
	EventAcquireFailure      EventType = "AcquireFailure"
	EventAcquireSummary      EventType = "AcquireSummary"
	EventPollError           EventType = "PollError"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	ItemID    ItemID                 `json:"item_id,omitempty"`
	Identity  string                 `json:"identity,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
