package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dropwatch/internal/domain"
)

const (
	defaultAPIBase         = "https://api.telegram.org"
	defaultPollErrorWindow = 10 * time.Minute
)

type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client

	// A poll error whose text matches the last one broadcast within
	// pollErrorWindow is dropped, so an outage sends one message and not
	// one per tick.
	pollErrorWindow time.Duration
	now             func() time.Time
	mu              sync.Mutex
	lastPollError   string
	lastPollErrorAt time.Time
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},

		pollErrorWindow: defaultPollErrorWindow,
		now:             time.Now,
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// WithPollErrorWindow sets how long an identical poll error stays muted.
// Zero broadcasts every poll error.
func (n *Notifier) WithPollErrorWindow(window time.Duration) *Notifier {
	n.pollErrorWindow = window
	return n
}

func (n *Notifier) Enabled() bool {
	return n.botToken != "" && n.chatID != ""
}

// Publish broadcasts the events worth a human's attention; everything else is
// ignored.
func (n *Notifier) Publish(ctx context.Context, event domain.Event) error {
	text := FormatEvent(event)
	if text == "" {
		return nil
	}
	if event.Type == domain.EventPollError && !n.claimPollError(text) {
		return nil
	}
	err := n.Notify(ctx, text)
	if err != nil && event.Type == domain.EventPollError {
		n.releasePollError(text)
	}
	return err
}

func (n *Notifier) claimPollError(text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if text == n.lastPollError && now.Sub(n.lastPollErrorAt) < n.pollErrorWindow {
		return false
	}
	n.lastPollError = text
	n.lastPollErrorAt = now
	return true
}

// releasePollError forgets a poll error whose broadcast failed so the next
// occurrence is tried again.
func (n *Notifier) releasePollError(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastPollError == text {
		n.lastPollError = ""
		n.lastPollErrorAt = time.Time{}
	}
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.Enabled() || text == "" {
		return nil
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)

	body := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// FormatEvent renders the notification text for an event, or "" when the
// event is not broadcast.
func FormatEvent(event domain.Event) string {
	p := event.Payload
	switch event.Type {
	case domain.EventItemDiscovered:
		var b strings.Builder
		fmt.Fprintf(&b, "New item %s: %s\n", event.ItemID, str(p, "title"))
		fmt.Fprintf(&b, "Cost: %s\n", str(p, "acquisition_cost"))
		if total, ok := p["total"]; ok {
			fmt.Fprintf(&b, "Supply: %v of %v left\n", p["remaining"], total)
		} else {
			b.WriteString("Supply: unlimited\n")
		}
		if str(p, "restriction") != "" {
			fmt.Fprintf(&b, "Restricted: %s\n", str(p, "restriction"))
		}
		if forced, _ := p["forced"].(bool); forced {
			b.WriteString("(forced test delivery)\n")
		}
		return strings.TrimRight(b.String(), "\n")
	case domain.EventAcquireSummary:
		if toInt(p["successes"]) <= 0 {
			return ""
		}
		name := str(p, "display_name")
		if name == "" {
			name = event.Identity
		}
		return fmt.Sprintf("Acquired %d x item %s for %s (%d failed, %d attempts)",
			toInt(p["successes"]), event.ItemID, name, toInt(p["failures"]), toInt(p["attempts"]))
	case domain.EventPollError:
		return "Catalog poll failed: " + str(p, "error")
	default:
		return ""
	}
}

func str(p map[string]interface{}, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// toInt accepts both in-process ints and numbers decoded from JSON.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
