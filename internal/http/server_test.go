package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dropwatch/internal/catalog"
	"dropwatch/internal/config"
	"dropwatch/internal/domain"
	"dropwatch/internal/remote"
	"dropwatch/internal/service/acquire"
	"dropwatch/internal/store/memory"
)

type stubEngine struct{}

func (stubEngine) Poll(context.Context) bool { return true }
func (stubEngine) Lookup(domain.ItemID) (domain.Item, bool) { return domain.Item{ID: "1"}, true }
func (stubEngine) Items() []domain.Item { return nil }
func (stubEngine) KnownCount() int { return 1 }
func (stubEngine) Stats() catalog.Stats { return catalog.Stats{} }

type stubAcquirer struct{}

func (stubAcquirer) AcquireManually(ctx context.Context, cache acquire.ItemCache, ids []domain.ItemID, quantity int) ([]domain.AcquisitionSummary, error) {
	return []domain.AcquisitionSummary{{ItemID: ids[0], Identity: "alice", Successes: quantity, Attempts: quantity}}, nil
}

func TestManualActionsAreAuditedWithAdminSubject(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	pool, err := remote.NewStaticPool(config.Roster{
		Reader:     "alice",
		Identities: []config.RosterIdentity{{Name: "alice", Destination: "self", Token: "tok"}},
	}, nil)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	cfg := config.Config{AdminUsername: "ops", AdminPassword: "pw", JWTSecret: "secret", QuantityPerIdentity: 1}
	api := httptest.NewServer(NewServer(cfg, memory.NewStore(0), stubEngine{}, stubAcquirer{}, pool, logger).Router())
	defer api.Close()
	client := &http.Client{Timeout: 5 * time.Second}

	token := strField(t, postJSON(t, client, api.URL+"/admin/login", map[string]string{
		"username": "ops",
		"password": "pw",
	}, ""), "token")
	_ = postJSON(t, client, api.URL+"/poll", map[string]interface{}{}, token)
	_ = postJSON(t, client, api.URL+"/acquire", map[string]interface{}{"item_ids": []string{"1"}}, token)

	out := logs.String()
	if !strings.Contains(out, `msg="manual poll" component=http admin=ops`) {
		t.Fatalf("expected audited poll, got:\n%s", out)
	}
	if !strings.Contains(out, `msg="manual acquisition" component=http admin=ops items=1 quantity=1`) {
		t.Fatalf("expected audited acquisition, got:\n%s", out)
	}
}
