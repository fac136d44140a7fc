package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"dropwatch/internal/catalog"
	"dropwatch/internal/config"
	"dropwatch/internal/domain"
	"dropwatch/internal/remote"
	"dropwatch/internal/service/acquire"
	storepkg "dropwatch/internal/store"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

const maxEventsPage = 1000

// Engine is the part of the detection engine the control surface drives.
type Engine interface {
	Poll(ctx context.Context) bool
	Lookup(id domain.ItemID) (domain.Item, bool)
	Items() []domain.Item
	KnownCount() int
	Stats() catalog.Stats
}

// ManualAcquirer runs operator-requested acquisitions.
type ManualAcquirer interface {
	AcquireManually(ctx context.Context, cache acquire.ItemCache, ids []domain.ItemID, quantity int) ([]domain.AcquisitionSummary, error)
}

type Server struct {
	cfg      config.Config
	store    storepkg.Store
	engine   Engine
	acquirer ManualAcquirer
	pool     remote.IdentityPool
	logger   *slog.Logger
	started  time.Time
}

func NewServer(
	cfg config.Config,
	store storepkg.Store,
	engine Engine,
	acquirer ManualAcquirer,
	pool remote.IdentityPool,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		acquirer: acquirer,
		pool:     pool,
		logger:   logger.With("component", "http"),
		started:  time.Now().UTC(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/admin/login", s.handleAdminLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Get("/status", s.handleStatus)
		protected.Post("/poll", s.handlePoll)
		protected.Post("/acquire", s.handleAcquire)
		protected.Get("/items", s.handleListItems)
		protected.Get("/items/{id}", s.handleGetItem)
		protected.Get("/events", s.handleListEvents)
		protected.Get("/events/{id}", s.handleGetEvent)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	identities := make([]map[string]string, 0)
	for _, id := range s.pool.Identities() {
		identities = append(identities, map[string]string{
			"name":         id.Name,
			"display_name": s.pool.DisplayName(id),
		})
	}
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"known_items":     s.engine.KnownCount(),
		"auto_acquire":    stats.AutoAcquire,
		"last_latency_ms": stats.LastLatency.Milliseconds(),
		"stats":           stats,
		"identities":      identities,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
	})
}

// handlePoll triggers one detection cycle. The poll outlives the request so
// a disconnecting client never abandons a dispatch half way.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	ran := s.engine.Poll(context.WithoutCancel(r.Context()))
	s.logger.InfoContext(r.Context(), "manual poll", "admin", adminSubject(r.Context()), "ran", ran)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ran":         ran,
		"known_items": s.engine.KnownCount(),
	})
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs  []domain.ItemID `json:"item_ids"`
		Quantity int             `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = s.cfg.QuantityPerIdentity
	}

	s.logger.InfoContext(r.Context(), "manual acquisition",
		"admin", adminSubject(r.Context()),
		"items", len(req.ItemIDs),
		"quantity", req.Quantity,
	)
	summaries, err := s.acquirer.AcquireManually(context.WithoutCancel(r.Context()), s.engine, req.ItemIDs, req.Quantity)
	switch {
	case errors.Is(err, acquire.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, acquire.ErrNoItems):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "manual acquisition failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	acquired := 0
	for _, sum := range summaries {
		acquired += sum.Successes
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summaries": summaries,
		"count":     len(summaries),
		"acquired":  acquired,
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.engine.Items()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseItemID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, ok := s.engine.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := min(parseInt(r.URL.Query().Get("limit"), 20), maxEventsPage)
	var types []domain.EventType
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, domain.EventType(t))
		}
	}
	events := s.store.ListEvents(limit, types...)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.store.GetEvent(chi.URLParam(r, "id"))
	if errors.Is(err, storepkg.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid admin claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminSubject(ctx context.Context) string {
	sub, _ := ctx.Value(contextKeyAdminSubject).(string)
	return sub
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
