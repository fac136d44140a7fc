package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dropwatch/internal/catalog"
	"dropwatch/internal/config"
	"dropwatch/internal/domain"
	"dropwatch/internal/events"
	apphttp "dropwatch/internal/http"
	"dropwatch/internal/integrations/redisbus"
	"dropwatch/internal/integrations/telegram"
	"dropwatch/internal/integrations/webhook"
	"dropwatch/internal/observability"
	"dropwatch/internal/remote"
	"dropwatch/internal/security/secretbox"
	"dropwatch/internal/service/acquire"
	"dropwatch/internal/service/selection"
	storepkg "dropwatch/internal/store"
	"dropwatch/internal/store/memory"
	"dropwatch/internal/store/postgres"
	"dropwatch/internal/store/sqlite"
)

func main() {
	dotEnvErr := config.LoadDotEnv(".env")
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if dotEnvErr != nil {
		logger.Warn("failed to load .env", "error", dotEnvErr)
	}
	if cfg.PollIntervalTooLow() {
		logger.Warn("poll interval is below the recommended floor",
			"interval", cfg.PollInterval, "floor", config.MinPollInterval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := buildPool(cfg)
	if err != nil {
		fatal(logger, "identity pool unavailable", err)
	}
	if cfg.RemoteBaseURL == "" {
		fatal(logger, "REMOTE_BASE_URL is required", errors.New("missing remote base url"))
	}
	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout, pool)

	st, closeStore := openStore(cfg, logger)
	defer closeStore()

	emitter := events.NewEmitter(st, cfg.WebhookTimeout, logger)
	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	if notifier.Enabled() {
		emitter.AddPublisher("telegram", notifier)
	}
	if cfg.WebhookURL != "" {
		emitter.AddPublisher("webhook", webhook.NewClient(
			cfg.WebhookURL,
			cfg.WebhookTimeout,
			cfg.WebhookMaxRetries,
			cfg.WebhookRetryBase,
			cfg.WebhookRetryMax,
		))
	}
	bus := redisbus.NewPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
	if bus.Enabled() {
		emitter.AddPublisher("redis", bus)
	}
	defer bus.Close()

	shutdownMetrics, err := observability.Setup(ctx, observability.ExportConfig{
		ServiceName: "dropwatch",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		fatal(logger, "metrics setup failed", err)
	}
	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		fatal(logger, "metrics instruments", err)
	}

	classifier, err := buildClassifier(cfg)
	if err != nil {
		fatal(logger, "terminal marker table", err)
	}
	policy, err := selection.NewPolicy(cfg.SupplyCeiling, cfg.SelectionFilter)
	if err != nil {
		fatal(logger, "selection filter", err)
	}

	dispatcher := acquire.NewDispatcher(pool, client, classifier, emitter, logger, metrics, acquire.Options{
		MaxAttempts:   cfg.MaxAttempts,
		Backoff:       cfg.RetryBackoff,
		Anonymous:     cfg.AnonymousAcquire,
		RatePerSecond: cfg.AcquireRPS,
	})

	var forced domain.ItemID
	if cfg.ForcedTestItemID != "" {
		forced, err = domain.ParseItemID(cfg.ForcedTestItemID)
		if err != nil {
			fatal(logger, "FORCED_TEST_ITEM_ID", err)
		}
	}
	engine := catalog.NewEngine(client, pool, policy, dispatcher, emitter, logger, metrics, catalog.Options{
		Interval:            cfg.PollInterval,
		AutoAcquire:         cfg.AutoAcquire,
		QuantityPerIdentity: cfg.QuantityPerIdentity,
		ForcedTestItemID:    forced,
	})

	srv := apphttp.NewServer(cfg, st, engine, dispatcher, pool, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx)
	}()

	go func() {
		logger.Info("control surface listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	<-engineDone
	emitter.Wait()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown failed", "error", err)
	}
}

// openStore picks the event log backend. A backend that cannot be opened
// falls back to the in-memory log so detection keeps running.
func openStore(cfg config.Config, logger *slog.Logger) (storepkg.Store, func()) {
	switch cfg.StoreMode {
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Warn("STORE_MODE=postgres without DATABASE_URL, using memory store")
			break
		}
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("postgres store unavailable, falling back to memory store", "error", err)
			break
		}
		return pgStore, func() { _ = pgStore.Close() }
	case "sqlite":
		sqlStore, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			logger.Warn("sqlite store unavailable, falling back to memory store", "error", err)
			break
		}
		return sqlStore, func() { _ = sqlStore.Close() }
	}
	return memory.NewStore(0), func() {}
}

func buildPool(cfg config.Config) (*remote.StaticPool, error) {
	roster, err := config.LoadRoster(cfg.IdentitiesFile)
	if err != nil {
		return nil, err
	}
	var box *secretbox.Box
	if cfg.IdentityEncryptionKey != "" {
		if box, err = secretbox.New(cfg.IdentityEncryptionKey); err != nil {
			return nil, err
		}
	}
	return remote.NewStaticPool(roster, box)
}

func buildClassifier(cfg config.Config) (*acquire.Classifier, error) {
	if cfg.TerminalMarkersFile == "" {
		return acquire.NewClassifier(cfg.TerminalMarkers), nil
	}
	markers, err := config.LoadMarkerRules(cfg.TerminalMarkersFile)
	if err != nil {
		return nil, err
	}
	rules, err := acquire.RulesFromConfig(markers)
	if err != nil {
		return nil, err
	}
	return acquire.NewClassifier(cfg.TerminalMarkers, rules...), nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
