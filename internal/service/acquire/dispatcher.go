package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dropwatch/internal/domain"
	"dropwatch/internal/events"
	"dropwatch/internal/observability"
	"dropwatch/internal/remote"
)

type Options struct {
	// MaxAttempts bounds the total attempts, successes and failures alike,
	// one identity makes for one item.
	MaxAttempts int
	// Backoff is the fixed pause after a retryable failure.
	Backoff   time.Duration
	Anonymous bool
	// RatePerSecond limits acquisition calls per identity. Zero disables it.
	RatePerSecond float64
}

// ItemCache resolves item ids seen by the detection engine.
type ItemCache interface {
	Lookup(id domain.ItemID) (domain.Item, bool)
}

type Dispatcher struct {
	pool       remote.IdentityPool
	acquirer   remote.UnitAcquirer
	classifier *Classifier
	sink       events.Sink
	logger     *slog.Logger
	metrics    *observability.Metrics
	opts       Options
	limiters   map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	pool remote.IdentityPool,
	acquirer remote.UnitAcquirer,
	classifier *Classifier,
	sink events.Sink,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	d := &Dispatcher{
		pool:       pool,
		acquirer:   acquirer,
		classifier: classifier,
		sink:       sink,
		logger:     logger.With("component", "dispatcher"),
		metrics:    metrics,
		opts:       opts,
		limiters:   make(map[string]*rate.Limiter),
		sleep:      sleepContext,
	}
	if opts.RatePerSecond > 0 {
		for _, id := range pool.Identities() {
			d.limiters[id.Name] = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
		}
	}
	return d
}

// AcquireAcrossIdentities races every identity for each item in order. Items
// are handled one at a time; for one item all identities run concurrently and
// the call moves on only after every identity has settled.
func (d *Dispatcher) AcquireAcrossIdentities(ctx context.Context, items []domain.Item, quantity int) []domain.AcquisitionSummary {
	identities := d.pool.Identities()
	out := make([]domain.AcquisitionSummary, 0, len(items)*len(identities))
	for _, item := range items {
		summaries := make([]domain.AcquisitionSummary, len(identities))
		var g errgroup.Group
		for i, id := range identities {
			g.Go(func() error {
				summaries[i] = d.runSequence(ctx, id, item, quantity)
				return nil
			})
		}
		_ = g.Wait()
		out = append(out, summaries...)
	}
	return out
}

// AcquireManually resolves ids against the engine cache and dispatches them.
// Nothing is sent to the remote service unless every id resolves.
func (d *Dispatcher) AcquireManually(ctx context.Context, cache ItemCache, ids []domain.ItemID, quantity int) ([]domain.AcquisitionSummary, error) {
	if len(ids) == 0 {
		return nil, &Error{Kind: KindConfiguration, Op: "acquire manually", Err: ErrNoItems}
	}
	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		item, ok := cache.Lookup(id)
		if !ok {
			return nil, &Error{Kind: KindConfiguration, Op: "acquire manually", Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
		}
		items = append(items, item)
	}
	d.logger.InfoContext(ctx, "manual acquisition requested", "items", len(items), "quantity", quantity)
	return d.AcquireAcrossIdentities(ctx, items, quantity), nil
}

func (d *Dispatcher) runSequence(ctx context.Context, id domain.Identity, item domain.Item, quantity int) (summary domain.AcquisitionSummary) {
	summary = domain.AcquisitionSummary{
		ItemID:      item.ID,
		Identity:    id.Name,
		DisplayName: d.pool.DisplayName(id),
	}
	log := d.logger.With("identity", id.Name, "item_id", item.ID.String())
	ctx, span := observability.StartSpan(ctx, "acquire.sequence",
		attribute.String("identity", id.Name),
		attribute.String("item_id", item.ID.String()),
	)
	defer func() {
		if r := recover(); r != nil {
			summary.Failures++
			summary.LastError = (&Error{Kind: KindUnexpected, Op: "acquire", Err: fmt.Errorf("panic: %v", r)}).Error()
			log.ErrorContext(ctx, "acquisition sequence panicked", "panic", r)
		}
		span.SetAttributes(
			attribute.Int("successes", summary.Successes),
			attribute.Int("attempts", summary.Attempts),
		)
		var spanErr error
		if summary.Successes == 0 && summary.LastError != "" {
			spanErr = errors.New(summary.LastError)
		}
		observability.EndSpan(span, spanErr)
		d.emitSummary(ctx, summary)
	}()

	if limit := item.PerIdentityLimit; limit != nil && int64(quantity) > *limit {
		quantity = int(*limit)
	}
	if quantity <= 0 {
		return summary
	}

	dest, err := d.pool.Destination(id)
	if err != nil {
		cfgErr := &Error{Kind: KindConfiguration, Op: "resolve destination", Err: err}
		summary.Terminal = true
		summary.LastError = cfgErr.Error()
		log.ErrorContext(ctx, "identity cannot acquire", "error", cfgErr)
		d.emit(ctx, domain.EventAcquireFailure, item.ID, id.Name, map[string]interface{}{
			"error": cfgErr.Error(),
			"kind":  KindConfiguration.String(),
		})
		return summary
	}

	limiter := d.limiters[id.Name]
	for summary.Attempts < d.opts.MaxAttempts && summary.Successes < quantity {
		if err := ctx.Err(); err != nil {
			summary.LastError = err.Error()
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				summary.LastError = err.Error()
				break
			}
		}
		summary.Attempts++
		err := d.acquirer.AcquireUnit(ctx, id, item, remote.AcquireRequest{
			Destination: dest,
			Anonymous:   d.opts.Anonymous,
			RequestID:   uuid.NewString(),
		})
		outcome := domain.AttemptOutcome{Identity: id.Name, ItemID: item.ID, Attempt: summary.Attempts, Success: err == nil}
		if err == nil {
			summary.Outcomes = append(summary.Outcomes, outcome)
			summary.Successes++
			d.metrics.RecordAttempt(ctx, id.Name, "success")
			log.InfoContext(ctx, "unit acquired", "attempt", summary.Attempts, "successes", summary.Successes)
			d.emit(ctx, domain.EventAcquireSuccess, item.ID, id.Name, map[string]interface{}{
				"attempt":      summary.Attempts,
				"title":        item.Title,
				"destination":  dest,
				"display_name": summary.DisplayName,
			})
			continue
		}

		kind := d.classifier.Classify(err)
		outcome.Error = err.Error()
		stop := kind == KindTerminal || kind == KindConfiguration
		outcome.Terminal = stop
		summary.Outcomes = append(summary.Outcomes, outcome)
		summary.Failures++
		summary.LastError = err.Error()
		d.metrics.RecordAttempt(ctx, id.Name, kind.String())
		log.WarnContext(ctx, "acquisition attempt failed", "attempt", summary.Attempts, "kind", kind.String(), "error", err)
		d.emit(ctx, domain.EventAcquireFailure, item.ID, id.Name, map[string]interface{}{
			"attempt": summary.Attempts,
			"error":   err.Error(),
			"kind":    kind.String(),
		})
		if stop {
			summary.Terminal = true
			break
		}
		if summary.Attempts < d.opts.MaxAttempts {
			if err := d.sleep(ctx, d.opts.Backoff); err != nil {
				break
			}
		}
	}
	return summary
}

func (d *Dispatcher) emitSummary(ctx context.Context, s domain.AcquisitionSummary) {
	d.logger.InfoContext(ctx, "acquisition summary",
		"identity", s.Identity,
		"item_id", s.ItemID.String(),
		"successes", s.Successes,
		"failures", s.Failures,
		"attempts", s.Attempts,
		"terminal", s.Terminal,
	)
	d.emit(ctx, domain.EventAcquireSummary, s.ItemID, s.Identity, map[string]interface{}{
		"display_name": s.DisplayName,
		"successes":    s.Successes,
		"failures":     s.Failures,
		"attempts":     s.Attempts,
		"terminal":     s.Terminal,
		"last_error":   s.LastError,
	})
}

func (d *Dispatcher) emit(ctx context.Context, eventType domain.EventType, itemID domain.ItemID, identity string, payload map[string]interface{}) {
	if d.sink == nil {
		return
	}
	d.sink.Emit(ctx, eventType, itemID, identity, payload)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
