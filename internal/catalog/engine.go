// Package catalog is the detection engine: it polls the remote catalog,
// remembers every item it has ever seen and hands newly listed items to the
// selection policy and the acquisition dispatcher.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dropwatch/internal/domain"
	"dropwatch/internal/events"
	"dropwatch/internal/observability"
	"dropwatch/internal/remote"
)

// Selector decides which newly seen items are acquisition targets.
type Selector interface {
	Select(items []domain.Item) []domain.Item
}

// Dispatcher acquires the given items across all identities.
type Dispatcher interface {
	AcquireAcrossIdentities(ctx context.Context, items []domain.Item, quantity int) []domain.AcquisitionSummary
}

type Options struct {
	Interval            time.Duration
	AutoAcquire         bool
	QuantityPerIdentity int
	// ForcedTestItemID is delivered as new exactly once, even when cached.
	ForcedTestItemID domain.ItemID
	Now              func() time.Time
}

type Stats struct {
	KnownItems    int           `json:"known_items"`
	Polls         int64         `json:"polls"`
	SkippedPolls  int64         `json:"skipped_polls"`
	PollErrors    int64         `json:"poll_errors"`
	LastStarted   time.Time     `json:"last_started"`
	LastLatency   time.Duration `json:"last_latency_ns"`
	BaselineReady bool          `json:"baseline_ready"`
	AutoAcquire   bool          `json:"auto_acquire"`
}

type Engine struct {
	source     remote.CatalogSource
	pool       remote.IdentityPool
	selector   Selector
	dispatcher Dispatcher
	sink       events.Sink
	logger     *slog.Logger
	metrics    *observability.Metrics
	opts       Options

	inFlight atomic.Bool

	// Written only by the poll holding inFlight; mu lets readers such as the
	// control surface look at the cache while a poll runs.
	mu              sync.RWMutex
	known           map[domain.ItemID]struct{}
	details         map[domain.ItemID]domain.Item
	forcedDelivered bool
	stats           Stats
}

func NewEngine(
	source remote.CatalogSource,
	pool remote.IdentityPool,
	selector Selector,
	dispatcher Dispatcher,
	sink events.Sink,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:     source,
		pool:       pool,
		selector:   selector,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger.With("component", "engine"),
		metrics:    metrics,
		opts:       opts,
		known:      make(map[domain.ItemID]struct{}),
		details:    make(map[domain.ItemID]domain.Item),
		stats:      Stats{AutoAcquire: opts.AutoAcquire},
	}
}

// Run polls on every tick of the configured interval until ctx is done. Each
// tick starts Poll in its own goroutine, so a tick arriving while a poll is
// still running is dropped by the in-flight guard rather than queued.
func (e *Engine) Run(ctx context.Context) {
	interval := e.opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	e.emit(ctx, domain.EventEngineStarted, "", map[string]interface{}{
		"interval_ms":  interval.Milliseconds(),
		"auto_acquire": e.opts.AutoAcquire,
	})
	e.logger.InfoContext(ctx, "engine started", "interval", interval, "auto_acquire", e.opts.AutoAcquire)

	var wg sync.WaitGroup
	defer wg.Wait()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Poll(ctx)
		}()
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "engine stopping")
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one detection cycle and reports whether it ran. It returns false
// without doing anything when another poll is in flight or when the previous
// poll started less than one interval ago.
func (e *Engine) Poll(ctx context.Context) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.countSkip()
		return false
	}
	defer e.inFlight.Store(false)

	now := e.opts.Now()
	e.mu.RLock()
	last := e.stats.LastStarted
	e.mu.RUnlock()
	if !last.IsZero() && now.Sub(last) < e.minGap() {
		e.countSkip()
		return false
	}

	e.mu.Lock()
	e.stats.LastStarted = now
	e.stats.Polls++
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "poll cycle panicked", "panic", r)
			e.emit(ctx, domain.EventPollError, "", map[string]interface{}{
				"error": fmt.Sprintf("unexpected: %v", r),
			})
		}
	}()

	e.cycle(ctx)
	return true
}

// minGap is the interval minus a little scheduling slack so that ticker
// jitter alone never drops a tick.
func (e *Engine) minGap() time.Duration {
	slack := e.opts.Interval / 20
	if slack > 10*time.Millisecond {
		slack = 10 * time.Millisecond
	}
	return e.opts.Interval - slack
}

func (e *Engine) cycle(ctx context.Context) {
	ctx, span := observability.StartSpan(ctx, "catalog.poll")
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	reader, err := e.pool.Reader()
	if err != nil {
		spanErr = fmt.Errorf("reader identity: %w", err)
		e.pollFailed(ctx, spanErr, 0)
		return
	}
	span.SetAttributes(attribute.String("reader", reader.Name))

	start := e.opts.Now()
	items, err := e.source.FetchCatalog(ctx, reader)
	latency := e.opts.Now().Sub(start)
	if err != nil {
		spanErr = err
		e.pollFailed(ctx, err, latency)
		return
	}
	span.SetAttributes(attribute.Int("catalog.items", len(items)))
	e.metrics.RecordPoll(ctx, latency, nil)

	e.mu.Lock()
	e.stats.LastLatency = latency
	if len(e.known) == 0 {
		for _, item := range items {
			e.known[item.ID] = struct{}{}
			e.details[item.ID] = item
		}
		e.stats.KnownItems = len(e.known)
		e.stats.BaselineReady = len(e.known) > 0
		e.mu.Unlock()
		if len(items) > 0 {
			e.logger.InfoContext(ctx, "baseline established", "items", len(items), "latency", latency)
			e.emit(ctx, domain.EventBaselineEstablished, "", map[string]interface{}{
				"items":      len(items),
				"latency_ms": latency.Milliseconds(),
			})
		}
		return
	}

	var fresh []domain.Item
	for _, item := range items {
		_, seen := e.known[item.ID]
		isForced := e.opts.ForcedTestItemID != "" && item.ID == e.opts.ForcedTestItemID
		if seen && !(isForced && !e.forcedDelivered) {
			continue
		}
		if isForced {
			e.forcedDelivered = true
		}
		e.known[item.ID] = struct{}{}
		e.details[item.ID] = item
		fresh = append(fresh, item)
	}
	e.stats.KnownItems = len(e.known)
	e.mu.Unlock()

	span.SetAttributes(attribute.Int("catalog.new_items", len(fresh)))
	if len(fresh) == 0 {
		return
	}
	e.metrics.AddDiscovered(ctx, len(fresh))
	for _, item := range fresh {
		e.announce(ctx, item)
	}

	if !e.opts.AutoAcquire {
		return
	}
	targets := e.selector.Select(fresh)
	if len(targets) == 0 {
		e.logger.DebugContext(ctx, "no new item qualifies for acquisition", "new_items", len(fresh))
		return
	}
	e.logger.InfoContext(ctx, "dispatching acquisition", "targets", len(targets), "quantity", e.opts.QuantityPerIdentity)
	e.dispatcher.AcquireAcrossIdentities(ctx, targets, e.opts.QuantityPerIdentity)
}

func (e *Engine) announce(ctx context.Context, item domain.Item) {
	payload := map[string]interface{}{
		"title":            item.Title,
		"acquisition_cost": item.AcquisitionCost.String(),
		"remaining":        item.Remaining(),
		"restriction":      item.Restriction,
		"media_ref":        item.MediaRef,
	}
	if total, ok := item.TotalSupply(); ok {
		payload["total"] = total
	}
	if e.opts.ForcedTestItemID != "" && item.ID == e.opts.ForcedTestItemID {
		payload["forced"] = true
	}
	e.logger.InfoContext(ctx, "new item discovered", "item_id", item.ID.String(), "title", item.Title)
	e.emit(ctx, domain.EventItemDiscovered, item.ID, payload)
}

func (e *Engine) pollFailed(ctx context.Context, err error, latency time.Duration) {
	e.metrics.RecordPoll(ctx, latency, err)
	e.mu.Lock()
	e.stats.PollErrors++
	e.mu.Unlock()
	e.logger.ErrorContext(ctx, "poll failed", "error", err, "latency", latency)
	e.emit(ctx, domain.EventPollError, "", map[string]interface{}{"error": err.Error()})
}

func (e *Engine) countSkip() {
	e.mu.Lock()
	e.stats.SkippedPolls++
	e.mu.Unlock()
}

func (e *Engine) emit(ctx context.Context, eventType domain.EventType, itemID domain.ItemID, payload map[string]interface{}) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(ctx, eventType, itemID, "", payload)
}

// Lookup returns the latest cached detail of an item.
func (e *Engine) Lookup(id domain.ItemID) (domain.Item, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	item, ok := e.details[id]
	return item, ok
}

// Items returns every cached item ordered by id.
func (e *Engine) Items() []domain.Item {
	e.mu.RLock()
	out := make([]domain.Item, 0, len(e.details))
	for _, item := range e.details {
		out = append(out, item)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func (e *Engine) KnownCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.known)
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// lessID orders canonical numeric ids numerically and anything else lexically.
func lessID(a, b domain.ItemID) bool {
	if len(a) != len(b) && isDigits(string(a)) && isDigits(string(b)) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
