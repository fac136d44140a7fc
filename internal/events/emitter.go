// Package events records engine events and fans them out to external
// channels without blocking the caller.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dropwatch/internal/domain"
	storepkg "dropwatch/internal/store"
)

// Sink is what the detection engine and the dispatcher emit to.
type Sink interface {
	Emit(ctx context.Context, eventType domain.EventType, itemID domain.ItemID, identity string, payload map[string]interface{}) domain.Event
}

// Publisher delivers a recorded event to one external channel.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Emitter appends each event to the store synchronously, then hands it to
// every publisher in its own goroutine with its own deadline. A failing or
// panicking publisher is logged and never reaches the caller.
type Emitter struct {
	store      storepkg.Store
	publishers []namedPublisher
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewEmitter(store storepkg.Store, timeout time.Duration, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Emitter{
		store:   store,
		timeout: timeout,
		logger:  logger.With("component", "events"),
	}
}

// AddPublisher registers a delivery channel. It must be called before the
// first Emit.
func (e *Emitter) AddPublisher(name string, pub Publisher) {
	e.publishers = append(e.publishers, namedPublisher{name: name, pub: pub})
}

func (e *Emitter) Emit(ctx context.Context, eventType domain.EventType, itemID domain.ItemID, identity string, payload map[string]interface{}) domain.Event {
	event := e.store.AppendEvent(eventType, itemID, identity, payload)
	for _, np := range e.publishers {
		e.wg.Add(1)
		go e.deliver(ctx, np, event)
	}
	return event
}

func (e *Emitter) deliver(parent context.Context, np namedPublisher, event domain.Event) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("publisher panicked", "publisher", np.name, "event_id", event.ID, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.timeout)
	defer cancel()
	if err := np.pub.Publish(ctx, event); err != nil {
		e.logger.Warn("event delivery failed",
			"publisher", np.name,
			"event_id", event.ID,
			"event_type", string(event.Type),
			"error", err,
		)
	}
}

// Wait blocks until all in-flight deliveries have returned.
func (e *Emitter) Wait() {
	e.wg.Wait()
}
