package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes events from a bus to named handlers with middleware,
// retries and a dead letter queue for events that keep failing.
type Dispatcher struct {
	eventBus    shared.EventSubscriber
	handlers    map[shared.EventType][]HandlerRegistration
	allHandlers []HandlerRegistration
	middlewares []Middleware
	retrier     *retry.Retrier
	deadLetterQ *DeadLetterQueue
	logger      *slog.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// HandlerRegistration contains handler metadata.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// EventBus is the underlying event bus
	EventBus shared.EventSubscriber

	// MaxAttempts bounds handler retries (including the first call)
	MaxAttempts int

	// DeadLetterQueueSize is the max size of the DLQ; zero disables it
	DeadLetterQueueSize int

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig(eventBus shared.EventSubscriber) DispatcherConfig {
	return DispatcherConfig{
		EventBus:            eventBus,
		MaxAttempts:         3,
		DeadLetterQueueSize: 1000,
	}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		eventBus: config.EventBus,
		handlers: make(map[shared.EventType][]HandlerRegistration),
		retrier: retry.New(
			retry.Backoff{Attempts: config.MaxAttempts, Initial: 50 * time.Millisecond, Max: time.Second, Jitter: 0.1},
			retry.WithClassifier(retryHandler),
		),
		logger: config.Logger.With("component", "dispatcher"),
		ctx:    ctx,
		cancel: cancel,
	}

	if config.DeadLetterQueueSize > 0 {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}

	return d
}

// Register registers a handler for one event type.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerRegistration{Name: name, Handler: handler})
	d.logger.Debug("registered handler", "event_type", eventType, "handler_name", name)
	return nil
}

// RegisterAll registers a handler for every event type.
func (d *Dispatcher) RegisterAll(name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.allHandlers = append(d.allHandlers, HandlerRegistration{Name: name, Handler: handler})
	d.logger.Debug("registered global handler", "handler_name", name)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use adds middleware to the dispatcher.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			duration := time.Since(start)

			if err != nil {
				logger.Error("handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"block", event.Block(),
					"duration", duration,
					"error", err,
				)
			} else {
				logger.Debug("handler completed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
				)
			}

			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes the dispatcher to every event on the bus.
func (d *Dispatcher) Start() error {
	return d.eventBus.SubscribeAll(d.Dispatch)
}

// Dispatch runs every matching handler in registration order.
// Handler failures land in the dead letter queue; they are not returned.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	handlers := make([]HandlerRegistration, 0, len(d.handlers[event.EventType()])+len(d.allHandlers))
	handlers = append(handlers, d.handlers[event.EventType()]...)
	handlers = append(handlers, d.allHandlers...)
	middlewares := d.middlewares
	d.mu.RUnlock()

	for _, reg := range handlers {
		d.executeHandler(event, reg, middlewares)
	}
	return nil
}

// retryHandler retries handler failures except panics and ledger rejections.
// A domain error is retried only when it reports an unavailable dependency.
func retryHandler(err error) bool {
	if errors.Is(err, ErrHandlerPanic) {
		return false
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return retry.IsTransient(err)
	}
	return true
}

func (d *Dispatcher) executeHandler(event shared.Event, reg HandlerRegistration, middlewares []Middleware) {
	handler := reg.Handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	attempts := 0
	err := d.retrier.Do(d.ctx, func(context.Context) error {
		attempts++
		return handler(event)
	})
	if err == nil {
		return
	}

	d.logger.Warn("handler gave up",
		"handler", reg.Name,
		"event_type", event.EventType(),
		"attempts", attempts,
		"error", err,
	)

	if d.deadLetterQ != nil {
		d.deadLetterQ.Add(DeadLetterEntry{
			Record:      shared.RecordOf(event),
			HandlerName: reg.Name,
			Error:       err.Error(),
			Attempts:    attempts,
			FailedAt:    time.Now().UTC(),
		})
	}
}

// Stop cancels pending retries.
func (d *Dispatcher) Stop() error {
	d.cancel()
	d.logger.Info("dispatcher stopped")
	return nil
}

// DeadLetterQueue returns the dead letter queue, or nil if disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event a handler could not process.
type DeadLetterEntry struct {
	Record      shared.EventRecord `json:"record"`
	HandlerName string             `json:"handler_name"`
	Error       string             `json:"error"`
	Attempts    int                `json:"attempts"`
	FailedAt    time.Time          `json:"failed_at"`
}

// DeadLetterQueue is a bounded FIFO of failed events; the oldest entry is
// dropped when full.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{
		entries: make([]DeadLetterEntry, 0, min(maxSize, 64)),
		maxSize: maxSize,
	}
}

// Add appends an entry.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size returns the number of entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}
