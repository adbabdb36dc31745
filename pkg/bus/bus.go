// Package bus is the process-wide event bus of the ledger engine.
//
// A Bus is an explicit value: construct it once at start-up, pass it to
// whatever needs to publish or listen, Start it, and Halt it at shutdown.
//
// Producers call Publish from any goroutine. Events go into one FIFO queue and
// are delivered by a single dispatch worker, so listeners never run
// concurrently and events from one producer arrive in publish order.
// Listeners are addressed either by the identifier of the object an event
// originates from (Subscribe) or by event kind (SubscribeKind).
//
// Halt drains: every event accepted by Publish before Halt is delivered,
// unless the halt context expires first. In that case the remaining events are
// discarded and their count is reported, never dropped silently.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/tally/pkg/core"
)

// Common errors.
var (
	ErrHalted      = errors.New("bus is halted")
	ErrHaltTimeout = errors.New("bus halt timed out")
	ErrNotStarted  = errors.New("bus was never started")
)

// DefaultPollInterval bounds the latency of delivery when a wake-up signal is missed.
const DefaultPollInterval = 50 * time.Millisecond

// Bus dispatches events to listeners on a single background worker.
type Bus struct {
	logger       *slog.Logger
	pollInterval time.Duration

	registry *registry
	queue    *eventQueue

	mu        sync.RWMutex
	nextSub   uint64
	addressed map[string][]subscription
	byKind    map[core.EventKind][]subscription
	worker    *dispatchWorker
	halted    bool

	published atomic.Int64
	delivered atomic.Int64
	discarded atomic.Int64
	panics    atomic.Int64
}

type subscription struct {
	id       uint64
	listener core.Listener
}

// HaltReport summarizes a bus lifetime at halt.
type HaltReport struct {
	Published int64
	Delivered int64
	Discarded int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithPollInterval sets how often the dispatcher wakes up without a signal.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// New creates a Bus. It accepts events immediately but delivers nothing until Start.
func New(opts ...Option) *Bus {
	b := &Bus{
		pollInterval: DefaultPollInterval,
		registry:     newRegistry(),
		queue:        newEventQueue(),
		addressed:    make(map[string][]subscription),
		byKind:       make(map[core.EventKind][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Start launches the dispatch worker. The worker outlives ctx cancellation;
// only Halt stops it.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted {
		return ErrHalted
	}
	if b.worker != nil {
		return fmt.Errorf("bus already started")
	}

	w := newDispatchWorker(b)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	b.worker = w
	return nil
}

// RegisterIdentifier returns the identifier of obj, assigning one on first use.
// obj must be a non-nil pointer; the identifier stays the same until Forget.
func (b *Bus) RegisterIdentifier(obj any) (string, error) {
	return b.registry.register(obj)
}

// Identifier returns the identifier of obj if it was registered.
func (b *Bus) Identifier(obj any) (string, bool) {
	return b.registry.lookup(obj)
}

// Forget ends the lifetime of obj's identifier. A later registration yields a new one.
func (b *Bus) Forget(obj any) {
	b.registry.forget(obj)
}

// Subscribe delivers events whose SourceID equals id to l.
func (b *Bus) Subscribe(id string, l core.Listener) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := subscription{id: b.nextSub, listener: l}
	b.addressed[id] = append(b.addressed[id], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.addressed[id] = without(b.addressed[id], sub.id)
			if len(b.addressed[id]) == 0 {
				delete(b.addressed, id)
			}
		})
	}
}

// SubscribeKind delivers every event of the given kind to l.
func (b *Bus) SubscribeKind(kind core.EventKind, l core.Listener) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := subscription{id: b.nextSub, listener: l}
	b.byKind[kind] = append(b.byKind[kind], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.byKind[kind] = without(b.byKind[kind], sub.id)
			if len(b.byKind[kind]) == 0 {
				delete(b.byKind, kind)
			}
		})
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish enqueues e for delivery. It never blocks on listeners.
func (b *Bus) Publish(e core.Event) error {
	if !b.queue.Enqueue(e) {
		return ErrHalted
	}
	b.published.Add(1)
	return nil
}

// Halt stops accepting events, drains the queue and joins the dispatch worker.
// If ctx expires before the queue is drained, the worker is cancelled and the
// remaining events are discarded; the report carries the count and the error
// wraps ErrHaltTimeout. Halting a bus that was never started discards its
// pending events and wraps ErrNotStarted when any were dropped.
func (b *Bus) Halt(ctx context.Context) (HaltReport, error) {
	b.mu.Lock()
	if b.halted {
		b.mu.Unlock()
		return b.report(), nil
	}
	b.halted = true
	w := b.worker
	b.mu.Unlock()

	b.queue.Close()

	if w == nil {
		n := b.discard()
		if n > 0 {
			return b.report(), fmt.Errorf("%w: %d events discarded", ErrNotStarted, n)
		}
		return b.report(), nil
	}

	var haltErr error
	select {
	case <-w.done:
	default:
		select {
		case <-w.done:
		case <-ctx.Done():
			w.abort()
			haltErr = ErrHaltTimeout
		}
	}

	// The worker also exits on its own context; anything left is discarded.
	if n := b.discard(); n > 0 {
		if haltErr == nil {
			haltErr = ErrHaltTimeout
		}
		haltErr = fmt.Errorf("%w: %d events discarded", haltErr, n)
		b.logger.Warn("bus halted with pending events", "discarded", n)
	}

	// A listener may still be blocked after a timeout; release the worker once it returns.
	select {
	case <-w.done:
		b.stopWorker(w)
	default:
		go func() {
			<-w.done
			b.stopWorker(w)
		}()
	}

	return b.report(), haltErr
}

func (b *Bus) stopWorker(w *dispatchWorker) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		b.logger.Debug("dispatcher stop", "error", err)
	}
}

func (b *Bus) discard() int {
	n := b.queue.Discard()
	b.discarded.Add(int64(n))
	return n
}

func (b *Bus) report() HaltReport {
	return HaltReport{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Discarded: b.discarded.Load(),
	}
}

// drain delivers queued events until the queue is empty or ctx is done.
func (b *Bus) drain(ctx context.Context) {
	for ctx.Err() == nil {
		e, ok := b.queue.TryDequeue()
		if !ok {
			return
		}
		b.deliver(ctx, e)
	}
}

func (b *Bus) deliver(ctx context.Context, e core.Event) {
	b.mu.RLock()
	var targets []core.Listener
	if e.SourceID != "" {
		for _, s := range b.addressed[e.SourceID] {
			targets = append(targets, s.listener)
		}
	}
	for _, s := range b.byKind[e.Kind] {
		targets = append(targets, s.listener)
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.invoke(ctx, l, e)
	}
	b.delivered.Add(1)
}

// invoke shields the dispatcher from listener panics.
func (b *Bus) invoke(ctx context.Context, l core.Listener, e core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			if b.logger.Enabled(ctx, slog.LevelDebug) {
				b.logger.Error("listener panic", "event", e.Kind, "error", r, "stack", string(debug.Stack()))
			} else {
				b.logger.Error("listener panic", "event", e.Kind, "error", r)
			}
		}
	}()
	l.OnEvent(ctx, e)
}
