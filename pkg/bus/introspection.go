package bus

import (
	"github.com/aretw0/introspection"
)

// State exposes internal bus state for observability.
type State struct {
	Started       bool   `json:"started"`
	Halted        bool   `json:"halted"`
	Pending       int    `json:"pending"`
	Published     int64  `json:"published"`
	Delivered     int64  `json:"delivered"`
	Discarded     int64  `json:"discarded"`
	ListenerPanic int64  `json:"listener_panics"`
	Identifiers   int    `json:"identifiers"`
	Subscriptions int    `json:"subscriptions"`
	PollInterval  string `json:"poll_interval"`
}

// State implements introspection.Introspectable.
func (b *Bus) State() any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := 0
	for _, s := range b.addressed {
		subs += len(s)
	}
	for _, s := range b.byKind {
		subs += len(s)
	}

	return State{
		Started:       b.worker != nil,
		Halted:        b.halted,
		Pending:       b.queue.Len(),
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Discarded:     b.discarded.Load(),
		ListenerPanic: b.panics.Load(),
		Identifiers:   b.registry.len(),
		Subscriptions: subs,
		PollInterval:  b.pollInterval.String(),
	}
}

// ComponentType implements introspection.Component.
func (b *Bus) ComponentType() string {
	return "event-bus"
}

var _ introspection.Introspectable = (*Bus)(nil)
var _ introspection.Component = (*Bus)(nil)
