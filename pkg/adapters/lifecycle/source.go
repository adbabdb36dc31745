package lifecycle

import (
	"context"
	"sync/atomic"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/tally/pkg/core"
)

// DefaultBuffer is the number of events a source holds while its consumer is busy.
const DefaultBuffer = 64

// Source bridges bus events to a lifecycle.Source.
type Source struct {
	bus     core.EventBus
	kinds   []core.EventKind
	in      chan core.Event
	out     chan lifecycle.Event
	dropped atomic.Int64
}

// NewSource creates a lifecycle.Source that emits bus events of the given kinds.
// The bus listener never blocks the dispatcher: when the buffer is full the
// event is dropped and counted in Dropped.
func NewSource(bus core.EventBus, kinds ...core.EventKind) *Source {
	return &Source{
		bus:   bus,
		kinds: kinds,
		in:    make(chan core.Event, DefaultBuffer),
		out:   make(chan lifecycle.Event),
	}
}

var _ lifecycle.Source = (*Source)(nil)

func (s *Source) Events() <-chan lifecycle.Event {
	return s.out
}

// Dropped returns how many events did not fit the buffer.
func (s *Source) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Source) OnEvent(_ context.Context, e core.Event) {
	select {
	case s.in <- e:
	default:
		s.dropped.Add(1)
	}
}

// Start subscribes to the bus and forwards events until ctx is done, then
// unsubscribes and closes the event channel.
func (s *Source) Start(ctx context.Context) error {
	cancels := make([]func(), 0, len(s.kinds))
	for _, kind := range s.kinds {
		cancels = append(cancels, s.bus.SubscribeKind(kind, s))
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		defer func() {
			for _, cancel := range cancels {
				cancel()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-s.in:
				// core.Event implements lifecycle.Event (has String())
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
