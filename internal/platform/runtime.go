package platform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aretw0/introspection"

	"github.com/aretw0/tally/pkg/adapters/lifecycle"
	"github.com/aretw0/tally/pkg/bus"
	"github.com/aretw0/tally/pkg/config"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

// Runtime is a wired ledger: bus, store, book and optional watcher.
type Runtime struct {
	Config config.Config
	Bus    *bus.Bus
	Store  core.Store
	Book   *ledger.Book

	logger    *slog.Logger
	stopWatch func(context.Context) error
}

// Events returns a started lifecycle source emitting bus events of the given
// kinds until ctx is done.
func (rt *Runtime) Events(ctx context.Context, kinds ...core.EventKind) (*lifecycle.Source, error) {
	src := lifecycle.NewSource(rt.Bus, kinds...)
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

// Components lists the introspectable parts of the runtime.
func (rt *Runtime) Components() []introspection.Component {
	out := []introspection.Component{rt.Bus}
	if c, ok := rt.Store.(introspection.Component); ok {
		out = append(out, c)
	}
	if rt.Book != nil {
		out = append(out, rt.Book)
	}
	return out
}

// Close stops the watcher, detaches the book and halts the bus, waiting at
// most Config.HaltTimeout for pending events. It does not commit.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.stopWatch != nil {
		errs = append(errs, rt.stopWatch(ctx))
		rt.stopWatch = nil
	}
	if rt.Book != nil {
		rt.Book.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, rt.Config.HaltTimeout)
	defer cancel()
	report, err := rt.Bus.Halt(ctx)
	errs = append(errs, err)
	rt.logger.Debug("bus halted", "published", report.Published, "delivered", report.Delivered, "discarded", report.Discarded)

	return errors.Join(errs...)
}

// abort tears down a partially built runtime and returns cause.
func (rt *Runtime) abort(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), rt.Config.HaltTimeout)
	defer cancel()
	if rt.Book != nil {
		rt.Book.Close()
	}
	if _, err := rt.Bus.Halt(ctx); err != nil {
		rt.logger.Debug("bus halt after failed start", "error", err)
	}
	return cause
}
