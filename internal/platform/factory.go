package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/tally/pkg/adapters/fs"
	"github.com/aretw0/tally/pkg/bus"
	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/config"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

// ResolveConfig computes the effective configuration for the ledger in dir.
// Precedence, lowest first: defaults (or WithConfig), the configuration file,
// TALLY_* environment variables, then explicit options. A non-empty dir
// always wins.
func ResolveConfig(dir string, opts ...Option) (config.Config, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o.resolve(dir)
}

func (o *options) resolve(dir string) (config.Config, error) {
	cfg := config.Default()
	if o.base != nil {
		cfg = *o.base
	}
	if dir != "" {
		cfg.Dir = dir
	}

	path := o.configFile
	if path == "" {
		path = config.Find(cfg.Dir)
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		// A file inside the ledger directory does not move it.
		if o.configFile == "" || dir != "" {
			loaded.Dir = cfg.Dir
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(&cfg, o.environ); err != nil {
		return config.Config{}, fmt.Errorf("environment: %w", err)
	}
	if dir != "" {
		cfg.Dir = dir
	}
	for _, fn := range o.overrides {
		fn(&cfg)
	}
	return cfg, cfg.Validate()
}

// New wires a Runtime for the ledger in dir: it starts the bus, opens the
// store and the book, and starts the watcher when configured.
//
//	rt, err := platform.New(ctx, "./ledger", platform.WithCapacity(50))
func New(ctx context.Context, dir string, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := o.resolve(dir)
	if err != nil {
		return nil, err
	}

	sandbox := o.devSafety && !cfg.ReadOnly && IsDevRun()
	resolved := ResolveDir(cfg.Dir, sandbox)
	if resolved != cfg.Dir {
		logger.Warn("running in SAFE MODE (dev sandbox)", "original_path", cfg.Dir, "resolved_path", resolved)
		cfg.Dir = resolved
	}

	digester, err := chunk.DigesterByName(cfg.Digest)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, logger: logger}

	rt.Bus = bus.New(bus.WithLogger(logger), bus.WithPollInterval(cfg.PollInterval))
	if err := rt.Bus.Start(ctx); err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		fsStore, err := fs.NewStore(fs.Config{
			Path:      cfg.Dir,
			SystemDir: cfg.SystemDir,
			Pattern:   cfg.Pattern,
			ReadOnly:  cfg.ReadOnly,
			Logger:    logger,
			ErrorHandler: func(err error) {
				logger.Error("watcher error", "error", err)
			},
		})
		if err != nil {
			return nil, rt.abort(err)
		}
		store = fsStore
	}
	rt.Store = store

	rt.Book, err = ledger.Open(ctx, store, rt.Bus, ledger.Options{
		Capacity: cfg.Capacity,
		Digester: digester,
		Logger:   logger,
	})
	if err != nil {
		return nil, rt.abort(err)
	}

	if cfg.Watch {
		if err := rt.watch(ctx); err != nil {
			return nil, rt.abort(err)
		}
	}

	logger.Debug("runtime ready", "dir", cfg.Dir, "capacity", cfg.Capacity, "digest", digester.Name(), "watch", cfg.Watch)
	return rt, nil
}

type watcher interface {
	Watch(ctx context.Context, bus core.EventBus) (stop func(context.Context) error, err error)
}

func (rt *Runtime) watch(ctx context.Context) error {
	w, ok := rt.Store.(watcher)
	if !ok {
		return fmt.Errorf("store %T cannot be watched", rt.Store)
	}
	stop, err := w.Watch(ctx, rt.Bus)
	if err != nil {
		return err
	}
	rt.stopWatch = stop
	return nil
}
