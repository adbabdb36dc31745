package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/tally/pkg/config"
	"github.com/aretw0/tally/pkg/core"
)

// options holds the internal configuration for a Runtime.
type options struct {
	logger     *slog.Logger
	base       *config.Config
	configFile string
	environ    map[string]string
	store      core.Store
	devSafety  bool
	overrides  []func(*config.Config)
}

// Option defines a functional option for configuring a Runtime.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		devSafety: true,
	}
}

func override(fn func(*config.Config)) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, fn)
	}
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConfig replaces the defaults a configuration file is read over.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.base = &cfg
	}
}

// WithConfigFile reads configuration from path instead of looking for a
// tally.yaml in the ledger directory.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithEnv sets the variables TALLY_* overrides are read from.
// By default the process environment is used.
func WithEnv(environ map[string]string) Option {
	return func(o *options) {
		o.environ = environ
	}
}

// WithStore injects a custom store (e.g. in-memory) in place of the
// filesystem adapter. Watching is only available for the filesystem store.
func WithStore(store core.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCapacity sets the number of entries per chunk.
func WithCapacity(n int) Option {
	return override(func(c *config.Config) { c.Capacity = n })
}

// WithDigest selects the digest algorithm for new writes ("sha256" or "xxhash").
func WithDigest(name string) Option {
	return override(func(c *config.Config) { c.Digest = name })
}

// WithWatch enables the filesystem watcher that taints chunks changed by
// other processes.
func WithWatch(enabled bool) Option {
	return override(func(c *config.Config) { c.Watch = enabled })
}

// WithReadOnly enables read-only mode.
// In this mode:
// 1. Commit returns core.ErrReadOnly for every dirty chunk.
// 2. The index cache is not persisted.
// 3. Dev safety is bypassed (uses the real path).
func WithReadOnly(enabled bool) Option {
	return override(func(c *config.Config) { c.ReadOnly = enabled })
}

// WithSystemDir sets the hidden directory holding the index and the lock.
func WithSystemDir(name string) Option {
	return override(func(c *config.Config) { c.SystemDir = name })
}

// WithPollInterval bounds event delivery latency when a wake-up is missed.
func WithPollInterval(d time.Duration) Option {
	return override(func(c *config.Config) { c.PollInterval = d })
}

// WithHaltTimeout bounds how long Close waits for pending events.
func WithHaltTimeout(d time.Duration) Option {
	return override(func(c *config.Config) { c.HaltTimeout = d })
}

// WithDevSafety controls the sandbox used when running via `go run` or
// `go test`. By default (true) the ledger directory is re-rooted into a
// temporary directory so development runs never touch real data.
//
// CAUTION: Only disable this if you are sure your code is safe.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = enabled
	}
}
