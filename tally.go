package tally

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aretw0/tally/internal/platform"
	"github.com/aretw0/tally/pkg/config"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

// Version exposes the version of the library.
// See version.go for the implementation using go:embed.

// --- Types ---

// Runtime is a wired ledger: bus, store, book and optional watcher.
type Runtime = platform.Runtime

// Book is the set of chunks in one store.
type Book = ledger.Book

// Config is the process configuration.
type Config = config.Config

// Entry is a ledger entry.
type Entry = core.Entry

// Aggregates are per-chunk or book-wide totals.
type Aggregates = core.Aggregates

// --- Configuration ---

// Option defines a functional option for configuring a Runtime.
type Option = platform.Option

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithConfig replaces the defaults a configuration file is read over.
func WithConfig(cfg Config) Option {
	return platform.WithConfig(cfg)
}

// WithConfigFile reads configuration from path.
func WithConfigFile(path string) Option {
	return platform.WithConfigFile(path)
}

// WithStore injects a custom store in place of the filesystem adapter.
func WithStore(store core.Store) Option {
	return platform.WithStore(store)
}

// WithCapacity sets the number of entries per chunk.
func WithCapacity(n int) Option {
	return platform.WithCapacity(n)
}

// WithDigest selects the digest algorithm for new writes.
func WithDigest(name string) Option {
	return platform.WithDigest(name)
}

// WithWatch enables the external change watcher.
func WithWatch(enabled bool) Option {
	return platform.WithWatch(enabled)
}

// WithReadOnly enables read-only mode.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithHaltTimeout bounds how long Close waits for pending events.
func WithHaltTimeout(d time.Duration) Option {
	return platform.WithHaltTimeout(d)
}

// WithDevSafety controls the `go run` sandbox.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// --- Factory ---

// Open wires a Runtime for the ledger in dir.
func Open(ctx context.Context, dir string, opts ...Option) (*Runtime, error) {
	return platform.New(ctx, dir, opts...)
}

// FindRoot looks upwards from startDir for a ledger directory.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}

// --- Entries ---

// NewTransaction builds a cash movement.
func NewTransaction(key string, amount decimal.Decimal, memo string, tags ...string) (*ledger.Transaction, error) {
	return ledger.NewTransaction(key, amount, memo, tags...)
}

// NewStockTrade builds a security purchase or sale.
func NewStockTrade(key string, amount decimal.Decimal, symbol string, shares decimal.Decimal) (*ledger.StockTrade, error) {
	return ledger.NewStockTrade(key, amount, symbol, shares)
}
