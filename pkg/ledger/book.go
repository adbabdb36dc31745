// Package ledger routes entries into chunks and keeps them on disk.
//
// A Book owns every chunk of one store. New entries go to the open chunk;
// once it seals, the next entry starts a fresh chunk. Field updates are
// published as Delta events addressed to the entry, so the owning chunk
// adjusts its totals without a recount.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aretw0/tally/pkg/adapters/fs"
	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/core"
)

// eventBarrier marks a point in the bus queue; its delivery proves every
// earlier event was dispatched.
const eventBarrier core.EventKind = "ledger.barrier"

// Indexer is implemented by stores that cache chunk summaries.
type Indexer interface {
	Indexed(name string) (fs.IndexEntry, bool)
	Index(name string, entry fs.IndexEntry) error
	PruneIndex(names []string)
	SaveIndex() error
}

// Options configures a Book.
type Options struct {
	Capacity int
	Digester core.Digester
	Logger   *slog.Logger
}

// Book is the set of chunks in one store.
type Book struct {
	store  core.Store
	bus    core.EventBus
	cfg    chunk.Config
	logger *slog.Logger

	mu     sync.RWMutex
	chunks map[string]*chunk.Chunk
	order  []string          // chunk ids, oldest first
	owner  map[string]string // entry key -> chunk id
	open   string            // chunk receiving new entries

	cancels    []func()
	lastCommit *time.Time
}

// Open loads and verifies every chunk in store. A fresh index entry supplies
// the expected digest; otherwise each file is checked against its own header.
// Any integrity failure aborts Open.
func Open(ctx context.Context, store core.Store, bus core.EventBus, opts Options) (*Book, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Book{
		store:  store,
		bus:    bus,
		logger: opts.Logger,
		cfg: chunk.Config{
			Capacity:     opts.Capacity,
			Contributors: Contributors(),
			Codec:        Codec{},
			Digester:     opts.Digester,
			Bus:          bus,
			Logger:       opts.Logger,
		},
		chunks: make(map[string]*chunk.Chunk),
		owner:  make(map[string]string),
	}

	names, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	indexer, _ := store.(Indexer)

	for _, name := range names {
		id, ok := chunk.IDFromFile(name)
		if !ok {
			continue
		}
		var expected string
		if indexer != nil {
			if entry, ok := indexer.Indexed(name); ok {
				expected = entry.Digest
			}
		}

		c, err := chunk.Load(ctx, store, id, expected, b.cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		if err := b.adopt(c); err != nil {
			b.Close()
			return nil, err
		}
	}
	if indexer != nil {
		indexer.PruneIndex(names)
	}

	if bus != nil {
		b.cancels = append(b.cancels,
			bus.SubscribeKind(core.EventChunkChanged, core.ListenerFunc(b.onChunkChanged)),
			bus.SubscribeKind(eventBarrier, core.ListenerFunc(b.onBarrier)),
		)
	}

	b.logger.Debug("book opened", "chunks", len(b.order), "entries", len(b.owner))
	return b, nil
}

// adopt registers a loaded chunk; the caller owns b.mu or has not shared b yet.
func (b *Book) adopt(c *chunk.Chunk) error {
	for _, e := range c.Entries() {
		if other, dup := b.owner[e.Key()]; dup {
			c.Close()
			return fmt.Errorf("%w: %s in chunks %s and %s", core.ErrDuplicateEntry, e.Key(), other, c.ID())
		}
	}
	for _, e := range c.Entries() {
		b.owner[e.Key()] = c.ID()
	}
	b.chunks[c.ID()] = c
	b.order = append(b.order, c.ID())
	if b.open == "" && c.State() == core.ChunkOpen {
		b.open = c.ID()
	}
	return nil
}

// Add routes e to the open chunk, starting a new chunk when there is none
// or it is full.
func (b *Book) Add(ctx context.Context, e core.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, dup := b.owner[e.Key()]; dup {
		return fmt.Errorf("%w: %s in chunk %s", core.ErrDuplicateEntry, e.Key(), id)
	}

	if c, ok := b.chunks[b.open]; ok {
		err := c.Add(e)
		if err == nil {
			b.owner[e.Key()] = c.ID()
			if c.State() != core.ChunkOpen {
				b.open = ""
			}
			return nil
		}
		if !errors.Is(err, core.ErrCapacityExceeded) && !errors.Is(err, core.ErrChunkDeleted) {
			return err
		}
	}

	c, err := chunk.New(uuid.NewString(), e, b.cfg)
	if err != nil {
		return err
	}
	b.chunks[c.ID()] = c
	b.order = append(b.order, c.ID())
	b.owner[e.Key()] = c.ID()
	b.open = ""
	if c.State() == core.ChunkOpen {
		b.open = c.ID()
	}
	b.logger.Debug("chunk started", "chunk", c.ID())
	return nil
}

// Remove deletes the entry with the given key. An emptied chunk is deleted
// and its file removed on the next Commit.
func (b *Book) Remove(ctx context.Context, key string) (core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.owner[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrEntryNotFound, key)
	}
	c := b.chunks[id]
	e, err := c.Remove(key)
	if err != nil {
		return nil, err
	}
	delete(b.owner, key)
	if c.State() == core.ChunkDeleted && b.open == id {
		b.open = ""
	}
	return e, nil
}

// Update sets field on the entry with the given key and publishes the
// resulting Delta to the owning chunk. Without a bus the Delta is applied
// directly.
func (b *Book) Update(ctx context.Context, key, field, value string) (core.Delta, error) {
	if err := ctx.Err(); err != nil {
		return core.Delta{}, err
	}

	b.mu.RLock()
	id, ok := b.owner[key]
	c := b.chunks[id]
	b.mu.RUnlock()
	if !ok {
		return core.Delta{}, fmt.Errorf("%w: %s", core.ErrEntryNotFound, key)
	}

	e, ok := c.Entry(key)
	if !ok {
		return core.Delta{}, fmt.Errorf("%w: %s", core.ErrEntryNotFound, key)
	}
	m, ok := e.(Mutable)
	if !ok {
		return core.Delta{}, fmt.Errorf("entry %s of kind %s cannot be updated", key, e.Kind())
	}

	d, err := m.Set(field, value)
	if err != nil {
		return core.Delta{}, err
	}

	if b.bus == nil {
		return d, c.ApplyDelta(key, d)
	}
	source, err := b.bus.RegisterIdentifier(e)
	if err != nil {
		return d, err
	}
	return d, b.bus.Publish(core.Event{Kind: core.EventDelta, SourceID: source, Payload: d})
}

// Flush waits until every event published before the call was dispatched.
func (b *Book) Flush(ctx context.Context) error {
	if b.bus == nil {
		return nil
	}
	mark := barrier{book: b, done: make(chan struct{})}
	if err := b.bus.Publish(core.Event{Kind: eventBarrier, Payload: mark}); err != nil {
		return err
	}
	select {
	case <-mark.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending deltas: %w", ctx.Err())
	}
}

type barrier struct {
	book *Book
	done chan struct{}
}

func (b *Book) onBarrier(_ context.Context, e core.Event) {
	if mark, ok := e.Payload.(barrier); ok && mark.book == b {
		close(mark.done)
	}
}

// Entry returns the entry with the given key.
func (b *Book) Entry(key string) (core.Entry, bool) {
	b.mu.RLock()
	c, ok := b.chunks[b.owner[key]]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Entry(key)
}

// Entries returns every live entry, chunk by chunk in creation order. The
// entries carry their latest field values even while the Deltas for those
// changes are still queued; see SettledTotals.
func (b *Book) Entries() []core.Entry {
	var out []core.Entry
	for _, c := range b.live() {
		out = append(out, c.Entries()...)
	}
	return out
}

// Totals sums the aggregates of all live chunks. Deltas are applied when the
// bus dispatches them, so right after Update the totals may lag the entries.
// Use SettledTotals when the result has to reflect every prior Update.
func (b *Book) Totals() core.Aggregates {
	total := zeroTotals()
	for _, c := range b.live() {
		total = total.Add(c.Aggregates())
	}
	return total
}

// SettledTotals waits for pending Deltas, then returns Totals.
func (b *Book) SettledTotals(ctx context.Context) (core.Aggregates, error) {
	if err := b.Flush(ctx); err != nil {
		return core.Aggregates{}, err
	}
	return b.Totals(), nil
}

func zeroTotals() core.Aggregates {
	agg := core.NewAggregates()
	for _, c := range Contributors() {
		agg.Totals[c.Aggregate()] = decimal.Zero
	}
	return agg
}

// Chunks returns a snapshot of every chunk, including deleted chunks whose
// removal has not been committed.
func (b *Book) Chunks() []chunk.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]chunk.Snapshot, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.chunks[id].Snapshot())
	}
	return out
}

func (b *Book) live() []*chunk.Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*chunk.Chunk, 0, len(b.order))
	for _, id := range b.order {
		if c := b.chunks[id]; c.State() != core.ChunkDeleted {
			out = append(out, c)
		}
	}
	return out
}

// Commit waits for pending deltas and writes every dirty chunk under the
// store's commit lock. Deleted chunks have their files removed and are
// dropped from the book. Failures of individual chunks are joined; the
// others are still written.
func (b *Book) Commit(ctx context.Context) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}

	if l, ok := b.store.(core.Lockable); ok {
		unlock, err := l.Lock(ctx)
		if err != nil {
			return err
		}
		defer unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	indexer, _ := b.store.(Indexer)
	var errs []error
	kept := b.order[:0:0]
	for _, id := range b.order {
		c := b.chunks[id]
		if err := c.Commit(ctx, b.store); err != nil {
			errs = append(errs, err)
			kept = append(kept, id)
			continue
		}

		if c.State() == core.ChunkDeleted {
			c.Close()
			delete(b.chunks, id)
			continue
		}
		kept = append(kept, id)

		if indexer != nil {
			if err := indexer.Index(chunk.FileName(id), summarize(c)); err != nil {
				b.logger.Warn("failed to index chunk", "chunk", id, "error", err)
			}
		}
	}
	b.order = kept

	if indexer != nil {
		if err := indexer.SaveIndex(); err != nil {
			b.logger.Warn("failed to save index", "error", err)
		}
	}

	now := time.Now()
	b.lastCommit = &now
	return errors.Join(errs...)
}

func summarize(c *chunk.Chunk) fs.IndexEntry {
	s := c.Snapshot()
	totals := make(map[string]string, len(s.Aggregates.Totals))
	for name, v := range s.Aggregates.Totals {
		totals[name] = v.String()
	}
	return fs.IndexEntry{
		ID:     s.ID,
		Digest: s.Digest,
		State:  string(s.State),
		Count:  s.Aggregates.Count,
		Totals: totals,
	}
}

// Reload replaces the chunk with the given id by its current file, adopting
// external changes. It clears a taint.
func (b *Book) Reload(ctx context.Context, id string) error {
	c, err := chunk.Load(ctx, b.store, id, "", b.cfg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.chunks[id]
	if ok {
		for _, e := range old.Entries() {
			delete(b.owner, e.Key())
		}
		old.Close()
		delete(b.chunks, id)
		b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == id })
		if b.open == id {
			b.open = ""
		}
	}
	return b.adopt(c)
}

// onChunkChanged verifies a chunk file changed on disk. A file whose digest
// this book did not produce taints the chunk and raises chunk.integrity.
func (b *Book) onChunkChanged(ctx context.Context, e core.Event) {
	change, ok := e.Payload.(core.ChunkChange)
	if !ok {
		return
	}

	b.mu.RLock()
	c, known := b.chunks[change.ID]
	b.mu.RUnlock()
	if !known {
		b.logger.Debug("change to unknown chunk", "chunk", change.ID, "op", change.Op)
		return
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		b.checkFile(ctx, c, change)
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		b.logger.Error("chunk verification panic", "chunk", change.ID, "error", err)
	}))
}

func (b *Book) checkFile(ctx context.Context, c *chunk.Chunk, change core.ChunkChange) {
	if c.State() == core.ChunkDeleted {
		return
	}

	expected := c.Digest()
	var mismatch *core.IntegrityMismatchError

	actual, err := chunk.VerifyFile(ctx, b.store, c.ID(), "", b.cfg.Digester)
	switch {
	case err == nil && c.Produced(actual):
		return
	case err == nil:
		mismatch = &core.IntegrityMismatchError{Name: change.Name, Expected: expected, Actual: actual}
	case errors.As(err, &mismatch):
	default:
		if expected == "" {
			// Never committed; nothing on disk to protect.
			return
		}
		mismatch = &core.IntegrityMismatchError{Name: change.Name, Expected: expected, Actual: "missing"}
		b.logger.Debug("chunk file unreadable", "chunk", c.ID(), "error", err)
	}

	c.Taint()
	b.logger.Warn("chunk changed outside this process", "chunk", c.ID(), "expected", mismatch.Expected, "actual", mismatch.Actual)
	if b.bus != nil {
		if err := b.bus.Publish(core.Event{Kind: core.EventIntegrityFail, Payload: mismatch}); err != nil {
			b.logger.Debug("integrity event dropped", "error", err)
		}
	}
}

// Close detaches the book from the bus. It does not commit.
func (b *Book) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	for _, c := range b.chunks {
		c.Close()
	}
}
