// Package chunk implements the unit of ledger storage: a bounded, ordered set
// of entries with incrementally maintained aggregates.
//
// A chunk seeds its aggregates from its first entry, adds and subtracts
// contributions as entries come and go, and adjusts them in place when a
// Delta event arrives for one of its entries. Aggregates are never recomputed
// from scratch except by Recount and on Load.
//
// Delta events are not deduplicated. Delivering the same Delta twice applies
// it twice; producers publish each change exactly once.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/params"
)

// DefaultCapacity is used when Config.Capacity is not positive.
const DefaultCapacity = 100

const historySize = 8

// Config carries the collaborators of a chunk.
type Config struct {
	Capacity     int
	Contributors []core.Contributor // extra aggregates; the amount total is always kept
	Codec        Codec
	Digester     core.Digester
	Bus          core.EventBus // optional; without it deltas must be applied directly
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Digester == nil {
		c.Digester = SHA256{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Chunk groups up to Capacity entries. It is safe for concurrent use; bus
// deliveries and direct mutations are serialized by its mutex.
type Chunk struct {
	mu sync.Mutex

	id           string
	capacity     int
	codec        Codec
	digester     core.Digester
	bus          core.EventBus
	logger       *slog.Logger
	contributors []core.Contributor

	entries []core.Entry
	index   map[string]int
	agg     core.Aggregates
	counted map[string]map[string]decimal.Decimal // per entry key, what agg holds for it
	state   core.ChunkState

	digest  string   // digest of the last loaded or committed body
	history []string // recent digests this chunk loaded or wrote, newest last
	dirty   bool
	tainted bool

	subs    map[string]func()
	sources map[string]string // bus identifier -> entry key
}

// Snapshot is a point-in-time view of a chunk.
type Snapshot struct {
	ID         string
	State      core.ChunkState
	Capacity   int
	Aggregates core.Aggregates
	Digest     string
	Dirty      bool
	Tainted    bool
}

func newChunk(id string, cfg Config) *Chunk {
	cfg = cfg.withDefaults()
	contributors := withBase(cfg.Contributors)
	return &Chunk{
		id:           id,
		capacity:     cfg.Capacity,
		codec:        cfg.Codec,
		digester:     cfg.Digester,
		bus:          cfg.Bus,
		logger:       cfg.Logger.With("chunk", id),
		contributors: contributors,
		index:        make(map[string]int),
		agg:          zeroAggregates(contributors),
		counted:      make(map[string]map[string]decimal.Decimal),
		state:        core.ChunkOpen,
		subs:         make(map[string]func()),
		sources:      make(map[string]string),
	}
}

// New creates a chunk holding first. Its aggregates are seeded directly from
// first's contributions.
func New(id string, first core.Entry, cfg Config) (*Chunk, error) {
	if id == "" {
		return nil, errors.New("chunk id is required")
	}
	if first == nil {
		return nil, errors.New("a chunk needs a first entry")
	}
	if cfg.Codec == nil {
		return nil, errors.New("chunk codec is required")
	}

	c := newChunk(id, cfg)
	c.entries = []core.Entry{first}
	c.index[first.Key()] = 0
	c.count(first)
	c.dirty = true
	if c.capacity == 1 {
		c.state = core.ChunkSealed
	}
	c.attach(first)
	return c, nil
}

// ID returns the chunk identifier.
func (c *Chunk) ID() string { return c.id }

// Capacity returns the maximum number of entries.
func (c *Chunk) Capacity() int { return c.capacity }

// Add appends e. It fails with ErrCapacityExceeded on a full chunk and with
// ErrDuplicateEntry when an entry with the same key is present. Reaching
// capacity seals the chunk.
func (c *Chunk) Add(e core.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == core.ChunkDeleted:
		return fmt.Errorf("%w: %s", core.ErrChunkDeleted, c.id)
	case c.state == core.ChunkSealed || len(c.entries) >= c.capacity:
		return fmt.Errorf("%w: %s holds %d", core.ErrCapacityExceeded, c.id, c.capacity)
	}
	if _, ok := c.index[e.Key()]; ok {
		return fmt.Errorf("%w: %s", core.ErrDuplicateEntry, e.Key())
	}

	c.index[e.Key()] = len(c.entries)
	c.entries = append(c.entries, e)
	c.count(e)
	c.dirty = true
	c.attach(e)

	if len(c.entries) == c.capacity {
		c.state = core.ChunkSealed
		c.publish(core.EventChunkSealed)
	}
	return nil
}

// Remove deletes the entry with the given key and returns it. Removing the
// last entry moves the chunk to ChunkDeleted; Commit then removes its file.
// A sealed chunk that loses an entry stays sealed.
//
// The aggregates drop what they currently hold for the entry, which is not
// necessarily its present field values: a Delta still in flight for it is
// discarded along with the subscription.
func (c *Chunk) Remove(key string) (core.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == core.ChunkDeleted {
		return nil, fmt.Errorf("%w: %s", core.ErrChunkDeleted, c.id)
	}
	pos, ok := c.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrEntryNotFound, key)
	}

	e := c.entries[pos]
	c.entries = slices.Delete(c.entries, pos, pos+1)
	delete(c.index, key)
	for i := pos; i < len(c.entries); i++ {
		c.index[c.entries[i].Key()] = i
	}
	c.uncount(key)
	c.dirty = true
	c.detach(e)

	if len(c.entries) == 0 {
		c.state = core.ChunkDeleted
		c.publish(core.EventChunkDeleted)
	}
	return e, nil
}

// OnEvent implements core.Listener. Delta events adjust the aggregates; other
// kinds are ignored, as are deltas for entries the chunk no longer holds.
func (c *Chunk) OnEvent(ctx context.Context, ev core.Event) {
	d, ok := core.DeltaOf(ev)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.sources[ev.SourceID]
	if !ok {
		c.logger.DebugContext(ctx, "delta for departed entry dropped", "source", ev.SourceID, "delta", d.String())
		return
	}
	if err := c.applyDelta(key, d); err != nil {
		c.logger.WarnContext(ctx, "delta rejected", "entry", key, "delta", d.String(), "error", err)
	}
}

// ApplyDelta moves every aggregate whose contributor tracks d.Field by
// New - Old, on behalf of the entry with the given key. Deltas for untracked
// fields only mark the chunk dirty.
func (c *Chunk) ApplyDelta(key string, d core.Delta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyDelta(key, d)
}

func (c *Chunk) applyDelta(key string, d core.Delta) error {
	if c.state == core.ChunkDeleted {
		return fmt.Errorf("%w: %s", core.ErrChunkDeleted, c.id)
	}
	if _, ok := c.index[key]; !ok {
		return fmt.Errorf("%w: %s", core.ErrEntryNotFound, key)
	}

	var tracked []core.Contributor
	for _, ct := range c.contributors {
		if ct.Field() == d.Field {
			tracked = append(tracked, ct)
		}
	}
	if len(tracked) == 0 {
		// The entry changed even though no total moves.
		c.dirty = true
		return nil
	}

	before, err := params.ParseDecimal(d.Old)
	if err != nil {
		return &params.ParseError{Context: "delta", Key: d.Field, Raw: d.Old, Pos: -1, Err: err}
	}
	after, err := params.ParseDecimal(d.New)
	if err != nil {
		return &params.ParseError{Context: "delta", Key: d.Field, Raw: d.New, Pos: -1, Err: err}
	}

	diff := after.Sub(before)
	held := c.counted[key]
	for _, ct := range tracked {
		name := ct.Aggregate()
		c.agg.Totals[name] = c.agg.Totals[name].Add(diff)
		held[name] = held[name].Add(diff)
	}
	c.dirty = true
	return nil
}

// Aggregates returns a copy of the running totals.
func (c *Chunk) Aggregates() core.Aggregates {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agg.Clone()
}

// Recount recomputes the aggregates from the current entries without
// changing the running totals.
func (c *Chunk) Recount() core.Aggregates {
	c.mu.Lock()
	defer c.mu.Unlock()
	return recount(c.entries, c.contributors)
}

// Snapshot returns the chunk's current state.
func (c *Chunk) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:         c.id,
		State:      c.state,
		Capacity:   c.capacity,
		Aggregates: c.agg.Clone(),
		Digest:     c.digest,
		Dirty:      c.dirty,
		Tainted:    c.tainted,
	}
}

// Entries returns the entries in insertion order.
func (c *Chunk) Entries() []core.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Entry returns the entry with the given key.
func (c *Chunk) Entry(key string) (core.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.entries[pos], true
}

// Len returns the number of entries.
func (c *Chunk) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// State returns the lifecycle state.
func (c *Chunk) State() core.ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Digest returns the digest of the last loaded or committed body.
func (c *Chunk) Digest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.digest
}

// Dirty reports whether the chunk has uncommitted changes.
func (c *Chunk) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Produced reports whether digest is one of the recent versions this chunk
// loaded or wrote. A file change carrying any other digest came from elsewhere.
func (c *Chunk) Produced(digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.history, digest)
}

// remember records the current digest; the caller holds c.mu.
func (c *Chunk) remember(digest string) {
	c.digest = digest
	c.history = append(c.history, digest)
	if len(c.history) > historySize {
		c.history = slices.Delete(c.history, 0, len(c.history)-historySize)
	}
}

// Taint marks the chunk as out of sync with its file. A tainted chunk
// refuses to Commit so the foreign change is not overwritten.
func (c *Chunk) Taint() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tainted = true
}

// Tainted reports whether Taint was called.
func (c *Chunk) Tainted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tainted
}

// Close cancels the chunk's bus subscriptions and forgets its entries'
// identifiers. The chunk stays readable.
func (c *Chunk) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.detach(e)
	}
}

// count adds e's contributions to the aggregates and records them.
func (c *Chunk) count(e core.Entry) {
	held := make(map[string]decimal.Decimal, len(c.contributors))
	for _, ct := range c.contributors {
		v, ok := ct.Contribute(e)
		if !ok {
			continue
		}
		name := ct.Aggregate()
		c.agg.Totals[name] = c.agg.Totals[name].Add(v)
		held[name] = v
	}
	c.agg.Count++
	c.counted[e.Key()] = held
}

// uncount subtracts what the aggregates hold for key.
func (c *Chunk) uncount(key string) {
	for name, v := range c.counted[key] {
		c.agg.Totals[name] = c.agg.Totals[name].Sub(v)
	}
	c.agg.Count--
	delete(c.counted, key)
}

// attach subscribes the chunk to deltas addressed to e.
func (c *Chunk) attach(e core.Entry) {
	if c.bus == nil {
		return
	}
	id, err := c.bus.RegisterIdentifier(e)
	if err != nil {
		c.logger.Warn("entry not addressable", "entry", e.Key(), "error", err)
		return
	}
	c.subs[e.Key()] = c.bus.Subscribe(id, c)
	c.sources[id] = e.Key()
}

func (c *Chunk) detach(e core.Entry) {
	if cancel, ok := c.subs[e.Key()]; ok {
		cancel()
		delete(c.subs, e.Key())
	}
	for id, key := range c.sources {
		if key == e.Key() {
			delete(c.sources, id)
		}
	}
	if c.bus != nil {
		c.bus.Forget(e)
	}
}

func (c *Chunk) publish(kind core.EventKind) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(core.Event{Kind: kind, Payload: c.id}); err != nil {
		c.logger.Debug("event not published", "kind", kind, "error", err)
	}
}
