package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/pkg/adapters/fs"
	"github.com/aretw0/tally/pkg/bus"
	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/core"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	dir   string
	store *fs.Store
	bus   *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, t.TempDir())
}

func newFixtureAt(t *testing.T, dir string) *fixture {
	t.Helper()
	store, err := fs.NewStore(fs.Config{Path: dir, Logger: quiet})
	require.NoError(t, err)

	b := bus.New(bus.WithLogger(quiet), bus.WithPollInterval(5*time.Millisecond))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = b.Halt(ctx)
	})
	return &fixture{dir: dir, store: store, bus: b}
}

func (f *fixture) open(t *testing.T, capacity int) *Book {
	t.Helper()
	book, err := Open(context.Background(), f.store, f.bus, Options{Capacity: capacity, Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(book.Close)
	return book
}

func addTx(t *testing.T, book *Book, key, amount string) {
	t.Helper()
	tx, err := NewTransaction(key, dec(amount), "")
	require.NoError(t, err)
	require.NoError(t, book.Add(context.Background(), tx))
}

func TestBook_SplitsAtCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 3)

	for i := range 7 {
		addTx(t, book, fmt.Sprintf("t%d", i), "10")
	}

	snaps := book.Chunks()
	require.Len(t, snaps, 3)
	assert.Equal(t, core.ChunkSealed, snaps[0].State)
	assert.Equal(t, core.ChunkSealed, snaps[1].State)
	assert.Equal(t, core.ChunkOpen, snaps[2].State)
	assert.Equal(t, 1, snaps[2].Aggregates.Count)

	totals := book.Totals()
	assert.Equal(t, 7, totals.Count)
	assert.True(t, totals.Total("amount").Equal(dec("70")))

	require.NoError(t, book.Commit(ctx))
	names, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 3)

	err = book.Add(ctx, mustTx(t, "t3", "1"))
	assert.ErrorIs(t, err, core.ErrDuplicateEntry)
}

func mustTx(t *testing.T, key, amount string) *Transaction {
	t.Helper()
	tx, err := NewTransaction(key, dec(amount), "")
	require.NoError(t, err)
	return tx
}

func TestBook_CommitAndReopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 2)

	addTx(t, book, "rent", "-950")
	addTx(t, book, "salary", "3000")
	st, err := NewStockTrade("buy-acme", dec("-500"), "ACME", dec("5"))
	require.NoError(t, err)
	require.NoError(t, book.Add(ctx, st))
	require.NoError(t, book.Commit(ctx))
	want := book.Totals()
	book.Close()

	reopened := f.open(t, 2)
	got := reopened.Totals()
	assert.True(t, want.Equal(got), "want %v, got %v", want, got)
	assert.True(t, got.Total("shares").Equal(dec("5")))
	assert.Len(t, reopened.Entries(), 3)

	e, ok := reopened.Entry("buy-acme")
	require.True(t, ok)
	assert.Equal(t, "ACME", e.(*StockTrade).Symbol())

	findings, err := reopened.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestBook_UpdatePublishesDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 10)

	st, err := NewStockTrade("buy-acme", dec("-500"), "ACME", dec("5"))
	require.NoError(t, err)
	require.NoError(t, book.Add(ctx, st))
	addTx(t, book, "coffee", "-3")

	d, err := book.Update(ctx, "buy-acme", FieldShares, "8")
	require.NoError(t, err)
	assert.Equal(t, core.Delta{Field: "shares", Old: "5", New: "8"}, d)

	require.NoError(t, book.Flush(ctx))
	assert.True(t, book.Totals().Total("shares").Equal(dec("8")))

	_, err = book.Update(ctx, "coffee", FieldMemo, "espresso")
	require.NoError(t, err)
	require.NoError(t, book.Flush(ctx))
	assert.True(t, book.Chunks()[0].Dirty, "untracked field changes still need a commit")

	_, err = book.Update(ctx, "missing", FieldAmount, "1")
	assert.ErrorIs(t, err, core.ErrEntryNotFound)

	require.NoError(t, book.Commit(ctx))
	book.Close()

	reopened := f.open(t, 10)
	assert.True(t, reopened.Totals().Total("shares").Equal(dec("8")))
	e, ok := reopened.Entry("coffee")
	require.True(t, ok)
	assert.Equal(t, "espresso", e.(*Transaction).Memo())
}

func TestBook_UpdateWithoutBus(t *testing.T) {
	ctx := context.Background()
	store, err := fs.NewStore(fs.Config{Path: t.TempDir(), Logger: quiet})
	require.NoError(t, err)
	book, err := Open(ctx, store, nil, Options{Logger: quiet})
	require.NoError(t, err)
	defer book.Close()

	addTx(t, book, "a", "1")
	_, err = book.Update(ctx, "a", FieldAmount, "4")
	require.NoError(t, err)
	assert.True(t, book.Totals().Total("amount").Equal(dec("4")))
}

func TestBook_RemoveDeletesEmptiedChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 2)

	addTx(t, book, "a", "1")
	addTx(t, book, "b", "2")
	addTx(t, book, "c", "3")
	require.NoError(t, book.Commit(ctx))

	names, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, names, 2)

	removed, err := book.Remove(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "c", removed.Key())

	snaps := book.Chunks()
	require.Len(t, snaps, 2)
	assert.Equal(t, core.ChunkDeleted, snaps[1].State)
	assert.Equal(t, 2, book.Totals().Count)

	require.NoError(t, book.Commit(ctx))
	assert.Len(t, book.Chunks(), 1)
	names, err = f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 1)

	_, err = book.Remove(ctx, "c")
	assert.ErrorIs(t, err, core.ErrEntryNotFound)

	// The sealed chunk keeps its state, so new entries start a new chunk.
	_, err = book.Remove(ctx, "a")
	require.NoError(t, err)
	addTx(t, book, "d", "4")
	assert.Len(t, book.Chunks(), 2)
}

func TestBook_IndexesCommittedChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)

	addTx(t, book, "a", "1.25")
	addTx(t, book, "b", "2")
	require.NoError(t, book.Commit(ctx))

	snap := book.Chunks()[0]
	entry, ok := f.store.Indexed(chunk.FileName(snap.ID))
	require.True(t, ok)
	assert.Equal(t, snap.Digest, entry.Digest)
	assert.Equal(t, 2, entry.Count)
	assert.Equal(t, "3.25", entry.Totals["amount"])
	assert.Equal(t, "open", entry.State)
}

func tamper(t *testing.T, path string, old, new string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.Contains(raw, []byte(old)), "file lacks %q", old)
	require.NoError(t, os.WriteFile(path, bytes.Replace(raw, []byte(old), []byte(new), 1), 0o644))
}

// rewrite replaces old with new in the chunk body and re-signs the file, as
// another writer would.
func rewrite(t *testing.T, path string, old, new string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	file, err := chunk.DecodeFile(raw)
	require.NoError(t, err)
	require.True(t, bytes.Contains(file.Body, []byte(old)), "body lacks %q", old)

	body := bytes.Replace(file.Body, []byte(old), []byte(new), 1)
	out := chunk.EncodeFile(chunk.File{Digest: chunk.Digest(chunk.SHA256{}, body), Body: body})
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestBook_OpenRejectsTamperedFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)
	addTx(t, book, "a", "10")
	require.NoError(t, book.Commit(ctx))
	id := book.Chunks()[0].ID
	book.Close()

	tamper(t, filepath.Join(f.dir, chunk.FileName(id)), "amount=10;", "amount=99;")

	_, err := Open(ctx, f.store, f.bus, Options{Logger: quiet})
	require.Error(t, err)
	assert.True(t, core.IsIntegrityMismatch(err))

	findings, err := VerifyFiles(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, id, findings[0].Chunk)
	assert.True(t, core.IsIntegrityMismatch(findings[0].Err))
}

func TestVerifyFiles_Clean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 1)
	addTx(t, book, "a", "1")
	addTx(t, book, "b", "2")
	require.NoError(t, book.Commit(ctx))

	findings, err := VerifyFiles(ctx, f.store)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

type integrityRecorder struct {
	mu     sync.Mutex
	events []*core.IntegrityMismatchError
}

func (r *integrityRecorder) OnEvent(_ context.Context, e core.Event) {
	if m, ok := e.Payload.(*core.IntegrityMismatchError); ok {
		r.mu.Lock()
		r.events = append(r.events, m)
		r.mu.Unlock()
	}
}

func (r *integrityRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *integrityRecorder) first() *core.IntegrityMismatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[0]
}

func TestBook_ForeignChangeTaintsChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)

	rec := &integrityRecorder{}
	cancel := f.bus.SubscribeKind(core.EventIntegrityFail, rec)
	defer cancel()

	addTx(t, book, "a", "10")
	require.NoError(t, book.Commit(ctx))
	snap := book.Chunks()[0]
	name := chunk.FileName(snap.ID)

	// Our own write is recognised.
	require.NoError(t, f.bus.Publish(core.Event{Kind: core.EventChunkChanged, Payload: core.ChunkChange{ID: snap.ID, Name: name, Op: "write"}}))
	require.NoError(t, book.Flush(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, book.Chunks()[0].Tainted)

	rewrite(t, filepath.Join(f.dir, name), "amount=10;", "amount=11;")
	require.NoError(t, f.bus.Publish(core.Event{Kind: core.EventChunkChanged, Payload: core.ChunkChange{ID: snap.ID, Name: name, Op: "write"}}))

	require.Eventually(t, func() bool { return book.Chunks()[0].Tainted }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, snap.Digest, rec.first().Expected)

	_, err := book.Update(ctx, "a", FieldAmount, "12")
	require.NoError(t, err)
	err = book.Commit(ctx)
	assert.ErrorIs(t, err, core.ErrChunkTainted)

	findings, err := book.Verify(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	assert.ErrorIs(t, findings[0].Err, core.ErrChunkTainted)

	require.NoError(t, book.Reload(ctx, snap.ID))
	reloaded := book.Chunks()
	require.Len(t, reloaded, 1)
	assert.False(t, reloaded[0].Tainted)
	assert.True(t, book.Totals().Total("amount").Equal(dec("11")))
}

func TestBook_WatcherReportsRemovedFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)

	rec := &integrityRecorder{}
	cancel := f.bus.SubscribeKind(core.EventIntegrityFail, rec)
	defer cancel()

	stop, err := f.store.Watch(ctx, f.bus)
	require.NoError(t, err)
	defer func() { _ = stop(context.Background()) }()

	addTx(t, book, "a", "10")
	require.NoError(t, book.Commit(ctx))
	_, err = book.Update(ctx, "a", FieldAmount, "20")
	require.NoError(t, err)
	require.NoError(t, book.Commit(ctx))

	// Give the watcher time to report both of our own writes.
	time.Sleep(300 * time.Millisecond)
	require.False(t, book.Chunks()[0].Tainted)

	snap := book.Chunks()[0]
	require.NoError(t, os.Remove(filepath.Join(f.dir, chunk.FileName(snap.ID))))

	require.Eventually(t, func() bool { return book.Chunks()[0].Tainted }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return rec.len() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "missing", rec.first().Actual)
}

// holdDispatcher parks the bus dispatcher inside a listener until release is
// called, so published Deltas stay queued.
func holdDispatcher(t *testing.T, f *fixture) (release func()) {
	t.Helper()
	held := make(chan struct{})
	gate := make(chan struct{})
	cancel := f.bus.SubscribeKind("test.hold", core.ListenerFunc(func(context.Context, core.Event) {
		close(held)
		<-gate
	}))
	require.NoError(t, f.bus.Publish(core.Event{Kind: "test.hold"}))
	select {
	case <-held:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never reached the hold listener")
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(gate)
			cancel()
		})
	}
	t.Cleanup(release)
	return release
}

func TestBook_RemoveBeforeDeltaDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)

	addTx(t, book, "a", "1")
	addTx(t, book, "b", "-2")

	release := holdDispatcher(t, f)
	_, err := book.Update(ctx, "b", FieldAmount, "100")
	require.NoError(t, err)
	_, err = book.Remove(ctx, "b")
	require.NoError(t, err)
	release()

	findings, err := book.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, findings)

	totals, err := book.SettledTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Count)
	assert.True(t, totals.Total("amount").Equal(dec("1")), "got %s", totals.Total("amount"))
}

func TestBook_SettledTotalsWaitsForDeltas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)

	addTx(t, book, "a", "10")

	release := holdDispatcher(t, f)
	_, err := book.Update(ctx, "a", FieldAmount, "25")
	require.NoError(t, err)

	e, ok := book.Entry("a")
	require.True(t, ok)
	assert.True(t, e.Amount().Equal(dec("25")))
	assert.True(t, book.Totals().Total("amount").Equal(dec("10")), "the Delta is still queued")

	release()
	totals, err := book.SettledTotals(ctx)
	require.NoError(t, err)
	assert.True(t, totals.Total("amount").Equal(dec("25")))
}

func TestBook_VerifyReportsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 5)

	addTx(t, book, "a", "10")
	d, err := book.Update(ctx, "a", FieldAmount, "15")
	require.NoError(t, err)

	// Deliver the same Delta a second time.
	e, ok := book.Entry("a")
	require.True(t, ok)
	source, ok := f.bus.Identifier(e)
	require.True(t, ok)
	require.NoError(t, f.bus.Publish(core.Event{Kind: core.EventDelta, SourceID: source, Payload: d}))

	findings, err := book.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.True(t, errors.Is(findings[0].Err, ErrAggregateDrift))
	assert.Contains(t, findings[0].String(), "amount=20")
	assert.Contains(t, findings[0].String(), "amount=15")
}

func TestBook_State(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.open(t, 1)
	addTx(t, book, "a", "1")
	addTx(t, book, "b", "1")

	state := book.State().(BookState)
	assert.Equal(t, 2, state.Chunks)
	assert.Equal(t, 2, state.Sealed)
	assert.Equal(t, 2, state.Entries)
	assert.Len(t, state.Dirty, 2)
	assert.Nil(t, state.LastCommit)

	require.NoError(t, book.Commit(ctx))
	state = book.State().(BookState)
	assert.Empty(t, state.Dirty)
	assert.NotNil(t, state.LastCommit)
	assert.Equal(t, "ledger-book", book.ComponentType())
}
