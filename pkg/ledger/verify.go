package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/core"
)

// ErrAggregateDrift reports running totals that no longer match a recount.
var ErrAggregateDrift = errors.New("aggregates drifted from entries")

// Finding is one verification failure.
type Finding struct {
	Chunk string
	Err   error
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %v", f.Chunk, f.Err)
}

// VerifyFiles checks every chunk file in store against its index entry when
// fresh, or its own header otherwise. It reads digests only and does not need
// a Book, so it works on stores a Book would refuse to open. Digesters that
// are neither built in nor registered are passed in known.
func VerifyFiles(ctx context.Context, store core.Store, known ...core.Digester) ([]Finding, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	indexer, _ := store.(Indexer)

	var findings []Finding
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
		if _, err := chunk.VerifyFile(ctx, store, id, expected, known...); err != nil {
			findings = append(findings, Finding{Chunk: id, Err: err})
		}
	}
	return findings, nil
}

// Verify waits for pending deltas, then checks each live chunk: a committed,
// clean chunk must still match its file, and every chunk's running totals
// must equal a full recount.
func (b *Book) Verify(ctx context.Context) ([]Finding, error) {
	if err := b.Flush(ctx); err != nil {
		return nil, err
	}

	var findings []Finding
	for _, c := range b.live() {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		s := c.Snapshot()
		if s.Tainted {
			findings = append(findings, Finding{Chunk: s.ID, Err: core.ErrChunkTainted})
		} else if !s.Dirty && s.Digest != "" {
			if _, err := chunk.VerifyFile(ctx, b.store, s.ID, s.Digest, b.cfg.Digester); err != nil {
				findings = append(findings, Finding{Chunk: s.ID, Err: err})
			}
		}

		if recount := c.Recount(); !recount.Equal(s.Aggregates) {
			findings = append(findings, Finding{
				Chunk: s.ID,
				Err:   fmt.Errorf("%w: running %s, recount %s", ErrAggregateDrift, describe(s.Aggregates), describe(recount)),
			})
		}
	}
	return findings, nil
}

func describe(a core.Aggregates) string {
	out := fmt.Sprintf("count=%d", a.Count)
	for _, name := range a.Names() {
		out += fmt.Sprintf(" %s=%s", name, a.Totals[name])
	}
	return out
}
