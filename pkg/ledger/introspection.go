package ledger

import (
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/tally/pkg/core"
)

// BookState exposes internal state for observability.
type BookState struct {
	Chunks     int        `json:"chunks"`
	Sealed     int        `json:"sealed"`
	Pending    int        `json:"pending_deletes"`
	Entries    int        `json:"entries"`
	Open       string     `json:"open_chunk,omitempty"`
	Dirty      []string   `json:"dirty,omitempty"`
	Tainted    []string   `json:"tainted,omitempty"`
	LastCommit *time.Time `json:"last_commit,omitempty"`
}

// State implements introspection.Introspectable.
func (b *Book) State() any {
	snaps := b.Chunks()

	b.mu.RLock()
	state := BookState{
		Entries:    len(b.owner),
		Open:       b.open,
		LastCommit: b.lastCommit,
	}
	b.mu.RUnlock()

	for _, s := range snaps {
		switch s.State {
		case core.ChunkDeleted:
			state.Pending++
			continue
		case core.ChunkSealed:
			state.Sealed++
		}
		state.Chunks++
		if s.Dirty {
			state.Dirty = append(state.Dirty, s.ID)
		}
		if s.Tainted {
			state.Tainted = append(state.Tainted, s.ID)
		}
	}
	return state
}

// ComponentType implements introspection.Component.
func (b *Book) ComponentType() string {
	return "ledger-book"
}

var _ introspection.Introspectable = (*Book)(nil)
var _ introspection.Component = (*Book)(nil)
