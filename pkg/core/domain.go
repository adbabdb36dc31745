// Package core holds the domain vocabulary shared by the ledger packages:
// entries, deltas, events, aggregates and the ports adapters implement.
package core

import (
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

// AggregateAmount is the base aggregate every chunk maintains.
const AggregateAmount = "amount"

// Entry is an opaque ledger entry owned by a chunk.
// It exposes a stable key and the base amount it contributes; variants expose
// more numeric fields that Contributors read.
type Entry interface {
	Key() string
	Kind() string
	Amount() decimal.Decimal
}

// Delta is an immutable before/after record for one field of an entity.
type Delta struct {
	Field string
	Old   string
	New   string
}

// NewDelta builds a Delta from decimal values.
func NewDelta(field string, before, after decimal.Decimal) Delta {
	return Delta{Field: field, Old: before.String(), New: after.String()}
}

func (d Delta) String() string {
	return fmt.Sprintf("%s: %s -> %s", d.Field, d.Old, d.New)
}

// EventKind tags an event. The space is open; the kinds below are the ones
// the ledger packages publish or consume.
type EventKind string

const (
	EventDelta         EventKind = "delta"
	EventChunkChanged  EventKind = "chunk.changed"
	EventChunkSealed   EventKind = "chunk.sealed"
	EventChunkDeleted  EventKind = "chunk.deleted"
	EventIntegrityFail EventKind = "chunk.integrity"
)

// Event is the unit carried by the event bus.
type Event struct {
	Kind     EventKind
	Payload  any
	SourceID string // bus identifier of the originating object, optional
}

// String implements fmt.Stringer (and lifecycle.Event).
func (e Event) String() string {
	if e.SourceID == "" {
		return fmt.Sprintf("%s %v", e.Kind, e.Payload)
	}
	return fmt.Sprintf("%s@%s %v", e.Kind, e.SourceID, e.Payload)
}

// ChunkChange is the payload of EventChunkChanged.
type ChunkChange struct {
	ID   string // chunk id
	Name string // store name of the file
	Op   string // "write" or "remove"
}

// DeltaOf returns the Delta carried by e, if any.
func DeltaOf(e Event) (Delta, bool) {
	switch p := e.Payload.(type) {
	case Delta:
		return p, true
	case *Delta:
		if p != nil {
			return *p, true
		}
	}
	return Delta{}, false
}

// Contributor maps an entry to the value it adds to one aggregate, and names
// the Delta field that moves that aggregate.
type Contributor interface {
	// Aggregate is the name of the total this contributor maintains.
	Aggregate() string
	// Field is the Delta field key that adjusts the aggregate.
	Field() string
	// Contribute returns the entry's value, false when the entry does not take part.
	Contribute(e Entry) (decimal.Decimal, bool)
}

// ChunkState is the lifecycle state of a chunk.
type ChunkState string

const (
	ChunkOpen    ChunkState = "open"
	ChunkSealed  ChunkState = "sealed"
	ChunkDeleted ChunkState = "deleted"
)

// ParseChunkState validates a persisted state value.
func ParseChunkState(s string) (ChunkState, error) {
	switch ChunkState(s) {
	case ChunkOpen, ChunkSealed, ChunkDeleted:
		return ChunkState(s), nil
	}
	return "", fmt.Errorf("unknown chunk state %q", s)
}

// Aggregates is a snapshot of running totals.
type Aggregates struct {
	Count  int
	Totals map[string]decimal.Decimal
}

// NewAggregates returns zeroed aggregates with the base amount total present.
func NewAggregates() Aggregates {
	return Aggregates{Totals: map[string]decimal.Decimal{AggregateAmount: decimal.Zero}}
}

// Total returns the named total, zero when absent.
func (a Aggregates) Total(name string) decimal.Decimal {
	return a.Totals[name]
}

// Clone returns a deep copy.
func (a Aggregates) Clone() Aggregates {
	return Aggregates{Count: a.Count, Totals: maps.Clone(a.Totals)}
}

// Add sums o into a copy of a.
func (a Aggregates) Add(o Aggregates) Aggregates {
	out := a.Clone()
	if out.Totals == nil {
		out.Totals = make(map[string]decimal.Decimal)
	}
	out.Count += o.Count
	for k, v := range o.Totals {
		out.Totals[k] = out.Totals[k].Add(v)
	}
	return out
}

// Equal compares counts and totals numerically. Missing totals count as zero.
func (a Aggregates) Equal(o Aggregates) bool {
	if a.Count != o.Count {
		return false
	}
	for _, k := range a.Names() {
		if !a.Totals[k].Equal(o.Totals[k]) {
			return false
		}
	}
	for k, v := range o.Totals {
		if _, ok := a.Totals[k]; !ok && !v.IsZero() {
			return false
		}
	}
	return true
}

// Names returns the total names sorted.
func (a Aggregates) Names() []string {
	return slices.Sorted(maps.Keys(a.Totals))
}
