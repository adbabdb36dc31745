package core

import "context"

// Store is the byte-oriented persistence port used for chunk files.
// Names are slash-separated and relative to the store root.
type Store interface {
	// Read returns the full content of name.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces name with data. Implementations must never leave a
	// partially written file behind (write-to-temp then rename).
	Write(ctx context.Context, name string, data []byte) error

	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Remove deletes name. Removing a missing name is not an error.
	Remove(ctx context.Context, name string) error

	// List returns the names of all chunk files, sorted.
	List(ctx context.Context) ([]string, error)
}

// Lockable is implemented by stores that can serialize writers across processes.
type Lockable interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// Digester computes a fixed-length content digest.
// Only determinism and collision resistance sufficient for corruption and
// tamper detection are required.
type Digester interface {
	// Name identifies the algorithm in persisted digests (e.g. "sha256").
	Name() string
	// Sum returns the hex encoded digest of data.
	Sum(data []byte) string
}

// Listener receives events from the bus. Calls happen sequentially on the
// dispatch goroutine and must not block for long.
type Listener interface {
	OnEvent(ctx context.Context, e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// EventBus is the subset of the bus the ledger packages depend on.
type EventBus interface {
	// RegisterIdentifier returns a stable identifier for obj.
	RegisterIdentifier(obj any) (string, error)
	// Forget ends the lifetime of obj's identifier.
	Forget(obj any)
	// Subscribe delivers events whose SourceID is id to l.
	Subscribe(id string, l Listener) (cancel func())
	// SubscribeKind delivers every event of kind to l.
	SubscribeKind(kind EventKind, l Listener) (cancel func())
	// Publish enqueues e for asynchronous delivery.
	Publish(e Event) error
}
