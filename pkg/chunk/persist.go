package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tally/pkg/core"
)

// Load reads the chunk with the given id from store and verifies it against
// expected. An empty expected checks the file against the digest recorded in
// its own header. On mismatch Load returns a *core.IntegrityMismatchError
// carrying the expected and actual digests and no chunk.
//
// Aggregates are recomputed from the loaded entries. The persisted capacity
// wins over cfg.Capacity so a chunk never becomes over-full on reload.
func Load(ctx context.Context, store core.Store, id, expected string, cfg Config) (*Chunk, error) {
	if cfg.Codec == nil {
		return nil, errors.New("chunk codec is required")
	}

	name := FileName(id)
	raw, err := store.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", id, err)
	}

	f, err := DecodeFile(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", id, err)
	}
	if expected == "" {
		expected = f.Digest
	}
	actual, err := Verify(name, f.Body, expected, cfg.Digester)
	if err != nil {
		return nil, err
	}

	b, err := decodeBody(cfg.Codec, f.Body)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", id, err)
	}
	if b.ID != id {
		return nil, fmt.Errorf("chunk %s: %w: body names %q", id, ErrMalformedFile, b.ID)
	}
	if len(b.Entries) == 0 || b.State == core.ChunkDeleted {
		return nil, fmt.Errorf("chunk %s: %w: no live entries", id, ErrMalformedFile)
	}

	if b.Capacity > 0 {
		cfg.Capacity = b.Capacity
	}
	c := newChunk(id, cfg)
	if len(b.Entries) > c.capacity {
		return nil, fmt.Errorf("chunk %s: %w: %d entries", id, core.ErrCapacityExceeded, len(b.Entries))
	}

	for i, e := range b.Entries {
		if _, dup := c.index[e.Key()]; dup {
			return nil, fmt.Errorf("chunk %s: %w: %s", id, core.ErrDuplicateEntry, e.Key())
		}
		c.index[e.Key()] = i
	}
	c.entries = b.Entries
	for _, e := range c.entries {
		c.count(e)
	}
	c.state = b.State
	if len(c.entries) == c.capacity {
		c.state = core.ChunkSealed
	}
	c.remember(actual)

	for _, e := range c.entries {
		c.attach(e)
	}
	return c, nil
}

// Commit persists the chunk if it changed since the last Load or Commit.
// A deleted chunk has its file removed. Commit fails with ErrChunkTainted
// when the file was changed by someone else.
func (c *Chunk) Commit(ctx context.Context, store core.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}
	if c.tainted {
		return fmt.Errorf("%w: %s", core.ErrChunkTainted, c.id)
	}

	name := FileName(c.id)
	if c.state == core.ChunkDeleted {
		if err := store.Remove(ctx, name); err != nil {
			return fmt.Errorf("failed to remove chunk %s: %w", c.id, err)
		}
		c.digest = ""
		c.dirty = false
		return nil
	}

	data, digest, err := c.encode()
	if err != nil {
		return err
	}
	if err := store.Write(ctx, name, data); err != nil {
		return fmt.Errorf("failed to write chunk %s: %w", c.id, err)
	}
	c.remember(digest)
	c.dirty = false
	c.logger.Debug("chunk committed", "digest", digest, "entries", len(c.entries))
	return nil
}

// Encode renders the chunk file without writing it.
func (c *Chunk) Encode() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _, err := c.encode()
	return data, err
}

func (c *Chunk) encode() ([]byte, string, error) {
	b, err := encodeBody(c.codec, body{
		ID:       c.id,
		State:    c.state,
		Capacity: c.capacity,
		Entries:  c.entries,
	})
	if err != nil {
		return nil, "", err
	}
	digest := Digest(c.digester, b)
	return EncodeFile(File{Digest: digest, Body: b}), digest, nil
}

// VerifyFile checks a stored chunk file against expected (or its own header
// when expected is empty) without decoding entries. Digesters outside the
// built-in and registered set are passed in known. It returns the actual digest.
func VerifyFile(ctx context.Context, store core.Store, id, expected string, known ...core.Digester) (string, error) {
	name := FileName(id)
	raw, err := store.Read(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read chunk %s: %w", id, err)
	}
	f, err := DecodeFile(raw)
	if err != nil {
		return "", fmt.Errorf("chunk %s: %w", id, err)
	}
	if expected == "" {
		expected = f.Digest
	}
	return Verify(name, f.Body, expected, known...)
}
