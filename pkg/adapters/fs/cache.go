package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IndexEntry is the cached summary of one chunk file.
type IndexEntry struct {
	ID           string            `json:"id"`
	Digest       string            `json:"digest"`
	State        string            `json:"state"`
	Count        int               `json:"count"`
	Totals       map[string]string `json:"totals,omitempty"`
	LastModified time.Time         `json:"lastModified"`
}

// index represents the persistent cache state.
type index struct {
	Version int                    `json:"version"`
	Entries map[string]*IndexEntry `json:"entries"` // keyed by chunk file name
	dirty   bool
	mu      sync.RWMutex
}

// cache manages the loading, updating, and saving of the index.
type cache struct {
	Path  string // {root}/{systemDir}/index.json
	index *index
}

const indexVersion = 1

func newCache(root, systemDir string) *cache {
	return &cache{
		Path: filepath.Join(root, systemDir, "index.json"),
		index: &index{
			Version: indexVersion,
			Entries: make(map[string]*IndexEntry),
		},
	}
}

// Load reads the cache from disk. A missing, corrupted or outdated index is
// replaced by an empty one.
func (c *cache) Load() error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if err := json.Unmarshal(data, c.index); err != nil || c.index.Version != indexVersion || c.index.Entries == nil {
		c.index.Version = indexVersion
		c.index.Entries = make(map[string]*IndexEntry)
		c.index.dirty = true
		return nil
	}

	c.index.dirty = false
	return nil
}

// Save persists the cache if it changed.
func (c *cache) Save() error {
	c.index.mu.RLock()
	if !c.index.dirty {
		c.index.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(c.index, "", "  ")
	c.index.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	if err := replaceFile(c.Path, data, 0644); err != nil {
		return err
	}

	c.index.mu.Lock()
	c.index.dirty = false
	c.index.mu.Unlock()
	return nil
}

// Get returns the entry for name if it was recorded for the given mtime.
func (c *cache) Get(name string, mtime time.Time) (*IndexEntry, bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	entry, ok := c.index.Entries[name]
	if !ok || !entry.LastModified.Equal(mtime) {
		return nil, false
	}
	return entry, true
}

func (c *cache) Set(name string, entry *IndexEntry) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	c.index.Entries[name] = entry
	c.index.dirty = true
}

// Prune removes entries whose name is not in keep.
func (c *cache) Prune(keep map[string]bool) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	for name := range c.index.Entries {
		if !keep[name] {
			delete(c.index.Entries, name)
			c.index.dirty = true
		}
	}
}

func (c *cache) Delete(name string) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	if _, ok := c.index.Entries[name]; ok {
		delete(c.index.Entries, name)
		c.index.dirty = true
	}
}

func (c *cache) Len() int {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	return len(c.index.Entries)
}

// Indexed returns the cached summary of name if it is still fresh, that is,
// recorded for the file's current modification time.
func (s *Store) Indexed(name string) (IndexEntry, bool) {
	info, err := os.Stat(s.abs(name))
	if err != nil {
		return IndexEntry{}, false
	}
	entry, ok := s.cache.Get(name, info.ModTime())
	if !ok {
		return IndexEntry{}, false
	}
	return *entry, true
}

// Index records the summary of name, stamped with the file's current
// modification time.
func (s *Store) Index(name string, entry IndexEntry) error {
	info, err := os.Stat(s.abs(name))
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", name, err)
	}
	entry.LastModified = info.ModTime()
	s.cache.Set(name, &entry)
	return nil
}

// PruneIndex drops cached summaries for names not listed.
func (s *Store) PruneIndex(names []string) {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	s.cache.Prune(keep)
}

// SaveIndex writes the index cache if it changed. It is a no-op for read-only stores.
func (s *Store) SaveIndex() error {
	if s.config.ReadOnly {
		return nil
	}
	return s.cache.Save()
}
