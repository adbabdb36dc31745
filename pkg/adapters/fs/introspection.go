package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path          string     `json:"path"`
	SystemDir     string     `json:"system_dir"`
	Pattern       string     `json:"pattern"`
	IndexSize     int        `json:"index_size"`
	ReadOnly      bool       `json:"read_only"`
	WatcherActive bool       `json:"watcher_active"`
	LastScan      *time.Time `json:"last_scan,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreState{
		Path:          s.Path,
		SystemDir:     s.config.SystemDir,
		Pattern:       s.config.Pattern,
		IndexSize:     s.cache.Len(),
		ReadOnly:      s.config.ReadOnly,
		WatcherActive: s.watcherActive,
		LastScan:      s.lastScan,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "chunk-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
