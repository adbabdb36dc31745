package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/tally/pkg/core"
)

const (
	// DefaultSystemDir holds the index cache and the commit lock.
	DefaultSystemDir = ".tally"
	// DefaultPattern selects chunk files relative to the store root.
	DefaultPattern = "**/*.chunk"
	// DefaultLockTimeout bounds how long Lock waits for another writer.
	DefaultLockTimeout = 10 * time.Second

	lockFileName = "commit.lock"
)

// ErrLockTimeout is returned when the commit lock stays held past the timeout.
var ErrLockTimeout = errors.New("timed out waiting for commit lock")

// Config holds the configuration for the filesystem store.
type Config struct {
	Path         string
	SystemDir    string
	Pattern      string
	LockTimeout  time.Duration
	ReadOnly     bool
	Logger       *slog.Logger
	ErrorHandler func(error)
}

// Store is a core.Store over a directory of chunk files.
type Store struct {
	Path   string
	config Config
	cache  *cache

	mu            sync.RWMutex
	watcherActive bool
	lastScan      *time.Time
}

// NewStore creates the store, making its directory and loading the index cache.
func NewStore(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("store path is required")
	}
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(config.Pattern) {
		return nil, fmt.Errorf("invalid chunk pattern %q", config.Pattern)
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	abs, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	if !config.ReadOnly {
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	s := &Store{
		Path:   abs,
		config: config,
		cache:  newCache(abs, config.SystemDir),
	}
	if err := s.cache.Load(); err != nil {
		config.Logger.Warn("index cache unavailable", "error", err)
	}
	return s, nil
}

func (s *Store) abs(name string) string {
	return filepath.Join(s.Path, filepath.FromSlash(name))
}

// Read returns the content of name.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.abs(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Write atomically replaces name with data.
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return core.ErrReadOnly
	}

	path := s.abs(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	return replaceFile(path, data, 0644)
}

// Exists reports whether name is present.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.abs(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes name and its index entry. A missing file is not an error.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return core.ErrReadOnly
	}
	if err := os.Remove(s.abs(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	s.cache.Delete(name)
	return nil
}

// List walks the store and returns the slash-separated names matching the
// configured pattern, sorted. Hidden directories are skipped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.Path && errors.Is(err, fs.ErrNotExist) {
				// A read-only store over a missing directory is empty.
				return filepath.SkipDir
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.Path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), TempFilePrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.Path, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.Match(rel) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.Path, err)
	}

	sort.Strings(names)
	now := time.Now()
	s.mu.Lock()
	s.lastScan = &now
	s.mu.Unlock()
	return names, nil
}

// Match reports whether the slash-separated name is a chunk file.
func (s *Store) Match(name string) bool {
	ok, err := doublestar.Match(s.config.Pattern, name)
	return err == nil && ok
}

// Lock acquires the cross-process commit lock, a file created with O_EXCL in
// the system directory. It retries until ctx is done or the lock timeout
// elapses.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	if s.config.ReadOnly {
		return nil, core.ErrReadOnly
	}

	dir := filepath.Join(s.Path, s.config.SystemDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create system directory: %w", err)
	}
	lockPath := filepath.Join(dir, lockFileName)

	ctx, cancel := context.WithTimeout(ctx, s.config.LockTimeout)
	defer cancel()

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL, 0666)
		if err == nil {
			f.Close()
			var once sync.Once
			return func() {
				once.Do(func() { os.Remove(lockPath) })
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

var (
	_ core.Store    = (*Store)(nil)
	_ core.Lockable = (*Store)(nil)
)
