package fs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/core"
)

// watchDebounce coalesces the create/write/chmod bursts of one atomic rename.
const watchDebounce = 50 * time.Millisecond

// watchWorker publishes chunk.changed events for chunk files modified under
// the store root.
type watchWorker struct {
	*worker.BaseWorker
	store     *Store
	bus       core.EventBus
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc
}

func newWatchWorker(store *Store, bus core.EventBus) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("fs-watcher"),
		store:      store,
		bus:        bus,
	}
}

// Watch starts a supervised watcher that publishes a core.EventChunkChanged
// event on bus for every chunk file created, written, removed or renamed under
// the store. A failed watcher is restarted with backoff. The returned function
// stops it.
func (s *Store) Watch(ctx context.Context, bus core.EventBus) (stop func(context.Context) error, err error) {
	spec := supervisor.Spec{
		Name: "fs-watcher",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return newWatchWorker(s, bus), nil
		},
		Backoff: supervisor.Backoff{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			ResetDuration:   time.Minute,
			MaxRestarts:     5,
			MaxDuration:     10 * time.Minute,
		},
		RestartPolicy: supervisor.RestartOnFailure,
	}

	sup := supervisor.New("chunk-watch", supervisor.StrategyOneForOne, spec)
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	return sup.Stop, nil
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.store.recursiveAdd(watcher, w.store.Path); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(watchDebounce)
	w.store.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// recursiveAdd watches root and every non-hidden directory below it.
func (s *Store) recursiveAdd(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.Path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if w.store.config.Logger.Enabled(ctx, slog.LevelDebug) {
				w.store.config.Logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				w.store.config.Logger.Error("watcher panic", "error", err)
			}
		}
	}()
	defer w.store.setWatcherActive(false)
	defer w.watcher.Close()

	err = w.loop(ctx)

	// Pending flushes publish to the bus; let them finish before returning.
	w.debouncer.stopAndWait(5 * time.Second)
	return err
}

func (w *watchWorker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.handle(event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.store.config.Logger.Error("fsnotify error", "error", wErr)
			if w.store.config.ErrorHandler != nil {
				w.store.config.ErrorHandler(wErr)
			}
		}
	}
}

func (w *watchWorker) handle(event fsnotify.Event) {
	logger := w.store.config.Logger
	logger.Debug("event received", "name", event.Name, "op", event.Op.String())

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.store.recursiveAdd(w.watcher, event.Name); err != nil {
				logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, TempFilePrefix) || strings.HasPrefix(base, ".") {
		return
	}
	rel, err := filepath.Rel(w.store.Path, event.Name)
	if err != nil {
		return
	}
	name := filepath.ToSlash(rel)
	if !w.store.Match(name) {
		return
	}
	id, ok := chunk.IDFromFile(name)
	if !ok {
		return
	}

	op := "write"
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = "remove"
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
	default:
		return
	}

	w.debouncer.add(name, func() {
		// A rename away followed by a rename in reads as a write.
		if op == "remove" {
			if ok, _ := w.store.Exists(context.Background(), name); ok {
				op = "write"
			}
		}
		change := core.ChunkChange{ID: id, Name: name, Op: op}
		if err := w.bus.Publish(core.Event{Kind: core.EventChunkChanged, Payload: change}); err != nil {
			logger.Debug("chunk change dropped", "name", name, "error", err)
		}
	})
}

func (s *Store) setWatcherActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherActive = active
}
