package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
)

// dispatchWorker is the single consumer of the bus queue.
type dispatchWorker struct {
	*worker.BaseWorker
	bus    *Bus
	done   chan struct{}
	cancel context.CancelFunc
}

func newDispatchWorker(b *Bus) *dispatchWorker {
	return &dispatchWorker{
		BaseWorker: worker.NewBaseWorker("bus-dispatch"),
		bus:        b,
		done:       make(chan struct{}),
	}
}

func (w *dispatchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("dispatcher already started (status: %s)", status)
	}

	// Dispatch lives until Halt, not until the caller's context ends.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *dispatchWorker) Stop(ctx context.Context) error {
	w.abort()
	return w.BaseWorker.Stop(ctx)
}

// abort cancels the run loop without waiting for it.
func (w *dispatchWorker) abort() {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
}

func (w *dispatchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// run wakes on enqueue (or on the poll interval), drains the whole queue and
// sleeps again. It returns once the queue is closed and empty.
func (w *dispatchWorker) run(ctx context.Context) (err error) {
	defer close(w.done)
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("dispatcher panic: %v", recovered)
			w.bus.logger.Error("dispatcher panic", "error", err)
		}
	}()

	ticker := time.NewTicker(w.bus.pollInterval)
	defer ticker.Stop()

	for {
		w.bus.drain(ctx)
		if ctx.Err() != nil || w.bus.queue.Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.bus.queue.Wait():
		case <-ticker.C:
		}
	}
}
