package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs ProcessBatch on a fixed interval.
type Worker struct {
	processor *Processor
	interval  time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to one minute.
func NewWorker(processor *Processor, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		processor: processor,
		interval:  interval,
		logger:    processor.logger,
	}
}

// Run processes one batch immediately and then once per interval until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.processor.ProcessBatch(ctx); err != nil {
			w.logger.Error("cleanup iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
