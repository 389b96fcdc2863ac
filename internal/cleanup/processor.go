// Package cleanup drains the media cleanup queue, deleting orphaned storage
// objects with bounded retries.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/keepsake/internal/blob"
	"github.com/kalambet/keepsake/internal/storage"
)

const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
)

// QueueStore abstracts the cleanup queue operations.
type QueueStore interface {
	FetchCleanupBatch(ctx context.Context, limit, maxRetries int) ([]storage.CleanupItem, error)
	MarkCleanupProcessing(ctx context.Context, id string, at time.Time) error
	MarkCleanupCompleted(ctx context.Context, id string, at time.Time) error
	RecordCleanupFailure(ctx context.Context, id, errMsg string, maxRetries int) (int, storage.CleanupStatus, error)
}

type Config struct {
	BatchSize  int
	MaxRetries int
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// Processor deletes queued objects one at a time.
type Processor struct {
	store      QueueStore
	deleter    blob.Deleter
	batchSize  int
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor creates a Processor. Zero config values take the defaults.
func NewProcessor(store QueueStore, deleter blob.Deleter, cfg Config, logger *slog.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      store,
		deleter:    deleter,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch selects the oldest eligible items and handles each in turn.
// Only a failure to fetch the batch is returned as an error; per-item
// failures are recorded on the item and reported in the result.
func (p *Processor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	res := BatchResult{Errors: []string{}}
	items, err := p.store.FetchCleanupBatch(ctx, p.batchSize, p.maxRetries)
	if err != nil {
		return res, fmt.Errorf("fetching cleanup batch: %w", err)
	}

	start := time.Now()
	for _, item := range items {
		// Items not yet started stay pending for the next batch.
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		if err := p.handle(ctx, item); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", item.FilePath, err))
			p.recordFailure(ctx, item, err)
			continue
		}
		res.Succeeded++
	}

	if len(items) > 0 {
		p.logger.Info("cleanup batch processed",
			"event", "media_cleanup",
			"processed", res.Processed,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return res, nil
}

// deletionError marks a failure reported by the storage backend.
type deletionError struct {
	err error
}

func (e *deletionError) Error() string { return "DELETION_FAILED: " + e.err.Error() }
func (e *deletionError) Unwrap() error { return e.err }

func (p *Processor) handle(ctx context.Context, item storage.CleanupItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing cleanup item", "item_id", item.ID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := p.store.MarkCleanupProcessing(ctx, item.ID, p.now()); err != nil {
		p.logger.Warn("failed to mark cleanup item processing", "item_id", item.ID, "error", err)
	}

	if delErr := p.deleter.Delete(ctx, item.BucketName, item.FilePath); delErr != nil {
		if !IsNotFound(delErr) {
			p.logger.Warn("failed to delete media", "bucket", item.BucketName, "path", item.FilePath, "error", delErr)
			return &deletionError{err: delErr}
		}
		p.logger.Debug("media already deleted", "bucket", item.BucketName, "path", item.FilePath)
	}

	// Terminal writes outlive the caller so an item is never left in processing.
	if err := p.store.MarkCleanupCompleted(context.WithoutCancel(ctx), item.ID, p.now()); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	return nil
}

func (p *Processor) recordFailure(ctx context.Context, item storage.CleanupItem, cause error) {
	msg := cause.Error()
	var de *deletionError
	if errors.As(cause, &de) {
		msg = de.err.Error()
	}
	count, status, err := p.store.RecordCleanupFailure(context.WithoutCancel(ctx), item.ID, msg, p.maxRetries)
	if err != nil {
		p.logger.Error("failed to record cleanup failure", "item_id", item.ID, "error", err)
		return
	}
	p.logger.Warn("cleanup item failed", "item_id", item.ID, "retry_count", count, "status", status, "error", msg)
}

// IsNotFound reports whether a delete error means the object is already gone.
func IsNotFound(err error) bool {
	if errors.Is(err, blob.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}
