package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const cleanupColumns = `id, media_url, bucket_name, file_path, moment_id, status, retry_count, error_message, created_at, processed_at`

// EnqueueCleanup adds a pending deletion task for a storage object.
func (s *Store) EnqueueCleanup(ctx context.Context, item CleanupItem) error {
	if item.BucketName == "" || item.FilePath == "" {
		return fmt.Errorf("bucket name and file path are required")
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_cleanup_queue (id, media_url, bucket_name, file_path, moment_id, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?)`,
		item.ID, item.MediaURL, item.BucketName, item.FilePath, item.MomentID, formatTime(createdAt),
	)
	return err
}

// FetchCleanupBatch returns up to limit pending or failed items that still have
// retries left, oldest first.
func (s *Store) FetchCleanupBatch(ctx context.Context, limit, maxRetries int) ([]CleanupItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cleanupColumns+` FROM media_cleanup_queue
		WHERE status IN ('pending', 'failed') AND retry_count < ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, maxRetries, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCleanupRows(rows)
}

// ListCleanupItems returns items with the given status, oldest first.
func (s *Store) ListCleanupItems(ctx context.Context, status CleanupStatus, limit int) ([]CleanupItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cleanupColumns+` FROM media_cleanup_queue
		WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCleanupRows(rows)
}

func (s *Store) GetCleanupItem(ctx context.Context, id string) (CleanupItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cleanupColumns+` FROM media_cleanup_queue WHERE id = ?`, id)
	item, err := scanCleanupItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CleanupItem{}, ErrNotFound
	}
	return item, err
}

func (s *Store) MarkCleanupProcessing(ctx context.Context, id string, at time.Time) error {
	return s.setCleanupStatus(ctx, id, CleanupProcessing, at)
}

func (s *Store) MarkCleanupCompleted(ctx context.Context, id string, at time.Time) error {
	return s.setCleanupStatus(ctx, id, CleanupCompleted, at)
}

// RecordCleanupFailure increments retry_count and moves the item to failed once
// maxRetries is reached, or back to pending otherwise. It returns the new
// retry count and status.
func (s *Store) RecordCleanupFailure(ctx context.Context, id, errMsg string, maxRetries int) (int, CleanupStatus, error) {
	var retryCount int
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE media_cleanup_queue SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
			error_message = ?
		WHERE id = ?
		RETURNING retry_count, status`,
		maxRetries, errMsg, id,
	).Scan(&retryCount, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", err
	}
	return retryCount, CleanupStatus(status), nil
}

func (s *Store) setCleanupStatus(ctx context.Context, id string, status CleanupStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media_cleanup_queue SET status = ?, processed_at = ? WHERE id = ?`,
		string(status), formatTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCleanupRows(rows *sql.Rows) ([]CleanupItem, error) {
	var items []CleanupItem
	for rows.Next() {
		item, err := scanCleanupItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanCleanupItem(row rowScanner) (CleanupItem, error) {
	var item CleanupItem
	var status, createdAt string
	var momentID, errorMessage, processedAt sql.NullString
	if err := row.Scan(&item.ID, &item.MediaURL, &item.BucketName, &item.FilePath, &momentID,
		&status, &item.RetryCount, &errorMessage, &createdAt, &processedAt); err != nil {
		return CleanupItem{}, err
	}
	item.Status = CleanupStatus(status)
	item.MomentID = nullString(momentID)
	item.ErrorMessage = nullString(errorMessage)

	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return CleanupItem{}, fmt.Errorf("parsing created_at for cleanup item %s: %w", item.ID, err)
	}
	if item.ProcessedAt, err = parseNullTime(processedAt, "processed_at"); err != nil {
		return CleanupItem{}, err
	}
	return item, nil
}
