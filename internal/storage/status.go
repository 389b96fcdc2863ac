package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetStatus returns the processing status of a memory. A memory that has never
// been processed reports StatePending with zero attempts.
func (s *Store) GetStatus(ctx context.Context, memoryID string) (ProcessingStatus, error) {
	var st ProcessingStatus
	var state, metadata, updatedAt string
	var startedAt, completedAt, lastError, lastErrorAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, state, started_at, completed_at, attempts, last_error, last_error_at, metadata, updated_at
		FROM processing_status WHERE memory_id = ?`, memoryID,
	).Scan(&st.MemoryID, &state, &startedAt, &completedAt, &st.Attempts, &lastError, &lastErrorAt, &metadata, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessingStatus{MemoryID: memoryID, State: StatePending, Metadata: map[string]string{}}, nil
	}
	if err != nil {
		return ProcessingStatus{}, err
	}

	st.State = ProcessingState(state)
	st.LastError = lastError.String
	if st.StartedAt, err = parseNullTime(startedAt, "started_at"); err != nil {
		return ProcessingStatus{}, err
	}
	if st.CompletedAt, err = parseNullTime(completedAt, "completed_at"); err != nil {
		return ProcessingStatus{}, err
	}
	if st.LastErrorAt, err = parseNullTime(lastErrorAt, "last_error_at"); err != nil {
		return ProcessingStatus{}, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ProcessingStatus{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	st.Metadata = map[string]string{}
	if err := json.Unmarshal([]byte(metadata), &st.Metadata); err != nil {
		return ProcessingStatus{}, fmt.Errorf("parsing metadata: %w", err)
	}
	return st, nil
}

// MarkProcessing moves a memory into StateProcessing. It is valid from any
// prior state so a failed run can be retried. meta is merged into the stored
// metadata.
func (s *Store) MarkProcessing(ctx context.Context, memoryID string, at time.Time, meta map[string]string) error {
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return err
	}
	ts := formatTime(at)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_status (memory_id, state, started_at, metadata, updated_at)
		VALUES (?, 'processing', ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			state = 'processing',
			started_at = excluded.started_at,
			completed_at = NULL,
			metadata = json_patch(processing_status.metadata, excluded.metadata),
			updated_at = excluded.updated_at`,
		memoryID, ts, metaJSON, ts,
	)
	return err
}

// MarkComplete records a successful run and clears the last error message.
func (s *Store) MarkComplete(ctx context.Context, memoryID string, at time.Time, meta map[string]string) error {
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return err
	}
	ts := formatTime(at)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_status (memory_id, state, started_at, completed_at, metadata, updated_at)
		VALUES (?, 'complete', ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			state = 'complete',
			completed_at = excluded.completed_at,
			last_error = NULL,
			metadata = json_patch(processing_status.metadata, excluded.metadata),
			updated_at = excluded.updated_at`,
		memoryID, ts, ts, metaJSON, ts,
	)
	return err
}

// MarkFailed records a failed run, incrementing attempts by exactly one, and
// returns the new attempt count.
func (s *Store) MarkFailed(ctx context.Context, memoryID, errMsg string, at time.Time, meta map[string]string) (int, error) {
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return 0, err
	}
	ts := formatTime(at)
	var attempts int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO processing_status (memory_id, state, completed_at, attempts, last_error, last_error_at, metadata, updated_at)
		VALUES (?, 'failed', ?, 1, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			state = 'failed',
			completed_at = excluded.completed_at,
			attempts = processing_status.attempts + 1,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			metadata = json_patch(processing_status.metadata, excluded.metadata),
			updated_at = excluded.updated_at
		RETURNING attempts`,
		memoryID, ts, errMsg, ts, metaJSON, ts,
	).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(b), nil
}
