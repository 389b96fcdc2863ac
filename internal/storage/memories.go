package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const memoryColumns = `id, user_id, memory_type, input_text, processed_text, title, title_generated_at, created_at`

// CreateMemory inserts a new memory. Derived fields are ignored: they are only
// ever written by a pipeline run.
func (s *Store) CreateMemory(ctx context.Context, m Memory) error {
	if !m.Type.Valid() {
		return fmt.Errorf("invalid memory type %q", m.Type)
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, memory_type, input_text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, string(m.Type), m.InputText, formatTime(createdAt),
	)
	return err
}

// GetMemoryForOwner returns the memory only if it belongs to userID. A memory
// owned by someone else is indistinguishable from a missing one.
func (s *Store) GetMemoryForOwner(ctx context.Context, id, userID string) (Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ? AND user_id = ?`, id, userID)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	return m, err
}

// UpdateMemoryDerived writes processed_text, title and title_generated_at in a
// single statement.
func (s *Store) UpdateMemoryDerived(ctx context.Context, id, processedText, title string, generatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET processed_text = ?, title = ?, title_generated_at = ? WHERE id = ?`,
		processedText, title, formatTime(generatedAt), id,
	)
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

// ListMemories returns the most recent memories of a user, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string, limit int) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var memoryType, createdAt string
	var processedText, title, titleGeneratedAt sql.NullString
	if err := row.Scan(&m.ID, &m.UserID, &memoryType, &m.InputText, &processedText, &title, &titleGeneratedAt, &createdAt); err != nil {
		return Memory{}, err
	}
	m.Type = MemoryType(strings.ToLower(memoryType))
	m.ProcessedText = nullString(processedText)
	m.Title = nullString(title)

	var err error
	if m.TitleGeneratedAt, err = parseNullTime(titleGeneratedAt, "title_generated_at"); err != nil {
		return Memory{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Memory{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return m, nil
}
