package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// IssueToken creates a new bearer token for userID and returns it. Only the
// token's SHA-256 digest is persisted.
func (s *Store) IssueToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)

	_, err := s.db.ExecContext(ctx, `INSERT INTO access_tokens (token_hash, user_id, created_at) VALUES (?, ?, ?)`,
		hashToken(token), userID, formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}
	return token, nil
}

// LookupToken resolves a bearer token to its user id.
func (s *Store) LookupToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM access_tokens WHERE token_hash = ?`, hashToken(token)).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return userID, err
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
