package localstore

import (
	"context"
	"fmt"
	"time"
)

// OutboxEntry is one pending cart mutation. Payload is opaque to the store.
type OutboxEntry struct {
	Seq       int64
	ID        string
	UserID    string
	Kind      string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
}

func (s *Store) Enqueue(ctx context.Context, e OutboxEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, user_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Kind, string(e.Payload), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// Pending returns up to limit entries for userID, oldest first.
func (s *Store) Pending(ctx context.Context, userID string, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, user_id, kind, payload, attempts, last_error, created_at
		FROM outbox WHERE user_id = ? ORDER BY seq LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e         OutboxEntry
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.UserID, &e.Kind, &payload, &e.Attempts, &e.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// MarkDone removes a delivered entry.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry done: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DiscardFor drops every pending entry of userID and reports how many.
func (s *Store) DiscardFor(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to discard outbox entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) PendingCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	return n, nil
}
