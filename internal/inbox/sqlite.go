package inbox

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/organ-match-server/internal/domain"
)

// SQLiteStore implements Store over the SQLite file of the lite server. It shares the record
// store's connection so reads see committed transactions immediately.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite inbox store on an open database whose schema already
// holds the notifications table.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

// List returns target's notifications, newest first.
func (s *SQLiteStore) List(ctx context.Context, target domain.Target, unreadOnly bool, limit, offset int) ([]*domain.Notification, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	unread := 0
	if unreadOnly {
		unread = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_kind, target_id, message, severity, is_read, created_at
		FROM notifications
		WHERE target_kind = ? AND target_id = ? AND (? = 0 OR is_read = 0)
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, string(target.Kind), target.ID, unread, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkRead sets the read flag on a notification addressed to target.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string, target domain.Target) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND target_kind = ? AND target_id = ?",
		id, string(target.Kind), target.ID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("notification", id)
	}
	return nil
}

// CountUnread returns the number of unread notifications addressed to target.
func (s *SQLiteStore) CountUnread(ctx context.Context, target domain.Target) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE target_kind = ? AND target_id = ? AND is_read = 0",
		string(target.Kind), target.ID).Scan(&count)
	return count, err
}
