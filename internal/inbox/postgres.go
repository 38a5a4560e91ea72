package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/organ-match-server/internal/domain"
)

// PostgresStore implements Store over the notifications table created by the migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL inbox store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL inbox store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// List returns target's notifications, newest first.
func (s *PostgresStore) List(ctx context.Context, target domain.Target, unreadOnly bool, limit, offset int) ([]*domain.Notification, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}

	query := `
		SELECT id, target_kind, target_id, message, severity, is_read, created_at
		FROM notifications
		WHERE target_kind = $1 AND target_id = $2 AND (NOT $3 OR NOT is_read)
		ORDER BY created_at DESC, id
		LIMIT NULLIF($4::bigint, 0) OFFSET $5
	`

	rows, err := s.db.QueryContext(ctx, query, string(target.Kind), target.ID, unreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkRead sets the read flag on a notification addressed to target.
func (s *PostgresStore) MarkRead(ctx context.Context, id string, target domain.Target) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $1 AND target_kind = $2 AND target_id = $3",
		id, string(target.Kind), target.ID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError("notification", id)
	}
	return nil
}

// CountUnread returns the number of unread notifications addressed to target.
func (s *PostgresStore) CountUnread(ctx context.Context, target domain.Target) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE target_kind = $1 AND target_id = $2 AND NOT is_read",
		string(target.Kind), target.ID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(s scanner) (*domain.Notification, error) {
	n := &domain.Notification{}
	var kind, severity string
	if err := s.Scan(&n.ID, &kind, &n.Target.ID, &n.Message, &severity, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Target.Kind = domain.TargetKind(kind)
	n.Severity = domain.Severity(severity)
	n.CreatedAt = n.CreatedAt.UTC()
	return n, nil
}

func scanNotifications(rows *sql.Rows) ([]*domain.Notification, error) {
	result := []*domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
