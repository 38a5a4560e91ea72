package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

var hospitalH1 = domain.Target{Kind: domain.TargetHospital, ID: "h1"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "target_kind", "target_id", "message", "severity", "is_read", "created_at"}).
		AddRow("n2", "hospital", "h1", "match cancelled", "warning", false, created.Add(time.Minute)).
		AddRow("n1", "hospital", "h1", "match confirmed", "medical", true, created)
	mock.ExpectQuery("FROM notifications WHERE target_kind = \\$1 AND target_id = \\$2").
		WithArgs("hospital", "h1", false, 20, 0).
		WillReturnRows(rows)

	list, err := store.List(context.Background(), hospitalH1, false, 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)
	assert.Equal(t, hospitalH1, list[0].Target)
	assert.Equal(t, domain.SeverityWarning, list[0].Severity)
	assert.False(t, list[0].Read)
	assert.True(t, list[1].Read)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_InvalidTarget(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.List(context.Background(), domain.Target{Kind: "staff", ID: "x"}, false, 0, 0)
	assert.True(t, domain.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "no query is issued for an invalid target")
}

func TestPostgresStore_List_QueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM notifications").WillReturnError(errors.New("connection refused"))

	_, err := store.List(context.Background(), hospitalH1, true, 0, 0)
	assert.ErrorContains(t, err, "failed to list notifications")
}

func TestPostgresStore_MarkRead(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE notifications SET is_read = TRUE").
		WithArgs("n1", "hospital", "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkRead(context.Background(), "n1", hospitalH1))

	mock.ExpectExec("UPDATE notifications SET is_read = TRUE").
		WithArgs("n1", "recipient", "r9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.MarkRead(context.Background(), "n1", domain.Target{Kind: domain.TargetRecipient, ID: "r9"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountUnread(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("hospital", "h1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountUnread(context.Background(), hospitalH1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectClose()

	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
