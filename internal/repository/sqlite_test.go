package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "organ-match.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runRecordStoreSuite(t, func(t *testing.T) domain.RecordStore {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "organ-match.db")
	logger := logrus.New()
	ctx := context.Background()

	store, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	seedRegistry(t, store)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, path, reopened.Path())
	require.NoError(t, reopened.WithinTx(ctx, func(tx domain.Tx) error {
		p, err := tx.GetPerson(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "h1", p.HospitalID)
		assert.Equal(t, "Ana Silva", p.FullName())
		return nil
	}))
}
