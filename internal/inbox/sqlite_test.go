package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/repository"
)

// createTestStore opens a record store in a temp dir and seeds three notifications for h1.
func createTestStore(t *testing.T) (*SQLiteStore, *repository.SQLiteStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	records, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	ctx := context.Background()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, records.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.SaveHospital(ctx, &domain.Hospital{ID: "h1", Name: "St. Mary"}); err != nil {
			return err
		}
		for i, id := range []string{"n1", "n2", "n3"} {
			if _, err := tx.CreateNotification(ctx, &domain.Notification{
				ID: id, Target: hospitalH1, Message: "message " + id, Severity: domain.SeverityInfo,
				DedupeKey: "evt-" + id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	store, err := NewSQLiteStore(records.DB())
	require.NoError(t, err)
	return store, records
}

func TestSQLiteStore_List(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	list, err := store.List(ctx, hospitalH1, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "n3", list[0].ID)
	assert.Equal(t, "message n3", list[0].Message)
	assert.Equal(t, hospitalH1, list[0].Target)

	page, err := store.List(ctx, hospitalH1, false, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "n2", page[0].ID)
	assert.Equal(t, "n1", page[1].ID)

	other, err := store.List(ctx, domain.Target{Kind: domain.TargetRecipient, ID: "h1"}, false, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other, "kind is part of the address")
}

func TestSQLiteStore_MarkReadAndCount(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	count, err := store.CountUnread(ctx, hospitalH1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	err = store.MarkRead(ctx, "n2", domain.Target{Kind: domain.TargetDonor, ID: "d1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.MarkRead(ctx, "n2", hospitalH1))
	count, err = store.CountUnread(ctx, hospitalH1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	unread, err := store.List(ctx, hospitalH1, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	for _, n := range unread {
		assert.NotEqual(t, "n2", n.ID)
	}

	assert.ErrorIs(t, store.MarkRead(ctx, "missing", hospitalH1), domain.ErrNotFound)
}

func TestExportJSON(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.MarkRead(ctx, "n1", hospitalH1))

	var buf bytes.Buffer
	require.NoError(t, ExportJSON(ctx, store, hospitalH1, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, hospitalH1, export.Target)
	assert.Equal(t, 3, export.Count)
	assert.Equal(t, 2, export.Unread)
	assert.NotContains(t, buf.String(), "dedupe", "dedupe keys stay internal")

	err := ExportJSON(ctx, store, domain.Target{Kind: domain.TargetHospital}, &buf)
	assert.True(t, domain.IsValidation(err))
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input   string
		want    domain.Target
		wantErr bool
	}{
		{"hospital:h1", hospitalH1, false},
		{" Recipient:r-7 ", domain.Target{Kind: domain.TargetRecipient, ID: "r-7"}, false},
		{"donor:d:1", domain.Target{Kind: domain.TargetDonor, ID: "d:1"}, false},
		{"staff:s1", domain.Target{}, true},
		{"hospital:", domain.Target{}, true},
		{"h1", domain.Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			if tt.wantErr {
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
}

func TestMemoryStoreSatisfiesStore(t *testing.T) {
	var _ Store = repository.NewMemoryStore()
}
