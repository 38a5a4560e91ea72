package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	runRecordStoreSuite(t, func(t *testing.T) domain.RecordStore {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ExpiredContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := store.WithinTx(ctx, func(tx domain.Tx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrStoreTimeout)
}

func TestMemoryStore_ReturnedRecordsAreCopies(t *testing.T) {
	store := NewMemoryStore()
	seedRegistry(t, store)
	ctx := context.Background()

	require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
		p, err := tx.GetClinicalProfile(ctx, "r1")
		require.NoError(t, err)
		p.Facts().Status = domain.StatusReserved
		p.Facts().ChronicConditions[0].Name = "mutated"
		return nil
	}))

	require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
		p, err := tx.GetClinicalProfile(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAwaiting, p.Facts().Status)
		assert.Equal(t, "diabetes", p.Facts().ChronicConditions[0].Name)
		return nil
	}))
}

func TestMemoryStore_Inbox(t *testing.T) {
	store := NewMemoryStore()
	seedRegistry(t, store)
	ctx := context.Background()
	hospital := domain.Target{Kind: domain.TargetHospital, ID: "h1"}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
		for i, id := range []string{"n1", "n2", "n3"} {
			_, err := tx.CreateNotification(ctx, &domain.Notification{
				ID: id, Target: hospital, Message: id, Severity: domain.SeverityInfo,
				DedupeKey: "k-" + id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}
		return nil
	}))

	list, err := store.List(ctx, hospital, false, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n3", list[0].ID)
	assert.Equal(t, "n2", list[1].ID)

	err = store.MarkRead(ctx, "n3", domain.Target{Kind: domain.TargetRecipient, ID: "r1"})
	assert.ErrorIs(t, err, domain.ErrNotFound, "only the addressed party may mark a notification read")

	require.NoError(t, store.MarkRead(ctx, "n3", hospital))
	unread, err := store.CountUnread(ctx, hospital)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	list, err = store.List(ctx, hospital, true, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
