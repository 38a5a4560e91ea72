package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

var errAbort = errors.New("abort")

func seedRegistry(t *testing.T, store domain.RecordStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.SaveHospital(ctx, &domain.Hospital{ID: "h1", Name: "St. Mary"}); err != nil {
			return err
		}
		for _, p := range []*domain.Person{
			{ID: "r1", FirstName: "Ana", LastName: "Silva", HospitalID: "h1"},
			{ID: "d1", FirstName: "Ben", LastName: "Okafor"},
			{ID: "d2", FirstName: "Chen", LastName: "Wei"},
		} {
			if err := tx.SavePerson(ctx, p); err != nil {
				return err
			}
		}
		recipient := &domain.RecipientProfile{
			Person:      "r1",
			OrganNeeded: domain.OrganKidney,
			ClinicalFacts: domain.ClinicalFacts{
				BloodType:         "A+",
				HLA:               domain.HLATyping{A: [2]string{"A1", "A2"}, B: [2]string{"B7", "B8"}, DR: [2]string{"DR1", "DR4"}},
				PRAPercent:        10,
				CMV:               domain.SeroNegative,
				EBV:               domain.SeroPositive,
				ChronicConditions: []domain.ChronicCondition{{Name: "diabetes", Severity: domain.SeverityModerate}},
				Status:            domain.StatusAwaiting,
				UpdatedAt:         time.Now().UTC(),
			},
		}
		donor := &domain.DonorProfile{
			Person:         "d1",
			OrganAvailable: domain.OrganKidney,
			ClinicalFacts: domain.ClinicalFacts{
				BloodType: "O-",
				HLA:       domain.HLATyping{A: [2]string{"A1", "A3"}, B: [2]string{"B7", "B44"}, DR: [2]string{"DR1", "DR15"}},
				CMV:       domain.SeroPositive,
				Status:    domain.StatusAwaiting,
				UpdatedAt: time.Now().UTC(),
			},
		}
		if err := tx.SaveProfile(ctx, recipient); err != nil {
			return err
		}
		return tx.SaveProfile(ctx, donor)
	}))
}

// runRecordStoreSuite exercises the Tx contract every store implementation must honour.
func runRecordStoreSuite(t *testing.T, newStore func(t *testing.T) domain.RecordStore) {
	ctx := context.Background()

	t.Run("profiles round trip by variant", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			p, err := tx.GetClinicalProfile(ctx, "r1")
			require.NoError(t, err)
			recipient, err := domain.AsRecipient(p)
			require.NoError(t, err)
			assert.Equal(t, domain.OrganKidney, recipient.OrganNeeded)
			assert.Equal(t, [2]string{"B7", "B8"}, recipient.HLA.B)
			assert.Len(t, recipient.ChronicConditions, 1)

			d, err := tx.GetClinicalProfile(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, domain.RoleDonor, d.Role())

			_, err = tx.GetClinicalProfile(ctx, "d2")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("profile status update tolerates nothing silently", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			require.NoError(t, tx.UpdateProfileStatus(ctx, "r1", domain.StatusConfirmed))
			assert.ErrorIs(t, tx.UpdateProfileStatus(ctx, "d2", domain.StatusReserved), domain.ErrNotFound)
			return nil
		}))
		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			p, err := tx.GetClinicalProfile(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusConfirmed, p.Facts().Status)
			return nil
		}))
	})

	t.Run("soft deleted persons are absent", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)
		deleted := time.Now().UTC()

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			return tx.SavePerson(ctx, &domain.Person{ID: "d2", FirstName: "Chen", DeletedAt: &deleted})
		}))
		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			_, err := tx.GetPerson(ctx, "d2")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			created, err := tx.CreateNotification(ctx, &domain.Notification{
				ID: "n-deleted", Target: domain.Target{Kind: domain.TargetDonor, ID: "d2"},
				Message: "hello", Severity: domain.SeverityInfo, DedupeKey: "k-deleted",
			})
			assert.False(t, created)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("match upsert bumps revision", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		m := &domain.MatchCandidate{
			ID: "m1", RecipientID: "r1", DonorID: "d1", OrganType: domain.OrganKidney,
			MatchScore: 80, CompatibilityResult: domain.ResultGood, State: domain.StatePending,
		}
		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			return tx.UpsertMatchCandidate(ctx, m)
		}))
		assert.Equal(t, int64(1), m.Revision)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			found, err := tx.FindMatchCandidate(ctx, "r1", "d1")
			require.NoError(t, err)
			found.State = domain.StateConfirmed
			found.UpdatedAt = time.Now().UTC()
			require.NoError(t, tx.UpsertMatchCandidate(ctx, found))
			assert.Equal(t, int64(2), found.Revision)
			return nil
		}))

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			got, err := tx.GetMatchCandidate(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, domain.StateConfirmed, got.State)
			assert.Equal(t, 80, got.MatchScore)
			assert.Equal(t, int64(2), got.Revision)

			_, err = tx.GetMatchCandidate(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("second candidate for the same pair conflicts", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		base := domain.MatchCandidate{
			RecipientID: "r1", DonorID: "d1", OrganType: domain.OrganKidney,
			MatchScore: 50, CompatibilityResult: domain.ResultPoor, State: domain.StatePending,
		}
		first, second := base, base
		first.ID, second.ID = "m1", "m2"
		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			return tx.UpsertMatchCandidate(ctx, &first)
		}))
		err := store.WithinTx(ctx, func(tx domain.Tx) error {
			return tx.UpsertMatchCandidate(ctx, &second)
		})
		assert.ErrorIs(t, err, domain.ErrStoreConflict)
	})

	t.Run("priority records are created lazily at zero", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			_, err := tx.GetPriorityRecord(ctx, "r1")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			rec, err := tx.GetOrCreatePriorityRecord(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, 0, rec.Score)
			assert.Equal(t, domain.LevelLow, rec.Level)

			rec.Baseline = 30
			rec.EventScore = 15
			rec.UpdatedAt = time.Now().UTC()
			return tx.UpdatePriorityRecord(ctx, rec)
		}))

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			rec, err := tx.GetPriorityRecord(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, 45, rec.Score)
			assert.Equal(t, domain.LevelHigh, rec.Level)

			_, err = tx.GetOrCreatePriorityRecord(ctx, "nobody")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("notifications are deduplicated and require a live target", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			n := &domain.Notification{
				ID: "n1", Target: domain.Target{Kind: domain.TargetHospital, ID: "h1"},
				Message: "match confirmed", Severity: domain.SeverityMedical, DedupeKey: "evt|hospital:h1",
			}
			created, err := tx.CreateNotification(ctx, n)
			require.NoError(t, err)
			assert.True(t, created)

			again := *n
			again.ID = "n2"
			created, err = tx.CreateNotification(ctx, &again)
			require.NoError(t, err)
			assert.False(t, created)

			_, err = tx.CreateNotification(ctx, &domain.Notification{
				ID: "n3", Target: domain.Target{Kind: domain.TargetHospital, ID: "nowhere"},
				Message: "x", Severity: domain.SeverityInfo, DedupeKey: "evt|hospital:nowhere",
			})
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("applied events are recorded once", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			first, err := tx.MarkEventApplied(ctx, "vital:s1:e1")
			require.NoError(t, err)
			assert.True(t, first)
			return nil
		}))
		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			first, err := tx.MarkEventApplied(ctx, "vital:s1:e1")
			require.NoError(t, err)
			assert.False(t, first)
			return nil
		}))
	})

	t.Run("failed transactions leave no trace", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		err := store.WithinTx(ctx, func(tx domain.Tx) error {
			require.NoError(t, tx.UpdateProfileStatus(ctx, "r1", domain.StatusConfirmed))
			first, err := tx.MarkEventApplied(ctx, "transition:m1:e1")
			require.NoError(t, err)
			require.True(t, first)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			p, err := tx.GetClinicalProfile(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusAwaiting, p.Facts().Status)

			first, err := tx.MarkEventApplied(ctx, "transition:m1:e1")
			require.NoError(t, err)
			assert.True(t, first)
			return nil
		}))
	})

	t.Run("profile ids filter by role and status", func(t *testing.T) {
		store := newStore(t)
		seedRegistry(t, store)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.Tx) error {
			ids, err := tx.ListProfileIDs(ctx, domain.RoleRecipient, domain.StatusAwaiting)
			require.NoError(t, err)
			assert.Equal(t, []string{"r1"}, ids)

			ids, err = tx.ListProfileIDs(ctx, domain.RoleDonor, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"d1"}, ids)

			ids, err = tx.ListProfileIDs(ctx, domain.RoleDonor, domain.StatusReserved)
			require.NoError(t, err)
			assert.Empty(t, ids)
			return nil
		}))
	})
}
