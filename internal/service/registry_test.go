package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

func TestRegistry_SavePerson(t *testing.T) {
	f := newFixture(t)

	err := f.registry.SavePerson(f.ctx, &domain.Person{ID: "r1", FirstName: "Ana", HospitalID: "h-missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.registry.SavePerson(f.ctx, &domain.Person{ID: "r1"})
	assert.True(t, domain.IsValidation(err))

	err = f.registry.SaveHospital(f.ctx, &domain.Hospital{ID: "h1"})
	assert.True(t, domain.IsValidation(err))
}

func TestRegistry_SaveProfile(t *testing.T) {
	f := newFixture(t)
	f.person(t, "r1", "Ana", "Silva", "")

	t.Run("owner must exist", func(t *testing.T) {
		_, err := f.registry.SaveProfile(f.ctx, recipientProfile("ghost", "A+", typingX, domain.OrganKidney))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid facts are rejected", func(t *testing.T) {
		p := recipientProfile("r1", "A+", typingX, domain.OrganKidney)
		p.PRAPercent = 140
		_, err := f.registry.SaveProfile(f.ctx, p)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "pra_percent", verr.Field)
	})

	t.Run("recipient profile seeds priority", func(t *testing.T) {
		p := recipientProfile("r1", "A+", typingX, domain.OrganKidney, "ckd")
		rec, err := f.registry.SaveProfile(f.ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 30, rec.Score)
		assert.Equal(t, domain.LevelMedium, rec.Level)
		assert.Equal(t, domain.StatusAwaiting, f.status(t, "r1"))
	})

	t.Run("donor profile has no priority", func(t *testing.T) {
		f.person(t, "d1", "Ben", "Okafor", "")
		rec, err := f.registry.SaveProfile(f.ctx, donorProfile("d1", "O-", typingX, domain.OrganKidney))
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestRegistry_SaveSurgicalContext(t *testing.T) {
	f := newFixture(t)
	f.standardPair(t)

	err := f.registry.SaveSurgicalContext(f.ctx, &domain.SurgicalContext{ID: "s1", MatchID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.registry.SaveSurgicalContext(f.ctx, &domain.SurgicalContext{ID: "s1", MatchID: "m1", HospitalID: "h-missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sc := &domain.SurgicalContext{ID: "s1", MatchID: "m1"}
	require.NoError(t, f.registry.SaveSurgicalContext(f.ctx, sc))
	assert.Equal(t, "s1", sc.SurgeryNumber)
}

func TestRegistry_RecomputeAll(t *testing.T) {
	f := newFixture(t)
	f.standardPair(t)
	f.person(t, "r2", "Dana", "Reyes", "")
	f.profile(t, recipientProfile("r2", "B+", typingY, ""))

	n, err := f.registry.RecomputeAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, f.priority(t, "r2").Score)
	assert.Equal(t, 40, f.priority(t, "r1").Score)
}
