package app

import (
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/organ-match-server/internal/config"
	"github.com/organ-match-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestMigrateRejectsBadURL(t *testing.T) {
	err := Migrate(context.Background(), "mysql://nowhere/db", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create migration runner")
}

func TestOpen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("organ_match"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	t.Chdir(t.TempDir())
	t.Setenv("ORGAN_MATCH_DATABASE_HOST", host)
	t.Setenv("ORGAN_MATCH_DATABASE_PORT", strconv.Itoa(port.Int()))
	t.Setenv("ORGAN_MATCH_DATABASE_USERNAME", "testuser")
	t.Setenv("ORGAN_MATCH_DATABASE_PASSWORD", "testpass")
	t.Setenv("ORGAN_MATCH_DATABASE_SSL_MODE", "disable")

	manager, err := config.NewManager()
	require.NoError(t, err)

	rt, err := Open(ctx, manager, quietLogger())
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close()) }()

	registry := rt.Services.Registry
	require.NoError(t, registry.SaveHospital(ctx, &domain.Hospital{ID: "h1", Name: "St. Mary"}))
	require.NoError(t, registry.SavePerson(ctx, &domain.Person{ID: "r1", FirstName: "Ana", HospitalID: "h1"}))
	require.NoError(t, registry.SavePerson(ctx, &domain.Person{ID: "d1", FirstName: "Ben"}))
	facts := domain.ClinicalFacts{
		BloodType: "O-",
		HLA:       domain.HLATyping{A: [2]string{"A1", "A2"}, B: [2]string{"B7", "B8"}, DR: [2]string{"DR1", "DR4"}},
		CMV:       domain.SeroNegative,
		EBV:       domain.SeroNegative,
	}
	_, err = registry.SaveProfile(ctx, &domain.RecipientProfile{Person: "r1", OrganNeeded: domain.OrganKidney, ClinicalFacts: facts})
	require.NoError(t, err)
	_, err = registry.SaveProfile(ctx, &domain.DonorProfile{Person: "d1", OrganAvailable: domain.OrganKidney, ClinicalFacts: facts})
	require.NoError(t, err)

	report, err := rt.Services.AutoMatch.RunEligible(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Matches, 1)

	unread, err := rt.Inbox.CountUnread(ctx, domain.Target{Kind: domain.TargetHospital, ID: "h1"})
	require.NoError(t, err)
	assert.Positive(t, unread)
}
