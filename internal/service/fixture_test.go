package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/repository"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func hla(a1, a2, b1, b2, dr1, dr2 string) domain.HLATyping {
	return domain.HLATyping{A: [2]string{a1, a2}, B: [2]string{b1, b2}, DR: [2]string{dr1, dr2}}
}

var (
	typingX = hla("A1", "A2", "B7", "B8", "DR1", "DR4")
	typingY = hla("A3", "A11", "B35", "B44", "DR7", "DR15")
)

func recipientProfile(id string, blood domain.BloodType, typing domain.HLATyping, organ domain.OrganType, conditions ...string) *domain.RecipientProfile {
	p := &domain.RecipientProfile{
		Person:      id,
		OrganNeeded: organ,
		ClinicalFacts: domain.ClinicalFacts{
			BloodType: blood,
			HLA:       typing,
			CMV:       domain.SeroNegative,
			EBV:       domain.SeroNegative,
		},
	}
	for _, c := range conditions {
		p.ChronicConditions = append(p.ChronicConditions, domain.ChronicCondition{Name: c, Severity: domain.SeverityModerate})
	}
	return p
}

func donorProfile(id string, blood domain.BloodType, typing domain.HLATyping, organ domain.OrganType) *domain.DonorProfile {
	return &domain.DonorProfile{
		Person:         id,
		OrganAvailable: organ,
		ClinicalFacts: domain.ClinicalFacts{
			BloodType: blood,
			HLA:       typing,
			CMV:       domain.SeroNegative,
			EBV:       domain.SeroNegative,
		},
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []*domain.Notification
}

func (p *recordingPublisher) Publish(n *domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	sent        map[domain.Severity]int
	skipped     int
	levels      []domain.PriorityLevel
	pairs       map[string]int
	duplicates  []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{sent: map[domain.Severity]int{}, pairs: map[string]int{}}
}

func (o *recordingObserver) TransitionApplied(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, kind)
}

func (o *recordingObserver) NotificationsSent(severity domain.Severity, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[severity] += n
}

func (o *recordingObserver) NotificationsSkipped(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped += n
}

func (o *recordingObserver) PriorityUpdated(level domain.PriorityLevel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levels = append(o.levels, level)
}

func (o *recordingObserver) PairScored(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pairs[outcome]++
}

func (o *recordingObserver) DuplicateEvent(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.duplicates = append(o.duplicates, kind)
}

type mapCache struct {
	mu      sync.Mutex
	records map[string]domain.PriorityRecord
	hits    int
}

func newMapCache() *mapCache { return &mapCache{records: map[string]domain.PriorityRecord{}} }

func (c *mapCache) Get(_ context.Context, id string) (*domain.PriorityRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	if ok {
		c.hits++
	}
	return &r, ok
}

func (c *mapCache) Set(_ context.Context, r *domain.PriorityRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[r.RecipientID] = *r
}

func (c *mapCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

// fixture wires every service against an in-memory store with a fixed clock and sequential ids.
type fixture struct {
	ctx       context.Context
	store     *repository.MemoryStore
	deps      Dependencies
	publisher *recordingPublisher
	observer  *recordingObserver
	cache     *mapCache
	registry  *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var seq atomic.Int64
	f := &fixture{
		ctx:       context.Background(),
		store:     repository.NewMemoryStore(),
		publisher: &recordingPublisher{},
		observer:  newRecordingObserver(),
		cache:     newMapCache(),
	}
	f.deps = Dependencies{
		Store:     f.store,
		Logger:    logger,
		Publisher: f.publisher,
		Cache:     f.cache,
		Observer:  f.observer,
		Clock:     func() time.Time { return fixedNow },
		NewID:     func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) },
	}
	f.registry = NewRegistry(f.deps)
	return f
}

func (f *fixture) hospital(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.registry.SaveHospital(f.ctx, &domain.Hospital{ID: id, Name: "Hospital " + id}))
}

func (f *fixture) person(t *testing.T, id, first, last, hospitalID string) {
	t.Helper()
	require.NoError(t, f.registry.SavePerson(f.ctx, &domain.Person{ID: id, FirstName: first, LastName: last, HospitalID: hospitalID}))
}

func (f *fixture) profile(t *testing.T, p domain.ClinicalProfile) *domain.PriorityRecord {
	t.Helper()
	rec, err := f.registry.SaveProfile(f.ctx, p)
	require.NoError(t, err)
	return rec
}

// match stores a candidate directly, bypassing the scorer.
func (f *fixture) match(t *testing.T, id, recipientID, donorID string, state domain.LifecycleState) *domain.MatchCandidate {
	t.Helper()
	m := &domain.MatchCandidate{
		ID: id, RecipientID: recipientID, DonorID: donorID, OrganType: domain.OrganKidney,
		MatchScore: 90, CompatibilityResult: domain.ResultExcellent, State: state,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx domain.Tx) error {
		return tx.UpsertMatchCandidate(f.ctx, m)
	}))
	return m
}

// standardPair seeds hospital h1, recipient r1 (at h1) and donor d1 with compatible kidney
// profiles, plus pending match m1 between them.
func (f *fixture) standardPair(t *testing.T) *domain.MatchCandidate {
	t.Helper()
	f.hospital(t, "h1")
	f.person(t, "r1", "Ana", "Silva", "h1")
	f.person(t, "d1", "Ben", "Okafor", "")
	f.profile(t, recipientProfile("r1", "A+", typingX, domain.OrganKidney, "diabetes", "hypertension"))
	f.profile(t, donorProfile("d1", "O-", typingX, domain.OrganKidney))
	return f.match(t, "m1", "r1", "d1", domain.StatePending)
}

func (f *fixture) status(t *testing.T, personID string) domain.ProfileStatus {
	t.Helper()
	var status domain.ProfileStatus
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx domain.Tx) error {
		p, err := tx.GetClinicalProfile(f.ctx, personID)
		if err != nil {
			return err
		}
		status = p.Facts().Status
		return nil
	}))
	return status
}

func (f *fixture) inbox(t *testing.T, kind domain.TargetKind, id string) []*domain.Notification {
	t.Helper()
	list, err := f.store.List(f.ctx, domain.Target{Kind: kind, ID: id}, false, 0, 0)
	require.NoError(t, err)
	return list
}

func (f *fixture) priority(t *testing.T, recipientID string) *domain.PriorityRecord {
	t.Helper()
	var rec *domain.PriorityRecord
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx domain.Tx) error {
		var err error
		rec, err = tx.GetPriorityRecord(f.ctx, recipientID)
		return err
	}))
	return rec
}

func ptrFloat(v float64) *float64 { return &v }

func ptrInt(v int) *int { return &v }
