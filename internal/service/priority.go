package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

const (
	conditionWeight  = 10
	organNeedWeight  = 20
	surgicalReportUp = 10
)

// PriorityEngine derives recipient urgency. Baseline comes from the clinical facts and is
// replaced on every recompute; event deltas accumulate separately on top of it.
type PriorityEngine struct {
	clock func() time.Time
}

// NewPriorityEngine creates a new priority engine
func NewPriorityEngine(clock func() time.Time) *PriorityEngine {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &PriorityEngine{clock: clock}
}

// Baseline returns 10 per chronic condition plus 20 for an active organ need.
func (e *PriorityEngine) Baseline(r *domain.RecipientProfile) int {
	score := len(r.ChronicConditions) * conditionWeight
	if r.HasActiveNeed() {
		score += organNeedWeight
	}
	return score
}

// Recompute replaces the record's baseline with the one derived from the profile. Running it
// twice on the same facts leaves the record unchanged.
func (e *PriorityEngine) Recompute(rec *domain.PriorityRecord, r *domain.RecipientProfile) {
	rec.Baseline = e.Baseline(r)
	rec.Normalize()
	rec.UpdatedAt = e.clock()
}

// ApplyDelta adds an event-driven delta. Deltas never lower the score.
func (e *PriorityEngine) ApplyDelta(rec *domain.PriorityRecord, delta int) error {
	if delta < 0 {
		return domain.NewValidationError("delta", "priority deltas must not be negative", delta)
	}
	rec.EventScore += delta
	rec.Normalize()
	rec.UpdatedAt = e.clock()
	return nil
}

// PriorityService exposes recompute and cached reads of priority records.
type PriorityService struct {
	deps   Dependencies
	engine *PriorityEngine
}

// NewPriorityService creates a new priority service
func NewPriorityService(deps Dependencies) *PriorityService {
	d := deps.withDefaults()
	return &PriorityService{deps: d, engine: NewPriorityEngine(d.Clock)}
}

// RecomputePriority rebuilds the recipient's baseline from their current profile.
func (s *PriorityService) RecomputePriority(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	var rec *domain.PriorityRecord
	err := s.deps.withinTx(ctx, func(tx domain.Tx) error {
		var err error
		rec, err = recomputeInTx(ctx, tx, s.engine, recipientID)
		return err
	})
	if err != nil {
		s.deps.Logger.WithError(err).WithField("recipient_id", recipientID).Error("Failed to recompute priority")
		return nil, err
	}

	s.deps.Logger.WithFields(logrus.Fields{
		"recipient_id": recipientID,
		"score":        rec.Score,
		"level":        rec.Level,
	}).Info("Recomputed priority")
	s.deps.afterCommit(ctx, nil, rec)
	return rec, nil
}

// Priority returns the recipient's current priority record, served from cache when possible.
func (s *PriorityService) Priority(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	if s.deps.Cache != nil {
		if rec, ok := s.deps.Cache.Get(ctx, recipientID); ok {
			return rec, nil
		}
	}

	var rec *domain.PriorityRecord
	err := s.deps.withinTx(ctx, func(tx domain.Tx) error {
		var err error
		rec, err = tx.GetPriorityRecord(ctx, recipientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, rec)
	}
	return rec, nil
}

func recomputeInTx(ctx context.Context, tx domain.Tx, engine *PriorityEngine, recipientID string) (*domain.PriorityRecord, error) {
	profile, err := tx.GetClinicalProfile(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", recipientID, err)
	}
	recipient, err := domain.AsRecipient(profile)
	if err != nil {
		return nil, err
	}
	rec, err := tx.GetOrCreatePriorityRecord(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("load priority for %s: %w", recipientID, err)
	}
	engine.Recompute(rec, recipient)
	if err := tx.UpdatePriorityRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("update priority for %s: %w", recipientID, err)
	}
	return rec, nil
}

// optionalPriority loads the recipient's record, returning nil when none exists yet.
func optionalPriority(ctx context.Context, tx domain.Tx, recipientID string) (*domain.PriorityRecord, error) {
	rec, err := tx.GetPriorityRecord(ctx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}
