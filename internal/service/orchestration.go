package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// DefaultStoreTimeout bounds each orchestrator transaction when no timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

// Dependencies are the collaborators shared by every orchestrator. Publisher, Cache and
// Observer are optional.
type Dependencies struct {
	Store        domain.RecordStore
	Logger       *logrus.Logger
	Publisher    domain.Publisher
	Cache        domain.PriorityCache
	Observer     domain.Observer
	StoreTimeout time.Duration
	Clock        func() time.Time
	NewID        func() string
}

func (d *Dependencies) withDefaults() Dependencies {
	out := *d
	if out.Logger == nil {
		out.Logger = logrus.New()
	}
	if out.StoreTimeout <= 0 {
		out.StoreTimeout = DefaultStoreTimeout
	}
	if out.Clock == nil {
		out.Clock = func() time.Time { return time.Now().UTC() }
	}
	if out.NewID == nil {
		out.NewID = uuid.NewString
	}
	return out
}

// withinTx runs fn in one store transaction bounded by the store timeout.
func (d *Dependencies) withinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.StoreTimeout)
	defer cancel()

	err := d.Store.WithinTx(ctx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrStoreTimeout) {
		return fmt.Errorf("%w: %v", domain.ErrStoreTimeout, err)
	}
	return err
}

// afterCommit hands committed notifications and priority records to the optional hooks.
func (d *Dependencies) afterCommit(ctx context.Context, fanouts []*domain.FanoutResult, priority *domain.PriorityRecord) {
	for _, res := range fanouts {
		if res == nil {
			continue
		}
		for _, n := range res.Created {
			if d.Publisher != nil {
				d.Publisher.Publish(n)
			}
			if d.Observer != nil {
				d.Observer.NotificationsSent(n.Severity, 1)
			}
		}
		if d.Observer != nil && len(res.Skipped) > 0 {
			d.Observer.NotificationsSkipped(len(res.Skipped))
		}
	}
	if priority != nil {
		if d.Cache != nil {
			d.Cache.Set(ctx, priority)
		}
		if d.Observer != nil {
			d.Observer.PriorityUpdated(priority.Level)
		}
	}
}

func (d *Dependencies) duplicate(kind string) {
	if d.Observer != nil {
		d.Observer.DuplicateEvent(kind)
	}
}

// eventKey returns the idempotency key for an event. Events without a stable identity get a
// fresh key and are therefore delivered at least once.
func (d *Dependencies) eventKey(kind, scope, eventID string) string {
	if eventID == "" {
		eventID = "anon-" + d.NewID()
	}
	return fmt.Sprintf("%s:%s:%s", kind, scope, eventID)
}

// updateStatusTolerant updates a profile status, skipping persons without a profile.
func (d *Dependencies) updateStatusTolerant(ctx context.Context, tx domain.Tx, personID string, status domain.ProfileStatus) error {
	err := tx.UpdateProfileStatus(ctx, personID, status)
	if errors.Is(err, domain.ErrNotFound) {
		d.Logger.WithFields(logrus.Fields{
			"person_id": personID,
			"status":    status,
		}).WithError(domain.ErrMissingDependentRecord).Debug("No clinical profile, skipping status update")
		return nil
	}
	return err
}

// optionalPerson loads a person, returning nil when the row is absent.
func optionalPerson(ctx context.Context, tx domain.Tx, id string) (*domain.Person, error) {
	p, err := tx.GetPerson(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func displayName(p *domain.Person, fallback string) string {
	if p == nil || p.FullName() == "" {
		return fallback
	}
	return p.FullName()
}

// applyPriorityDelta adds delta to the recipient's priority record, creating it if needed.
func applyPriorityDelta(ctx context.Context, tx domain.Tx, engine *PriorityEngine, recipientID string, delta int) (*domain.PriorityRecord, error) {
	rec, err := tx.GetOrCreatePriorityRecord(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("load priority for %s: %w", recipientID, err)
	}
	if err := engine.ApplyDelta(rec, delta); err != nil {
		return nil, err
	}
	if err := tx.UpdatePriorityRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("update priority for %s: %w", recipientID, err)
	}
	return rec, nil
}
