package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// Registry writes the records the orchestrators read: hospitals, persons, clinical profiles
// and surgical contexts.
type Registry struct {
	deps   Dependencies
	engine *PriorityEngine
}

// NewRegistry creates a new registry
func NewRegistry(deps Dependencies) *Registry {
	d := deps.withDefaults()
	return &Registry{deps: d, engine: NewPriorityEngine(d.Clock)}
}

// SaveHospital creates or replaces a hospital.
func (r *Registry) SaveHospital(ctx context.Context, h *domain.Hospital) error {
	if strings.TrimSpace(h.ID) == "" {
		return domain.NewValidationError("id", "hospital id is required", h.ID)
	}
	if strings.TrimSpace(h.Name) == "" {
		return domain.NewValidationError("name", "hospital name is required", h.Name)
	}
	return r.deps.withinTx(ctx, func(tx domain.Tx) error {
		return tx.SaveHospital(ctx, h)
	})
}

// SavePerson creates or replaces a person. A referenced hospital must exist.
func (r *Registry) SavePerson(ctx context.Context, p *domain.Person) error {
	if strings.TrimSpace(p.ID) == "" {
		return domain.NewValidationError("id", "person id is required", p.ID)
	}
	if strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		return domain.NewValidationError("name", "first or last name is required", p.FullName())
	}
	return r.deps.withinTx(ctx, func(tx domain.Tx) error {
		if p.HospitalID != "" {
			if _, err := tx.GetHospital(ctx, p.HospitalID); err != nil {
				return fmt.Errorf("person %s: %w", p.ID, err)
			}
		}
		return tx.SavePerson(ctx, p)
	})
}

// SaveProfile validates and stores a clinical profile. Saving a recipient profile recomputes
// the recipient's priority baseline in the same transaction.
func (r *Registry) SaveProfile(ctx context.Context, p domain.ClinicalProfile) (*domain.PriorityRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	facts := p.Facts()
	if facts.Status == "" {
		facts.Status = domain.StatusAwaiting
	}
	facts.UpdatedAt = r.deps.Clock()

	var rec *domain.PriorityRecord
	err := r.deps.withinTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetPerson(ctx, p.PersonID()); err != nil {
			return fmt.Errorf("profile owner %s: %w", p.PersonID(), err)
		}
		if err := tx.SaveProfile(ctx, p); err != nil {
			return fmt.Errorf("store profile %s: %w", p.PersonID(), err)
		}
		if p.Role() != domain.RoleRecipient {
			return nil
		}
		var err error
		rec, err = recomputeInTx(ctx, tx, r.engine, p.PersonID())
		return err
	})
	if err != nil {
		r.deps.Logger.WithError(err).WithField("person_id", p.PersonID()).Error("Failed to save clinical profile")
		return nil, err
	}

	r.deps.Logger.WithFields(logrus.Fields{
		"person_id": p.PersonID(),
		"role":      p.Role(),
	}).Info("Saved clinical profile")
	r.deps.afterCommit(ctx, nil, rec)
	return rec, nil
}

// SaveSurgicalContext stores a surgery linked to an existing match.
func (r *Registry) SaveSurgicalContext(ctx context.Context, s *domain.SurgicalContext) error {
	if strings.TrimSpace(s.ID) == "" {
		return domain.NewValidationError("id", "surgical context id is required", s.ID)
	}
	if strings.TrimSpace(s.MatchID) == "" {
		return domain.NewValidationError("match_id", "match id is required", s.MatchID)
	}
	if s.SurgeryNumber == "" {
		s.SurgeryNumber = s.ID
	}
	return r.deps.withinTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetMatchCandidate(ctx, s.MatchID); err != nil {
			return fmt.Errorf("surgery %s: %w", s.ID, err)
		}
		if s.HospitalID != "" {
			if _, err := tx.GetHospital(ctx, s.HospitalID); err != nil {
				return fmt.Errorf("surgery %s: %w", s.ID, err)
			}
		}
		return tx.SaveSurgicalContext(ctx, s)
	})
}

// RecomputeAll recomputes the priority baseline of every recipient, one transaction each.
// It returns how many were recomputed and stops at the first failure.
func (r *Registry) RecomputeAll(ctx context.Context) (int, error) {
	var ids []string
	err := r.deps.withinTx(ctx, func(tx domain.Tx) error {
		var err error
		ids, err = tx.ListProfileIDs(ctx, domain.RoleRecipient, "")
		return err
	})
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		var rec *domain.PriorityRecord
		err := r.deps.withinTx(ctx, func(tx domain.Tx) error {
			var err error
			rec, err = recomputeInTx(ctx, tx, r.engine, id)
			return err
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return done, fmt.Errorf("recompute %s: %w", id, err)
		}
		r.deps.afterCommit(ctx, nil, rec)
		done++
	}

	r.deps.Logger.WithField("recipients", done).Info("Recomputed all priorities")
	return done, nil
}
