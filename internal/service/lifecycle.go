package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// Transition kinds. A same-state request is an amend and reported as modified.
const (
	KindConfirmed = "confirmed"
	KindCancelled = "cancelled"
	KindModified  = "modified"
)

var allowedTransitions = map[domain.LifecycleState][]domain.LifecycleState{
	domain.StatePending:   {domain.StateConfirmed, domain.StateCancelled},
	domain.StateConfirmed: {domain.StateCancelled},
}

// TransitionKind classifies a move between lifecycle states, or returns a *TransitionError
// when the state machine forbids it.
func TransitionKind(matchID string, from, to domain.LifecycleState) (string, error) {
	if from == to {
		return KindModified, nil
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return string(to), nil
		}
	}
	return "", &domain.TransitionError{MatchID: matchID, From: from, To: to}
}

func severityForKind(kind string) domain.Severity {
	switch kind {
	case KindConfirmed:
		return domain.SeverityMedical
	case KindCancelled:
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

// MatchLifecycleOrchestrator applies match transitions and their status and notification
// side effects in one transaction.
type MatchLifecycleOrchestrator struct {
	deps   Dependencies
	fanout *NotificationFanout
}

// NewMatchLifecycleOrchestrator creates a new lifecycle orchestrator
func NewMatchLifecycleOrchestrator(deps Dependencies) *MatchLifecycleOrchestrator {
	d := deps.withDefaults()
	return &MatchLifecycleOrchestrator{
		deps:   d,
		fanout: NewNotificationFanout(d.Logger, d.Clock, d.NewID),
	}
}

// TransitionMatch moves a match to the requested state.
//
// Confirming sets the recipient profile to confirmed and the donor profile to reserved;
// cancelling returns both to awaiting; an amend leaves statuses alone. Each case notifies the
// recipient, the donor and the recipient's hospital. Parties without a profile only skip the
// status step.
func (o *MatchLifecycleOrchestrator) TransitionMatch(ctx context.Context, req domain.TransitionRequest) (*domain.TransitionOutcome, error) {
	if req.MatchID == "" {
		return nil, domain.NewValidationError("match_id", "match id is required", req.MatchID)
	}
	if !req.NewState.IsValid() {
		return nil, domain.NewValidationError("new_state", "unrecognised lifecycle state", req.NewState)
	}

	logger := o.deps.Logger.WithFields(logrus.Fields{
		"match_id":  req.MatchID,
		"new_state": req.NewState,
	})

	outcome := &domain.TransitionOutcome{}
	var fanout *domain.FanoutResult
	err := o.deps.withinTx(ctx, func(tx domain.Tx) error {
		m, err := tx.GetMatchCandidate(ctx, req.MatchID)
		if err != nil {
			return fmt.Errorf("load match %s: %w", req.MatchID, err)
		}
		kind, err := TransitionKind(m.ID, m.State, req.NewState)
		if err != nil {
			return err
		}
		outcome.Kind = kind
		outcome.Match = m

		scope := m.ID
		eventID := req.EventID
		switch {
		case eventID != "":
		case m.State != req.NewState || req.Note == "":
			// No state is entered twice, so the entered state names the event and a bare
			// retry after commit lands on the same key.
			eventID = "enter-" + string(req.NewState)
		default:
			// Noted amends without an event id are delivered at least once.
			eventID = fmt.Sprintf("r%d-amend", m.Revision)
		}
		key := fmt.Sprintf("transition:%s:%s", scope, eventID)
		first, err := tx.MarkEventApplied(ctx, key)
		if err != nil {
			return fmt.Errorf("record transition event: %w", err)
		}
		if !first {
			outcome.Duplicate = true
			return nil
		}

		switch kind {
		case KindConfirmed:
			if err := o.deps.updateStatusTolerant(ctx, tx, m.RecipientID, domain.StatusConfirmed); err != nil {
				return err
			}
			if err := o.deps.updateStatusTolerant(ctx, tx, m.DonorID, domain.StatusReserved); err != nil {
				return err
			}
		case KindCancelled:
			if err := o.deps.updateStatusTolerant(ctx, tx, m.RecipientID, domain.StatusAwaiting); err != nil {
				return err
			}
			if err := o.deps.updateStatusTolerant(ctx, tx, m.DonorID, domain.StatusAwaiting); err != nil {
				return err
			}
		}

		m.State = req.NewState
		m.UpdatedAt = o.deps.Clock()
		if err := tx.UpsertMatchCandidate(ctx, m); err != nil {
			return fmt.Errorf("store match %s: %w", m.ID, err)
		}

		deliveries, err := partyDeliveries(ctx, tx, m, kind, req.Note)
		if err != nil {
			return err
		}
		fanout, err = o.fanout.Send(ctx, tx, key, deliveries)
		if err != nil {
			return err
		}
		outcome.NotificationsSent = fanout.Sent()
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("Match transition failed")
		return nil, err
	}

	if outcome.Duplicate {
		logger.Info("Transition already applied, ignoring re-delivery")
		o.deps.duplicate("transition")
		return outcome, nil
	}

	logger.WithFields(logrus.Fields{
		"kind":          outcome.Kind,
		"notifications": outcome.NotificationsSent,
	}).Info("Match transition applied")
	if o.deps.Observer != nil {
		o.deps.Observer.TransitionApplied(outcome.Kind)
	}
	o.deps.afterCommit(ctx, []*domain.FanoutResult{fanout}, nil)
	return outcome, nil
}

// partyDeliveries builds the recipient, donor and hospital notifications for a match event.
// The hospital is the recipient's; it is left out when unknown.
func partyDeliveries(ctx context.Context, tx domain.Tx, m *domain.MatchCandidate, kind, note string) ([]domain.Delivery, error) {
	recipient, err := optionalPerson(ctx, tx, m.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("load recipient %s: %w", m.RecipientID, err)
	}
	donor, err := optionalPerson(ctx, tx, m.DonorID)
	if err != nil {
		return nil, fmt.Errorf("load donor %s: %w", m.DonorID, err)
	}

	var recipientMsg, donorMsg, verb string
	switch kind {
	case KindConfirmed:
		recipientMsg = fmt.Sprintf("match confirmed for organ %s", m.OrganType)
		donorMsg = fmt.Sprintf("donation confirmed for organ %s", m.OrganType)
		verb = "confirmed"
	case KindCancelled:
		recipientMsg = fmt.Sprintf("match cancelled for organ %s", m.OrganType)
		donorMsg = fmt.Sprintf("donation cancelled for organ %s", m.OrganType)
		verb = "cancelled"
	default:
		recipientMsg = fmt.Sprintf("match updated for organ %s: score %d (%s)", m.OrganType, m.MatchScore, m.CompatibilityResult)
		donorMsg = fmt.Sprintf("donation match updated for organ %s", m.OrganType)
		verb = "updated"
	}
	hospitalMsg := fmt.Sprintf("match %s between recipient %s and donor %s for organ %s",
		verb, displayName(recipient, m.RecipientID), displayName(donor, m.DonorID), m.OrganType)
	if note != "" {
		recipientMsg += ": " + note
		donorMsg += ": " + note
		hospitalMsg += ": " + note
	}

	severity := severityForKind(kind)
	deliveries := []domain.Delivery{
		{Target: domain.Target{Kind: domain.TargetRecipient, ID: m.RecipientID}, Message: recipientMsg, Severity: severity},
		{Target: domain.Target{Kind: domain.TargetDonor, ID: m.DonorID}, Message: donorMsg, Severity: severity},
	}
	if recipient != nil && recipient.HospitalID != "" {
		deliveries = append(deliveries, domain.Delivery{
			Target:   domain.Target{Kind: domain.TargetHospital, ID: recipient.HospitalID},
			Message:  hospitalMsg,
			Severity: severity,
		})
	}
	return deliveries, nil
}
