package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// ClinicalEventOrchestrator turns post-operative vital readings and surgical reports into
// notifications and priority deltas.
type ClinicalEventOrchestrator struct {
	deps      Dependencies
	evaluator *VitalThresholdEvaluator
	engine    *PriorityEngine
	fanout    *NotificationFanout
}

// NewClinicalEventOrchestrator creates a new clinical event orchestrator
func NewClinicalEventOrchestrator(deps Dependencies) *ClinicalEventOrchestrator {
	d := deps.withDefaults()
	return &ClinicalEventOrchestrator{
		deps:      d,
		evaluator: NewVitalThresholdEvaluator(),
		engine:    NewPriorityEngine(d.Clock),
		fanout:    NewNotificationFanout(d.Logger, d.Clock, d.NewID),
	}
}

// surgeryRecipient resolves a surgical context and the recipient of its match.
func surgeryRecipient(ctx context.Context, tx domain.Tx, surgicalContextID string) (*domain.SurgicalContext, *domain.MatchCandidate, error) {
	sc, err := tx.GetSurgicalContext(ctx, surgicalContextID)
	if err != nil {
		return nil, nil, fmt.Errorf("load surgical context %s: %w", surgicalContextID, err)
	}
	m, err := tx.GetMatchCandidate(ctx, sc.MatchID)
	if err != nil {
		return nil, nil, fmt.Errorf("load match %s for surgery %s: %w", sc.MatchID, sc.SurgeryNumber, err)
	}
	return sc, m, nil
}

// RecordVitalReading evaluates a reading taken during or after surgery. A reading with no
// findings changes nothing. Otherwise the recipient gets one consolidated notification and
// the summed delta is added to their priority.
func (o *ClinicalEventOrchestrator) RecordVitalReading(ctx context.Context, surgicalContextID string, reading domain.VitalReading) (*domain.VitalOutcome, error) {
	findings := o.evaluator.Evaluate(reading)
	outcome := &domain.VitalOutcome{Findings: findings}
	logger := o.deps.Logger.WithFields(logrus.Fields{
		"surgical_context_id": surgicalContextID,
		"findings":            len(findings),
	})

	var fanout *domain.FanoutResult
	err := o.deps.withinTx(ctx, func(tx domain.Tx) error {
		_, m, err := surgeryRecipient(ctx, tx, surgicalContextID)
		if err != nil {
			return err
		}
		if len(findings) == 0 {
			outcome.UpdatedPriority, err = optionalPriority(ctx, tx, m.RecipientID)
			return err
		}

		key := o.deps.eventKey("vital", surgicalContextID, reading.EventID)
		first, err := tx.MarkEventApplied(ctx, key)
		if err != nil {
			return fmt.Errorf("record vital event: %w", err)
		}
		if !first {
			outcome.Duplicate = true
			outcome.UpdatedPriority, err = optionalPriority(ctx, tx, m.RecipientID)
			return err
		}

		names := make([]string, len(findings))
		for i, f := range findings {
			names[i] = f.Finding
		}
		severity := domain.SeverityMedical
		if AnyCritical(findings) {
			severity = domain.SeverityCritical
		}
		fanout, err = o.fanout.Send(ctx, tx, key, []domain.Delivery{{
			Target:   domain.Target{Kind: domain.TargetRecipient, ID: m.RecipientID},
			Message:  "post-operative warning: " + strings.Join(names, ", "),
			Severity: severity,
		}})
		if err != nil {
			return err
		}

		outcome.UpdatedPriority, err = applyPriorityDelta(ctx, tx, o.engine, m.RecipientID, TotalDelta(findings))
		return err
	})
	if err != nil {
		logger.WithError(err).Error("Failed to record vital reading")
		return nil, err
	}

	if outcome.Duplicate {
		logger.Info("Vital reading already applied, ignoring re-delivery")
		o.deps.duplicate("vital")
		return outcome, nil
	}
	if len(findings) == 0 {
		logger.Debug("Vital reading within normal ranges")
		return outcome, nil
	}
	logger.WithFields(logrus.Fields{
		"score": outcome.UpdatedPriority.Score,
		"level": outcome.UpdatedPriority.Level,
	}).Warn("Abnormal vital reading recorded")
	o.deps.afterCommit(ctx, []*domain.FanoutResult{fanout}, outcome.UpdatedPriority)
	return outcome, nil
}

// RecordSurgicalReport notifies the recipient and the surgery's hospital that a report was
// added, then raises the recipient's priority by a fixed amount.
func (o *ClinicalEventOrchestrator) RecordSurgicalReport(ctx context.Context, surgicalContextID string, report domain.SurgicalReport) (*domain.ReportOutcome, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	logger := o.deps.Logger.WithField("surgical_context_id", surgicalContextID)

	outcome := &domain.ReportOutcome{}
	var fanout *domain.FanoutResult
	err := o.deps.withinTx(ctx, func(tx domain.Tx) error {
		sc, m, err := surgeryRecipient(ctx, tx, surgicalContextID)
		if err != nil {
			return err
		}

		key := o.deps.eventKey("report", surgicalContextID, report.ID)
		first, err := tx.MarkEventApplied(ctx, key)
		if err != nil {
			return fmt.Errorf("record report event: %w", err)
		}
		if !first {
			outcome.Duplicate = true
			outcome.UpdatedPriority, err = optionalPriority(ctx, tx, m.RecipientID)
			return err
		}

		recipient, err := optionalPerson(ctx, tx, m.RecipientID)
		if err != nil {
			return fmt.Errorf("load recipient %s: %w", m.RecipientID, err)
		}
		deliveries := []domain.Delivery{{
			Target:   domain.Target{Kind: domain.TargetRecipient, ID: m.RecipientID},
			Message:  fmt.Sprintf("surgical report added for surgery %s", sc.SurgeryNumber),
			Severity: domain.SeverityMedical,
		}}
		hospitalID := sc.HospitalID
		if hospitalID == "" && recipient != nil {
			hospitalID = recipient.HospitalID
		}
		if hospitalID != "" {
			deliveries = append(deliveries, domain.Delivery{
				Target: domain.Target{Kind: domain.TargetHospital, ID: hospitalID},
				Message: fmt.Sprintf("surgical report added for surgery %s (recipient %s)",
					sc.SurgeryNumber, displayName(recipient, m.RecipientID)),
				Severity: domain.SeverityMedical,
			})
		}
		fanout, err = o.fanout.Send(ctx, tx, key, deliveries)
		if err != nil {
			return err
		}
		outcome.NotificationsSent = fanout.Sent()

		outcome.UpdatedPriority, err = applyPriorityDelta(ctx, tx, o.engine, m.RecipientID, surgicalReportUp)
		return err
	})
	if err != nil {
		logger.WithError(err).Error("Failed to record surgical report")
		return nil, err
	}

	if outcome.Duplicate {
		logger.Info("Surgical report already applied, ignoring re-delivery")
		o.deps.duplicate("report")
		return outcome, nil
	}
	logger.WithFields(logrus.Fields{
		"notifications": outcome.NotificationsSent,
		"score":         outcome.UpdatedPriority.Score,
		"level":         outcome.UpdatedPriority.Level,
	}).Info("Surgical report recorded")
	o.deps.afterCommit(ctx, []*domain.FanoutResult{fanout}, outcome.UpdatedPriority)
	return outcome, nil
}
