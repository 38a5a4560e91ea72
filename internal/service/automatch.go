package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/organ-match-server/internal/domain"
)

// Pair outcomes reported to the observer.
const (
	PairCreated   = "created"
	PairUpdated   = "updated"
	PairUnchanged = "unchanged"
	PairSkipped   = "skipped"
	PairFailed    = "failed"
)

// DefaultAutoMatchWorkers is the batch parallelism when none is configured.
const DefaultAutoMatchWorkers = 4

// AutoMatchRunner scores every eligible recipient against every eligible donor.
type AutoMatchRunner struct {
	deps    Dependencies
	scorer  *CompatibilityScorer
	fanout  *NotificationFanout
	workers int
}

// NewAutoMatchRunner creates a new batch runner
func NewAutoMatchRunner(deps Dependencies, workers int) *AutoMatchRunner {
	d := deps.withDefaults()
	if workers <= 0 {
		workers = DefaultAutoMatchWorkers
	}
	return &AutoMatchRunner{
		deps:    d,
		scorer:  NewCompatibilityScorer(),
		fanout:  NewNotificationFanout(d.Logger, d.Clock, d.NewID),
		workers: workers,
	}
}

type pairResult struct {
	summary *domain.MatchSummary
	fanout  *domain.FanoutResult
	outcome string
}

// errPairSkipped marks a pair deliberately left alone; the reason is carried in the message.
type errPairSkipped struct{ reason string }

func (e errPairSkipped) Error() string { return e.reason }

// RunAutoMatch scores each recipient × donor pair whose organs agree. Each pair is its own
// transaction: one pair failing is recorded in the report and the rest carry on. Cancelling
// ctx stops the run before the next pair starts; pairs already started complete.
func (r *AutoMatchRunner) RunAutoMatch(ctx context.Context, req domain.AutoMatchRequest) (*domain.AutoMatchReport, error) {
	if len(req.RecipientIDs) == 0 || len(req.DonorIDs) == 0 {
		return nil, domain.NewValidationError("recipient_ids", "at least one recipient and one donor are required", req)
	}

	var (
		mu     sync.Mutex
		report = &domain.AutoMatchReport{Matches: []domain.MatchSummary{}}
		posted []*domain.FanoutResult
	)
	record := func(recipientID, donorID string, res pairResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		var skip errPairSkipped
		switch {
		case errors.As(err, &skip):
			res.outcome = PairSkipped
			report.Skipped = append(report.Skipped, domain.PairSkip{RecipientID: recipientID, DonorID: donorID, Reason: skip.reason})
		case err != nil:
			res.outcome = PairFailed
			report.Failures = append(report.Failures, domain.PairFailure{RecipientID: recipientID, DonorID: donorID, Error: err.Error()})
		default:
			report.Matches = append(report.Matches, *res.summary)
			posted = append(posted, res.fanout)
		}
		if r.deps.Observer != nil {
			r.deps.Observer.PairScored(res.outcome)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)

schedule:
	for _, recipientID := range req.RecipientIDs {
		for _, donorID := range req.DonorIDs {
			if ctx.Err() != nil {
				mu.Lock()
				report.Cancelled = true
				mu.Unlock()
				break schedule
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					mu.Lock()
					report.Cancelled = true
					mu.Unlock()
					return nil
				}
				// Once started, a pair runs to commit or rollback on its own store timeout.
				res, err := r.scorePair(context.WithoutCancel(ctx), recipientID, donorID, req.IncludeFinalized)
				record(recipientID, donorID, res, err)
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Slice(report.Matches, func(i, j int) bool {
		a, b := report.Matches[i], report.Matches[j]
		if a.RecipientID != b.RecipientID {
			return a.RecipientID < b.RecipientID
		}
		return a.DonorID < b.DonorID
	})

	r.deps.Logger.WithFields(logrus.Fields{
		"recipients": len(req.RecipientIDs),
		"donors":     len(req.DonorIDs),
		"matches":    len(report.Matches),
		"skipped":    len(report.Skipped),
		"failures":   len(report.Failures),
		"cancelled":  report.Cancelled,
	}).Info("Auto-match run finished")

	r.deps.afterCommit(ctx, posted, nil)
	return report, nil
}

func (r *AutoMatchRunner) scorePair(ctx context.Context, recipientID, donorID string, includeFinalized bool) (pairResult, error) {
	var res pairResult
	err := r.deps.withinTx(ctx, func(tx domain.Tx) error {
		recipient, donor, err := loadPair(ctx, tx, recipientID, donorID)
		if err != nil {
			return err
		}
		if !recipient.HasActiveNeed() {
			return errPairSkipped{reason: "recipient has no active organ need"}
		}
		if recipient.OrganNeeded != donor.OrganAvailable {
			return errPairSkipped{reason: fmt.Sprintf("organ mismatch: needs %s, offers %s", recipient.OrganNeeded, donor.OrganAvailable)}
		}

		m, err := tx.FindMatchCandidate(ctx, recipientID, donorID)
		created := errors.Is(err, domain.ErrNotFound)
		switch {
		case created:
			now := r.deps.Clock()
			m = &domain.MatchCandidate{
				ID:          r.deps.NewID(),
				RecipientID: recipientID,
				DonorID:     donorID,
				State:       domain.StatePending,
				CreatedAt:   now,
			}
		case err != nil:
			return fmt.Errorf("load match for %s/%s: %w", recipientID, donorID, err)
		case m.State.IsFinal() && !includeFinalized:
			return errPairSkipped{reason: fmt.Sprintf("match %s is %s", m.ID, m.State)}
		}

		comp, err := r.scorer.Score(recipient, donor, donor.OrganAvailable)
		if err != nil {
			return err
		}
		changed := m.ApplyCompatibility(comp)
		organChanged := m.OrganType != donor.OrganAvailable
		m.OrganType = donor.OrganAvailable
		if !created && !changed && !organChanged {
			res.outcome = PairUnchanged
			summary := m.Summary(false, false)
			res.summary = &summary
			return nil
		}

		m.UpdatedAt = r.deps.Clock()
		if err := tx.UpsertMatchCandidate(ctx, m); err != nil {
			return fmt.Errorf("store match for %s/%s: %w", recipientID, donorID, err)
		}
		deliveries, err := partyDeliveries(ctx, tx, m, KindModified, "")
		if err != nil {
			return err
		}
		key := fmt.Sprintf("rescore:%s:r%d", m.ID, m.Revision)
		res.fanout, err = r.fanout.Send(ctx, tx, key, deliveries)
		if err != nil {
			return err
		}

		res.outcome = PairUpdated
		if created {
			res.outcome = PairCreated
		}
		summary := m.Summary(created, true)
		res.summary = &summary
		return nil
	})
	return res, err
}

func loadPair(ctx context.Context, tx domain.Tx, recipientID, donorID string) (*domain.RecipientProfile, *domain.DonorProfile, error) {
	rp, err := tx.GetClinicalProfile(ctx, recipientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load recipient profile %s: %w", recipientID, err)
	}
	recipient, err := domain.AsRecipient(rp)
	if err != nil {
		return nil, nil, err
	}
	dp, err := tx.GetClinicalProfile(ctx, donorID)
	if err != nil {
		return nil, nil, fmt.Errorf("load donor profile %s: %w", donorID, err)
	}
	donor, err := domain.AsDonor(dp)
	if err != nil {
		return nil, nil, err
	}
	return recipient, donor, nil
}

// Eligible lists the recipients and donors whose profiles are awaiting a match.
func (r *AutoMatchRunner) Eligible(ctx context.Context) (recipients, donors []string, err error) {
	err = r.deps.withinTx(ctx, func(tx domain.Tx) error {
		var err error
		if recipients, err = tx.ListProfileIDs(ctx, domain.RoleRecipient, domain.StatusAwaiting); err != nil {
			return err
		}
		donors, err = tx.ListProfileIDs(ctx, domain.RoleDonor, domain.StatusAwaiting)
		return err
	})
	return recipients, donors, err
}

// RunEligible runs a batch over every recipient and donor currently awaiting a match.
func (r *AutoMatchRunner) RunEligible(ctx context.Context, includeFinalized bool) (*domain.AutoMatchReport, error) {
	recipients, donors, err := r.Eligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible profiles: %w", err)
	}
	if len(recipients) == 0 || len(donors) == 0 {
		r.deps.Logger.WithFields(logrus.Fields{
			"recipients": len(recipients),
			"donors":     len(donors),
		}).Info("Nothing to auto-match")
		return &domain.AutoMatchReport{Matches: []domain.MatchSummary{}}, nil
	}
	return r.RunAutoMatch(ctx, domain.AutoMatchRequest{
		RecipientIDs:     recipients,
		DonorIDs:         donors,
		IncludeFinalized: includeFinalized,
	})
}
