package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// NotificationFanout persists one notification per delivery.
type NotificationFanout struct {
	logger *logrus.Logger
	clock  func() time.Time
	newID  func() string
}

// NewNotificationFanout creates a new fan-out
func NewNotificationFanout(logger *logrus.Logger, clock func() time.Time, newID func() string) *NotificationFanout {
	return &NotificationFanout{logger: logger, clock: clock, newID: newID}
}

// Send persists the deliveries triggered by the event identified by eventKey. A delivery whose
// target is missing or soft-deleted is skipped and reported; any other store error aborts the
// batch so the enclosing transaction rolls back.
func (f *NotificationFanout) Send(ctx context.Context, store domain.NotificationStore, eventKey string, deliveries []domain.Delivery) (*domain.FanoutResult, error) {
	result := &domain.FanoutResult{}
	now := f.clock()

	for _, d := range deliveries {
		n := &domain.Notification{
			ID:        f.newID(),
			Target:    d.Target,
			Message:   d.Message,
			Severity:  d.Severity,
			DedupeKey: eventKey + "|" + d.Target.String(),
			CreatedAt: now,
		}

		created, err := store.CreateNotification(ctx, n)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			f.logger.WithFields(logrus.Fields{
				"target":    d.Target.String(),
				"event_key": eventKey,
			}).Debug("Notification target not found, skipping delivery")
			result.Skipped = append(result.Skipped, domain.SkippedDelivery{Target: d.Target, Reason: err.Error()})
		case err != nil:
			return nil, fmt.Errorf("notify %s: %w", d.Target, err)
		case created:
			result.Created = append(result.Created, n)
		default:
			result.Duplicates++
		}
	}

	if len(result.Skipped) > 0 {
		f.logger.WithFields(logrus.Fields{
			"event_key": eventKey,
			"created":   len(result.Created),
			"skipped":   len(result.Skipped),
		}).Warn("Partial notification fan-out")
	}
	return result, nil
}
