package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

type failingNotificationStore struct{ err error }

func (s failingNotificationStore) CreateNotification(context.Context, *domain.Notification) (bool, error) {
	return false, s.err
}

func newTestFanout() *NotificationFanout {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := 0
	return NewNotificationFanout(logger, func() time.Time { return fixedNow }, func() string {
		n++
		return fmt.Sprintf("n-%d", n)
	})
}

func TestNotificationFanout_Send(t *testing.T) {
	f := newFixture(t)
	f.hospital(t, "h1")
	f.person(t, "r1", "Ana", "Silva", "h1")
	fanout := newTestFanout()
	deliveries := []domain.Delivery{
		{Target: domain.Target{Kind: domain.TargetRecipient, ID: "r1"}, Message: "hello", Severity: domain.SeverityInfo},
		{Target: domain.Target{Kind: domain.TargetDonor, ID: "gone"}, Message: "hello", Severity: domain.SeverityInfo},
		{Target: domain.Target{Kind: domain.TargetHospital, ID: "h1"}, Message: "hello", Severity: domain.SeverityInfo},
	}

	var first, second *domain.FanoutResult
	require.NoError(t, f.store.WithinTx(f.ctx, func(tx domain.Tx) error {
		var err error
		first, err = fanout.Send(f.ctx, tx, "evt-1", deliveries)
		return err
	}))
	require.Len(t, first.Created, 2)
	assert.Equal(t, "evt-1|recipient:r1", first.Created[0].DedupeKey)
	assert.Equal(t, fixedNow, first.Created[0].CreatedAt)
	require.Len(t, first.Skipped, 1)
	assert.Equal(t, "gone", first.Skipped[0].Target.ID)
	assert.Equal(t, 2, first.Sent())

	require.NoError(t, f.store.WithinTx(f.ctx, func(tx domain.Tx) error {
		var err error
		second, err = fanout.Send(f.ctx, tx, "evt-1", deliveries)
		return err
	}))
	assert.Empty(t, second.Created)
	assert.Equal(t, 2, second.Duplicates)
	assert.Len(t, f.inbox(t, domain.TargetRecipient, "r1"), 1)
}

func TestNotificationFanout_StoreErrorAborts(t *testing.T) {
	fanout := newTestFanout()
	boom := errors.New("connection reset")

	res, err := fanout.Send(context.Background(), failingNotificationStore{err: boom}, "evt-1", []domain.Delivery{
		{Target: domain.Target{Kind: domain.TargetRecipient, ID: "r1"}, Message: "hello", Severity: domain.SeverityInfo},
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
}

func TestFanoutResult_SentIsNilSafe(t *testing.T) {
	var res *domain.FanoutResult
	assert.Zero(t, res.Sent())
}
