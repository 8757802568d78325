package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/hycredit/pkg/logger"
)

type fakeAnchors struct {
	mu      sync.Mutex
	cutoffs []time.Time
	queued  int
	err     error
}

func (f *fakeAnchors) Reconcile(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.queued, f.err
}

func (f *fakeAnchors) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeVerifier struct {
	divergent []string
	err       error
}

func (f fakeVerifier) DivergentProjections(context.Context) ([]string, error) {
	return f.divergent, f.err
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func TestReconcilerRunOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(nil) })

	clock := fixedClock{current: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}
	anchors := &fakeAnchors{queued: 2}

	r := NewReconciler(anchors, fakeVerifier{},
		WithNow(clock.Now),
		WithStaleAfter(15*time.Minute),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, r.RunOnce(context.Background()))

	require.Equal(t, []time.Time{clock.current.Add(-15 * time.Minute)}, anchors.cutoffs)
	require.Equal(t, 1, logs.FilterMessage("re-queued stale ledger anchors").Len())
}

func TestReconcilerRunOnceAggregatesErrors(t *testing.T) {
	anchors := &fakeAnchors{err: errors.New("database is locked")}
	verifier := fakeVerifier{divergent: []string{"HC-1", "HC-2"}}

	err := NewReconciler(anchors, verifier).RunOnce(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "database is locked")
	require.ErrorContains(t, err, "2 credits diverge")

	require.NoError(t, NewReconciler(nil, nil).RunOnce(context.Background()))
}

func TestReconcilerStartSchedulesJobs(t *testing.T) {
	anchors := &fakeAnchors{}
	r := NewReconciler(anchors, nil, WithReconcileSchedule("@every 1s"))
	require.NoError(t, r.Start())
	t.Cleanup(func() { <-r.Stop().Done() })

	require.Eventually(t, func() bool { return anchors.calls() > 0 }, 5*time.Second, 50*time.Millisecond)

	bad := NewReconciler(anchors, nil, WithReconcileSchedule("not a schedule"))
	require.Error(t, bad.Start())
}
