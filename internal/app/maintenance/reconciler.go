// Package maintenance runs the scheduled jobs that keep ledger anchoring and
// credit projections consistent.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/hycredit/pkg/logger"
)

const (
	defaultReconcileSpec = "@every 5m"
	defaultVerifySpec    = "@daily"
	defaultStaleAfter    = 10 * time.Minute
)

// AnchorQueue re-queues requests that have waited on the ledger since before cutoff.
type AnchorQueue interface {
	Reconcile(ctx context.Context, cutoff time.Time) (int, error)
}

// ProjectionVerifier reports credits whose cached state diverges from their history.
type ProjectionVerifier interface {
	DivergentProjections(ctx context.Context) ([]string, error)
}

// Reconciler schedules the background consistency jobs.
type Reconciler struct {
	anchors    AnchorQueue
	projection ProjectionVerifier
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger
	staleAfter time.Duration

	reconcileSchedule string
	verifySchedule    string
}

// Option customises the Reconciler.
type Option func(*Reconciler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithNow overrides the clock used to compute the stale cutoff.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithStaleAfter sets how long an anchor may stay pending before it is re-queued.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithReconcileSchedule overrides the cron specification for anchor reconciliation.
func WithReconcileSchedule(spec string) Option {
	return func(r *Reconciler) {
		if spec != "" {
			r.reconcileSchedule = spec
		}
	}
}

// WithVerifySchedule overrides the cron specification for projection checks.
func WithVerifySchedule(spec string) Option {
	return func(r *Reconciler) {
		if spec != "" {
			r.verifySchedule = spec
		}
	}
}

// NewReconciler constructs a Reconciler. A nil dependency skips its job.
func NewReconciler(anchors AnchorQueue, projection ProjectionVerifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		anchors:           anchors,
		projection:        projection,
		now:               func() time.Time { return time.Now().UTC() },
		staleAfter:        defaultStaleAfter,
		reconcileSchedule: defaultReconcileSpec,
		verifySchedule:    defaultVerifySpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return r
}

// Start registers the jobs and launches the scheduler when at least one is enabled.
func (r *Reconciler) Start() error {
	if r.anchors == nil && r.projection == nil {
		return nil
	}

	if r.anchors != nil {
		if _, err := r.cron.AddFunc(r.reconcileSchedule, func() {
			if err := r.reconcileAnchors(context.Background()); err != nil {
				r.log.Warn("anchor reconciliation failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule anchor reconciliation: %w", err)
		}
	}

	if r.projection != nil {
		if _, err := r.cron.AddFunc(r.verifySchedule, func() {
			if err := r.verifyProjections(context.Background()); err != nil {
				r.log.Warn("projection verification failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule projection verification: %w", err)
		}
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (r *Reconciler) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if r.anchors != nil {
		errs = multierr.Append(errs, r.reconcileAnchors(ctx))
	}
	if r.projection != nil {
		errs = multierr.Append(errs, r.verifyProjections(ctx))
	}
	return errs
}

func (r *Reconciler) reconcileAnchors(ctx context.Context) error {
	cutoff := r.now().Add(-r.staleAfter)
	queued, err := r.anchors.Reconcile(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("reconcile anchors: %w", err)
	}
	if queued > 0 {
		r.log.Info("re-queued stale ledger anchors",
			zap.Int("count", queued),
			zap.Time("cutoff", cutoff))
	}
	return nil
}

func (r *Reconciler) verifyProjections(ctx context.Context) error {
	divergent, err := r.projection.DivergentProjections(ctx)
	if err != nil {
		return fmt.Errorf("verify projections: %w", err)
	}
	if len(divergent) > 0 {
		r.log.Error("credit projections diverge from history",
			zap.Int("count", len(divergent)),
			zap.Strings("credit_ids", divergent))
		return fmt.Errorf("verify projections: %d credits diverge from their history", len(divergent))
	}
	return nil
}
