// Package worker runs the background sweep that settles payments whose completion never reached
// the app server.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/robfig/cron/v3"
)

type StalePaymentFinder interface {
	FindStaleApproved(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
}

type ReconcilerService interface {
	Reconcile(ctx context.Context, p *domain.Payment) (service.ReconcileOutcome, error)
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	Scanned int
	Outcome map[service.ReconcileOutcome]int
	Failed  int
}

type Reconciler struct {
	repo       StalePaymentFinder
	svc        ReconcilerService
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewReconciler(
	repo StalePaymentFinder,
	svc ReconcilerService,
	interval time.Duration,
	batchSize int,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:       repo,
		svc:        svc,
		interval:   interval,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start runs a sweep every interval until ctx is cancelled. A sweep still running when the next one
// is due causes that one to be skipped.
func (r *Reconciler) Start(ctx context.Context) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	if _, err := c.AddFunc("@every "+r.interval.String(), func() { r.RunOnce(ctx) }); err != nil {
		r.logger.Error("failed to schedule reconciler", "interval", r.interval, "error", err)
		return
	}

	r.logger.Info("starting background reconciler",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"stale_after", r.staleAfter,
	)
	c.Start()

	<-ctx.Done()
	r.logger.Info("stopping background reconciler")
	<-c.Stop().Done()
}

// RunOnce executes a single reconciliation cycle.
func (r *Reconciler) RunOnce(ctx context.Context) Summary {
	summary := Summary{Outcome: make(map[service.ReconcileOutcome]int)}

	stale, err := r.repo.FindStaleApproved(ctx, r.staleAfter, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch stale payments", "error", err)
		return summary
	}
	if len(stale) == 0 {
		return summary
	}

	r.logger.Info("reconciling stale payments", "count", len(stale))

	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		summary.Scanned++

		outcome, err := r.svc.Reconcile(ctx, p)
		switch {
		case errors.Is(err, domain.ErrLockContention):
			// A request or notification holds the payment; it is picked up again next cycle.
			r.logger.Debug("payment busy, skipping", "payment_id", p.ID)
			summary.Outcome[service.ReconcileSkipped]++
		case err != nil:
			summary.Failed++
			r.logger.Error("reconciliation failed for payment",
				"payment_id", p.ID,
				"platform_payment_id", stringOrEmpty(p.PlatformPaymentID),
				"error", err,
			)
		default:
			summary.Outcome[outcome]++
			if outcome != service.ReconcileWaiting {
				r.logger.Info("reconciled payment", "payment_id", p.ID, "outcome", outcome)
			}
		}
	}

	return summary
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
