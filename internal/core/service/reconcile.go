package service

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// ReconcileOutcome says what Reconcile did with a payment.
type ReconcileOutcome string

const (
	ReconcileCompleted ReconcileOutcome = "completed"
	ReconcileCancelled ReconcileOutcome = "cancelled"
	ReconcileWaiting   ReconcileOutcome = "waiting"
	ReconcileSkipped   ReconcileOutcome = "skipped"
)

// Reconcile brings an approved payment in line with the platform: a verified settlement completes
// it and a platform cancellation cancels it. Anything else leaves it approved.
func (s *LifecycleService) Reconcile(ctx context.Context, payment *domain.Payment) (ReconcileOutcome, error) {
	if payment.PlatformPaymentID == nil {
		return ReconcileSkipped, nil
	}
	platformID := *payment.PlatformPaymentID
	o := origin{source: domain.SourceWorker, actor: actorReconciler}

	var (
		outcome ReconcileOutcome
		result  *PaymentResult
		notice  *domain.CompletionNotice
	)
	err := s.withLock(ctx, platformID, func() error {
		p, err := s.repo.FindByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusApproved {
			outcome = ReconcileSkipped
			return nil
		}

		remote, err := s.platform.GetPayment(ctx, platformID)
		if err != nil {
			return err
		}

		if remote.IsCancelled() {
			if _, err := s.cancelTx(ctx, p, "cancelled on platform", o); err != nil {
				return err
			}
			outcome = ReconcileCancelled
			return nil
		}

		txID, verified := remote.VerifiedTxID()
		if !verified {
			// Touching the row moves it to the back of the stale queue.
			now := s.now()
			s.annotate(ctx, p.ID, func(p *domain.Payment) {
				p.Metadata.Increment(domain.AttemptsReconcile)
				p.Metadata.Stamp("last_reconciled_at", now)
				p.UpdatedAt = now
			})
			outcome = ReconcileWaiting
			return nil
		}

		wallet, err := s.walletOf(ctx, p.UserID)
		if err != nil {
			return err
		}
		if err := remote.VerifyAgainst(p, s.currency, wallet); err != nil {
			return s.rejectFraud(ctx, o, p, domain.EventPaymentCompleted, err)
		}

		if !remote.Status.DeveloperCompleted {
			if _, err := s.platform.CompletePayment(ctx, platformID, txID); err != nil {
				completed := func(r *domain.PlatformPayment) bool { return r.Status.DeveloperCompleted }
				if _, err := s.confirmRemote(ctx, platformID, err, completed); err != nil {
					s.annotate(ctx, p.ID, countAttempt(domain.AttemptsComplete))
					return err
				}
			}
		}

		result, notice, err = s.settle(ctx, p, txID, o)
		if err != nil {
			return err
		}
		outcome = ReconcileCompleted
		return nil
	})
	if err != nil {
		return "", err
	}

	if notice != nil {
		s.notify(ctx, result.Payment, notice, o)
	}
	if outcome != ReconcileSkipped && outcome != ReconcileWaiting {
		s.logger.Info("payment reconciled",
			"payment_id", payment.ID,
			"platform_payment_id", platformID,
			"outcome", outcome,
		)
	}
	return outcome, nil
}
