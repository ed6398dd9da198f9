package service

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
)

type CompleteCommand struct {
	PlatformPaymentID string
	TransactionID     string
	UserID            string
	RequestID         string
	RemoteAddr        string
}

// Complete settles an approved payment with the blockchain transaction that paid it, confirms the
// booking and credits cashback. Repeating the call with the same transaction id is a no-op.
func (s *LifecycleService) Complete(ctx context.Context, cmd CompleteCommand) (*PaymentResult, error) {
	if cmd.PlatformPaymentID == "" {
		return nil, domain.NewInvalidInputError("piPaymentId is required")
	}
	if cmd.TransactionID == "" {
		return nil, domain.NewInvalidInputError("transactionId is required")
	}
	o := apiOrigin(cmd.UserID, cmd.RequestID, cmd.RemoteAddr)

	var (
		result *PaymentResult
		notice *domain.CompletionNotice
	)
	err := s.withLock(ctx, cmd.PlatformPaymentID, func() error {
		var err error
		result, notice, err = s.completeLocked(ctx, cmd, o)
		return err
	})
	if err != nil {
		return nil, err
	}

	if notice != nil {
		s.notify(ctx, result.Payment, notice, o)
	}
	return result, nil
}

func (s *LifecycleService) completeLocked(ctx context.Context, cmd CompleteCommand, o origin) (*PaymentResult, *domain.CompletionNotice, error) {
	event := domain.EventPaymentCompleted

	p, err := s.repo.FindByPlatformID(ctx, cmd.PlatformPaymentID)
	if err != nil {
		return nil, nil, err
	}
	if !p.IsOwnedBy(o.actor) {
		return nil, nil, s.reject(ctx, o, p, cmd.PlatformPaymentID, event, domain.NewForbiddenError())
	}

	switch p.Status {
	case domain.StatusCompleted:
		if p.TransactionID != nil && *p.TransactionID == cmd.TransactionID {
			booking, err := s.loadBooking(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			return &PaymentResult{Payment: p, Booking: booking, Replayed: true}, nil, nil
		}
		stored := ""
		if p.TransactionID != nil {
			stored = *p.TransactionID
		}
		return nil, nil, s.reject(ctx, o, p, cmd.PlatformPaymentID, event,
			domain.NewTransactionIDConflictError(stored, cmd.TransactionID))
	case domain.StatusApproved:
	default:
		return nil, nil, s.reject(ctx, o, p, cmd.PlatformPaymentID, event,
			domain.NewInvalidTransitionError(p.Status, domain.StatusCompleted))
	}

	wallet, err := s.walletOf(ctx, p.UserID)
	if err != nil {
		return nil, nil, err
	}
	remote, err := s.platform.GetPayment(ctx, cmd.PlatformPaymentID)
	if err != nil {
		return nil, nil, err
	}
	if err := remote.VerifyAgainst(p, s.currency, wallet); err != nil {
		return nil, nil, s.rejectFraud(ctx, o, p, event, err)
	}
	if remote.Transaction != nil && remote.Transaction.TxID != "" && remote.Transaction.TxID != cmd.TransactionID {
		return nil, nil, s.reject(ctx, o, p, cmd.PlatformPaymentID, event,
			domain.NewTransactionIDConflictError(remote.Transaction.TxID, cmd.TransactionID))
	}

	if !remote.Status.DeveloperCompleted {
		if _, err := s.platform.CompletePayment(ctx, cmd.PlatformPaymentID, cmd.TransactionID); err != nil {
			completed := func(r *domain.PlatformPayment) bool { return r.Status.DeveloperCompleted }
			if _, err := s.confirmRemote(ctx, cmd.PlatformPaymentID, err, completed); err != nil {
				s.annotate(ctx, p.ID, countAttempt(domain.AttemptsComplete))
				s.logger.Error("platform completion failed",
					"payment_id", p.ID,
					"platform_payment_id", cmd.PlatformPaymentID,
					"error", err,
				)
				return nil, nil, err
			}
		}
	}

	result, notice, err := s.settle(ctx, p, cmd.TransactionID, o)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("payment completed",
		"payment_id", result.Payment.ID,
		"platform_payment_id", cmd.PlatformPaymentID,
		"transaction_id", cmd.TransactionID,
		"replayed", result.Replayed,
	)
	return result, notice, nil
}

// settle runs the completion transaction for p. A payment still pending is approved first, which
// only happens when the platform reports a settlement the app server never approved itself.
func (s *LifecycleService) settle(ctx context.Context, p *domain.Payment, txID string, o origin) (*PaymentResult, *domain.CompletionNotice, error) {
	result := &PaymentResult{}
	var notice *domain.CompletionNotice

	err := s.repo.WithTx(ctx, func(tx ports.PaymentRepository) error {
		fresh, err := tx.FindByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}

		if fresh.Status == domain.StatusCompleted {
			if fresh.TransactionID == nil || *fresh.TransactionID != txID {
				stored := ""
				if fresh.TransactionID != nil {
					stored = *fresh.TransactionID
				}
				return domain.NewTransactionIDConflictError(stored, txID)
			}
			result.Payment = fresh
			result.Replayed = true
			return nil
		}

		if fresh.Status == domain.StatusPending {
			if _, err := s.transition(ctx, tx, fresh, domain.EventPaymentApproved, o, func(p *domain.Payment) error {
				return p.Approve(s.now())
			}); err != nil {
				return err
			}
		}

		booking, n, err := s.applyCompletion(ctx, tx, fresh, txID, o)
		if err != nil {
			return err
		}
		result.Payment = fresh
		result.Booking = booking
		notice = n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if result.Booking == nil {
		if result.Booking, err = s.loadBooking(ctx, result.Payment); err != nil {
			return nil, nil, err
		}
	}
	return result, notice, nil
}
