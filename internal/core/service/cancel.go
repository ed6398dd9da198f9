package service

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
)

type CancelCommand struct {
	PlatformPaymentID string
	UserID            string
	Reason            string
	RequestID         string
	RemoteAddr        string
}

// Cancel cancels a pending or approved payment on the platform and releases its booking.
func (s *LifecycleService) Cancel(ctx context.Context, cmd CancelCommand) (*PaymentResult, error) {
	if cmd.PlatformPaymentID == "" {
		return nil, domain.NewInvalidInputError("piPaymentId is required")
	}
	o := apiOrigin(cmd.UserID, cmd.RequestID, cmd.RemoteAddr)

	var result *PaymentResult
	err := s.withLock(ctx, cmd.PlatformPaymentID, func() error {
		var err error
		result, err = s.cancelLocked(ctx, cmd, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LifecycleService) cancelLocked(ctx context.Context, cmd CancelCommand, o origin) (*PaymentResult, error) {
	event := domain.EventPaymentCancelled

	p, err := s.repo.FindByPlatformID(ctx, cmd.PlatformPaymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsOwnedBy(o.actor) {
		return nil, s.reject(ctx, o, p, cmd.PlatformPaymentID, event, domain.NewForbiddenError())
	}

	if p.Status == domain.StatusCancelled {
		booking, err := s.loadBooking(ctx, p)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Payment: p, Booking: booking, Replayed: true}, nil
	}
	if err := p.CanTransitionTo(domain.StatusCancelled); err != nil {
		return nil, s.reject(ctx, o, p, cmd.PlatformPaymentID, event, err)
	}

	if _, err := s.platform.CancelPayment(ctx, cmd.PlatformPaymentID); err != nil {
		cancelled := func(r *domain.PlatformPayment) bool { return r.IsCancelled() }
		if _, err := s.confirmRemote(ctx, cmd.PlatformPaymentID, err, cancelled); err != nil {
			s.logger.Error("platform cancellation failed",
				"payment_id", p.ID,
				"platform_payment_id", cmd.PlatformPaymentID,
				"error", err,
			)
			return nil, err
		}
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	result, err := s.cancelTx(ctx, p, reason, o)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment cancelled",
		"payment_id", p.ID,
		"platform_payment_id", cmd.PlatformPaymentID,
		"reason", reason,
	)
	return result, nil
}

func (s *LifecycleService) cancelTx(ctx context.Context, p *domain.Payment, reason string, o origin) (*PaymentResult, error) {
	return s.terminate(ctx, p, domain.EventPaymentCancelled, o, func(p *domain.Payment) error {
		return p.Cancel(reason, s.now())
	})
}

func (s *LifecycleService) failTx(ctx context.Context, p *domain.Payment, reason string, o origin) (*PaymentResult, error) {
	return s.terminate(ctx, p, domain.EventPaymentFailed, o, func(p *domain.Payment) error {
		return p.Fail(reason, s.now())
	})
}

// terminate moves p into a terminal state inside a transaction, after re-reading it under row lock.
func (s *LifecycleService) terminate(ctx context.Context, p *domain.Payment, event domain.EventType, o origin, mutate func(*domain.Payment) error) (*PaymentResult, error) {
	result := &PaymentResult{}
	err := s.repo.WithTx(ctx, func(tx ports.PaymentRepository) error {
		fresh, err := tx.FindByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		booking, err := s.transition(ctx, tx, fresh, event, o, mutate)
		if err != nil {
			return err
		}
		result.Payment = fresh
		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
