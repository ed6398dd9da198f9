package service

import (
	"context"
	"errors"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
	"github.com/google/uuid"
)

type ApproveCommand struct {
	PlatformPaymentID string
	// PaymentID is the local payment the client SDK is approving, when it knows it.
	PaymentID  *uuid.UUID
	UserID     string
	RequestID  string
	RemoteAddr string
}

// Approve verifies the platform's record of a payment and approves it on the platform. Calling it
// again for an approved payment returns the current state without contacting the platform.
func (s *LifecycleService) Approve(ctx context.Context, cmd ApproveCommand) (*PaymentResult, error) {
	if cmd.PlatformPaymentID == "" {
		return nil, domain.NewInvalidInputError("piPaymentId is required")
	}
	o := apiOrigin(cmd.UserID, cmd.RequestID, cmd.RemoteAddr)

	paymentID, err := s.resolvePayment(ctx, cmd.PlatformPaymentID, cmd.PaymentID)
	if err != nil {
		return nil, err
	}

	// Both keys: an unlinked payment can be approved under more than one platform id.
	keys := []string{lockKey(cmd.PlatformPaymentID), localLockKey(paymentID)}

	var result *PaymentResult
	err = s.withLocks(ctx, keys, func() error {
		var err error
		result, err = s.approveLocked(ctx, paymentID, cmd.PlatformPaymentID, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolvePayment finds the local payment a platform payment belongs to: by its linked platform id,
// then by the id the client sent, then by the id the SDK stored in the platform metadata.
func (s *LifecycleService) resolvePayment(ctx context.Context, platformPaymentID string, hint *uuid.UUID) (uuid.UUID, error) {
	p, err := s.repo.FindByPlatformID(ctx, platformPaymentID)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, err
	}

	if hint != nil {
		return *hint, nil
	}

	remote, err := s.platform.GetPayment(ctx, platformPaymentID)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(remote.LocalPaymentID())
	if err != nil {
		return uuid.Nil, domain.NewNotFoundError("payment")
	}
	return id, nil
}

func (s *LifecycleService) approveLocked(ctx context.Context, paymentID uuid.UUID, platformPaymentID string, o origin) (*PaymentResult, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	event := domain.EventPaymentApproved

	if !p.IsOwnedBy(o.actor) {
		return nil, s.reject(ctx, o, p, platformPaymentID, event, domain.NewForbiddenError())
	}
	if p.PlatformPaymentID != nil && *p.PlatformPaymentID != platformPaymentID {
		return nil, s.reject(ctx, o, p, platformPaymentID, event,
			domain.NewIdentityMismatchError("payment already linked to a different platform payment"))
	}

	switch p.Status {
	case domain.StatusApproved:
		booking, err := s.loadBooking(ctx, p)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Payment: p, Booking: booking, Replayed: true}, nil
	case domain.StatusPending:
	default:
		return nil, s.reject(ctx, o, p, platformPaymentID, event, domain.NewInvalidTransitionError(p.Status, domain.StatusApproved))
	}

	wallet, err := s.walletOf(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	remote, err := s.platform.GetPayment(ctx, platformPaymentID)
	if err != nil {
		return nil, err
	}
	if local := remote.LocalPaymentID(); local != "" && local != p.ID.String() {
		return nil, s.reject(ctx, o, p, platformPaymentID, event,
			domain.NewIdentityMismatchError("platform payment was created for a different local payment"))
	}
	if err := p.LinkPlatformPayment(platformPaymentID); err != nil {
		return nil, err
	}
	if err := remote.VerifyAgainst(p, s.currency, wallet); err != nil {
		return nil, s.rejectFraud(ctx, o, p, event, err)
	}

	if !remote.Status.DeveloperApproved {
		if _, err := s.platform.ApprovePayment(ctx, platformPaymentID); err != nil {
			approved := func(r *domain.PlatformPayment) bool { return r.Status.DeveloperApproved }
			if _, err := s.confirmRemote(ctx, platformPaymentID, err, approved); err != nil {
				s.annotate(ctx, p.ID, countAttempt(domain.AttemptsApprove))
				s.logger.Error("platform approval failed",
					"payment_id", p.ID,
					"platform_payment_id", platformPaymentID,
					"error", err,
				)
				return nil, err
			}
		}
	}

	result := &PaymentResult{}
	linkedElsewhere := false
	err = s.repo.WithTx(ctx, func(tx ports.PaymentRepository) error {
		fresh, err := tx.FindByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if fresh.PlatformPaymentID != nil && *fresh.PlatformPaymentID != platformPaymentID {
			linkedElsewhere = true
			return nil
		}
		if fresh.Status == domain.StatusApproved {
			result.Replayed = true
			result.Payment = fresh
			return nil
		}
		booking, err := s.transition(ctx, tx, fresh, domain.EventPaymentApproved, o, func(p *domain.Payment) error {
			if err := p.LinkPlatformPayment(platformPaymentID); err != nil {
				return err
			}
			p.Metadata.Increment(domain.AttemptsApprove)
			return p.Approve(s.now())
		})
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
	if linkedElsewhere {
		s.logger.Error("platform payment approved for a payment linked elsewhere",
			"payment_id", p.ID,
			"platform_payment_id", platformPaymentID,
		)
		return nil, s.reject(ctx, o, p, platformPaymentID, event,
			domain.NewIdentityMismatchError("payment already linked to a different platform payment"))
	}

	if result.Booking == nil {
		if result.Booking, err = s.loadBooking(ctx, result.Payment); err != nil {
			return nil, err
		}
	}

	s.logger.Info("payment approved",
		"payment_id", result.Payment.ID,
		"platform_payment_id", platformPaymentID,
		"user_id", result.Payment.UserID,
		"replayed", result.Replayed,
	)
	return result, nil
}
