package service

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/google/uuid"
)

// Get returns a payment and its booking to the user who owns it.
func (s *LifecycleService) Get(ctx context.Context, paymentID uuid.UUID, userID string) (*PaymentResult, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsOwnedBy(userID) {
		s.securityEvent(ctx, domain.SecurityForbidden, apiOrigin(userID, "", ""), p, "", userID, map[string]any{
			"reason": "read of another user's payment",
		})
		return nil, domain.NewForbiddenError()
	}

	booking, err := s.loadBooking(ctx, p)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: p, Booking: booking}, nil
}
