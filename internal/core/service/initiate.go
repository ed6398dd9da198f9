package service

import (
	"context"
	"errors"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/google/uuid"
)

type InitiateCommand struct {
	UserID     string
	BookingID  uuid.UUID
	RequestID  string
	RemoteAddr string
}

// Initiate opens the pending payment for a booking checkout. While the booking has an open payment,
// that payment is returned instead of creating another.
func (s *LifecycleService) Initiate(ctx context.Context, cmd InitiateCommand) (*PaymentResult, error) {
	if cmd.BookingID == uuid.Nil {
		return nil, domain.NewInvalidInputError("bookingId is required")
	}
	o := apiOrigin(cmd.UserID, cmd.RequestID, cmd.RemoteAddr)

	booking, err := s.repo.FindBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != cmd.UserID {
		s.securityEvent(ctx, domain.SecurityForbidden, o, nil, "", cmd.UserID, map[string]any{
			"booking_id": booking.ID.String(),
			"reason":     "booking belongs to another user",
		})
		return nil, domain.NewForbiddenError()
	}
	switch {
	case booking.Status == domain.BookingCancelled:
		return nil, domain.NewInvalidInputError("booking is cancelled")
	case booking.PaymentStatus == domain.BookingPaid:
		return nil, domain.NewInvalidInputError("booking is already paid")
	case booking.Currency != s.currency:
		return nil, domain.NewInvalidInputError("booking currency is not payable on the platform")
	}

	if existing, err := s.repo.FindOpenByBookingID(ctx, booking.ID); err == nil {
		return &PaymentResult{Payment: existing, Booking: booking, Replayed: true}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	p, err := domain.NewPayment(cmd.UserID, &booking.ID, booking.TotalAmount, s.currency, booking.Reference, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			existing, findErr := s.repo.FindOpenByBookingID(ctx, booking.ID)
			if findErr == nil {
				return &PaymentResult{Payment: existing, Booking: booking, Replayed: true}, nil
			}
		}
		return nil, err
	}

	s.logger.Info("payment initiated",
		"payment_id", p.ID,
		"booking_id", booking.ID,
		"user_id", cmd.UserID,
		"amount", p.Amount.StringFixed(domain.AmountScale),
	)
	return &PaymentResult{Payment: p, Booking: booking}, nil
}
