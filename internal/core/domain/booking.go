package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// BookingPaymentStatus mirrors the progress of the booking's payment.
type BookingPaymentStatus string

const (
	BookingUnpaid     BookingPaymentStatus = "unpaid"
	BookingProcessing BookingPaymentStatus = "processing"
	BookingPaid       BookingPaymentStatus = "paid"
	BookingFailed     BookingPaymentStatus = "failed"
)

// Booking is a reservation whose payment status follows its Payment.
type Booking struct {
	ID            uuid.UUID
	UserID        string
	Reference     string
	TotalAmount   decimal.Decimal
	Currency      string
	Status        BookingStatus
	PaymentStatus BookingPaymentStatus
	ConfirmedAt   *time.Time
	UpdatedAt     time.Time
}

// MirrorPayment updates the booking to reflect the payment's new status.
func (b *Booking) MirrorPayment(status PaymentStatus, now time.Time) {
	switch status {
	case StatusApproved:
		b.PaymentStatus = BookingProcessing
	case StatusCompleted:
		b.PaymentStatus = BookingPaid
		if b.Status != BookingConfirmed {
			b.Status = BookingConfirmed
			b.ConfirmedAt = &now
		}
	case StatusCancelled:
		b.PaymentStatus = BookingUnpaid
	case StatusFailed:
		b.PaymentStatus = BookingFailed
	default:
		return
	}
	b.UpdatedAt = now
}

// User is the subset of the account record the payment core reads and credits.
type User struct {
	ID            string
	Email         string
	Username      string
	WalletUID     *string
	RewardBalance decimal.Decimal
}

// CompletionNotice is the booking and payment summary sent to confirmation channels.
type CompletionNotice struct {
	PaymentID         uuid.UUID       `json:"payment_id"`
	PlatformPaymentID string          `json:"platform_payment_id"`
	TransactionID     string          `json:"transaction_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Cashback          decimal.Decimal `json:"cashback"`
	UserID            string          `json:"user_id"`
	Email             string          `json:"email,omitempty"`
	Username          string          `json:"username,omitempty"`
	BookingID         *uuid.UUID      `json:"booking_id,omitempty"`
	BookingReference  string          `json:"booking_reference,omitempty"`
	CompletedAt       time.Time       `json:"completed_at"`
}
