package ports

import (
	"context"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepository is the transactional ledger for payments, bookings, rewards and the audit trail.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByPlatformID(ctx context.Context, platformPaymentID string) (*domain.Payment, error)
	FindOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	FindStaleApproved(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment *domain.Payment) error

	FindBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	UpdateBooking(ctx context.Context, booking *domain.Booking) error

	FindUser(ctx context.Context, id string) (*domain.User, error)
	LinkWallet(ctx context.Context, userID, walletUID string) error
	// CreditReward adds delta to the user's reward balance as a single atomic increment.
	CreditReward(ctx context.Context, userID string, delta decimal.Decimal) error

	AppendAudit(ctx context.Context, record *domain.AuditRecord) error
	HasAppliedEvent(ctx context.Context, platformPaymentID string, event domain.EventType) (bool, error)

	// WithTx executes a function within a database transaction.
	WithTx(ctx context.Context, fn func(PaymentRepository) error) error
}

// SecurityLog is the immutable record of security-relevant rejections.
type SecurityLog interface {
	Record(ctx context.Context, event *domain.SecurityEvent) error
}
