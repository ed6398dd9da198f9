package ports

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// PlatformPort defines the behavior of the external payment platform.
type PlatformPort interface {
	GetPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error)
	ApprovePayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error)
	CompletePayment(ctx context.Context, platformPaymentID, txID string) (*domain.PlatformPayment, error)
	CancelPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error)
	GetUser(ctx context.Context, accessToken string) (*domain.PlatformUser, error)
}
