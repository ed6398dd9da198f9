package ports

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// Notifier delivers booking and payment confirmations.
type Notifier interface {
	NotifyPaymentCompleted(ctx context.Context, notice domain.CompletionNotice) error
}
