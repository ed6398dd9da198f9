package testhelpers

import (
	"testing"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Fixture is a user with a booking and its pending payment, already linked to a platform payment.
type Fixture struct {
	User    *domain.User
	Booking *domain.Booking
	Payment *domain.Payment
}

// PlatformID returns the linked platform payment id.
func (f *Fixture) PlatformID() string {
	return *f.Payment.PlatformPaymentID
}

// SeedPendingPayment stores a fixture with the given amount in repo.
func SeedPendingPayment(t *testing.T, repo *InMemoryRepository, amount string) *Fixture {
	t.Helper()

	wallet := "uid-" + uuid.NewString()[:8]
	user := &domain.User{
		ID:        "user-" + uuid.NewString()[:8],
		Email:     "traveller@example.com",
		Username:  "traveller",
		WalletUID: &wallet,
	}
	booking := &domain.Booking{
		ID:            uuid.New(),
		UserID:        user.ID,
		Reference:     "BK-" + uuid.NewString()[:6],
		TotalAmount:   decimal.RequireFromString(amount),
		Currency:      "PI",
		Status:        domain.BookingPending,
		PaymentStatus: domain.BookingUnpaid,
		UpdatedAt:     time.Now(),
	}
	payment, err := domain.NewPayment(user.ID, &booking.ID, booking.TotalAmount, "PI", booking.Reference, time.Now())
	require.NoError(t, err)
	require.NoError(t, payment.LinkPlatformPayment("pi-"+uuid.NewString()))

	repo.SeedUser(user)
	repo.SeedBooking(booking)
	repo.SeedPayment(payment)

	return &Fixture{User: user, Booking: booking, Payment: payment}
}

// RemoteFor builds the platform's view of the fixture's payment.
func (f *Fixture) RemoteFor() *domain.PlatformPayment {
	return &domain.PlatformPayment{
		Identifier: f.PlatformID(),
		UserUID:    *f.User.WalletUID,
		Amount:     f.Payment.Amount,
		Memo:       f.Payment.Memo,
		Metadata:   map[string]any{"payment_id": f.Payment.ID.String()},
		Direction:  domain.DirectionUserToApp,
		Network:    "Pi Testnet",
	}
}

// Completed returns a copy of remote marked as settled by txID.
func Completed(remote *domain.PlatformPayment, txID string, verified bool) *domain.PlatformPayment {
	c := *remote
	c.Status.DeveloperApproved = true
	c.Status.TransactionVerified = verified
	c.Transaction = &domain.PlatformTransaction{TxID: txID, Verified: verified}
	return &c
}
