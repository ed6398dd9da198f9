package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/DanielPopoola/travelpay/internal/testhelpers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestApprove_Success(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10.0000000")
	remote := fx.RemoteFor()

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()

	result, err := h.svc.Approve(context.Background(), approveCmd(fx))

	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, domain.StatusApproved, result.Payment.Status)
	assert.NotNil(t, result.Payment.ApprovedAt)
	require.NotNil(t, result.Booking)
	assert.Equal(t, domain.BookingProcessing, result.Booking.PaymentStatus)

	assert.Equal(t, domain.StatusApproved, h.payment(t, fx).Status)
	assert.Equal(t, domain.BookingProcessing, h.booking(t, fx).PaymentStatus)
	assert.Equal(t, 1, appliedCount(h.repo.AuditTrail(), domain.EventPaymentApproved))
}

func TestApprove_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
	remote := fx.RemoteFor()

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()

	first, err := h.svc.Approve(context.Background(), approveCmd(fx))
	require.NoError(t, err)
	second, err := h.svc.Approve(context.Background(), approveCmd(fx))
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.Status, second.Payment.Status)
	assert.Equal(t, 1, appliedCount(h.repo.AuditTrail(), domain.EventPaymentApproved))
	h.platform.AssertNumberOfCalls(t, "ApprovePayment", 1)
}

func TestApprove_AmountMismatchKeepsPending(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
	remote := fx.RemoteFor()
	remote.Amount = decimal.RequireFromString("10.001")

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()

	_, err := h.svc.Approve(context.Background(), approveCmd(fx))

	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, domain.StatusPending, h.payment(t, fx).Status)
	assert.Equal(t, 1, h.security.Count(domain.SecurityAmountMismatch))
	h.platform.AssertNotCalled(t, "ApprovePayment", mock.Anything, mock.Anything)
}

func TestApprove_AmountWithinTolerance(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
	remote := fx.RemoteFor()
	remote.Amount = decimal.RequireFromString("10.00005")

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()

	_, err := h.svc.Approve(context.Background(), approveCmd(fx))
	require.NoError(t, err)
}

func TestApprove_FraudChecksThatFailThePayment(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.PlatformPayment)
		want   error
		kind   domain.SecurityEventKind
	}{
		{
			name:   "direction",
			mutate: func(r *domain.PlatformPayment) { r.Direction = "app_to_user" },
			want:   domain.ErrDirectionMismatch,
			kind:   domain.SecurityDirectionMismatch,
		},
		{
			name:   "identity",
			mutate: func(r *domain.PlatformPayment) { r.UserUID = "someone-else" },
			want:   domain.ErrIdentityMismatch,
			kind:   domain.SecurityIdentityMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
			remote := fx.RemoteFor()
			tt.mutate(remote)

			h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()

			_, err := h.svc.Approve(context.Background(), approveCmd(fx))

			assert.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsFraud(err))
			assert.Equal(t, domain.StatusFailed, h.payment(t, fx).Status)
			assert.Equal(t, domain.BookingFailed, h.booking(t, fx).PaymentStatus)
			assert.Equal(t, 1, h.security.Count(tt.kind))
		})
	}
}

func TestApprove_ForbiddenForOtherUser(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")

	cmd := approveCmd(fx)
	cmd.UserID = "intruder"
	_, err := h.svc.Approve(context.Background(), cmd)

	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, domain.StatusPending, h.payment(t, fx).Status)
	require.Equal(t, 1, h.security.Count(domain.SecurityForbidden))
	assert.Equal(t, "intruder", h.security.Events()[0].UserID)
}

func TestApprove_NotFound(t *testing.T) {
	h := newHarness(t)

	h.platform.On("GetPayment", mock.Anything, "pi-unknown").
		Return(nil, domain.NewNotFoundError("platform payment")).Once()

	_, err := h.svc.Approve(context.Background(), service.ApproveCommand{PlatformPaymentID: "pi-unknown", UserID: "u"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApprove_UpstreamUnavailableKeepsPending(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(fx.RemoteFor(), nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).
		Return(nil, domain.NewUpstreamUnavailableError(errors.New("503 service unavailable"))).Once()

	_, err := h.svc.Approve(context.Background(), approveCmd(fx))

	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	p := h.payment(t, fx)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.EqualValues(t, 1, p.Metadata[domain.AttemptsApprove])
	assert.Zero(t, appliedCount(h.repo.AuditTrail(), domain.EventPaymentApproved))

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(fx.RemoteFor(), nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).Return(fx.RemoteFor(), nil).Once()

	_, err = h.svc.Approve(context.Background(), approveCmd(fx))
	require.NoError(t, err)
	p = h.payment(t, fx)
	assert.Equal(t, domain.StatusApproved, p.Status)
	assert.EqualValues(t, 2, p.Metadata[domain.AttemptsApprove])
}

func TestApprove_PlatformAlreadyApproved(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
	remote := fx.RemoteFor()
	approved := fx.RemoteFor()
	approved.Status.DeveloperApproved = true

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).Return(nil, errors.New("already_approved")).Once()
	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(approved, nil).Once()

	result, err := h.svc.Approve(context.Background(), approveCmd(fx))

	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, result.Payment.Status)
}

func TestApprove_ResolvesUnlinkedPaymentFromMetadata(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")

	unlinked, err := domain.NewPayment(fx.User.ID, nil, decimal.RequireFromString("2.5"), "PI", "top-up", time.Now())
	require.NoError(t, err)
	h.repo.SeedPayment(unlinked)

	remote := &domain.PlatformPayment{
		Identifier: "pi-fresh",
		UserUID:    *fx.User.WalletUID,
		Amount:     decimal.RequireFromString("2.5"),
		Metadata:   map[string]any{"payment_id": unlinked.ID.String()},
		Direction:  domain.DirectionUserToApp,
	}
	h.platform.On("GetPayment", mock.Anything, "pi-fresh").Return(remote, nil).Twice()
	h.platform.On("ApprovePayment", mock.Anything, "pi-fresh").Return(remote, nil).Once()

	result, err := h.svc.Approve(context.Background(), service.ApproveCommand{PlatformPaymentID: "pi-fresh", UserID: fx.User.ID})

	require.NoError(t, err)
	require.NotNil(t, result.Payment.PlatformPaymentID)
	assert.Equal(t, "pi-fresh", *result.Payment.PlatformPaymentID)
	assert.Nil(t, result.Booking)
}

func TestApprove_ConcurrentRequestsApproveOnce(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
	remote := fx.RemoteFor()

	h.platform.On("GetPayment", mock.Anything, fx.PlatformID()).Return(remote, nil).Once()
	h.platform.On("ApprovePayment", mock.Anything, fx.PlatformID()).
		Return(remote, nil).
		After(200 * time.Millisecond).
		Once()

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		errs      = make([]error, 2)
		successes = make([]*service.PaymentResult, 2)
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			successes[i], errs[i] = h.svc.Approve(context.Background(), approveCmd(fx))
		}()
	}
	close(start)
	wg.Wait()

	var ok, contended int
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
			assert.False(t, successes[i].Replayed)
		case errors.Is(err, domain.ErrLockContention):
			contended++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, contended)
	assert.Equal(t, 1, appliedCount(h.repo.AuditTrail(), domain.EventPaymentApproved))
	h.platform.AssertNumberOfCalls(t, "ApprovePayment", 1)
}

func TestApprove_RejectsTerminalPayment(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")
	cancelled := fx.Payment.Clone()
	require.NoError(t, cancelled.Cancel("changed plans", time.Now()))
	h.repo.SeedPayment(cancelled)

	_, err := h.svc.Approve(context.Background(), approveCmd(fx))

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	trail := h.repo.AuditTrail()
	require.Len(t, trail, 1)
	assert.Equal(t, domain.OutcomeRejected, trail[0].Outcome)
}

func TestApprove_UnlinkedPaymentApprovedUnderOnePlatformID(t *testing.T) {
	h := newHarness(t)
	fx := testhelpers.SeedPendingPayment(t, h.repo, "10")

	unlinked, err := domain.NewPayment(fx.User.ID, nil, decimal.RequireFromString("4"), "PI", "top-up", time.Now())
	require.NoError(t, err)
	h.repo.SeedPayment(unlinked)

	platformIDs := []string{"pi-A", "pi-B"}
	for _, id := range platformIDs {
		remote := &domain.PlatformPayment{
			Identifier: id,
			UserUID:    *fx.User.WalletUID,
			Amount:     decimal.RequireFromString("4"),
			Metadata:   map[string]any{"payment_id": unlinked.ID.String()},
			Direction:  domain.DirectionUserToApp,
		}
		h.platform.On("GetPayment", mock.Anything, id).Return(remote, nil).Maybe()
		h.platform.On("ApprovePayment", mock.Anything, id).
			Return(remote, nil).
			After(200 * time.Millisecond).
			Maybe()
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		errs    = make([]error, 2)
		results = make([]*service.PaymentResult, 2)
	)
	for i, id := range platformIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.svc.Approve(context.Background(), service.ApproveCommand{
				PlatformPaymentID: id,
				PaymentID:         &unlinked.ID,
				UserID:            fx.User.ID,
			})
		}()
	}
	close(start)
	wg.Wait()

	winner := ""
	contended := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winner = platformIDs[i]
			assert.False(t, results[i].Replayed)
		case errors.Is(err, domain.ErrLockContention):
			contended++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.NotEmpty(t, winner)
	assert.Equal(t, 1, contended)
	h.platform.AssertNumberOfCalls(t, "ApprovePayment", 1)

	stored, err := h.repo.FindByID(context.Background(), unlinked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	require.NotNil(t, stored.PlatformPaymentID)
	assert.Equal(t, winner, *stored.PlatformPaymentID)
}

func TestApprove_SecondPlatformIDForLinkedPaymentIsRejected(t *testing.T) {
	h := newHarness(t)
	fx := h.seedApproved(t, "10")

	_, err := h.svc.Approve(context.Background(), service.ApproveCommand{
		PlatformPaymentID: "pi-other",
		PaymentID:         &fx.Payment.ID,
		UserID:            fx.User.ID,
	})

	assert.ErrorIs(t, err, domain.ErrIdentityMismatch)
	assert.Equal(t, fx.PlatformID(), *h.payment(t, fx).PlatformPaymentID)
	assert.Equal(t, 1, h.security.Count(domain.SecurityIdentityMismatch))
	h.platform.AssertNotCalled(t, "ApprovePayment", mock.Anything, mock.Anything)
}
