package testhelpers

import (
	"context"
	"testing"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

// MockPlatform is a testify mock of ports.PlatformPort.
type MockPlatform struct {
	mock.Mock
}

// NewMockPlatform creates a mock whose expectations are asserted at test cleanup.
func NewMockPlatform(t *testing.T) *MockPlatform {
	m := &MockPlatform{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPlatform) GetPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	args := m.Called(ctx, platformPaymentID)
	return platformPayment(args, 0), args.Error(1)
}

func (m *MockPlatform) ApprovePayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	args := m.Called(ctx, platformPaymentID)
	return platformPayment(args, 0), args.Error(1)
}

func (m *MockPlatform) CompletePayment(ctx context.Context, platformPaymentID, txID string) (*domain.PlatformPayment, error) {
	args := m.Called(ctx, platformPaymentID, txID)
	return platformPayment(args, 0), args.Error(1)
}

func (m *MockPlatform) CancelPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	args := m.Called(ctx, platformPaymentID)
	return platformPayment(args, 0), args.Error(1)
}

func (m *MockPlatform) GetUser(ctx context.Context, accessToken string) (*domain.PlatformUser, error) {
	args := m.Called(ctx, accessToken)
	if u, ok := args.Get(0).(*domain.PlatformUser); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func platformPayment(args mock.Arguments, i int) *domain.PlatformPayment {
	if p, ok := args.Get(i).(*domain.PlatformPayment); ok {
		return p
	}
	return nil
}
