package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanielPopoola/travelpay/internal/config"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the one backoff policy every platform call goes through.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
	Retryable   func(error) bool
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
		MaxAttempts: cfg.MaxAttempts,
		Retryable:   IsRetryable,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0.2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// IsRetryable accepts transport failures and 5xx/429 answers.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if platformErr, ok := IsPlatformError(err); ok {
		return platformErr.IsRetryable()
	}
	return true
}

// Do runs operation under the policy. Exhausted retries surface as ErrUpstreamUnavailable
// and a platform 404 as ErrNotFound. Other non-retryable errors are returned unchanged.
func Do[T any](ctx context.Context, p RetryPolicy, operation func(ctx context.Context) (T, error), notify backoff.Notify) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var result T
	err := backoff.RetryNotify(func() error {
		res, err := operation(ctx)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}, p.newBackOff(ctx), notify)

	if err == nil {
		return result, nil
	}

	var zero T
	if platformErr, ok := IsPlatformError(err); ok && platformErr.StatusCode == http.StatusNotFound {
		return zero, &domain.DomainError{Code: domain.ErrCodeNotFound, Message: "platform payment not found", Err: err}
	}
	if errors.Is(err, context.Canceled) || !retryable(err) {
		return zero, err
	}
	return zero, domain.NewUpstreamUnavailableError(fmt.Errorf("maximum retries exceeded: %w", err))
}

// RetryClient decorates a PlatformPort with the retry policy.
type RetryClient struct {
	inner  ports.PlatformPort
	policy RetryPolicy
	logger *slog.Logger
}

func NewRetryClient(inner ports.PlatformPort, policy RetryPolicy, logger *slog.Logger) *RetryClient {
	return &RetryClient{inner: inner, policy: policy, logger: logger}
}

func (r *RetryClient) notify(operation, id string) backoff.Notify {
	return func(err error, next time.Duration) {
		r.logger.Warn("platform call failed, retrying",
			"operation", operation,
			"platform_payment_id", id,
			"error", err,
			"backoff", next,
		)
	}
}

func (r *RetryClient) GetPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	return Do(ctx, r.policy, func(ctx context.Context) (*domain.PlatformPayment, error) {
		return r.inner.GetPayment(ctx, platformPaymentID)
	}, r.notify("get_payment", platformPaymentID))
}

func (r *RetryClient) ApprovePayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	return Do(ctx, r.policy, func(ctx context.Context) (*domain.PlatformPayment, error) {
		return r.inner.ApprovePayment(ctx, platformPaymentID)
	}, r.notify("approve", platformPaymentID))
}

func (r *RetryClient) CompletePayment(ctx context.Context, platformPaymentID, txID string) (*domain.PlatformPayment, error) {
	return Do(ctx, r.policy, func(ctx context.Context) (*domain.PlatformPayment, error) {
		return r.inner.CompletePayment(ctx, platformPaymentID, txID)
	}, r.notify("complete", platformPaymentID))
}

func (r *RetryClient) CancelPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	return Do(ctx, r.policy, func(ctx context.Context) (*domain.PlatformPayment, error) {
		return r.inner.CancelPayment(ctx, platformPaymentID)
	}, r.notify("cancel", platformPaymentID))
}

func (r *RetryClient) GetUser(ctx context.Context, accessToken string) (*domain.PlatformUser, error) {
	return Do(ctx, r.policy, func(ctx context.Context) (*domain.PlatformUser, error) {
		return r.inner.GetUser(ctx, accessToken)
	}, r.notify("get_user", ""))
}
