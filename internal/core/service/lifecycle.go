// Package service drives payments through the approve/complete handshake with the payment platform
// and reconciles the platform's webhook notifications against the local ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
	"github.com/google/uuid"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	releaseTimeout       = 5 * time.Second

	actorPlatform   = "platform"
	actorReconciler = "reconciler"
)

// PaymentResult is the outcome of a lifecycle operation. Replayed is true when the operation had
// already been applied and nothing changed.
type PaymentResult struct {
	Payment  *domain.Payment
	Booking  *domain.Booking
	Replayed bool
}

// origin identifies who triggered a transition, for the audit trail and the security log.
type origin struct {
	source     domain.AuditSource
	actor      string
	requestID  string
	remoteAddr string
}

type LifecycleService struct {
	repo     ports.PaymentRepository
	platform ports.PlatformPort
	locks    ports.LockCoordinator
	security ports.SecurityLog
	notifier ports.Notifier
	logger   *slog.Logger

	currency      string
	notifyTimeout time.Duration
	now           func() time.Time

	notifications sync.WaitGroup
}

type Option func(*LifecycleService)

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *LifecycleService) { s.now = now }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *LifecycleService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func NewLifecycleService(
	repo ports.PaymentRepository,
	platform ports.PlatformPort,
	locks ports.LockCoordinator,
	security ports.SecurityLog,
	notifier ports.Notifier,
	logger *slog.Logger,
	currency string,
	opts ...Option,
) *LifecycleService {
	s := &LifecycleService{
		repo:          repo,
		platform:      platform,
		locks:         locks,
		security:      security,
		notifier:      notifier,
		logger:        logger,
		currency:      currency,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WaitForNotifications blocks until every in-flight confirmation dispatch has finished.
func (s *LifecycleService) WaitForNotifications() {
	s.notifications.Wait()
}

func lockKey(platformPaymentID string) string {
	return "payment:" + platformPaymentID
}

// localLockKey guards a local payment that is not yet linked to a platform payment.
func localLockKey(paymentID uuid.UUID) string {
	return "payment:local:" + paymentID.String()
}

// withLock runs fn while holding the payment's lock. It never waits for a busy lock.
func (s *LifecycleService) withLock(ctx context.Context, platformPaymentID string, fn func() error) error {
	return s.withLocks(ctx, []string{lockKey(platformPaymentID)}, fn)
}

// withLocks runs fn while holding every key. A busy key releases the ones already taken and
// reports contention.
func (s *LifecycleService) withLocks(ctx context.Context, keys []string, fn func() error) error {
	holder := uuid.NewString()
	held := make([]string, 0, len(keys))

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		for _, key := range held {
			if err := s.locks.Release(releaseCtx, key, holder); err != nil {
				s.logger.Error("failed to release payment lock", "key", key, "error", err)
			}
		}
	}()

	for _, key := range keys {
		ok, err := s.locks.Acquire(ctx, key, holder)
		if err != nil {
			return fmt.Errorf("failed to acquire payment lock: %w", err)
		}
		if !ok {
			s.logger.Info("payment lock busy", "key", key)
			return domain.ErrLockContention
		}
		held = append(held, key)
	}

	return fn()
}

// transition applies mutate to the row-locked payment, mirrors the new status onto its booking and
// appends an applied audit record, all inside tx.
func (s *LifecycleService) transition(
	ctx context.Context,
	tx ports.PaymentRepository,
	p *domain.Payment,
	event domain.EventType,
	o origin,
	mutate func(p *domain.Payment) error,
) (*domain.Booking, error) {
	before := p.Snapshot()
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	var booking *domain.Booking
	if p.BookingID != nil {
		b, err := tx.FindBooking(ctx, *p.BookingID)
		if err != nil {
			return nil, err
		}
		b.MirrorPayment(p.Status, s.now())
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return nil, err
		}
		booking = b
	}

	rec := domain.NewAuditRecord(event, o.source, o.actor, domain.OutcomeApplied, s.now()).ForPayment(p, before)
	rec.RequestID = o.requestID
	if err := tx.AppendAudit(ctx, rec); err != nil {
		return nil, err
	}
	return booking, nil
}

// annotate persists a breadcrumb change on a payment outside any transition. It never changes
// the payment's state and failures are only logged.
func (s *LifecycleService) annotate(ctx context.Context, paymentID uuid.UUID, mutate func(p *domain.Payment)) {
	detached := context.WithoutCancel(ctx)
	err := s.repo.WithTx(detached, func(tx ports.PaymentRepository) error {
		p, err := tx.FindByIDForUpdate(detached, paymentID)
		if err != nil {
			return err
		}
		mutate(p)
		return tx.UpdatePayment(detached, p)
	})
	if err != nil {
		s.logger.Error("failed to annotate payment", "payment_id", paymentID, "error", err)
	}
}

func countAttempt(key string) func(p *domain.Payment) {
	return func(p *domain.Payment) { p.Metadata.Increment(key) }
}

// applyCompletion settles an approved payment: it stores the txid, confirms the booking and credits
// cashback exactly once. It returns the confirmation to dispatch once tx commits.
func (s *LifecycleService) applyCompletion(
	ctx context.Context,
	tx ports.PaymentRepository,
	p *domain.Payment,
	txID string,
	o origin,
) (*domain.Booking, *domain.CompletionNotice, error) {
	now := s.now()
	booking, err := s.transition(ctx, tx, p, domain.EventPaymentCompleted, o, func(p *domain.Payment) error {
		if err := p.Complete(txID, now); err != nil {
			return err
		}
		p.Metadata.Increment(domain.AttemptsComplete)
		if cashback, ok := p.CreditCashback(); ok && cashback.IsPositive() {
			if err := tx.CreditReward(ctx, p.UserID, cashback); err != nil {
				return fmt.Errorf("failed to credit cashback: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	notice := domain.CompletionNotice{
		PaymentID:     p.ID,
		TransactionID: txID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		UserID:        p.UserID,
		BookingID:     p.BookingID,
		CompletedAt:   now,
	}
	if p.PlatformPaymentID != nil {
		notice.PlatformPaymentID = *p.PlatformPaymentID
	}
	if p.CashbackAmount != nil {
		notice.Cashback = *p.CashbackAmount
	}
	if booking != nil {
		notice.BookingReference = booking.Reference
	}
	if user, err := tx.FindUser(ctx, p.UserID); err == nil {
		notice.Email = user.Email
		notice.Username = user.Username
	}
	return booking, &notice, nil
}

// notify dispatches the confirmation in the background. Failures are recorded and never revert
// the completed payment.
func (s *LifecycleService) notify(ctx context.Context, p *domain.Payment, notice *domain.CompletionNotice, o origin) {
	if s.notifier == nil || notice == nil {
		return
	}
	payment := p.Clone()
	detached := context.WithoutCancel(ctx)

	s.notifications.Go(func() {
		notifyCtx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()

		err := s.notifier.NotifyPaymentCompleted(notifyCtx, *notice)
		if err == nil {
			return
		}
		s.logger.Error("failed to dispatch payment confirmation",
			"payment_id", payment.ID,
			"platform_payment_id", notice.PlatformPaymentID,
			"error", err,
		)
		rec := domain.NewAuditRecord(domain.EventNotificationFailed, o.source, o.actor, domain.OutcomeError, s.now()).
			ForPayment(payment, nil)
		rec.RequestID = o.requestID
		rec.Detail = err.Error()
		s.appendAudit(detached, rec)
	})
}

func (s *LifecycleService) appendAudit(ctx context.Context, rec *domain.AuditRecord) {
	if err := s.repo.AppendAudit(ctx, rec); err != nil {
		s.logger.Error("failed to append audit record",
			"event", rec.Event,
			"outcome", rec.Outcome,
			"platform_payment_id", rec.PlatformPaymentID,
			"error", err,
		)
	}
}

// reject records a refused transition in the audit trail and, for security-relevant errors, in the
// security log. It returns cause unchanged.
func (s *LifecycleService) reject(ctx context.Context, o origin, p *domain.Payment, platformPaymentID string, event domain.EventType, cause error) error {
	rec := domain.NewAuditRecord(event, o.source, o.actor, domain.OutcomeRejected, s.now())
	if p != nil {
		rec.ForPayment(p, nil)
	}
	if rec.PlatformPaymentID == "" {
		rec.PlatformPaymentID = platformPaymentID
	}
	rec.RequestID = o.requestID
	rec.Detail = cause.Error()
	s.appendAudit(ctx, rec)

	if kind, ok := domain.SecurityKindFor(cause); ok {
		userID := o.actor
		if o.source != domain.SourceAPI && p != nil {
			userID = p.UserID
		}
		s.securityEvent(ctx, kind, o, p, platformPaymentID, userID, map[string]any{
			"event":  string(event),
			"reason": cause.Error(),
		})
	}
	return cause
}

func (s *LifecycleService) securityEvent(
	ctx context.Context,
	kind domain.SecurityEventKind,
	o origin,
	p *domain.Payment,
	platformPaymentID, userID string,
	detail map[string]any,
) {
	ev := &domain.SecurityEvent{
		ID:                uuid.New(),
		Kind:              kind,
		PlatformPaymentID: platformPaymentID,
		UserID:            userID,
		RemoteAddr:        o.remoteAddr,
		RequestID:         o.requestID,
		Detail:            detail,
		CreatedAt:         s.now(),
	}
	if p != nil {
		id := p.ID
		ev.PaymentID = &id
	}
	if err := s.security.Record(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error("failed to record security event", "kind", kind, "error", err)
	}
}

// rejectFraud handles a failed platform cross-check. An amount mismatch leaves the payment as it
// is so the client can retry; direction and identity mismatches fail the payment.
func (s *LifecycleService) rejectFraud(ctx context.Context, o origin, p *domain.Payment, event domain.EventType, cause error) error {
	platformID := ""
	if p.PlatformPaymentID != nil {
		platformID = *p.PlatformPaymentID
	}

	if !errors.Is(cause, domain.ErrAmountMismatch) {
		err := s.repo.WithTx(ctx, func(tx ports.PaymentRepository) error {
			fresh, err := tx.FindByIDForUpdate(ctx, p.ID)
			if err != nil {
				return err
			}
			if fresh.IsTerminal() {
				return nil
			}
			reason := "fraud check failed: " + codeOf(cause)
			_, err = s.transition(ctx, tx, fresh, domain.EventPaymentFailed, o, func(p *domain.Payment) error {
				if p.PlatformPaymentID == nil && platformID != "" {
					if err := p.LinkPlatformPayment(platformID); err != nil {
						return err
					}
				}
				return p.Fail(reason, s.now())
			})
			return err
		})
		if err != nil {
			s.logger.Error("failed to mark payment as failed", "payment_id", p.ID, "error", err)
		}
	}

	s.logger.Warn("payment rejected by fraud checks",
		"payment_id", p.ID,
		"platform_payment_id", platformID,
		"code", codeOf(cause),
	)
	return s.reject(ctx, o, p, platformID, event, cause)
}

// confirmRemote is used after a platform call returned a non-transient error: the platform may have
// already applied the operation on an earlier attempt, so its current state decides.
func (s *LifecycleService) confirmRemote(ctx context.Context, platformPaymentID string, callErr error, done func(*domain.PlatformPayment) bool) (*domain.PlatformPayment, error) {
	if errors.Is(callErr, domain.ErrUpstreamUnavailable) || errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
		return nil, callErr
	}
	remote, err := s.platform.GetPayment(ctx, platformPaymentID)
	if err != nil || !done(remote) {
		return nil, callErr
	}
	return remote, nil
}

func (s *LifecycleService) loadBooking(ctx context.Context, p *domain.Payment) (*domain.Booking, error) {
	if p.BookingID == nil {
		return nil, nil
	}
	return s.repo.FindBooking(ctx, *p.BookingID)
}

func (s *LifecycleService) walletOf(ctx context.Context, userID string) (*string, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user.WalletUID, nil
}

func codeOf(err error) string {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN"
}

func apiOrigin(userID, requestID, remoteAddr string) origin {
	return origin{source: domain.SourceAPI, actor: userID, requestID: requestID, remoteAddr: remoteAddr}
}
