package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/signature"
)

// WebhookDelivery is one signed notification exactly as it arrived.
type WebhookDelivery struct {
	Signature  string
	Timestamp  string
	Body       []byte
	RemoteAddr string
	RequestID  string
}

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	// WebhookIgnored is acknowledged without effect so the platform stops redelivering.
	WebhookIgnored WebhookStatus = "ignored"
)

type WebhookResult struct {
	Status            WebhookStatus
	Event             domain.EventType
	PlatformPaymentID string
	Payment           *domain.Payment
}

type webhookPayload struct {
	Event   string                  `json:"event"`
	Payment *domain.PlatformPayment `json:"payment"`
}

// WebhookReconciler applies the platform's payment notifications to the ledger. It serializes with
// the synchronous API on the same per-payment lock and shares its transition code.
type WebhookReconciler struct {
	lifecycle *LifecycleService
	verifier  *signature.Verifier
	logger    *slog.Logger
}

func NewWebhookReconciler(lifecycle *LifecycleService, verifier *signature.Verifier, logger *slog.Logger) *WebhookReconciler {
	return &WebhookReconciler{
		lifecycle: lifecycle,
		verifier:  verifier,
		logger:    logger,
	}
}

// Process authenticates, parses and applies one delivery. A nil error means the delivery must be
// acknowledged; errors classify why it was refused.
func (w *WebhookReconciler) Process(ctx context.Context, d WebhookDelivery) (*WebhookResult, error) {
	s := w.lifecycle
	o := origin{source: domain.SourceWebhook, actor: actorPlatform, requestID: d.RequestID, remoteAddr: d.RemoteAddr}

	if err := w.verifier.Authenticate(d.Body, d.Signature, d.Timestamp); err != nil {
		if kind, ok := domain.SecurityKindFor(err); ok {
			s.securityEvent(ctx, kind, o, nil, "", "", map[string]any{
				"timestamp": d.Timestamp,
				"reason":    err.Error(),
			})
		}
		return nil, err
	}

	var payload webhookPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return nil, &domain.DomainError{Code: domain.ErrCodeInvalidInput, Message: "malformed notification body", Err: err}
	}
	event, err := domain.ParseWebhookEvent(payload.Event)
	if err != nil {
		return nil, err
	}
	if payload.Payment == nil || payload.Payment.Identifier == "" {
		return nil, domain.NewInvalidInputError("notification carries no payment identifier")
	}
	remote := payload.Payment
	result := &WebhookResult{Event: event, PlatformPaymentID: remote.Identifier}

	if dup, err := s.repo.HasAppliedEvent(ctx, remote.Identifier, event); err != nil {
		return nil, err
	} else if dup {
		result.Status = WebhookDuplicate
		w.logger.Info("duplicate notification", "event", event, "platform_payment_id", remote.Identifier)
		return result, nil
	}

	var notice *domain.CompletionNotice
	err = s.withLock(ctx, remote.Identifier, func() error {
		var err error
		notice, err = w.apply(ctx, o, event, remote, result)
		return err
	})
	if err != nil {
		w.logger.Error("failed to process notification",
			"event", event,
			"platform_payment_id", remote.Identifier,
			"request_id", d.RequestID,
			"error", err,
		)
		return nil, err
	}

	if notice != nil {
		s.notify(ctx, result.Payment, notice, o)
	}
	return result, nil
}

func (w *WebhookReconciler) apply(ctx context.Context, o origin, event domain.EventType, remote *domain.PlatformPayment, result *WebhookResult) (*domain.CompletionNotice, error) {
	s := w.lifecycle

	// The synchronous path may have applied the event while this delivery waited for the lock.
	if dup, err := s.repo.HasAppliedEvent(ctx, remote.Identifier, event); err != nil {
		return nil, err
	} else if dup {
		result.Status = WebhookDuplicate
		return nil, nil
	}

	p, err := s.repo.FindByPlatformID(ctx, remote.Identifier)
	if errors.Is(err, domain.ErrNotFound) {
		w.ignore(ctx, o, nil, event, remote.Identifier, "no local payment for platform payment", result)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result.Payment = p

	switch event {
	case domain.EventPaymentCompleted:
		return w.applyCompleted(ctx, o, p, remote, result)
	case domain.EventPaymentCancelled:
		return nil, w.applyTerminal(ctx, o, p, event, domain.StatusCancelled, result, func() (*PaymentResult, error) {
			return s.cancelTx(ctx, p, "cancelled on platform", o)
		})
	case domain.EventPaymentFailed:
		return nil, w.applyTerminal(ctx, o, p, event, domain.StatusFailed, result, func() (*PaymentResult, error) {
			return s.failTx(ctx, p, "failed on platform", o)
		})
	}
	return nil, domain.ErrUnknownEvent
}

func (w *WebhookReconciler) applyCompleted(ctx context.Context, o origin, p *domain.Payment, remote *domain.PlatformPayment, result *WebhookResult) (*domain.CompletionNotice, error) {
	s := w.lifecycle
	event := domain.EventPaymentCompleted

	txID, verified := remote.VerifiedTxID()
	if !verified {
		s.securityEvent(ctx, domain.SecurityUnverifiedTransaction, o, p, remote.Identifier, p.UserID, map[string]any{
			"event": string(event),
		})
		return nil, domain.ErrUnverifiedTransaction
	}

	switch p.Status {
	case domain.StatusCompleted:
		if p.TransactionID != nil && *p.TransactionID == txID {
			result.Status = WebhookDuplicate
			return nil, nil
		}
		stored := ""
		if p.TransactionID != nil {
			stored = *p.TransactionID
		}
		_ = s.reject(ctx, o, p, remote.Identifier, event, domain.NewTransactionIDConflictError(stored, txID))
		result.Status = WebhookIgnored
		return nil, nil
	case domain.StatusCancelled, domain.StatusFailed:
		w.ignore(ctx, o, p, event, remote.Identifier, domain.NewInvalidTransitionError(p.Status, domain.StatusCompleted).Message, result)
		return nil, nil
	}

	wallet, err := s.walletOf(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if err := remote.VerifyAgainst(p, s.currency, wallet); err != nil {
		return nil, s.rejectFraud(ctx, o, p, event, err)
	}

	settled, notice, err := s.settle(ctx, p, txID, o)
	if err != nil {
		return nil, err
	}
	result.Payment = settled.Payment
	result.Status = WebhookProcessed
	if settled.Replayed {
		result.Status = WebhookDuplicate
	}

	w.logger.Info("payment completed by notification",
		"payment_id", p.ID,
		"platform_payment_id", remote.Identifier,
		"transaction_id", txID,
	)
	return notice, nil
}

func (w *WebhookReconciler) applyTerminal(
	ctx context.Context,
	o origin,
	p *domain.Payment,
	event domain.EventType,
	target domain.PaymentStatus,
	result *WebhookResult,
	apply func() (*PaymentResult, error),
) error {
	if p.Status == target {
		result.Status = WebhookDuplicate
		return nil
	}
	if err := p.CanTransitionTo(target); err != nil {
		w.ignore(ctx, o, p, event, *p.PlatformPaymentID, err.Error(), result)
		return nil
	}

	applied, err := apply()
	if err != nil {
		return err
	}
	result.Payment = applied.Payment
	result.Status = WebhookProcessed

	w.logger.Info("payment closed by notification",
		"payment_id", p.ID,
		"platform_payment_id", *p.PlatformPaymentID,
		"status", target,
	)
	return nil
}

// ignore acknowledges a notification that cannot be applied, leaving a rejected audit record.
func (w *WebhookReconciler) ignore(ctx context.Context, o origin, p *domain.Payment, event domain.EventType, platformPaymentID, reason string, result *WebhookResult) {
	w.logger.Error("notification ignored",
		"event", event,
		"platform_payment_id", platformPaymentID,
		"reason", reason,
	)
	_ = w.lifecycle.reject(ctx, o, p, platformPaymentID, event, errors.New(reason))
	result.Status = WebhookIgnored
}
