package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of lifecycle events recorded in the audit trail.
type EventType string

const (
	EventPaymentApproved    EventType = "payment_approved"
	EventPaymentCompleted   EventType = "payment_completed"
	EventPaymentCancelled   EventType = "payment_cancelled"
	EventPaymentFailed      EventType = "payment_failed"
	EventNotificationFailed EventType = "notification_failed"
)

// ParseWebhookEvent accepts only the event types the platform pushes.
func ParseWebhookEvent(s string) (EventType, error) {
	switch e := EventType(s); e {
	case EventPaymentCompleted, EventPaymentCancelled, EventPaymentFailed:
		return e, nil
	default:
		return "", &DomainError{Code: ErrCodeUnknownEvent, Message: "unknown event type " + s}
	}
}

type AuditSource string

const (
	SourceAPI     AuditSource = "api"
	SourceWebhook AuditSource = "webhook"
	SourceWorker  AuditSource = "worker"
)

type AuditOutcome string

const (
	OutcomeApplied   AuditOutcome = "applied"
	OutcomeDuplicate AuditOutcome = "duplicate"
	OutcomeRejected  AuditOutcome = "rejected"
	OutcomeError     AuditOutcome = "error"
)

// AuditRecord is an append-only entry for every transition attempt.
// An applied record for (PlatformPaymentID, Event) marks the event as processed.
type AuditRecord struct {
	ID                uuid.UUID
	PaymentID         *uuid.UUID
	PlatformPaymentID string
	Event             EventType
	Source            AuditSource
	Actor             string
	Outcome           AuditOutcome
	Before            *PaymentSnapshot
	After             *PaymentSnapshot
	Detail            string
	RequestID         string
	CreatedAt         time.Time
}

func NewAuditRecord(event EventType, source AuditSource, actor string, outcome AuditOutcome, now time.Time) *AuditRecord {
	return &AuditRecord{
		ID:        uuid.New(),
		Event:     event,
		Source:    source,
		Actor:     actor,
		Outcome:   outcome,
		CreatedAt: now,
	}
}

// ForPayment attaches the payment identity and its post-transition snapshot.
func (a *AuditRecord) ForPayment(p *Payment, before *PaymentSnapshot) *AuditRecord {
	id := p.ID
	a.PaymentID = &id
	if p.PlatformPaymentID != nil {
		a.PlatformPaymentID = *p.PlatformPaymentID
	}
	a.Before = before
	a.After = p.Snapshot()
	return a
}

type SecurityEventKind string

const (
	SecurityForbidden             SecurityEventKind = "forbidden"
	SecurityAmountMismatch        SecurityEventKind = "amount_mismatch"
	SecurityDirectionMismatch     SecurityEventKind = "direction_mismatch"
	SecurityIdentityMismatch      SecurityEventKind = "identity_mismatch"
	SecurityTransactionIDConflict SecurityEventKind = "transaction_id_conflict"
	SecuritySignatureInvalid      SecurityEventKind = "signature_invalid"
	SecurityReplayDetected        SecurityEventKind = "replay_detected"
	SecurityUnverifiedTransaction SecurityEventKind = "unverified_transaction"
)

// SecurityEvent is an immutable entry in the security log, kept apart from the audit trail.
type SecurityEvent struct {
	ID                uuid.UUID
	Kind              SecurityEventKind
	PaymentID         *uuid.UUID
	PlatformPaymentID string
	UserID            string
	RemoteAddr        string
	RequestID         string
	Detail            map[string]any
	CreatedAt         time.Time
}

// SecurityKindFor maps a rejection error to its security event kind.
func SecurityKindFor(err error) (SecurityEventKind, bool) {
	switch {
	case IsErrorCode(err, ErrCodeForbidden):
		return SecurityForbidden, true
	case IsErrorCode(err, ErrCodeAmountMismatch):
		return SecurityAmountMismatch, true
	case IsErrorCode(err, ErrCodeDirectionMismatch):
		return SecurityDirectionMismatch, true
	case IsErrorCode(err, ErrCodeIdentityMismatch):
		return SecurityIdentityMismatch, true
	case IsErrorCode(err, ErrCodeTransactionIDConflict):
		return SecurityTransactionIDConflict, true
	case IsErrorCode(err, ErrCodeSignatureInvalid):
		return SecuritySignatureInvalid, true
	case IsErrorCode(err, ErrCodeReplayDetected):
		return SecurityReplayDetected, true
	case IsErrorCode(err, ErrCodeUnverifiedTransaction):
		return SecurityUnverifiedTransaction, true
	}
	return "", false
}
