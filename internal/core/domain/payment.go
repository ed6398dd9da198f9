// Package domain defines the payment, booking and audit models of the reconciliation core.
package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current state of a payment in its lifecycle
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusApproved  PaymentStatus = "approved"
	StatusCompleted PaymentStatus = "completed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusFailed    PaymentStatus = "failed"
)

// Payment represents one attempted transfer of value from a user to the application.
type Payment struct {
	ID                uuid.UUID
	PlatformPaymentID *string
	UserID            string
	BookingID         *uuid.UUID
	Amount            decimal.Decimal
	Currency          string
	Memo              string

	Status         PaymentStatus
	TransactionID  *string
	ErrorReason    *string
	CashbackAmount *decimal.Decimal

	// Metadata holds audit breadcrumbs only. State, amount and txid live in typed fields.
	Metadata Metadata

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ApprovedAt  *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	FailedAt    *time.Time
}

// NewPayment creates a pending payment for a booking checkout.
func NewPayment(userID string, bookingID *uuid.UUID, amount decimal.Decimal, currency, memo string, now time.Time) (*Payment, error) {
	if userID == "" {
		return nil, NewInvalidInputError("user id is required")
	}
	if !amount.IsPositive() {
		return nil, NewInvalidInputError("amount must be positive")
	}
	if amount.Exponent() < -AmountScale {
		return nil, NewInvalidInputError("amount exceeds 7 fractional digits")
	}

	return &Payment{
		ID:        uuid.New(),
		UserID:    userID,
		BookingID: bookingID,
		Amount:    amount,
		Currency:  currency,
		Memo:      memo,
		Status:    StatusPending,
		Metadata:  Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanTransitionTo validates whether a payment can move from its current status to target.
//
// Valid transitions are:
//   - pending → approved, cancelled, failed
//   - approved → completed, cancelled, failed
//
// Terminal states (completed, cancelled, failed) allow nothing.
func (p *Payment) CanTransitionTo(target PaymentStatus) error {
	var allowed []PaymentStatus
	switch p.Status {
	case StatusPending:
		allowed = []PaymentStatus{StatusApproved, StatusCancelled, StatusFailed}
	case StatusApproved:
		allowed = []PaymentStatus{StatusCompleted, StatusCancelled, StatusFailed}
	}

	if slices.Contains(allowed, target) {
		return nil
	}
	return NewInvalidTransitionError(p.Status, target)
}

func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// IsOwnedBy reports whether userID owns the payment.
func (p *Payment) IsOwnedBy(userID string) bool {
	return userID != "" && p.UserID == userID
}

// LinkPlatformPayment binds the payment to the platform identifier. The binding is immutable.
func (p *Payment) LinkPlatformPayment(platformPaymentID string) error {
	if platformPaymentID == "" {
		return NewInvalidInputError("platform payment id is required")
	}
	if p.PlatformPaymentID != nil {
		if *p.PlatformPaymentID == platformPaymentID {
			return nil
		}
		return NewIdentityMismatchError("payment already linked to a different platform payment")
	}
	p.PlatformPaymentID = &platformPaymentID
	return nil
}

func (p *Payment) Approve(now time.Time) error {
	if err := p.CanTransitionTo(StatusApproved); err != nil {
		return err
	}
	p.Status = StatusApproved
	p.ApprovedAt = &now
	p.UpdatedAt = now
	p.Metadata.Stamp("approved_at", now)
	return nil
}

// Complete moves an approved payment to completed and records the settlement transaction.
func (p *Payment) Complete(txID string, now time.Time) error {
	if txID == "" {
		return NewInvalidInputError("transaction id is required")
	}
	if err := p.CanTransitionTo(StatusCompleted); err != nil {
		return err
	}
	p.Status = StatusCompleted
	p.TransactionID = &txID
	p.CompletedAt = &now
	p.UpdatedAt = now
	p.Metadata.Stamp("completed_at", now)
	return nil
}

func (p *Payment) Cancel(reason string, now time.Time) error {
	if err := p.CanTransitionTo(StatusCancelled); err != nil {
		return err
	}
	p.Status = StatusCancelled
	p.CancelledAt = &now
	p.UpdatedAt = now
	if reason != "" {
		p.ErrorReason = &reason
	}
	p.Metadata.Stamp("cancelled_at", now)
	return nil
}

func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.CanTransitionTo(StatusFailed); err != nil {
		return err
	}
	p.Status = StatusFailed
	p.FailedAt = &now
	p.UpdatedAt = now
	p.ErrorReason = &reason
	p.Metadata.Stamp("failed_at", now)
	return nil
}

// CreditCashback records the cashback owed for a completed payment. It returns false when
// cashback was already credited, in which case the caller must not touch the reward balance.
func (p *Payment) CreditCashback() (decimal.Decimal, bool) {
	if p.Status != StatusCompleted || p.CashbackAmount != nil {
		return decimal.Zero, false
	}
	amount := Cashback(p.Amount)
	p.CashbackAmount = &amount
	return amount, true
}

// Clone returns a deep copy safe to mutate independently.
func (p *Payment) Clone() *Payment {
	c := *p
	c.PlatformPaymentID = clonePtr(p.PlatformPaymentID)
	c.BookingID = clonePtr(p.BookingID)
	c.TransactionID = clonePtr(p.TransactionID)
	c.ErrorReason = clonePtr(p.ErrorReason)
	c.CashbackAmount = clonePtr(p.CashbackAmount)
	c.ApprovedAt = clonePtr(p.ApprovedAt)
	c.CompletedAt = clonePtr(p.CompletedAt)
	c.CancelledAt = clonePtr(p.CancelledAt)
	c.FailedAt = clonePtr(p.FailedAt)
	c.Metadata = maps.Clone(p.Metadata)
	if c.Metadata == nil {
		c.Metadata = Metadata{}
	}
	return &c
}

// Snapshot captures the fields an audit record compares before and after a transition.
func (p *Payment) Snapshot() *PaymentSnapshot {
	s := &PaymentSnapshot{
		Status:   p.Status,
		Amount:   p.Amount.StringFixed(AmountScale),
		Currency: p.Currency,
	}
	if p.PlatformPaymentID != nil {
		s.PlatformPaymentID = *p.PlatformPaymentID
	}
	if p.TransactionID != nil {
		s.TransactionID = *p.TransactionID
	}
	if p.CashbackAmount != nil {
		s.Cashback = p.CashbackAmount.StringFixed(AmountScale)
	}
	return s
}

type PaymentSnapshot struct {
	Status            PaymentStatus `json:"status"`
	Amount            string        `json:"amount"`
	Currency          string        `json:"currency"`
	PlatformPaymentID string        `json:"platform_payment_id,omitempty"`
	TransactionID     string        `json:"transaction_id,omitempty"`
	Cashback          string        `json:"cashback,omitempty"`
}

// Metadata is a free-form breadcrumb map persisted alongside the payment.
type Metadata map[string]any

// Attempt counters kept in Metadata.
const (
	AttemptsApprove   = "approve_attempts"
	AttemptsComplete  = "complete_attempts"
	AttemptsReconcile = "reconcile_attempts"
)

// Stamp records a timestamp breadcrumb.
func (m Metadata) Stamp(key string, at time.Time) {
	m[key] = at.UTC().Format(time.RFC3339Nano)
}

// Increment bumps an attempt counter and returns the new value.
func (m Metadata) Increment(key string) int {
	n := 0
	switch v := m[key].(type) {
	case int:
		n = v
	case float64:
		n = int(v)
	}
	n++
	m[key] = n
	return n
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
