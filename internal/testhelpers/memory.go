// Package testhelpers provides in-memory collaborators and container fixtures for tests.
package testhelpers

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memState struct {
	payments map[uuid.UUID]*domain.Payment
	bookings map[uuid.UUID]*domain.Booking
	users    map[string]*domain.User
	audit    []*domain.AuditRecord
}

func (s *memState) clone() *memState {
	c := &memState{
		payments: make(map[uuid.UUID]*domain.Payment, len(s.payments)),
		bookings: make(map[uuid.UUID]*domain.Booking, len(s.bookings)),
		users:    make(map[string]*domain.User, len(s.users)),
		audit:    slices.Clone(s.audit),
	}
	for id, p := range s.payments {
		c.payments[id] = p.Clone()
	}
	for id, b := range s.bookings {
		bc := *b
		c.bookings[id] = &bc
	}
	for id, u := range s.users {
		uc := *u
		c.users[id] = &uc
	}
	return c
}

// InMemoryRepository is a transactional ports.PaymentRepository backed by maps.
// WithTx stages changes on a copy and publishes them only when fn succeeds.
type InMemoryRepository struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	st   *memState

	FindStaleApprovedFn func(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
	UpdatePaymentFn     func(ctx context.Context, payment *domain.Payment) error
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		mu:   &sync.Mutex{},
		txMu: &sync.Mutex{},
		st: &memState{
			payments: make(map[uuid.UUID]*domain.Payment),
			bookings: make(map[uuid.UUID]*domain.Booking),
			users:    make(map[string]*domain.User),
		},
	}
}

// SeedUser stores a user with a zero reward balance unless one is set.
func (m *InMemoryRepository) SeedUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uc := *u
	m.st.users[u.ID] = &uc
}

func (m *InMemoryRepository) SeedBooking(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bc := *b
	m.st.bookings[b.ID] = &bc
}

func (m *InMemoryRepository) SeedPayment(p *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.payments[p.ID] = p.Clone()
}

// AuditTrail returns the audit records in insertion order.
func (m *InMemoryRepository) AuditTrail() []*domain.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.audit)
}

func (m *InMemoryRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.BookingID != nil {
		for _, existing := range m.st.payments {
			if existing.BookingID != nil && *existing.BookingID == *p.BookingID && !existing.IsTerminal() {
				return &domain.DomainError{
					Code:    domain.ErrCodeInvalidTransition,
					Message: "an open payment already exists for this booking",
				}
			}
		}
	}
	m.st.payments[p.ID] = p.Clone()
	return nil
}

func (m *InMemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.st.payments[id]; ok {
		return p.Clone(), nil
	}
	return nil, domain.NewNotFoundError("payment")
}

func (m *InMemoryRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return m.FindByID(ctx, id)
}

func (m *InMemoryRepository) FindByPlatformID(ctx context.Context, platformPaymentID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.st.payments {
		if p.PlatformPaymentID != nil && *p.PlatformPaymentID == platformPaymentID {
			return p.Clone(), nil
		}
	}
	return nil, domain.NewNotFoundError("payment")
}

func (m *InMemoryRepository) FindOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.st.payments {
		if p.BookingID != nil && *p.BookingID == bookingID && !p.IsTerminal() {
			return p.Clone(), nil
		}
	}
	return nil, domain.NewNotFoundError("payment")
}

func (m *InMemoryRepository) FindStaleApproved(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	if m.FindStaleApprovedFn != nil {
		return m.FindStaleApprovedFn(ctx, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var out []*domain.Payment
	for _, p := range m.st.payments {
		if p.Status == domain.StatusApproved && p.UpdatedAt.Before(cutoff) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemoryRepository) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	if m.UpdatePaymentFn != nil {
		return m.UpdatePaymentFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.st.payments[p.ID]
	if !ok {
		return domain.NewNotFoundError("payment")
	}
	updated := p.Clone()
	if existing.PlatformPaymentID != nil {
		updated.PlatformPaymentID = existing.PlatformPaymentID
	}
	m.st.payments[p.ID] = updated
	return nil
}

func (m *InMemoryRepository) FindBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.st.bookings[id]; ok {
		bc := *b
		return &bc, nil
	}
	return nil, domain.NewNotFoundError("booking")
}

func (m *InMemoryRepository) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.bookings[b.ID]; !ok {
		return domain.NewNotFoundError("booking")
	}
	bc := *b
	m.st.bookings[b.ID] = &bc
	return nil
}

func (m *InMemoryRepository) FindUser(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.st.users[id]; ok {
		uc := *u
		return &uc, nil
	}
	return nil, domain.NewNotFoundError("user")
}

func (m *InMemoryRepository) LinkWallet(ctx context.Context, userID, walletUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.st.users[userID]
	if !ok {
		return domain.NewNotFoundError("user")
	}
	for id, other := range m.st.users {
		if id != userID && other.WalletUID != nil && *other.WalletUID == walletUID {
			return domain.NewIdentityMismatchError("wallet already linked to another account")
		}
	}
	u.WalletUID = &walletUID
	return nil
}

func (m *InMemoryRepository) CreditReward(ctx context.Context, userID string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.st.users[userID]
	if !ok {
		return domain.NewNotFoundError("user")
	}
	u.RewardBalance = u.RewardBalance.Add(delta)
	return nil
}

func (m *InMemoryRepository) AppendAudit(ctx context.Context, a *domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Outcome == domain.OutcomeApplied && a.PlatformPaymentID != "" && m.hasApplied(a.PlatformPaymentID, a.Event) {
		return nil
	}
	rec := *a
	m.st.audit = append(m.st.audit, &rec)
	return nil
}

func (m *InMemoryRepository) HasAppliedEvent(ctx context.Context, platformPaymentID string, event domain.EventType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasApplied(platformPaymentID, event), nil
}

func (m *InMemoryRepository) hasApplied(platformPaymentID string, event domain.EventType) bool {
	for _, a := range m.st.audit {
		if a.PlatformPaymentID == platformPaymentID && a.Event == event && a.Outcome == domain.OutcomeApplied {
			return true
		}
	}
	return false
}

func (m *InMemoryRepository) WithTx(ctx context.Context, fn func(ports.PaymentRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	staged := m.st.clone()
	m.mu.Unlock()

	tx := &InMemoryRepository{
		mu:              &sync.Mutex{},
		txMu:            &sync.Mutex{},
		st:              staged,
		UpdatePaymentFn: m.UpdatePaymentFn,
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	*m.st = *staged
	m.mu.Unlock()
	return nil
}

// MemorySecurityLog collects security events for assertions.
type MemorySecurityLog struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (l *MemorySecurityLog) Record(ctx context.Context, ev *domain.SecurityEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *MemorySecurityLog) Events() []*domain.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Count returns how many events of kind were recorded.
func (l *MemorySecurityLog) Count(kind domain.SecurityEventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
