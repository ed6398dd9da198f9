package service_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DanielPopoola/travelpay/internal/adapters/lock"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/DanielPopoola/travelpay/internal/core/signature"
	"github.com/DanielPopoola/travelpay/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

type harness struct {
	repo     *testhelpers.InMemoryRepository
	platform *testhelpers.MockPlatform
	security *testhelpers.MemorySecurityLog
	notifier *testhelpers.RecordingNotifier
	svc      *service.LifecycleService
	webhooks *service.WebhookReconciler

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:     testhelpers.NewInMemoryRepository(),
		platform: testhelpers.NewMockPlatform(t),
		security: &testhelpers.MemorySecurityLog{},
		notifier: testhelpers.NewRecordingNotifier(),
		now:      time.Now(),
	}
	logger := testhelpers.QuietLogger()

	h.svc = service.NewLifecycleService(
		h.repo,
		h.platform,
		lock.NewLocal(30*time.Second),
		h.security,
		h.notifier,
		logger,
		"PI",
		service.WithClock(h.clock),
		service.WithNotifyTimeout(time.Second),
	)
	h.webhooks = service.NewWebhookReconciler(h.svc, signature.NewVerifier(webhookSecret, 5*time.Minute, h.clock), logger)
	t.Cleanup(h.svc.WaitForNotifications)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

// seedApproved stores a fixture whose payment is already approved.
func (h *harness) seedApproved(t *testing.T, amount string) *testhelpers.Fixture {
	t.Helper()
	fx := testhelpers.SeedPendingPayment(t, h.repo, amount)
	approved := fx.Payment.Clone()
	require.NoError(t, approved.Approve(h.clock()))
	h.repo.SeedPayment(approved)
	fx.Payment = approved
	return fx
}

func (h *harness) payment(t *testing.T, fx *testhelpers.Fixture) *domain.Payment {
	t.Helper()
	p, err := h.repo.FindByID(context.Background(), fx.Payment.ID)
	require.NoError(t, err)
	return p
}

func (h *harness) booking(t *testing.T, fx *testhelpers.Fixture) *domain.Booking {
	t.Helper()
	b, err := h.repo.FindBooking(context.Background(), fx.Booking.ID)
	require.NoError(t, err)
	return b
}

func (h *harness) user(t *testing.T, fx *testhelpers.Fixture) *domain.User {
	t.Helper()
	u, err := h.repo.FindUser(context.Background(), fx.User.ID)
	require.NoError(t, err)
	return u
}

// delivery signs a notification for remote at the harness clock.
func (h *harness) delivery(t *testing.T, event string, remote *domain.PlatformPayment) service.WebhookDelivery {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event": event, "payment": remote})
	require.NoError(t, err)

	ts := strconv.FormatInt(h.clock().Unix(), 10)
	return service.WebhookDelivery{
		Signature:  signature.Sign(body, ts, []byte(webhookSecret)),
		Timestamp:  ts,
		Body:       body,
		RemoteAddr: "203.0.113.7",
		RequestID:  "req-webhook",
	}
}

func appliedCount(records []*domain.AuditRecord, event domain.EventType) int {
	n := 0
	for _, r := range records {
		if r.Event == event && r.Outcome == domain.OutcomeApplied {
			n++
		}
	}
	return n
}

func approveCmd(fx *testhelpers.Fixture) service.ApproveCommand {
	return service.ApproveCommand{
		PlatformPaymentID: fx.PlatformID(),
		UserID:            fx.User.ID,
		RequestID:         "req-approve",
	}
}

func completeCmd(fx *testhelpers.Fixture, txID string) service.CompleteCommand {
	return service.CompleteCommand{
		PlatformPaymentID: fx.PlatformID(),
		TransactionID:     txID,
		UserID:            fx.User.ID,
		RequestID:         "req-complete",
	}
}

func signatureFor(d service.WebhookDelivery) string {
	return signature.Sign(d.Body, d.Timestamp, []byte(webhookSecret))
}
