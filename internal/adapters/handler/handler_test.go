package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DanielPopoola/travelpay/internal/adapters/platform"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "jwt-test-secret"
	testIssuer = "travelpay-accounts"
	testUser   = "user-1"
)

type mockPaymentService struct {
	initiateFn   func(ctx context.Context, cmd service.InitiateCommand) (*service.PaymentResult, error)
	approveFn    func(ctx context.Context, cmd service.ApproveCommand) (*service.PaymentResult, error)
	completeFn   func(ctx context.Context, cmd service.CompleteCommand) (*service.PaymentResult, error)
	cancelFn     func(ctx context.Context, cmd service.CancelCommand) (*service.PaymentResult, error)
	getFn        func(ctx context.Context, paymentID uuid.UUID, userID string) (*service.PaymentResult, error)
	linkWalletFn func(ctx context.Context, userID, accessToken string) (*domain.User, error)
}

func (m *mockPaymentService) Initiate(ctx context.Context, cmd service.InitiateCommand) (*service.PaymentResult, error) {
	return m.initiateFn(ctx, cmd)
}

func (m *mockPaymentService) Approve(ctx context.Context, cmd service.ApproveCommand) (*service.PaymentResult, error) {
	return m.approveFn(ctx, cmd)
}

func (m *mockPaymentService) Complete(ctx context.Context, cmd service.CompleteCommand) (*service.PaymentResult, error) {
	return m.completeFn(ctx, cmd)
}

func (m *mockPaymentService) Cancel(ctx context.Context, cmd service.CancelCommand) (*service.PaymentResult, error) {
	return m.cancelFn(ctx, cmd)
}

func (m *mockPaymentService) Get(ctx context.Context, paymentID uuid.UUID, userID string) (*service.PaymentResult, error) {
	return m.getFn(ctx, paymentID, userID)
}

func (m *mockPaymentService) LinkWallet(ctx context.Context, userID, accessToken string) (*domain.User, error) {
	return m.linkWalletFn(ctx, userID, accessToken)
}

type mockWebhookProcessor struct {
	processFn func(ctx context.Context, d service.WebhookDelivery) (*service.WebhookResult, error)
}

func (m *mockWebhookProcessor) Process(ctx context.Context, d service.WebhookDelivery) (*service.WebhookResult, error) {
	return m.processFn(ctx, d)
}

func newTestRouter(payments PaymentService, webhooks WebhookProcessor) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewPaymentHandler(payments, webhooks, logger)
	return NewRouter(h, RouterConfig{
		Auth:           NewAuthenticator(testSecret, testIssuer),
		RequestTimeout: 5 * time.Second,
		AllowedOrigins: []string{"https://app.example.test"},
		Logger:         logger,
	})
}

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validToken(t *testing.T) string {
	return signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testUser,
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) (APIResponse, map[string]interface{}) {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data, _ := resp.Data.(map[string]interface{})
	return resp, data
}

func approvedResult(replayed bool) *service.PaymentResult {
	piID := "pi_123"
	bookingID := uuid.New()
	return &service.PaymentResult{
		Payment: &domain.Payment{
			ID:                uuid.New(),
			PlatformPaymentID: &piID,
			UserID:            testUser,
			BookingID:         &bookingID,
			Amount:            decimal.RequireFromString("10"),
			Currency:          "PI",
			Memo:              "Booking BK-1",
			Status:            domain.StatusApproved,
		},
		Booking: &domain.Booking{
			ID:            bookingID,
			Reference:     "BK-1",
			Status:        domain.BookingPending,
			PaymentStatus: domain.BookingProcessing,
		},
		Replayed: replayed,
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})
	body := ApproveRequest{PiPaymentID: "pi_123"}

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"expired", signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   testUser,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})},
		{"wrong issuer", signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   testUser,
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})},
		{"wrong algorithm", signToken(t, jwt.SigningMethodHS512, jwt.RegisteredClaims{
			Subject:   testUser,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})},
		{"no subject", signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodPost, "/v1/payments/approve", tt.token, body)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			resp, _ := decodeResponse(t, rr)
			assert.False(t, resp.Success)
			assert.Equal(t, errCodeUnauthorized, resp.Error.Code)
		})
	}
}

func TestHandleInitiate(t *testing.T) {
	bookingID := uuid.New()
	var got service.InitiateCommand
	payments := &mockPaymentService{
		initiateFn: func(ctx context.Context, cmd service.InitiateCommand) (*service.PaymentResult, error) {
			got = cmd
			result := approvedResult(false)
			result.Payment.Status = domain.StatusPending
			return result, nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments", validToken(t), InitiateRequest{BookingID: bookingID.String()})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, bookingID, got.BookingID)
	assert.Equal(t, testUser, got.UserID)
	assert.NotEmpty(t, got.RequestID)

	_, data := decodeResponse(t, rr)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "10.0000000", data["amount"])
}

func TestHandleInitiate_ValidationError(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments", validToken(t), InitiateRequest{BookingID: "not-a-uuid"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	resp, _ := decodeResponse(t, rr)
	assert.Equal(t, errCodeValidation, resp.Error.Code)
}

func TestHandleApprove(t *testing.T) {
	paymentID := uuid.New()
	var got service.ApproveCommand
	payments := &mockPaymentService{
		approveFn: func(ctx context.Context, cmd service.ApproveCommand) (*service.PaymentResult, error) {
			got = cmd
			return approvedResult(false), nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/approve", validToken(t), ApproveRequest{
		PiPaymentID: "pi_123",
		PaymentID:   paymentID.String(),
	})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "pi_123", got.PlatformPaymentID)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, paymentID, *got.PaymentID)
	assert.Equal(t, testUser, got.UserID)

	resp, data := decodeResponse(t, rr)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "approved", data["status"])
	assert.Equal(t, "pi_123", data["piPaymentId"])
	booking := data["booking"].(map[string]interface{})
	assert.Equal(t, "processing", booking["paymentStatus"])
}

func TestHandleApprove_ReplayReturns200(t *testing.T) {
	payments := &mockPaymentService{
		approveFn: func(ctx context.Context, cmd service.ApproveCommand) (*service.PaymentResult, error) {
			assert.Nil(t, cmd.PaymentID)
			return approvedResult(true), nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/approve", validToken(t), ApproveRequest{PiPaymentID: "pi_123"})

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleApprove_MissingPaymentIdentifier(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/approve", validToken(t), map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleApprove_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"forbidden", domain.NewForbiddenError(), http.StatusForbidden, domain.ErrCodeForbidden},
		{"not found", domain.NewNotFoundError("payment"), http.StatusNotFound, domain.ErrCodeNotFound},
		{"invalid transition", domain.NewInvalidTransitionError(domain.StatusCompleted, domain.StatusApproved), http.StatusConflict, domain.ErrCodeInvalidTransition},
		{"amount mismatch hidden", domain.NewAmountMismatchError("10", "1"), http.StatusBadRequest, errCodeRejected},
		{"identity mismatch hidden", domain.NewIdentityMismatchError("wallet differs"), http.StatusBadRequest, errCodeRejected},
		{"upstream unavailable", domain.NewUpstreamUnavailableError(errors.New("503")), http.StatusBadGateway, domain.ErrCodeUpstreamUnavailable},
		{"platform rejection", &platform.PlatformError{Code: "payment_not_found", StatusCode: http.StatusNotFound}, http.StatusBadGateway, errCodeUpstream},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, errCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &mockPaymentService{
				approveFn: func(ctx context.Context, cmd service.ApproveCommand) (*service.PaymentResult, error) {
					return nil, tt.err
				},
			}
			router := newTestRouter(payments, &mockWebhookProcessor{})

			rr := doRequest(t, router, http.MethodPost, "/v1/payments/approve", validToken(t), ApproveRequest{PiPaymentID: "pi_123"})

			assert.Equal(t, tt.wantStatus, rr.Code)
			resp, _ := decodeResponse(t, rr)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "pq:")
		})
	}
}

func TestHandleComplete_LockContentionSetsRetryAfter(t *testing.T) {
	payments := &mockPaymentService{
		completeFn: func(ctx context.Context, cmd service.CompleteCommand) (*service.PaymentResult, error) {
			assert.Equal(t, "tx_abc", cmd.TransactionID)
			return nil, domain.ErrLockContention
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/complete", validToken(t), CompleteRequest{
		PiPaymentID:   "pi_123",
		TransactionID: "tx_abc",
	})

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestHandleComplete_RequiresTransactionID(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/complete", validToken(t), CompleteRequest{PiPaymentID: "pi_123"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleComplete_Success(t *testing.T) {
	payments := &mockPaymentService{
		completeFn: func(ctx context.Context, cmd service.CompleteCommand) (*service.PaymentResult, error) {
			result := approvedResult(false)
			cashback := domain.Cashback(result.Payment.Amount)
			result.Payment.Status = domain.StatusCompleted
			result.Payment.TransactionID = &cmd.TransactionID
			result.Payment.CashbackAmount = &cashback
			return result, nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/complete", validToken(t), CompleteRequest{
		PiPaymentID:   "pi_123",
		TransactionID: "tx_abc",
	})

	assert.Equal(t, http.StatusCreated, rr.Code)
	_, data := decodeResponse(t, rr)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "tx_abc", data["transactionId"])
	assert.Equal(t, "0.5000000", data["cashback"])
}

func TestHandleCancel(t *testing.T) {
	payments := &mockPaymentService{
		cancelFn: func(ctx context.Context, cmd service.CancelCommand) (*service.PaymentResult, error) {
			assert.Equal(t, "changed plans", cmd.Reason)
			result := approvedResult(false)
			result.Payment.Status = domain.StatusCancelled
			return result, nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/payments/cancel", validToken(t), CancelRequest{
		PiPaymentID: "pi_123",
		Reason:      "changed plans",
	})

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleGetPayment(t *testing.T) {
	paymentID := uuid.New()
	payments := &mockPaymentService{
		getFn: func(ctx context.Context, id uuid.UUID, userID string) (*service.PaymentResult, error) {
			assert.Equal(t, paymentID, id)
			assert.Equal(t, testUser, userID)
			return approvedResult(false), nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodGet, "/v1/payments/"+paymentID.String(), validToken(t), nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/v1/payments/not-a-uuid", validToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleLinkWallet(t *testing.T) {
	wallet := "GABC"
	payments := &mockPaymentService{
		linkWalletFn: func(ctx context.Context, userID, accessToken string) (*domain.User, error) {
			assert.Equal(t, "sdk-token", accessToken)
			return &domain.User{ID: userID, WalletUID: &wallet, RewardBalance: decimal.RequireFromString("1.5")}, nil
		},
	}
	router := newTestRouter(payments, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodPost, "/v1/wallet/link", validToken(t), LinkWalletRequest{AccessToken: "sdk-token"})

	assert.Equal(t, http.StatusOK, rr.Code)
	_, data := decodeResponse(t, rr)
	assert.Equal(t, "GABC", data["walletUid"])
	assert.Equal(t, "1.5000000", data["rewardBalance"])
}

func TestHandleWebhook_RejectsOtherMethods(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})

	rr := doRequest(t, router, http.MethodGet, "/v1/webhooks/platform", "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestHandleWebhook_PassesRawDelivery(t *testing.T) {
	raw := []byte(`{"event":"payment.completed","payment":{"identifier":"pi_123"}}`)
	var got service.WebhookDelivery
	webhooks := &mockWebhookProcessor{
		processFn: func(ctx context.Context, d service.WebhookDelivery) (*service.WebhookResult, error) {
			got = d
			return &service.WebhookResult{
				Status:            service.WebhookProcessed,
				Event:             domain.EventPaymentCompleted,
				PlatformPaymentID: "pi_123",
			}, nil
		},
	}
	router := newTestRouter(&mockPaymentService{}, webhooks)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/platform", bytes.NewReader(raw))
	req.Header.Set("X-Signature", "sig")
	req.Header.Set("X-Timestamp", "1700000000")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, raw, got.Body)
	assert.Equal(t, "sig", got.Signature)
	assert.Equal(t, "1700000000", got.Timestamp)
	assert.NotEmpty(t, got.RequestID)

	_, data := decodeResponse(t, rr)
	assert.Equal(t, "processed", data["status"])
}

func TestHandleWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad signature", domain.ErrSignatureInvalid, http.StatusUnauthorized, domain.ErrCodeSignatureInvalid},
		{"replay", domain.ErrReplayDetected, http.StatusBadRequest, domain.ErrCodeReplayDetected},
		{"missing header", domain.NewMissingHeaderError("X-Signature"), http.StatusBadRequest, domain.ErrCodeMissingHeader},
		{"unknown event", domain.ErrUnknownEvent, http.StatusBadRequest, domain.ErrCodeUnknownEvent},
		{"fraud hidden", domain.NewAmountMismatchError("10", "1"), http.StatusBadRequest, errCodeRejected},
		{"unverified transaction redelivered", domain.ErrUnverifiedTransaction, http.StatusInternalServerError, domain.ErrCodeUnverifiedTransaction},
		{"lock contention redelivered", domain.ErrLockContention, http.StatusInternalServerError, domain.ErrCodeLockContention},
		{"upstream unavailable redelivered", domain.NewUpstreamUnavailableError(errors.New("503")), http.StatusInternalServerError, domain.ErrCodeUpstreamUnavailable},
		{"invalid transition redelivered", domain.NewInvalidTransitionError(domain.StatusPending, domain.StatusCompleted), http.StatusInternalServerError, errCodeInternal},
		{"storage failure", errors.New("connection refused"), http.StatusInternalServerError, errCodeInternal},
	}

	allowed := []int{http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusMethodNotAllowed, http.StatusInternalServerError}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			webhooks := &mockWebhookProcessor{
				processFn: func(ctx context.Context, d service.WebhookDelivery) (*service.WebhookResult, error) {
					return nil, tt.err
				},
			}
			router := newTestRouter(&mockPaymentService{}, webhooks)

			rr := doRequest(t, router, http.MethodPost, "/v1/webhooks/platform", "", map[string]string{})

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, allowed, rr.Code)
			assert.Empty(t, rr.Header().Get("Retry-After"))
			resp, _ := decodeResponse(t, rr)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&mockPaymentService{}, &mockWebhookProcessor{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/payments/approve", nil)
	req.Header.Set("Origin", "https://app.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.test", rr.Header().Get("Access-Control-Allow-Origin"))
}
