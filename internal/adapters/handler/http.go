package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanielPopoola/travelpay/internal/adapters/handler/middleware"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
)

type PaymentService interface {
	Initiate(ctx context.Context, cmd service.InitiateCommand) (*service.PaymentResult, error)
	Approve(ctx context.Context, cmd service.ApproveCommand) (*service.PaymentResult, error)
	Complete(ctx context.Context, cmd service.CompleteCommand) (*service.PaymentResult, error)
	Cancel(ctx context.Context, cmd service.CancelCommand) (*service.PaymentResult, error)
	Get(ctx context.Context, paymentID uuid.UUID, userID string) (*service.PaymentResult, error)
	LinkWallet(ctx context.Context, userID, accessToken string) (*domain.User, error)
}

type WebhookProcessor interface {
	Process(ctx context.Context, d service.WebhookDelivery) (*service.WebhookResult, error)
}

type PaymentHandler struct {
	payments PaymentService
	webhooks WebhookProcessor
	validate *validator.Validate
	logger   *slog.Logger
}

func NewPaymentHandler(payments PaymentService, webhooks WebhookProcessor, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		webhooks: webhooks,
		validate: validator.New(),
		logger:   logger,
	}
}

type RouterConfig struct {
	Auth           *Authenticator
	RequestTimeout time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter mounts the payment API behind JWT authentication and the platform webhook, which
// authenticates by signature instead.
func NewRouter(h *PaymentHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestIDHeader)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", chimw.RequestIDHeader},
			ExposedHeaders: []string{chimw.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.HandleFunc("/v1/webhooks/platform", h.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Post("/v1/payments", h.HandleInitiate)
			r.Get("/v1/payments/{id}", h.HandleGetPayment)
			r.Post("/v1/payments/approve", h.HandleApprove)
			r.Post("/v1/payments/complete", h.HandleComplete)
			r.Post("/v1/payments/cancel", h.HandleCancel)
			r.Post("/v1/wallet/link", h.HandleLinkWallet)
		})
	})

	return r
}

func (h *PaymentHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
