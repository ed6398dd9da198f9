package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DanielPopoola/travelpay/internal/adapters/platform"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	errCodeValidation   = "VALIDATION_ERROR"
	errCodeUnauthorized = "UNAUTHORIZED"
	errCodeRejected     = "PAYMENT_REJECTED"
	errCodeUpstream     = "UPSTREAM_REJECTED"
	errCodeTimeout      = "TIMEOUT"
	errCodeInternal     = "INTERNAL_ERROR"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := APIResponse{
		Success:   status >= 200 && status < 300,
		RequestID: chimw.GetReqID(r.Context()),
	}

	if response.Success {
		response.Data = data
	} else {
		if apiErr, ok := data.(*APIError); ok {
			response.Error = apiErr
		}
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (h *PaymentHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
	}
	if apiErr.Code == domain.ErrCodeLockContention {
		w.Header().Set("Retry-After", "1")
	}
	respondWithJSON(w, r, status, apiErr)
}

// classify maps an error to its HTTP status and the body the caller sees. Fraud rejections share
// one generic code so callers cannot probe which check failed.
func classify(err error) (int, *APIError) {
	if domain.IsFraud(err) {
		return http.StatusBadRequest, &APIError{Code: errCodeRejected, Message: "payment rejected"}
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		apiErr := &APIError{Code: domainErr.Code, Message: domainErr.Message}

		switch domainErr.Code {
		case errCodeValidation,
			domain.ErrCodeInvalidInput,
			domain.ErrCodeMissingHeader,
			domain.ErrCodeUnknownEvent,
			domain.ErrCodeUnverifiedTransaction,
			domain.ErrCodeReplayDetected:
			return http.StatusBadRequest, apiErr
		case errCodeUnauthorized, domain.ErrCodeSignatureInvalid:
			return http.StatusUnauthorized, apiErr
		case domain.ErrCodeForbidden:
			return http.StatusForbidden, apiErr
		case domain.ErrCodeNotFound:
			return http.StatusNotFound, apiErr
		case domain.ErrCodeInvalidTransition, domain.ErrCodeLockContention, domain.ErrCodeTransactionIDConflict:
			return http.StatusConflict, apiErr
		case domain.ErrCodeUpstreamUnavailable:
			return http.StatusBadGateway, apiErr
		}
	}

	if _, ok := platform.IsPlatformError(err); ok {
		return http.StatusBadGateway, &APIError{Code: errCodeUpstream, Message: "payment platform rejected the request"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, &APIError{Code: errCodeTimeout, Message: "request timeout"}
	}

	return http.StatusInternalServerError, &APIError{Code: errCodeInternal, Message: "internal server error"}
}

// classifyWebhook maps a notification error for the platform. Only authentication failures and
// requests that can never succeed get a 4xx; anything else is a 500 so the platform redelivers.
func classifyWebhook(err error) (int, *APIError) {
	if domain.IsFraud(err) {
		return http.StatusBadRequest, &APIError{Code: errCodeRejected, Message: "payment rejected"}
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		apiErr := &APIError{Code: domainErr.Code, Message: domainErr.Message}

		switch domainErr.Code {
		case errCodeValidation,
			domain.ErrCodeInvalidInput,
			domain.ErrCodeMissingHeader,
			domain.ErrCodeUnknownEvent,
			domain.ErrCodeReplayDetected:
			return http.StatusBadRequest, apiErr
		case domain.ErrCodeSignatureInvalid:
			return http.StatusUnauthorized, apiErr
		case domain.ErrCodeLockContention,
			domain.ErrCodeUnverifiedTransaction,
			domain.ErrCodeUpstreamUnavailable:
			return http.StatusInternalServerError, apiErr
		}
	}

	return http.StatusInternalServerError, &APIError{Code: errCodeInternal, Message: "internal server error"}
}

func validationError(err error) error {
	return &domain.DomainError{Code: errCodeValidation, Message: err.Error()}
}
