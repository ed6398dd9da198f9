package handler

import (
	"io"
	"net/http"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/DanielPopoola/travelpay/internal/core/signature"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type WebhookResponse struct {
	Status      string `json:"status"`
	Event       string `json:"event"`
	PiPaymentID string `json:"piPaymentId"`
}

// HandleWebhook receives the platform's signed payment notifications. The raw body is passed on
// untouched because the signature covers its exact bytes.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondWithJSON(w, r, http.StatusMethodNotAllowed, &APIError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "only POST is accepted",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondWithWebhookError(w, r, domain.NewInvalidInputError("unreadable notification body"))
		return
	}

	result, err := h.webhooks.Process(r.Context(), service.WebhookDelivery{
		Signature:  r.Header.Get(signature.HeaderSignature),
		Timestamp:  r.Header.Get(signature.HeaderTimestamp),
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  chimw.GetReqID(r.Context()),
	})
	if err != nil {
		h.respondWithWebhookError(w, r, err)
		return
	}

	respondWithJSON(w, r, http.StatusOK, &WebhookResponse{
		Status:      string(result.Status),
		Event:       string(result.Event),
		PiPaymentID: result.PlatformPaymentID,
	})
}

func (h *PaymentHandler) respondWithWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := classifyWebhook(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("notification refused for redelivery",
			"request_id", chimw.GetReqID(r.Context()),
			"code", apiErr.Code,
			"error", err,
		)
	}
	respondWithJSON(w, r, status, apiErr)
}
