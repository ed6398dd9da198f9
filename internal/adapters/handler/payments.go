package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type InitiateRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid4"`
}

type ApproveRequest struct {
	PiPaymentID string `json:"piPaymentId" validate:"required,max=128"`
	PaymentID   string `json:"paymentId" validate:"omitempty,uuid4"`
}

type CompleteRequest struct {
	PiPaymentID   string `json:"piPaymentId" validate:"required,max=128"`
	TransactionID string `json:"transactionId" validate:"required,max=256"`
}

type CancelRequest struct {
	PiPaymentID string `json:"piPaymentId" validate:"required,max=128"`
	Reason      string `json:"reason" validate:"max=500"`
}

type LinkWalletRequest struct {
	AccessToken string `json:"accessToken" validate:"required"`
}

// decode reads a JSON body into req and validates it.
func (h *PaymentHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return validationError(err)
	}
	if err := json.Unmarshal(body, req); err != nil {
		return validationError(err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationError(err)
	}
	return nil
}

// HandleInitiate opens a payment for one of the caller's bookings. An open payment for the same
// booking is returned with 200 instead of creating another.
func (h *PaymentHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req InitiateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	result, err := h.payments.Initiate(r.Context(), service.InitiateCommand{
		UserID:     userID,
		BookingID:  uuid.MustParse(req.BookingID),
		RequestID:  chimw.GetReqID(r.Context()),
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, createdOrOK(result), toPaymentResponse(result))
}

func (h *PaymentHandler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, validationError(err))
		return
	}

	result, err := h.payments.Get(r.Context(), paymentID, userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, http.StatusOK, toPaymentResponse(result))
}

// HandleApprove is called by the client once the platform SDK reports the payment ready for
// server approval.
func (h *PaymentHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req ApproveRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	cmd := service.ApproveCommand{
		PlatformPaymentID: req.PiPaymentID,
		UserID:            userID,
		RequestID:         chimw.GetReqID(r.Context()),
		RemoteAddr:        r.RemoteAddr,
	}
	if req.PaymentID != "" {
		id := uuid.MustParse(req.PaymentID)
		cmd.PaymentID = &id
	}

	result, err := h.payments.Approve(r.Context(), cmd)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, createdOrOK(result), toPaymentResponse(result))
}

// HandleComplete is called by the client with the blockchain transaction id once the user has
// signed the payment.
func (h *PaymentHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req CompleteRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	result, err := h.payments.Complete(r.Context(), service.CompleteCommand{
		PlatformPaymentID: req.PiPaymentID,
		TransactionID:     req.TransactionID,
		UserID:            userID,
		RequestID:         chimw.GetReqID(r.Context()),
		RemoteAddr:        r.RemoteAddr,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, createdOrOK(result), toPaymentResponse(result))
}

func (h *PaymentHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req CancelRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	result, err := h.payments.Cancel(r.Context(), service.CancelCommand{
		PlatformPaymentID: req.PiPaymentID,
		UserID:            userID,
		Reason:            req.Reason,
		RequestID:         chimw.GetReqID(r.Context()),
		RemoteAddr:        r.RemoteAddr,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, http.StatusOK, toPaymentResponse(result))
}

func (h *PaymentHandler) HandleLinkWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req LinkWalletRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	user, err := h.payments.LinkWallet(r.Context(), userID, req.AccessToken)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, r, http.StatusOK, toWalletResponse(user))
}

func createdOrOK(result *service.PaymentResult) int {
	if result.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
