package handler

import (
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/google/uuid"
)

type PaymentResponse struct {
	ID            uuid.UUID        `json:"id"`
	PiPaymentID   *string          `json:"piPaymentId,omitempty"`
	BookingID     *uuid.UUID       `json:"bookingId,omitempty"`
	Amount        string           `json:"amount"`
	Currency      string           `json:"currency"`
	Memo          string           `json:"memo"`
	Status        string           `json:"status"`
	TransactionID *string          `json:"transactionId,omitempty"`
	Cashback      *string          `json:"cashback,omitempty"`
	ErrorReason   *string          `json:"errorReason,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	ApprovedAt    *time.Time       `json:"approvedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	CancelledAt   *time.Time       `json:"cancelledAt,omitempty"`
	Booking       *BookingResponse `json:"booking,omitempty"`
}

type BookingResponse struct {
	ID            uuid.UUID  `json:"id"`
	Reference     string     `json:"reference"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"paymentStatus"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
}

type WalletResponse struct {
	UserID        string  `json:"userId"`
	WalletUID     *string `json:"walletUid,omitempty"`
	RewardBalance string  `json:"rewardBalance"`
}

func toPaymentResponse(result *service.PaymentResult) *PaymentResponse {
	p := result.Payment
	resp := &PaymentResponse{
		ID:            p.ID,
		PiPaymentID:   p.PlatformPaymentID,
		BookingID:     p.BookingID,
		Amount:        p.Amount.StringFixed(domain.AmountScale),
		Currency:      p.Currency,
		Memo:          p.Memo,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		ErrorReason:   p.ErrorReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ApprovedAt:    p.ApprovedAt,
		CompletedAt:   p.CompletedAt,
		CancelledAt:   p.CancelledAt,
	}
	if p.CashbackAmount != nil {
		cashback := p.CashbackAmount.StringFixed(domain.AmountScale)
		resp.Cashback = &cashback
	}
	if b := result.Booking; b != nil {
		resp.Booking = &BookingResponse{
			ID:            b.ID,
			Reference:     b.Reference,
			Status:        string(b.Status),
			PaymentStatus: string(b.PaymentStatus),
			ConfirmedAt:   b.ConfirmedAt,
		}
	}
	return resp
}

func toWalletResponse(u *domain.User) *WalletResponse {
	return &WalletResponse{
		UserID:        u.ID,
		WalletUID:     u.WalletUID,
		RewardBalance: u.RewardBalance.StringFixed(domain.AmountScale),
	}
}
