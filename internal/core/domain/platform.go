package domain

import "github.com/shopspring/decimal"

// DirectionUserToApp is the only direction this application accepts payments in.
const DirectionUserToApp = "user_to_app"

// PlatformPayment is the platform's authoritative view of a payment.
type PlatformPayment struct {
	Identifier  string               `json:"identifier"`
	UserUID     string               `json:"user_uid"`
	Amount      decimal.Decimal      `json:"amount"`
	Memo        string               `json:"memo"`
	Metadata    map[string]any       `json:"metadata"`
	FromAddress string               `json:"from_address"`
	ToAddress   string               `json:"to_address"`
	Direction   string               `json:"direction"`
	Network     string               `json:"network"`
	CreatedAt   string               `json:"created_at"`
	Status      PlatformStatus       `json:"status"`
	Transaction *PlatformTransaction `json:"transaction"`
}

type PlatformStatus struct {
	DeveloperApproved   bool `json:"developer_approved"`
	TransactionVerified bool `json:"transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed"`
	Cancelled           bool `json:"cancelled"`
	UserCancelled       bool `json:"user_cancelled"`
}

type PlatformTransaction struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
	Link     string `json:"_link"`
}

// LocalPaymentID returns the internal payment id the client SDK stored in metadata, if any.
func (p *PlatformPayment) LocalPaymentID() string {
	if p.Metadata == nil {
		return ""
	}
	id, _ := p.Metadata["payment_id"].(string)
	return id
}

// IsCancelled reports whether either side cancelled the payment on the platform.
func (p *PlatformPayment) IsCancelled() bool {
	return p.Status.Cancelled || p.Status.UserCancelled
}

// VerifiedTxID returns the settlement txid when the platform has verified it.
func (p *PlatformPayment) VerifiedTxID() (string, bool) {
	if p.Transaction == nil || !p.Transaction.Verified || p.Transaction.TxID == "" {
		return "", false
	}
	return p.Transaction.TxID, true
}

// PlatformUser is the identity returned for a user access token.
type PlatformUser struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

// VerifyAgainst runs the fraud checks shared by approval, completion and reconciliation.
// wantCurrency is the platform unit; walletUID is the owner's linked identity, if any.
func (p *PlatformPayment) VerifyAgainst(local *Payment, wantCurrency string, walletUID *string) error {
	if local.Currency != wantCurrency {
		return NewAmountMismatchError(local.Amount.String()+" "+local.Currency, p.Amount.String()+" "+wantCurrency)
	}
	if !AmountsMatch(local.Amount, p.Amount) {
		return NewAmountMismatchError(local.Amount.StringFixed(AmountScale), p.Amount.StringFixed(AmountScale))
	}
	if p.Direction != DirectionUserToApp {
		return NewDirectionMismatchError(p.Direction)
	}
	if walletUID != nil && *walletUID != "" && *walletUID != p.UserUID {
		return NewIdentityMismatchError("platform payment belongs to a different wallet")
	}
	return nil
}
