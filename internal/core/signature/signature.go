// Package signature authenticates platform notifications.
//
// A notification is signed with HMAC-SHA256 over timestamp + "." + body using the
// shared webhook secret, hex encoded, and carried next to the timestamp in headers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Sign returns the hex signature for body at timestamp.
func Sign(body []byte, timestamp string, secret []byte) string {
	return hex.EncodeToString(mac(body, timestamp, secret))
}

// Verify reports whether claimed is the signature of body at timestamp.
// The comparison runs in constant time.
func Verify(body []byte, claimed, timestamp string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(claimed))
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(body, timestamp, secret))
}

func mac(body []byte, timestamp string, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// Verifier checks authenticity and freshness of a delivery.
type Verifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, window time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), window: window, now: now}
}

// Authenticate validates the signature first, then the timestamp window.
func (v *Verifier) Authenticate(body []byte, claimed, timestamp string) error {
	if claimed == "" {
		return domain.NewMissingHeaderError(HeaderSignature)
	}
	if timestamp == "" {
		return domain.NewMissingHeaderError(HeaderTimestamp)
	}
	if !Verify(body, claimed, timestamp, v.secret) {
		return domain.ErrSignatureInvalid
	}
	return v.CheckFreshness(timestamp)
}

// CheckFreshness rejects timestamps that are malformed or further than the window from now.
func (v *Verifier) CheckFreshness(timestamp string) error {
	secs, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return &domain.DomainError{Code: domain.ErrCodeReplayDetected, Message: "malformed timestamp", Err: err}
	}
	age := v.now().Sub(time.Unix(secs, 0))
	if age > v.window || age < -v.window {
		return &domain.DomainError{
			Code:    domain.ErrCodeReplayDetected,
			Message: "notification outside freshness window",
		}
	}
	return nil
}
