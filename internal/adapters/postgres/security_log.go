package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// SecurityLog writes security events to their own append-only table and mirrors them to the logger.
type SecurityLog struct {
	q      Executor
	logger *slog.Logger
}

func NewSecurityLog(db *DB, logger *slog.Logger) *SecurityLog {
	return &SecurityLog{q: db.Pool, logger: logger}
}

func (s *SecurityLog) Record(ctx context.Context, ev *domain.SecurityEvent) error {
	s.logger.WarnContext(ctx, "security event",
		"security_event", ev.Kind,
		"payment_id", ev.PaymentID,
		"platform_payment_id", ev.PlatformPaymentID,
		"user_id", ev.UserID,
		"remote_addr", ev.RemoteAddr,
		"request_id", ev.RequestID,
	)

	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}

	query := `INSERT INTO security_events (
			id, kind, payment_id, platform_payment_id, user_id, remote_addr, request_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.q.Exec(ctx, query,
		ev.ID,
		ev.Kind,
		ev.PaymentID,
		ev.PlatformPaymentID,
		ev.UserID,
		ev.RemoteAddr,
		ev.RequestID,
		detail,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record security event: %w", err)
	}
	return nil
}
