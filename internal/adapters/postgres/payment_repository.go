package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
	id, platform_payment_id, user_id, booking_id, amount, currency, memo, status,
	transaction_id, error_reason, cashback_amount, metadata,
	created_at, updated_at, approved_at, completed_at, cancelled_at, failed_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
	q    Executor
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{
		pool: db.Pool,
		q:    db.Pool,
	}
}

// CreatePayment saves a new payment.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.PlatformPaymentID,
		p.UserID,
		p.BookingID,
		p.Amount,
		p.Currency,
		p.Memo,
		p.Status,
		p.TransactionID,
		p.ErrorReason,
		p.CashbackAmount,
		metadataOrEmpty(p.Metadata),
		p.CreatedAt,
		p.UpdatedAt,
		p.ApprovedAt,
		p.CompletedAt,
		p.CancelledAt,
		p.FailedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return &domain.DomainError{
				Code:    domain.ErrCodeInvalidTransition,
				Message: "an open payment already exists for this booking",
				Err:     err,
			}
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.q.QueryRow(ctx, query, id))
}

// FindByIDForUpdate retrieves a payment and locks the row until the transaction ends.
func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(r.q.QueryRow(ctx, query, id))
}

func (r *PaymentRepository) FindByPlatformID(ctx context.Context, platformPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE platform_payment_id = $1`
	return scanPayment(r.q.QueryRow(ctx, query, platformPaymentID))
}

// FindOpenByBookingID returns the pending or approved payment for a booking.
func (r *PaymentRepository) FindOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE booking_id = $1 AND status IN ('pending', 'approved')`
	return scanPayment(r.q.QueryRow(ctx, query, bookingID))
}

// FindStaleApproved lists approved payments untouched for longer than olderThan.
func (r *PaymentRepository) FindStaleApproved(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'approved' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := r.q.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale approved payments: %w", err)
	}

	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Payment, error) {
		return scanPayment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale payments: %w", err)
	}
	return payments, nil
}

// UpdatePayment persists a transition. The platform id is only ever filled, never replaced.
func (r *PaymentRepository) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		UPDATE payments SET
			platform_payment_id = COALESCE(platform_payment_id, $1),
			status = $2, transaction_id = $3, error_reason = $4, cashback_amount = $5, metadata = $6,
			updated_at = $7, approved_at = $8, completed_at = $9, cancelled_at = $10, failed_at = $11
		WHERE id = $12`

	cmdTag, err := r.q.Exec(ctx, query,
		p.PlatformPaymentID,
		p.Status,
		p.TransactionID,
		p.ErrorReason,
		p.CashbackAmount,
		metadataOrEmpty(p.Metadata),
		p.UpdatedAt,
		p.ApprovedAt,
		p.CompletedAt,
		p.CancelledAt,
		p.FailedAt,
		p.ID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewIdentityMismatchError("platform payment already linked to another payment")
		}
		return fmt.Errorf("failed to update payment record: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return domain.NewNotFoundError("payment")
	}
	return nil
}

func (r *PaymentRepository) FindBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	query := `SELECT id, user_id, reference, total_amount, currency, status, payment_status, confirmed_at, updated_at
		FROM bookings WHERE id = $1`

	var b domain.Booking
	err := r.q.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.UserID,
		&b.Reference,
		&b.TotalAmount,
		&b.Currency,
		&b.Status,
		&b.PaymentStatus,
		&b.ConfirmedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("booking")
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	return &b, nil
}

func (r *PaymentRepository) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	query := `UPDATE bookings SET status = $1, payment_status = $2, confirmed_at = $3, updated_at = $4
		WHERE id = $5`

	cmdTag, err := r.q.Exec(ctx, query, b.Status, b.PaymentStatus, b.ConfirmedAt, b.UpdatedAt, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewNotFoundError("booking")
	}
	return nil
}

func (r *PaymentRepository) FindUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, username, wallet_uid, reward_balance FROM users WHERE id = $1`

	var u domain.User
	err := r.q.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.Username, &u.WalletUID, &u.RewardBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("user")
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (r *PaymentRepository) LinkWallet(ctx context.Context, userID, walletUID string) error {
	query := `UPDATE users SET wallet_uid = $1, updated_at = NOW() WHERE id = $2`

	cmdTag, err := r.q.Exec(ctx, query, walletUID, userID)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewIdentityMismatchError("wallet already linked to another account")
		}
		return fmt.Errorf("failed to link wallet: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewNotFoundError("user")
	}
	return nil
}

// CreditReward increments the balance in place so concurrent credits for one user never lose updates.
func (r *PaymentRepository) CreditReward(ctx context.Context, userID string, delta decimal.Decimal) error {
	query := `UPDATE users SET reward_balance = reward_balance + $1, updated_at = NOW() WHERE id = $2`

	cmdTag, err := r.q.Exec(ctx, query, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to credit reward: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewNotFoundError("user")
	}
	return nil
}

// AppendAudit inserts an audit record. A second applied record for the same event is dropped.
func (r *PaymentRepository) AppendAudit(ctx context.Context, a *domain.AuditRecord) error {
	query := `INSERT INTO payment_audit (
			id, payment_id, platform_payment_id, event, source, actor, outcome,
			before_state, after_state, detail, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (platform_payment_id, event)
			WHERE outcome = 'applied' AND platform_payment_id <> ''
		DO NOTHING`

	_, err := r.q.Exec(ctx, query,
		a.ID,
		a.PaymentID,
		a.PlatformPaymentID,
		a.Event,
		a.Source,
		a.Actor,
		a.Outcome,
		a.Before,
		a.After,
		a.Detail,
		a.RequestID,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (r *PaymentRepository) HasAppliedEvent(ctx context.Context, platformPaymentID string, event domain.EventType) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM payment_audit
		WHERE platform_payment_id = $1 AND event = $2 AND outcome = 'applied')`

	var exists bool
	if err := r.q.QueryRow(ctx, query, platformPaymentID, event).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check audit trail: %w", err)
	}
	return exists, nil
}

// WithTx executes fn within a database transaction.
func (r *PaymentRepository) WithTx(ctx context.Context, fn func(ports.PaymentRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback(ctx)

	repoWithTx := &PaymentRepository{
		pool: r.pool,
		q:    tx,
	}

	if err := fn(repoWithTx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p        domain.Payment
		cashback decimal.NullDecimal
	)
	err := row.Scan(
		&p.ID,
		&p.PlatformPaymentID,
		&p.UserID,
		&p.BookingID,
		&p.Amount,
		&p.Currency,
		&p.Memo,
		&p.Status,
		&p.TransactionID,
		&p.ErrorReason,
		&cashback,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ApprovedAt,
		&p.CompletedAt,
		&p.CancelledAt,
		&p.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("payment")
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	if cashback.Valid {
		p.CashbackAmount = &cashback.Decimal
	}
	if p.Metadata == nil {
		p.Metadata = domain.Metadata{}
	}
	return &p, nil
}

func metadataOrEmpty(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}
