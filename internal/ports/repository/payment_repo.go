package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payroll.service/internal/core/model"
)

// PostgresPaymentRepository is the concrete PaymentRepository for PostgreSQL.
type PostgresPaymentRepository struct {
	DB *sql.DB
}

// NewPaymentRepository creates a new payment repository instance.
func NewPaymentRepository(db *sql.DB) PaymentRepository {
	return &PostgresPaymentRepository{DB: db}
}

const paymentColumns = `id, employee_id, period_start, period_end, regular_hours, bonus_hours,
	hourly_rate, bonus_rate_multiplier, amount, status, gateway_session_id,
	gateway_transaction_id, failure_reason, retry_count, approved_by, approved_at,
	payment_date, notified_at, created_at, updated_at`

// Create inserts a new payment row.
func (r *PostgresPaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.paymentId", p.ID.String()))

	query := `INSERT INTO payments (id, employee_id, period_start, period_end, regular_hours,
	              bonus_hours, hourly_rate, bonus_rate_multiplier, amount, status, retry_count,
	              created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, now(), now())`

	_, err := r.DB.ExecContext(ctx, query,
		p.ID, p.EmployeeID, p.PeriodStart, p.PeriodEnd, p.RegularHours, p.BonusHours,
		p.HourlyRate, p.BonusRateMultiplier, p.Amount, p.Status)
	return err
}

// GetByID fetches a complete payment row plus its consumed time-entry ids.
func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	p, err := r.scanOne(ctx, r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// FindByPeriod matches on exact period bounds.
func (r *PostgresPaymentRepository) FindByPeriod(ctx context.Context, employeeID uuid.UUID, periodStart, periodEnd time.Time) (*model.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments
	          WHERE employee_id = $1 AND period_start = $2 AND period_end = $3`, paymentColumns)
	p, err := r.scanOne(ctx, r.DB.QueryRowContext(ctx, query, employeeID, periodStart, periodEnd))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// FindBySessionID looks a payment up by its stored gateway session reference.
func (r *PostgresPaymentRepository) FindBySessionID(ctx context.Context, sessionID string) (*model.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE gateway_session_id = $1`, paymentColumns)
	p, err := r.scanOne(ctx, r.DB.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UpdateCalculation rewrites the computed fields of a still-pending payment.
func (r *PostgresPaymentRepository) UpdateCalculation(ctx context.Context, p *model.Payment) (bool, error) {
	query := `UPDATE payments
	          SET regular_hours = $1,
	              bonus_hours = $2,
	              hourly_rate = $3,
	              bonus_rate_multiplier = $4,
	              amount = $5,
	              updated_at = now()
	          WHERE id = $6 AND status = $7`

	res, err := r.DB.ExecContext(ctx, query,
		p.RegularHours, p.BonusHours, p.HourlyRate, p.BonusRateMultiplier, p.Amount,
		p.ID, model.PaymentPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TransitionStatus is the compare-and-set at the heart of the state machine.
// The row is only written if it still carries the expected prior status, and
// a retry increment additionally requires budget to be left.
func (r *PostgresPaymentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.PaymentStatus, set StatusUpdate) (bool, error) {
	if err := model.ValidateTransition(from, to); err != nil {
		return false, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("app.paymentId", id.String()),
		attribute.String("app.paymentStatus", string(to)),
	)

	retryDelta := 0
	if set.IncrementRetry {
		retryDelta = 1
	}

	query := `UPDATE payments
	          SET status = $1,
	              approved_by = COALESCE($2, approved_by),
	              approved_at = COALESCE($3, approved_at),
	              gateway_transaction_id = COALESCE($4, gateway_transaction_id),
	              failure_reason = COALESCE($5, failure_reason),
	              payment_date = COALESCE($6, payment_date),
	              retry_count = retry_count + $7,
	              updated_at = now()
	          WHERE id = $8 AND status = $9 AND ($7 = 0 OR retry_count < $10)`

	res, err := r.DB.ExecContext(ctx, query,
		to, set.ApprovedBy, set.ApprovedAt, set.TransactionID, set.FailureReason,
		set.PaymentDate, retryDelta, id, from, model.MaxPayoutRetries)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetSessionID records the gateway session reference without touching status.
func (r *PostgresPaymentRepository) SetSessionID(ctx context.Context, id uuid.UUID, sessionID string) error {
	query := `UPDATE payments SET gateway_session_id = $1, updated_at = now() WHERE id = $2`
	_, err := r.DB.ExecContext(ctx, query, sessionID, id)
	return err
}

// MarkNotified claims the completion notification; only the first caller wins.
func (r *PostgresPaymentRepository) MarkNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payments SET notified_at = now() WHERE id = $1 AND notified_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FindPending returns a company's pending payments, optionally narrowed to
// exact period bounds.
func (r *PostgresPaymentRepository) FindPending(ctx context.Context, companyID uuid.UUID, periodStart, periodEnd *time.Time) ([]model.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments p
	          WHERE p.status = $1
	            AND p.employee_id IN (SELECT id FROM employees WHERE company_id = $2 AND is_active)
	            AND ($3::timestamptz IS NULL OR p.period_start = $3)
	            AND ($4::timestamptz IS NULL OR p.period_end = $4)
	          ORDER BY p.created_at`, prefixColumns("p"))

	rows, err := r.DB.QueryContext(ctx, query, model.PaymentPending, companyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(ctx, rows)
}

// FindRetryable returns failed payments of active employees that still have
// retry budget.
func (r *PostgresPaymentRepository) FindRetryable(ctx context.Context, companyID uuid.UUID, maxRetries int) ([]model.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments p
	          WHERE p.status = $1 AND p.retry_count < $2
	            AND p.employee_id IN (SELECT id FROM employees WHERE company_id = $3 AND is_active)
	          ORDER BY p.updated_at`, prefixColumns("p"))

	rows, err := r.DB.QueryContext(ctx, query, model.PaymentFailed, maxRetries, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(ctx, rows)
}

// MarkStuckFailed fails payments stuck in processing since before the cutoff.
// The per-row status guard keeps it from racing a webhook that lands between
// the sweep's read and write.
func (r *PostgresPaymentRepository) MarkStuckFailed(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `UPDATE payments
	          SET status = $1, failure_reason = $2, updated_at = now()
	          WHERE status = $3 AND updated_at < $4`

	res, err := r.DB.ExecContext(ctx, query, model.PaymentFailed, reason, model.PaymentProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldFailed removes permanently failed payments older than the cutoff.
func (r *PostgresPaymentRepository) DeleteOldFailed(ctx context.Context, cutoff time.Time, minRetries int) (int64, error) {
	query := `DELETE FROM payments
	          WHERE status = $1 AND retry_count >= $2 AND created_at < $3`

	res, err := r.DB.ExecContext(ctx, query, model.PaymentFailed, minRetries, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns a page of a company's payments, newest first.
func (r *PostgresPaymentRepository) List(ctx context.Context, filter PaymentFilter) ([]model.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments p
	          WHERE p.employee_id IN (SELECT id FROM employees WHERE company_id = $1)
	            AND ($2::uuid IS NULL OR p.employee_id = $2)
	            AND ($3::text IS NULL OR p.status = $3)
	            AND ($4::timestamptz IS NULL OR p.period_start >= $4)
	            AND ($5::timestamptz IS NULL OR p.period_end <= $5)
	          ORDER BY p.created_at DESC
	          LIMIT $6 OFFSET $7`, prefixColumns("p"))

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, query,
		filter.CompanyID, filter.EmployeeID, filter.Status,
		filter.PeriodStart, filter.PeriodEnd, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(ctx, rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresPaymentRepository) scanOne(ctx context.Context, row rowScanner) (*model.Payment, error) {
	p := &model.Payment{}
	var (
		sessionID, transactionID, failureReason sql.NullString
		approvedBy                              uuid.NullUUID
		approvedAt, paymentDate, notifiedAt     sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.EmployeeID, &p.PeriodStart, &p.PeriodEnd, &p.RegularHours, &p.BonusHours,
		&p.HourlyRate, &p.BonusRateMultiplier, &p.Amount, &p.Status, &sessionID,
		&transactionID, &failureReason, &p.RetryCount, &approvedBy, &approvedAt,
		&paymentDate, &notifiedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.GatewaySessionID = sessionID.String
	p.GatewayTransactionID = transactionID.String
	p.FailureReason = failureReason.String
	if approvedBy.Valid {
		p.ApprovedBy = &approvedBy.UUID
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		p.ApprovedAt = &t
	}
	if paymentDate.Valid {
		t := paymentDate.Time
		p.PaymentDate = &t
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		p.NotifiedAt = &t
	}

	if err := r.loadEntryIDs(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresPaymentRepository) scanMany(ctx context.Context, rows *sql.Rows) ([]model.Payment, error) {
	var payments []model.Payment
	for rows.Next() {
		p, err := r.scanOne(ctx, rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PostgresPaymentRepository) loadEntryIDs(ctx context.Context, p *model.Payment) error {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM time_entries WHERE payment_id = $1 ORDER BY clock_in`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		p.TimeEntryIDs = append(p.TimeEntryIDs, id)
	}
	return rows.Err()
}

func prefixColumns(alias string) string {
	cols := strings.Split(paymentColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
