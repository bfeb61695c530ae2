package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payroll.service/internal/core/model"
)

// PostgresTimeEntryRepository is the concrete TimeEntryRepository for PostgreSQL.
type PostgresTimeEntryRepository struct {
	DB *sql.DB
}

// NewTimeEntryRepository creates a new time-entry repository instance.
func NewTimeEntryRepository(db *sql.DB) TimeEntryRepository {
	return &PostgresTimeEntryRepository{DB: db}
}

const entryColumns = `id, employee_id, company_id, clock_in, clock_out, break_hours, duration,
	regular_hours, bonus_hours, status, notes, approved_by, approved_at, payment_id,
	created_at, updated_at`

// Create inserts a new open session.
func (r *PostgresTimeEntryRepository) Create(ctx context.Context, e *model.TimeEntry) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.employeeId", e.EmployeeID.String()))

	query := `INSERT INTO time_entries (id, employee_id, company_id, clock_in, status,
	              break_hours, duration, regular_hours, bonus_hours, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, now(), now())`

	_, err := r.DB.ExecContext(ctx, query, e.ID, e.EmployeeID, e.CompanyID, e.ClockIn, e.Status)
	return err
}

// GetByID fetches a session with its breaks.
func (r *PostgresTimeEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TimeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM time_entries WHERE id = $1`, entryColumns)
	e, err := r.scanOne(ctx, r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// FindOpen returns the employee's open session for the day, or nil.
func (r *PostgresTimeEntryRepository) FindOpen(ctx context.Context, employeeID uuid.UUID, dayStart, dayEnd time.Time) (*model.TimeEntry, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.employeeId", employeeID.String()))

	query := fmt.Sprintf(`SELECT %s FROM time_entries
	          WHERE employee_id = $1 AND clock_out IS NULL AND clock_in >= $2 AND clock_in < $3
	          ORDER BY clock_in DESC
	          LIMIT 1`, entryColumns)

	e, err := r.scanOne(ctx, r.DB.QueryRowContext(ctx, query, employeeID, dayStart, dayEnd))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Update rewrites the mutable and derived fields and replaces the break rows.
func (r *PostgresTimeEntryRepository) Update(ctx context.Context, e *model.TimeEntry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE time_entries
	          SET clock_out = $1,
	              break_hours = $2,
	              duration = $3,
	              regular_hours = $4,
	              bonus_hours = $5,
	              status = $6,
	              notes = $7,
	              approved_by = $8,
	              approved_at = $9,
	              updated_at = now()
	          WHERE id = $10`

	if _, err := tx.ExecContext(ctx, query,
		e.ClockOut, e.BreakHours, e.Duration, e.RegularHours, e.BonusHours,
		e.Status, e.Notes, e.ApprovedBy, e.ApprovedAt, e.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM time_entry_breaks WHERE time_entry_id = $1`, e.ID); err != nil {
		return err
	}
	for _, b := range e.Breaks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO time_entry_breaks (id, time_entry_id, category, break_start, break_end)
			 VALUES ($1, $2, $3, $4, $5)`,
			b.ID, e.ID, b.Category, b.Start, b.End); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FindApprovedClosed selects the sessions payroll may pay for a period.
// With a NULL forPayment the payment_id predicate keeps only unconsumed
// sessions; otherwise that payment's own sessions remain selectable.
func (r *PostgresTimeEntryRepository) FindApprovedClosed(ctx context.Context, employeeID uuid.UUID, periodStart, periodEnd time.Time, forPayment *uuid.UUID) ([]model.TimeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM time_entries
	          WHERE employee_id = $1 AND status = $2 AND clock_out IS NOT NULL
	            AND clock_in >= $3 AND clock_in <= $4
	            AND (payment_id IS NULL OR payment_id = $5::uuid)
	          ORDER BY clock_in`, entryColumns)

	rows, err := r.DB.QueryContext(ctx, query, employeeID, model.EntryApproved, periodStart, periodEnd, forPayment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(ctx, rows)
}

// MarkConsumed stamps the entries with their paying payment. Entries already
// claimed by another payment are skipped.
func (r *PostgresTimeEntryRepository) MarkConsumed(ctx context.Context, entryIDs []uuid.UUID, paymentID uuid.UUID) error {
	if len(entryIDs) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE time_entries
	          SET payment_id = $1, updated_at = now()
	          WHERE id = $2 AND (payment_id IS NULL OR payment_id = $1)`

	for _, id := range entryIDs {
		if _, err := tx.ExecContext(ctx, query, paymentID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns a page of sessions, newest first.
func (r *PostgresTimeEntryRepository) List(ctx context.Context, filter TimeEntryFilter) ([]model.TimeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM time_entries
	          WHERE ($1::uuid IS NULL OR company_id = $1)
	            AND ($2::uuid IS NULL OR employee_id = $2)
	            AND ($3::text IS NULL OR status = $3)
	          ORDER BY clock_in DESC
	          LIMIT $4 OFFSET $5`, entryColumns)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, query,
		filter.CompanyID, filter.EmployeeID, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(ctx, rows)
}

func (r *PostgresTimeEntryRepository) scanOne(ctx context.Context, row rowScanner) (*model.TimeEntry, error) {
	e := &model.TimeEntry{}
	var (
		clockOut, approvedAt  sql.NullTime
		notes                 sql.NullString
		approvedBy, paymentID uuid.NullUUID
	)

	err := row.Scan(
		&e.ID, &e.EmployeeID, &e.CompanyID, &e.ClockIn, &clockOut, &e.BreakHours,
		&e.Duration, &e.RegularHours, &e.BonusHours, &e.Status, &notes,
		&approvedBy, &approvedAt, &paymentID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if clockOut.Valid {
		t := clockOut.Time
		e.ClockOut = &t
	}
	e.Notes = notes.String
	if approvedBy.Valid {
		e.ApprovedBy = &approvedBy.UUID
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		e.ApprovedAt = &t
	}
	if paymentID.Valid {
		e.PaymentID = &paymentID.UUID
	}

	if err := r.loadBreaks(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *PostgresTimeEntryRepository) scanMany(ctx context.Context, rows *sql.Rows) ([]model.TimeEntry, error) {
	var entries []model.TimeEntry
	for rows.Next() {
		e, err := r.scanOne(ctx, rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *PostgresTimeEntryRepository) loadBreaks(ctx context.Context, e *model.TimeEntry) error {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, time_entry_id, category, break_start, break_end
		 FROM time_entry_breaks WHERE time_entry_id = $1 ORDER BY break_start`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b   model.BreakInterval
			end sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.TimeEntryID, &b.Category, &b.Start, &end); err != nil {
			return err
		}
		if end.Valid {
			t := end.Time
			b.End = &t
		}
		e.Breaks = append(e.Breaks, b)
	}
	return rows.Err()
}
