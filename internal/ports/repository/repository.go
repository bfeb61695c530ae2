package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payroll.service/internal/core/model"
)

// StatusUpdate carries the columns a payment status transition is allowed to
// touch alongside the status itself. Nil fields are left untouched.
type StatusUpdate struct {
	ApprovedBy     *uuid.UUID
	ApprovedAt     *time.Time
	TransactionID  *string
	FailureReason  *string
	PaymentDate    *time.Time
	IncrementRetry bool
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	CompanyID   uuid.UUID
	EmployeeID  *uuid.UUID
	Status      *model.PaymentStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Limit       int
	Offset      int
}

// TimeEntryFilter narrows time-entry listings.
type TimeEntryFilter struct {
	CompanyID  *uuid.UUID
	EmployeeID *uuid.UUID
	Status     *model.TimeEntryStatus
	Limit      int
	Offset     int
}

// TimeEntryRepository persists work sessions and their breaks.
type TimeEntryRepository interface {
	Create(ctx context.Context, entry *model.TimeEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.TimeEntry, error)
	// FindOpen returns the employee's open session that started inside
	// [dayStart, dayEnd), or nil.
	FindOpen(ctx context.Context, employeeID uuid.UUID, dayStart, dayEnd time.Time) (*model.TimeEntry, error)
	// Update rewrites the entry's mutable and derived fields plus its breaks.
	Update(ctx context.Context, entry *model.TimeEntry) error
	// FindApprovedClosed returns approved, clocked-out sessions whose
	// clock-in falls within [periodStart, periodEnd]. Sessions consumed by
	// another payment are excluded so the same worked hours can never be
	// summed into two payments; forPayment names the payment whose own
	// sessions stay selectable on recalculation (nil on the create path).
	FindApprovedClosed(ctx context.Context, employeeID uuid.UUID, periodStart, periodEnd time.Time, forPayment *uuid.UUID) ([]model.TimeEntry, error)
	// MarkConsumed stamps the entries with the payment that pays them. An
	// entry already consumed by a different payment is left alone so the
	// same worked hours can never fund two payments.
	MarkConsumed(ctx context.Context, entryIDs []uuid.UUID, paymentID uuid.UUID) error
	List(ctx context.Context, filter TimeEntryFilter) ([]model.TimeEntry, error)
}

// PaymentRepository persists payments. TransitionStatus is the CAS primitive
// the whole state machine rests on: the write only lands if the row is still
// in the expected prior status, so two concurrent actors can never both act
// on a stale snapshot.
type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	// FindByPeriod matches on exact period bounds; payroll recalculation
	// uses it to update in place instead of duplicating.
	FindByPeriod(ctx context.Context, employeeID uuid.UUID, periodStart, periodEnd time.Time) (*model.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.Payment, error)
	// UpdateCalculation rewrites hours/amount/entry refs, but only while the
	// payment is still pending. Returns false if it has progressed.
	UpdateCalculation(ctx context.Context, p *model.Payment) (bool, error)
	// TransitionStatus performs the conditional status write and returns
	// whether it landed.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.PaymentStatus, set StatusUpdate) (bool, error)
	// SetSessionID persists the gateway session reference mid-flight so a
	// crash between payout phases leaves a queryable trail.
	SetSessionID(ctx context.Context, id uuid.UUID, sessionID string) error
	// MarkNotified claims the completion notification exactly once.
	MarkNotified(ctx context.Context, id uuid.UUID) (bool, error)
	FindPending(ctx context.Context, companyID uuid.UUID, periodStart, periodEnd *time.Time) ([]model.Payment, error)
	// FindRetryable returns failed payments of active employees with retry
	// budget left.
	FindRetryable(ctx context.Context, companyID uuid.UUID, maxRetries int) ([]model.Payment, error)
	// MarkStuckFailed fails every payment sitting in processing since before
	// the cutoff and returns how many rows it touched.
	MarkStuckFailed(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	// DeleteOldFailed removes failed payments that exhausted their retry
	// budget before the cutoff.
	DeleteOldFailed(ctx context.Context, cutoff time.Time, minRetries int) (int64, error)
	List(ctx context.Context, filter PaymentFilter) ([]model.Payment, error)
}

// CompanyRepository reads company payroll configuration.
type CompanyRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Company, error)
	// GetByEmployer resolves the company an employer account owns, or nil.
	GetByEmployer(ctx context.Context, employerID uuid.UUID) (*model.Company, error)
	FindActiveByCycle(ctx context.Context, cycle model.PaymentCycle) ([]model.Company, error)
}

// EmployeeRepository reads employee payee data.
type EmployeeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Employee, error)
	FindActiveByCompany(ctx context.Context, companyID uuid.UUID) ([]model.Employee, error)
}
