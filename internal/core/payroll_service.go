package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

// EmployeePayroll is one employee's line in a payroll run.
type EmployeePayroll struct {
	EmployeeID   uuid.UUID       `json:"employeeId"`
	EmployeeName string          `json:"employeeName"`
	PaymentID    uuid.UUID       `json:"paymentId,omitempty"`
	RegularHours float64         `json:"regularHours"`
	BonusHours   float64         `json:"bonusHours"`
	RegularPay   decimal.Decimal `json:"regularPay"`
	BonusPay     decimal.Decimal `json:"bonusPay"`
	TotalPay     decimal.Decimal `json:"totalPay"`
	EntryCount   int             `json:"entryCount"`
	Updated      bool            `json:"updated,omitempty"`
	Skipped      bool            `json:"skipped,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// PayrollRun is the result of one calculation over one company and period.
type PayrollRun struct {
	CompanyID      uuid.UUID         `json:"companyId"`
	CompanyName    string            `json:"companyName"`
	PeriodStart    time.Time         `json:"periodStart"`
	PeriodEnd      time.Time         `json:"periodEnd"`
	TotalEmployees int               `json:"totalEmployees"`
	EmployeesPaid  int               `json:"employeesPaid"`
	TotalAmount    decimal.Decimal   `json:"totalAmount"`
	Results        []EmployeePayroll `json:"results"`
}

// PayrollSummary aggregates a company's payments over a period window.
type PayrollSummary struct {
	CompanyID          uuid.UUID       `json:"companyId"`
	CompanyName        string          `json:"companyName"`
	PeriodStart        time.Time       `json:"periodStart"`
	PeriodEnd          time.Time       `json:"periodEnd"`
	TotalEmployees     int             `json:"totalEmployees"`
	TotalPayments      int             `json:"totalPayments"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	PendingPayments    int             `json:"pendingPayments"`
	ProcessingPayments int             `json:"processingPayments"`
	CompletedPayments  int             `json:"completedPayments"`
	FailedPayments     int             `json:"failedPayments"`
}

// PayrollService turns approved time entries into pending payments. It only
// computes; dispatching money is the ledger's and orchestrator's business.
type PayrollService struct {
	companies repository.CompanyRepository
	employees repository.EmployeeRepository
	entries   repository.TimeEntryRepository
	payments  repository.PaymentRepository
}

// NewPayrollService wires up the calculator.
func NewPayrollService(companies repository.CompanyRepository, employees repository.EmployeeRepository,
	entries repository.TimeEntryRepository, payments repository.PaymentRepository) *PayrollService {
	return &PayrollService{
		companies: companies,
		employees: employees,
		entries:   entries,
		payments:  payments,
	}
}

// Calculate runs payroll for every active employee of the company over
// [periodStart, periodEnd]. It is idempotent: a second run over the same
// period updates the existing pending payment in place instead of creating a
// duplicate, and never touches a payment that has progressed past pending.
// One employee's failure is recorded in their result row and does not abort
// the run.
func (s *PayrollService) Calculate(ctx context.Context, companyID uuid.UUID, periodStart, periodEnd time.Time) (*PayrollRun, error) {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("looking up company: %w", err)
	}
	if company == nil {
		return nil, apperr.NotFoundf("company %s not found", companyID)
	}
	if !periodEnd.After(periodStart) {
		return nil, apperr.Validationf("period end must be after period start")
	}

	employees, err := s.employees.FindActiveByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing employees: %w", err)
	}

	run := &PayrollRun{
		CompanyID:      company.ID,
		CompanyName:    company.Name,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TotalEmployees: len(employees),
		TotalAmount:    decimal.Zero,
	}

	for _, employee := range employees {
		result := s.calculateEmployee(ctx, company, &employee, periodStart, periodEnd)
		if result == nil {
			continue // no hours worked, no payment
		}
		run.Results = append(run.Results, *result)
		if result.Error == "" && !result.Skipped {
			run.EmployeesPaid++
			run.TotalAmount = run.TotalAmount.Add(result.TotalPay)
		}
	}
	return run, nil
}

func (s *PayrollService) calculateEmployee(ctx context.Context, company *model.Company, employee *model.Employee, periodStart, periodEnd time.Time) *EmployeePayroll {
	result := &EmployeePayroll{
		EmployeeID:   employee.ID,
		EmployeeName: employee.Name,
		RegularPay:   decimal.Zero,
		BonusPay:     decimal.Zero,
		TotalPay:     decimal.Zero,
	}

	existing, err := s.payments.FindByPeriod(ctx, employee.ID, periodStart, periodEnd)
	if err != nil {
		result.Error = fmt.Sprintf("looking up existing payment: %v", err)
		return result
	}

	// Sessions already consumed by another payment are off the table; only
	// this period's own payment keeps its claim through a recalculation.
	var owner *uuid.UUID
	if existing != nil {
		owner = &existing.ID
	}
	entries, err := s.entries.FindApprovedClosed(ctx, employee.ID, periodStart, periodEnd, owner)
	if err != nil {
		result.Error = fmt.Sprintf("selecting time entries: %v", err)
		return result
	}

	var regularHours, bonusHours float64
	entryIDs := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		regularHours += e.RegularHours
		bonusHours += e.BonusHours
		entryIDs = append(entryIDs, e.ID)
	}
	if regularHours == 0 && bonusHours == 0 {
		return nil
	}

	// Rates are read now and snapshotted into the payment; later changes to
	// the employee or company never rewrite this payment.
	rate := employee.HourlyRate
	multiplier := company.BonusRateMultiplier
	amount := model.ComputeAmount(regularHours, bonusHours, rate, multiplier)

	result.RegularHours = regularHours
	result.BonusHours = bonusHours
	result.EntryCount = len(entries)
	result.RegularPay = rate.Mul(decimal.NewFromFloat(regularHours))
	result.BonusPay = amount.Sub(result.RegularPay)
	result.TotalPay = amount

	if existing == nil {
		payment := &model.Payment{
			ID:                  uuid.New(),
			EmployeeID:          employee.ID,
			PeriodStart:         periodStart,
			PeriodEnd:           periodEnd,
			RegularHours:        regularHours,
			BonusHours:          bonusHours,
			HourlyRate:          rate,
			BonusRateMultiplier: multiplier,
			Amount:              amount,
			Status:              model.PaymentPending,
			TimeEntryIDs:        entryIDs,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			result.Error = fmt.Sprintf("creating payment: %v", err)
			return result
		}
		if err := s.entries.MarkConsumed(ctx, entryIDs, payment.ID); err != nil {
			result.Error = fmt.Sprintf("marking entries consumed: %v", err)
			return result
		}
		result.PaymentID = payment.ID
		return result
	}

	// A payment already approved, in flight or settled is left untouched;
	// recalculation only ever overwrites a pending one.
	if existing.Status != model.PaymentPending {
		result.PaymentID = existing.ID
		result.Skipped = true
		log.Ctx(ctx).Info().
			Str("payment_id", existing.ID.String()).
			Str("status", string(existing.Status)).
			Msg("Payment already progressed past pending, leaving untouched")
		return result
	}

	existing.RegularHours = regularHours
	existing.BonusHours = bonusHours
	existing.HourlyRate = rate
	existing.BonusRateMultiplier = multiplier
	existing.Amount = amount
	ok, err := s.payments.UpdateCalculation(ctx, existing)
	if err != nil {
		result.Error = fmt.Sprintf("updating payment: %v", err)
		return result
	}
	if !ok {
		// Lost a race with an approval; same outcome as the skip above.
		result.PaymentID = existing.ID
		result.Skipped = true
		return result
	}
	if err := s.entries.MarkConsumed(ctx, entryIDs, existing.ID); err != nil {
		result.Error = fmt.Sprintf("marking entries consumed: %v", err)
		return result
	}
	result.PaymentID = existing.ID
	result.Updated = true
	return result
}

// Summary aggregates payment counts and totals for caller visibility.
func (s *PayrollService) Summary(ctx context.Context, companyID uuid.UUID, periodStart, periodEnd time.Time) (*PayrollSummary, error) {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("looking up company: %w", err)
	}
	if company == nil {
		return nil, apperr.NotFoundf("company %s not found", companyID)
	}

	employees, err := s.employees.FindActiveByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing employees: %w", err)
	}

	payments, err := s.payments.List(ctx, repository.PaymentFilter{
		CompanyID:   companyID,
		PeriodStart: &periodStart,
		PeriodEnd:   &periodEnd,
		Limit:       10000,
	})
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}

	summary := &PayrollSummary{
		CompanyID:      company.ID,
		CompanyName:    company.Name,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TotalEmployees: len(employees),
		TotalPayments:  len(payments),
		TotalAmount:    decimal.Zero,
	}
	for _, p := range payments {
		summary.TotalAmount = summary.TotalAmount.Add(p.Amount)
		switch p.Status {
		case model.PaymentPending:
			summary.PendingPayments++
		case model.PaymentProcessing:
			summary.ProcessingPayments++
		case model.PaymentCompleted:
			summary.CompletedPayments++
		case model.PaymentFailed:
			summary.FailedPayments++
		}
	}
	return summary, nil
}

// PeriodForCycle derives the period window a scheduled run covers: the
// previous calendar day, the trailing seven days, or the previous calendar
// month.
func PeriodForCycle(cycle model.PaymentCycle, now time.Time) (time.Time, time.Time, error) {
	u := now.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)

	switch cycle {
	case model.CycleDaily:
		start := midnight.AddDate(0, 0, -1)
		return start, midnight.Add(-time.Nanosecond), nil
	case model.CycleWeekly:
		return u.AddDate(0, 0, -7), u, nil
	case model.CycleMonthly:
		firstOfMonth := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := firstOfMonth.AddDate(0, -1, 0)
		return start, firstOfMonth.Add(-time.Nanosecond), nil
	default:
		return time.Time{}, time.Time{}, apperr.Validationf("unknown payment cycle %q", cycle)
	}
}
