package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

type payrollFixture struct {
	service   *PayrollService
	entries   *memEntryRepo
	payments  *memPaymentRepo
	companies *memCompanyRepo
	employees *memEmployeeRepo
	company   *model.Company
	employee  *model.Employee
}

func newPayrollFixture(t *testing.T) *payrollFixture {
	t.Helper()

	companies := newMemCompanyRepo()
	employees := newMemEmployeeRepo()
	entries := newMemEntryRepo()
	payments := newMemPaymentRepo()

	company := &model.Company{
		ID:                  uuid.New(),
		Name:                "Addis Textiles",
		EmployerID:          uuid.New(),
		PaymentCycle:        model.CycleMonthly,
		BonusRateMultiplier: decimal.NewFromFloat(1.5),
		MaxDailyHours:       8,
		MerchantKey:         "mk-test",
		IsActive:            true,
	}
	companies.companies[company.ID] = company

	employee := &model.Employee{
		ID:             uuid.New(),
		CompanyID:      company.ID,
		Name:           "Abebe Bikila",
		Email:          "abebe@example.com",
		HourlyRate:     decimal.NewFromInt(100),
		TelebirrMSISDN: "251911223344",
		IsActive:       true,
	}
	employees.employees[employee.ID] = employee
	payments.employeeCompany[employee.ID] = company.ID

	return &payrollFixture{
		service:   NewPayrollService(companies, employees, entries, payments),
		entries:   entries,
		payments:  payments,
		companies: companies,
		employees: employees,
		company:   company,
		employee:  employee,
	}
}

// addEntry seeds an approved, closed session worked on the given day.
func (f *payrollFixture) addEntry(t *testing.T, dayOfMonth, startHour, endHour int) *model.TimeEntry {
	t.Helper()
	clockIn := time.Date(2026, 7, dayOfMonth, startHour, 0, 0, 0, time.UTC)
	clockOut := time.Date(2026, 7, dayOfMonth, endHour, 0, 0, 0, time.UTC)
	entry := &model.TimeEntry{
		ID:         uuid.New(),
		EmployeeID: f.employee.ID,
		CompanyID:  f.company.ID,
		ClockIn:    clockIn,
		ClockOut:   &clockOut,
		Status:     model.EntryApproved,
	}
	model.RecomputeDerived(entry, f.company.MaxDailyHours)
	require.NoError(t, f.entries.Create(context.Background(), entry))
	return entry
}

func julyPeriod() (time.Time, time.Time) {
	return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC)
}

func TestCalculateCreatesPendingPayment(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEntry(t, 6, 8, 16)  // 8h regular
	f.addEntry(t, 7, 8, 18)  // 8h regular + 2h bonus
	start, end := julyPeriod()

	run, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)

	require.Len(t, run.Results, 1)
	row := run.Results[0]
	assert.InDelta(t, 16.0, row.RegularHours, 1e-9)
	assert.InDelta(t, 2.0, row.BonusHours, 1e-9)
	assert.Equal(t, 2, row.EntryCount)
	// 16*100 + 2*100*1.5 = 1900
	assert.True(t, row.TotalPay.Equal(decimal.NewFromInt(1900)), "got %s", row.TotalPay)
	assert.Equal(t, 1, run.EmployeesPaid)

	payment, err := f.payments.GetByID(ctx, row.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, model.PaymentPending, payment.Status)
	assert.True(t, payment.HourlyRate.Equal(f.employee.HourlyRate), "rate snapshot")
}

func TestCalculateSkipsEmployeeWithNoHours(t *testing.T) {
	f := newPayrollFixture(t)
	start, end := julyPeriod()

	run, err := f.service.Calculate(context.Background(), f.company.ID, start, end)
	require.NoError(t, err)

	assert.Empty(t, run.Results)
	assert.Equal(t, 0, run.EmployeesPaid)
}

func TestCalculateMarksEntriesConsumed(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	entry := f.addEntry(t, 6, 8, 16)
	start, end := julyPeriod()

	run, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)

	stored, err := f.entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, run.Results[0].PaymentID, *stored.PaymentID)
}

func TestCalculateIsIdempotent(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEntry(t, 6, 8, 16)
	start, end := julyPeriod()

	first, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)

	// Another approved session shows up, then payroll reruns.
	f.addEntry(t, 7, 8, 16)
	second, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)

	assert.Equal(t, first.Results[0].PaymentID, second.Results[0].PaymentID, "no duplicate payment")
	assert.True(t, second.Results[0].Updated)

	payment, err := f.payments.GetByID(ctx, second.Results[0].PaymentID)
	require.NoError(t, err)
	assert.InDelta(t, 16.0, payment.RegularHours, 1e-9)
}

func TestCalculateNeverPaysConsumedHoursTwice(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	entry := f.addEntry(t, 6, 8, 16)
	start, end := julyPeriod()

	first, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	// A second run over a narrower window covering the same session must
	// not sum those hours into another payment.
	dayStart := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)
	dayEnd := time.Date(2026, 7, 6, 23, 59, 59, 0, time.UTC)
	second, err := f.service.Calculate(ctx, f.company.ID, dayStart, dayEnd)
	require.NoError(t, err)
	assert.Empty(t, second.Results)

	stored, err := f.entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, first.Results[0].PaymentID, *stored.PaymentID)

	all, err := f.payments.List(ctx, repository.PaymentFilter{CompanyID: f.company.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1, "the session funds exactly one payment")
}

func TestCalculateLeavesProgressedPaymentAlone(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEntry(t, 6, 8, 16)
	start, end := julyPeriod()

	first, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)
	paymentID := first.Results[0].PaymentID

	actor := f.company.EmployerID
	now := time.Now().UTC()
	ok, err := f.payments.TransitionStatus(ctx, paymentID, model.PaymentPending, model.PaymentApproved,
		repository.StatusUpdate{ApprovedBy: &actor, ApprovedAt: &now})
	require.NoError(t, err)
	require.True(t, ok)

	f.addEntry(t, 7, 8, 16)
	second, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)

	assert.True(t, second.Results[0].Skipped)
	payment, err := f.payments.GetByID(ctx, paymentID)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, payment.RegularHours, 1e-9, "approved payment left untouched")
	assert.Equal(t, 0, second.EmployeesPaid)
}

func TestCalculateExcludesPendingAndOpenEntries(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	start, end := julyPeriod()

	// Pending entry.
	pending := f.addEntry(t, 6, 8, 16)
	pending.Status = model.EntryPending
	require.NoError(t, f.entries.Update(ctx, pending))

	// Open entry.
	open := &model.TimeEntry{
		ID:         uuid.New(),
		EmployeeID: f.employee.ID,
		CompanyID:  f.company.ID,
		ClockIn:    time.Date(2026, 7, 8, 8, 0, 0, 0, time.UTC),
		Status:     model.EntryApproved,
	}
	require.NoError(t, f.entries.Create(ctx, open))

	run, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)
	assert.Empty(t, run.Results)
}

func TestCalculateRejectsInvertedPeriod(t *testing.T) {
	f := newPayrollFixture(t)
	start, end := julyPeriod()

	_, err := f.service.Calculate(context.Background(), f.company.ID, end, start)
	assert.Error(t, err)
}

func TestSummaryCountsByStatus(t *testing.T) {
	f := newPayrollFixture(t)
	ctx := context.Background()
	f.addEntry(t, 6, 8, 16)
	start, end := julyPeriod()

	run, err := f.service.Calculate(ctx, f.company.ID, start, end)
	require.NoError(t, err)
	require.Len(t, run.Results, 1)

	summary, err := f.service.Summary(ctx, f.company.ID, start, end)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalPayments)
	assert.Equal(t, 1, summary.PendingPayments)
	assert.True(t, summary.TotalAmount.Equal(decimal.NewFromInt(800)))
}

func TestPeriodForCycle(t *testing.T) {
	now := time.Date(2026, 8, 15, 3, 30, 0, 0, time.UTC)

	start, end, err := PeriodForCycle(model.CycleDaily, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC), start)
	assert.True(t, end.Before(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)))

	start, end, err = PeriodForCycle(model.CycleWeekly, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), start)
	assert.Equal(t, now, end)

	start, end, err = PeriodForCycle(model.CycleMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), start)
	assert.True(t, end.Before(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))

	_, _, err = PeriodForCycle(model.PaymentCycle("fortnightly"), now)
	assert.Error(t, err)
}
