package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

// TimesheetService owns the clock-in/clock-out/break lifecycle of time
// entries and their employer review. It never touches payments.
type TimesheetService struct {
	entries   repository.TimeEntryRepository
	employees repository.EmployeeRepository
	companies repository.CompanyRepository
}

// NewTimesheetService wires up the timesheet service.
func NewTimesheetService(entries repository.TimeEntryRepository, employees repository.EmployeeRepository, companies repository.CompanyRepository) *TimesheetService {
	return &TimesheetService{
		entries:   entries,
		employees: employees,
		companies: companies,
	}
}

// ClockIn opens a new work session. At most one open session per employee per
// calendar day.
func (s *TimesheetService) ClockIn(ctx context.Context, employeeID uuid.UUID, now time.Time) (*model.TimeEntry, error) {
	employee, err := s.employees.GetByID(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("looking up employee: %w", err)
	}
	if employee == nil {
		return nil, apperr.NotFoundf("employee %s not found", employeeID)
	}

	dayStart, dayEnd := calendarDay(now)
	open, err := s.entries.FindOpen(ctx, employeeID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("looking up open session: %w", err)
	}
	if open != nil {
		return nil, apperr.Conflictf("already clocked in today")
	}

	entry := &model.TimeEntry{
		ID:         uuid.New(),
		EmployeeID: employee.ID,
		CompanyID:  employee.CompanyID,
		ClockIn:    now.UTC(),
		Status:     model.EntryPending,
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("creating time entry: %w", err)
	}
	return entry, nil
}

// ClockOut closes the employee's open session for the day and recomputes the
// derived hours. A break still running is closed at the clock-out instant.
func (s *TimesheetService) ClockOut(ctx context.Context, employeeID uuid.UUID, now time.Time) (*model.TimeEntry, error) {
	dayStart, dayEnd := calendarDay(now)
	entry, err := s.entries.FindOpen(ctx, employeeID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("looking up open session: %w", err)
	}
	if entry == nil {
		return nil, apperr.Conflictf("no active session to clock out of")
	}
	if !now.After(entry.ClockIn) {
		return nil, apperr.Validationf("clock-out time must be after clock-in time")
	}

	if b := entry.OpenBreak(); b != nil {
		end := now.UTC()
		b.End = &end
	}
	out := now.UTC()
	entry.ClockOut = &out

	maxHours, err := s.maxDailyHours(ctx, entry.CompanyID)
	if err != nil {
		return nil, err
	}
	model.RecomputeDerived(entry, maxHours)

	if err := s.entries.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("closing time entry: %w", err)
	}
	return entry, nil
}

// StartBreak begins a new break on an open session.
func (s *TimesheetService) StartBreak(ctx context.Context, entryID uuid.UUID, category string, now time.Time) (*model.TimeEntry, error) {
	entry, err := s.openEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.OpenBreak() != nil {
		return nil, apperr.Conflictf("a break is already in progress")
	}
	if !now.After(entry.ClockIn) {
		return nil, apperr.Validationf("break start must be after clock-in time")
	}

	entry.Breaks = append(entry.Breaks, model.BreakInterval{
		ID:          uuid.New(),
		TimeEntryID: entry.ID,
		Category:    category,
		Start:       now.UTC(),
	})

	maxHours, err := s.maxDailyHours(ctx, entry.CompanyID)
	if err != nil {
		return nil, err
	}
	model.RecomputeDerived(entry, maxHours)

	if err := s.entries.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording break: %w", err)
	}
	return entry, nil
}

// EndBreak closes the running break on an open session.
func (s *TimesheetService) EndBreak(ctx context.Context, entryID uuid.UUID, now time.Time) (*model.TimeEntry, error) {
	entry, err := s.openEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	b := entry.OpenBreak()
	if b == nil {
		return nil, apperr.Conflictf("no break in progress")
	}
	if !now.After(b.Start) {
		return nil, apperr.Validationf("break end must be after break start")
	}

	end := now.UTC()
	b.End = &end

	maxHours, err := s.maxDailyHours(ctx, entry.CompanyID)
	if err != nil {
		return nil, err
	}
	model.RecomputeDerived(entry, maxHours)

	if err := s.entries.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording break end: %w", err)
	}
	return entry, nil
}

// Review sets the employer's approval decision on an entry. Role checks are
// the caller's job; this only guards entry state. An entry already paid out
// is immutable.
func (s *TimesheetService) Review(ctx context.Context, entryID, reviewerID uuid.UUID, decision model.TimeEntryStatus, notes string) (*model.TimeEntry, error) {
	if decision != model.EntryApproved && decision != model.EntryRejected {
		return nil, apperr.Validationf("decision must be %q or %q", model.EntryApproved, model.EntryRejected)
	}

	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("looking up time entry: %w", err)
	}
	if entry == nil {
		return nil, apperr.NotFoundf("time entry %s not found", entryID)
	}
	if entry.PaymentID != nil {
		return nil, apperr.Conflictf("time entry already consumed by payment %s", entry.PaymentID)
	}

	now := time.Now().UTC()
	entry.Status = decision
	entry.Notes = notes
	entry.ApprovedBy = &reviewerID
	entry.ApprovedAt = &now

	if err := s.entries.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("saving review: %w", err)
	}
	return entry, nil
}

// ClockStatus reports whether the employee is currently clocked in and how
// long the running session is so far.
func (s *TimesheetService) ClockStatus(ctx context.Context, employeeID uuid.UUID, now time.Time) (*model.TimeEntry, float64, error) {
	dayStart, dayEnd := calendarDay(now)
	entry, err := s.entries.FindOpen(ctx, employeeID, dayStart, dayEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("looking up open session: %w", err)
	}
	if entry == nil {
		return nil, 0, nil
	}
	return entry, now.Sub(entry.ClockIn).Hours(), nil
}

// ListEntries passes a filtered listing through to the repository.
func (s *TimesheetService) ListEntries(ctx context.Context, filter repository.TimeEntryFilter) ([]model.TimeEntry, error) {
	return s.entries.List(ctx, filter)
}

func (s *TimesheetService) openEntry(ctx context.Context, entryID uuid.UUID) (*model.TimeEntry, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("looking up time entry: %w", err)
	}
	if entry == nil {
		return nil, apperr.NotFoundf("time entry %s not found", entryID)
	}
	if !entry.Open() {
		return nil, apperr.Conflictf("time entry is already closed")
	}
	return entry, nil
}

func (s *TimesheetService) maxDailyHours(ctx context.Context, companyID uuid.UUID) (float64, error) {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("looking up company: %w", err)
	}
	if company == nil {
		return 0, apperr.NotFoundf("company %s not found", companyID)
	}
	return company.MaxDailyHours, nil
}

// calendarDay returns the UTC day bounds containing t.
func calendarDay(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
