package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

// In-memory repository fakes. The payment fake mirrors the real conditional
// writes so the tests exercise the same concurrency guarantees the Postgres
// layer gives.

type memEntryRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*model.TimeEntry
}

func newMemEntryRepo() *memEntryRepo {
	return &memEntryRepo{entries: map[uuid.UUID]*model.TimeEntry{}}
}

func copyEntry(e *model.TimeEntry) *model.TimeEntry {
	cp := *e
	cp.Breaks = append([]model.BreakInterval(nil), e.Breaks...)
	return &cp
}

func (r *memEntryRepo) Create(_ context.Context, e *model.TimeEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = copyEntry(e)
	return nil
}

func (r *memEntryRepo) GetByID(_ context.Context, id uuid.UUID) (*model.TimeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (r *memEntryRepo) FindOpen(_ context.Context, employeeID uuid.UUID, dayStart, dayEnd time.Time) (*model.TimeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.EmployeeID == employeeID && e.ClockOut == nil &&
			!e.ClockIn.Before(dayStart) && e.ClockIn.Before(dayEnd) {
			return copyEntry(e), nil
		}
	}
	return nil, nil
}

func (r *memEntryRepo) Update(_ context.Context, e *model.TimeEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = copyEntry(e)
	return nil
}

func (r *memEntryRepo) FindApprovedClosed(_ context.Context, employeeID uuid.UUID, periodStart, periodEnd time.Time, forPayment *uuid.UUID) ([]model.TimeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TimeEntry
	for _, e := range r.entries {
		if e.EmployeeID != employeeID || e.Status != model.EntryApproved || e.ClockOut == nil ||
			e.ClockIn.Before(periodStart) || e.ClockIn.After(periodEnd) {
			continue
		}
		if e.PaymentID != nil && (forPayment == nil || *e.PaymentID != *forPayment) {
			continue
		}
		out = append(out, *copyEntry(e))
	}
	return out, nil
}

func (r *memEntryRepo) MarkConsumed(_ context.Context, entryIDs []uuid.UUID, paymentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range entryIDs {
		e, ok := r.entries[id]
		if !ok {
			continue
		}
		if e.PaymentID == nil || *e.PaymentID == paymentID {
			pid := paymentID
			e.PaymentID = &pid
		}
	}
	return nil
}

func (r *memEntryRepo) List(_ context.Context, filter repository.TimeEntryFilter) ([]model.TimeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TimeEntry
	for _, e := range r.entries {
		if filter.EmployeeID != nil && e.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.CompanyID != nil && e.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		out = append(out, *copyEntry(e))
	}
	return out, nil
}

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*model.Payment
	// employeeCompany lets the fake resolve company-scoped listings.
	employeeCompany map[uuid.UUID]uuid.UUID
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{
		payments:        map[uuid.UUID]*model.Payment{},
		employeeCompany: map[uuid.UUID]uuid.UUID{},
	}
}

func copyPayment(p *model.Payment) *model.Payment {
	cp := *p
	cp.TimeEntryIDs = append([]uuid.UUID(nil), p.TimeEntryIDs...)
	return &cp
}

func (r *memPaymentRepo) Create(_ context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = copyPayment(p)
	return nil
}

func (r *memPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return copyPayment(p), nil
}

func (r *memPaymentRepo) FindByPeriod(_ context.Context, employeeID uuid.UUID, periodStart, periodEnd time.Time) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.EmployeeID == employeeID && p.PeriodStart.Equal(periodStart) && p.PeriodEnd.Equal(periodEnd) {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) FindBySessionID(_ context.Context, sessionID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.GatewaySessionID == sessionID && sessionID != "" {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) UpdateCalculation(_ context.Context, p *model.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[p.ID]
	if !ok || stored.Status != model.PaymentPending {
		return false, nil
	}
	stored.RegularHours = p.RegularHours
	stored.BonusHours = p.BonusHours
	stored.HourlyRate = p.HourlyRate
	stored.BonusRateMultiplier = p.BonusRateMultiplier
	stored.Amount = p.Amount
	stored.TimeEntryIDs = append([]uuid.UUID(nil), p.TimeEntryIDs...)
	stored.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memPaymentRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to model.PaymentStatus, set repository.StatusUpdate) (bool, error) {
	if err := model.ValidateTransition(from, to); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	if set.IncrementRetry && p.RetryCount >= model.MaxPayoutRetries {
		return false, nil
	}
	p.Status = to
	if set.ApprovedBy != nil {
		p.ApprovedBy = set.ApprovedBy
	}
	if set.ApprovedAt != nil {
		p.ApprovedAt = set.ApprovedAt
	}
	if set.TransactionID != nil {
		p.GatewayTransactionID = *set.TransactionID
	}
	if set.FailureReason != nil {
		p.FailureReason = *set.FailureReason
	}
	if set.PaymentDate != nil {
		p.PaymentDate = set.PaymentDate
	}
	if set.IncrementRetry {
		p.RetryCount++
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memPaymentRepo) SetSessionID(_ context.Context, id uuid.UUID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[id]; ok {
		p.GatewaySessionID = sessionID
	}
	return nil
}

func (r *memPaymentRepo) MarkNotified(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.NotifiedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	p.NotifiedAt = &now
	return true, nil
}

func (r *memPaymentRepo) FindPending(_ context.Context, companyID uuid.UUID, periodStart, periodEnd *time.Time) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Payment
	for _, p := range r.payments {
		if r.employeeCompany[p.EmployeeID] != companyID || p.Status != model.PaymentPending {
			continue
		}
		if periodStart != nil && !p.PeriodStart.Equal(*periodStart) {
			continue
		}
		if periodEnd != nil && !p.PeriodEnd.Equal(*periodEnd) {
			continue
		}
		out = append(out, *copyPayment(p))
	}
	return out, nil
}

func (r *memPaymentRepo) FindRetryable(_ context.Context, companyID uuid.UUID, maxRetries int) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Payment
	for _, p := range r.payments {
		if r.employeeCompany[p.EmployeeID] == companyID && p.Status == model.PaymentFailed && p.RetryCount < maxRetries {
			out = append(out, *copyPayment(p))
		}
	}
	return out, nil
}

func (r *memPaymentRepo) MarkStuckFailed(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.payments {
		if p.Status == model.PaymentProcessing && p.UpdatedAt.Before(cutoff) {
			p.Status = model.PaymentFailed
			p.FailureReason = reason
			n++
		}
	}
	return n, nil
}

func (r *memPaymentRepo) DeleteOldFailed(_ context.Context, cutoff time.Time, minRetries int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.payments {
		if p.Status == model.PaymentFailed && p.RetryCount >= minRetries && p.UpdatedAt.Before(cutoff) {
			delete(r.payments, id)
			n++
		}
	}
	return n, nil
}

func (r *memPaymentRepo) List(_ context.Context, filter repository.PaymentFilter) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Payment
	for _, p := range r.payments {
		if r.employeeCompany[p.EmployeeID] != filter.CompanyID {
			continue
		}
		if filter.EmployeeID != nil && p.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.PeriodStart != nil && p.PeriodStart.Before(*filter.PeriodStart) {
			continue
		}
		if filter.PeriodEnd != nil && p.PeriodEnd.After(*filter.PeriodEnd) {
			continue
		}
		out = append(out, *copyPayment(p))
	}
	return out, nil
}

type memCompanyRepo struct {
	mu        sync.Mutex
	companies map[uuid.UUID]*model.Company
}

func newMemCompanyRepo() *memCompanyRepo {
	return &memCompanyRepo{companies: map[uuid.UUID]*model.Company{}}
}

func (r *memCompanyRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memCompanyRepo) GetByEmployer(_ context.Context, employerID uuid.UUID) (*model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.companies {
		if c.EmployerID == employerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memCompanyRepo) FindActiveByCycle(_ context.Context, cycle model.PaymentCycle) ([]model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Company
	for _, c := range r.companies {
		if c.IsActive && c.PaymentCycle == cycle {
			out = append(out, *c)
		}
	}
	return out, nil
}

type memEmployeeRepo struct {
	mu        sync.Mutex
	employees map[uuid.UUID]*model.Employee
}

func newMemEmployeeRepo() *memEmployeeRepo {
	return &memEmployeeRepo{employees: map[uuid.UUID]*model.Employee{}}
}

func (r *memEmployeeRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Employee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.employees[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *memEmployeeRepo) FindActiveByCompany(_ context.Context, companyID uuid.UUID) ([]model.Employee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Employee
	for _, e := range r.employees {
		if e.CompanyID == companyID && e.IsActive {
			out = append(out, *e)
		}
	}
	return out, nil
}

// fakeGateway scripts the provider's behavior per call.
type fakeGateway struct {
	mu            sync.Mutex
	sessionErr    error
	sessionErrFor map[string]error // keyed by session reference
	transferErr   error
	sessionCalls  int
	transfers     []string
	nextSession   string
}

func (g *fakeGateway) CreatePayoutSession(_ context.Context, req SessionRequest) (*SessionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionCalls++
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	if err := g.sessionErrFor[req.Reference]; err != nil {
		return nil, err
	}
	id := g.nextSession
	if id == "" {
		id = "sess-" + req.Reference
	}
	return &SessionResponse{SessionID: id, Status: "PENDING"}, nil
}

func (g *fakeGateway) ExecuteTransfer(_ context.Context, sessionID, _, _ string) (*TransferResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.transfers = append(g.transfers, sessionID)
	return &TransferResponse{Accepted: true}, nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *fakeProducer) PublishNotification(_ context.Context, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, body)
	return nil
}
