package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

// LedgerService owns the administrative side of the payment lifecycle:
// approval (which hands off to payout dispatch), bulk approval, and
// cancellation of payments that have not reached the gateway yet.
type LedgerService struct {
	payments  repository.PaymentRepository
	employees repository.EmployeeRepository
	companies repository.CompanyRepository
	payout    *PayoutService
}

func NewLedgerService(payments repository.PaymentRepository, employees repository.EmployeeRepository,
	companies repository.CompanyRepository, payout *PayoutService) *LedgerService {
	return &LedgerService{payments: payments, employees: employees, companies: companies, payout: payout}
}

// Approve moves a pending payment to approved on behalf of the company's
// employer and immediately dispatches the payout. The conditional status
// write is the single gate: two concurrent approvals of the same payment
// resolve to exactly one dispatch.
func (s *LedgerService) Approve(ctx context.Context, paymentID, actorID uuid.UUID) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("looking up payment: %w", err)
	}
	if payment == nil {
		return nil, apperr.NotFoundf("payment %s not found", paymentID)
	}

	if err := s.authorizeActor(ctx, payment.EmployeeID, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ok, err := s.payments.TransitionStatus(ctx, payment.ID, model.PaymentPending, model.PaymentApproved,
		repository.StatusUpdate{ApprovedBy: &actorID, ApprovedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("approving payment: %w", err)
	}
	if !ok {
		current, err := s.payments.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Conflictf("payment cannot be approved from status %s", current.Status)
	}

	log.Ctx(ctx).Info().
		Str("payment_id", payment.ID.String()).
		Str("approved_by", actorID.String()).
		Msg("Payment approved, dispatching payout")

	if err := s.payout.Dispatch(ctx, payment.ID); err != nil {
		// The approval stands; the dispatch outcome is already settled on
		// the payment record (failed, or processing for unknown outcomes).
		log.Ctx(ctx).Error().Err(err).Str("payment_id", payment.ID.String()).Msg("Payout dispatch failed")
	}

	return s.payments.GetByID(ctx, payment.ID)
}

// ApprovalResult is one row of a bulk approval outcome.
type ApprovalResult struct {
	PaymentID uuid.UUID           `json:"paymentId"`
	Status    model.PaymentStatus `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BulkApprove approves and dispatches every pending payment of the actor's
// company, optionally narrowed to exact period bounds. Failures are isolated
// per payment: one bad row never blocks the rest, and a row whose payout
// failed carries the failure reason.
func (s *LedgerService) BulkApprove(ctx context.Context, actorID uuid.UUID, periodStart, periodEnd *time.Time) ([]ApprovalResult, error) {
	company, err := s.companies.GetByEmployer(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolving company: %w", err)
	}
	if company == nil {
		return nil, apperr.Forbiddenf("no company registered for this account")
	}

	pending, err := s.payments.FindPending(ctx, company.ID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("selecting pending payments: %w", err)
	}

	results := make([]ApprovalResult, 0, len(pending))
	for _, p := range pending {
		payment, err := s.Approve(ctx, p.ID, actorID)
		if err != nil {
			results = append(results, ApprovalResult{PaymentID: p.ID, Error: err.Error()})
			continue
		}
		row := ApprovalResult{PaymentID: p.ID, Status: payment.Status}
		if payment.Status == model.PaymentFailed {
			row.Error = payment.FailureReason
		}
		results = append(results, row)
	}
	return results, nil
}

// Cancel withdraws a payment that has not been handed to the gateway.
// Pending and approved payments can be cancelled; anything further along is
// owned by the payout flow and refused.
func (s *LedgerService) Cancel(ctx context.Context, paymentID, actorID uuid.UUID) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("looking up payment: %w", err)
	}
	if payment == nil {
		return nil, apperr.NotFoundf("payment %s not found", paymentID)
	}

	if err := s.authorizeActor(ctx, payment.EmployeeID, actorID); err != nil {
		return nil, err
	}

	for _, from := range []model.PaymentStatus{model.PaymentPending, model.PaymentApproved} {
		ok, err := s.payments.TransitionStatus(ctx, payment.ID, from, model.PaymentCancelled, repository.StatusUpdate{})
		if err != nil {
			return nil, fmt.Errorf("cancelling payment: %w", err)
		}
		if ok {
			log.Ctx(ctx).Info().Str("payment_id", payment.ID.String()).Msg("Payment cancelled")
			return s.payments.GetByID(ctx, payment.ID)
		}
	}

	current, err := s.payments.GetByID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return nil, apperr.Conflictf("payment cannot be cancelled from status %s", current.Status)
}

// GetPayment returns one payment with ownership enforced.
func (s *LedgerService) GetPayment(ctx context.Context, paymentID, actorID uuid.UUID) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperr.NotFoundf("payment %s not found", paymentID)
	}
	if err := s.authorizeActor(ctx, payment.EmployeeID, actorID); err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPayments returns the actor's company payments matching the filter.
func (s *LedgerService) ListPayments(ctx context.Context, actorID uuid.UUID, filter repository.PaymentFilter) ([]model.Payment, error) {
	company, err := s.companies.GetByEmployer(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, apperr.Forbiddenf("no company registered for this account")
	}
	filter.CompanyID = company.ID
	return s.payments.List(ctx, filter)
}

// authorizeActor checks that actorID is the employer of the company the
// employee belongs to.
func (s *LedgerService) authorizeActor(ctx context.Context, employeeID, actorID uuid.UUID) error {
	employee, err := s.employees.GetByID(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("looking up employee: %w", err)
	}
	if employee == nil {
		return apperr.NotFoundf("employee %s not found", employeeID)
	}
	company, err := s.companies.GetByID(ctx, employee.CompanyID)
	if err != nil {
		return fmt.Errorf("looking up company: %w", err)
	}
	if company == nil || company.EmployerID != actorID {
		return apperr.Forbiddenf("payment belongs to another company")
	}
	return nil
}
