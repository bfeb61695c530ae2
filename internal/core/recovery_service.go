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

// RecoveryService handles the lifecycle's unhappy tail: retrying failed
// payouts, sweeping payments stuck in processing, purging exhausted
// failures, and running the scheduled payroll calculations.
type RecoveryService struct {
	payments  repository.PaymentRepository
	companies repository.CompanyRepository
	ledger    *LedgerService
	payroll   *PayrollService

	// StuckThreshold is how long a payment may sit in processing before the
	// sweep declares its outcome lost.
	StuckThreshold time.Duration
	// FailedRetention is how long exhausted failed payments are kept.
	FailedRetention time.Duration
}

func NewRecoveryService(payments repository.PaymentRepository, companies repository.CompanyRepository,
	ledger *LedgerService, payroll *PayrollService) *RecoveryService {
	return &RecoveryService{
		payments:        payments,
		companies:       companies,
		ledger:          ledger,
		payroll:         payroll,
		StuckThreshold:  24 * time.Hour,
		FailedRetention: 30 * 24 * time.Hour,
	}
}

// RetryResult is one row of a retry pass outcome.
type RetryResult struct {
	PaymentID uuid.UUID           `json:"paymentId"`
	Status    model.PaymentStatus `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// RetryFailed re-runs every failed payment of the actor's company that still
// has retry budget. Each retry is a fresh trip through the normal lifecycle:
// back to pending with the attempt counted, then approved and dispatched as
// the acting employer. The attempt counter is enforced in the conditional
// write, so concurrent retry passes cannot overspend the budget.
func (s *RecoveryService) RetryFailed(ctx context.Context, actorID uuid.UUID) ([]RetryResult, error) {
	company, err := s.companies.GetByEmployer(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("looking up company: %w", err)
	}
	if company == nil {
		return nil, apperr.Forbiddenf("no company registered for this account")
	}

	failed, err := s.payments.FindRetryable(ctx, company.ID, model.MaxPayoutRetries)
	if err != nil {
		return nil, fmt.Errorf("listing retryable payments: %w", err)
	}

	results := make([]RetryResult, 0, len(failed))
	for _, payment := range failed {
		ok, err := s.payments.TransitionStatus(ctx, payment.ID, model.PaymentFailed, model.PaymentPending,
			repository.StatusUpdate{IncrementRetry: true})
		if err != nil {
			results = append(results, RetryResult{PaymentID: payment.ID, Error: err.Error()})
			continue
		}
		if !ok {
			results = append(results, RetryResult{PaymentID: payment.ID, Error: "retry budget exhausted or status changed"})
			continue
		}

		reloaded, err := s.ledger.Approve(ctx, payment.ID, actorID)
		if err != nil {
			results = append(results, RetryResult{PaymentID: payment.ID, Error: err.Error()})
			continue
		}
		results = append(results, RetryResult{PaymentID: payment.ID, Status: reloaded.Status})
	}

	log.Ctx(ctx).Info().
		Str("company_id", company.ID.String()).
		Int("attempted", len(results)).
		Msg("Retry pass finished")
	return results, nil
}

// CheckStuckPayments fails every payment that has sat in processing longer
// than the threshold. Whether the gateway ultimately paid is unknown; the
// failure reason records that so operators reconcile against the provider
// before a retry.
func (s *RecoveryService) CheckStuckPayments(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.StuckThreshold)
	reason := fmt.Sprintf("stuck in processing for over %s, gateway outcome unknown", s.StuckThreshold)

	n, err := s.payments.MarkStuckFailed(ctx, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("sweeping stuck payments: %w", err)
	}
	if n > 0 {
		log.Ctx(ctx).Warn().Int64("count", n).Msg("Marked stuck payments as failed")
	}
	return n, nil
}

// CleanupOldFailedPayments deletes failed payments that exhausted their
// retries and aged past the retention window.
func (s *RecoveryService) CleanupOldFailedPayments(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.FailedRetention)

	n, err := s.payments.DeleteOldFailed(ctx, cutoff, model.MaxPayoutRetries)
	if err != nil {
		return 0, fmt.Errorf("purging old failed payments: %w", err)
	}
	if n > 0 {
		log.Ctx(ctx).Info().Int64("count", n).Msg("Purged old failed payments")
	}
	return n, nil
}

// ProcessPayrollForCycle calculates payroll for every active company on the
// given cycle, over the period that just closed. Calculation only: payments
// land in pending and wait for an employer's approval. Company failures are
// isolated.
func (s *RecoveryService) ProcessPayrollForCycle(ctx context.Context, cycle model.PaymentCycle) error {
	companies, err := s.companies.FindActiveByCycle(ctx, cycle)
	if err != nil {
		return fmt.Errorf("listing companies on %s cycle: %w", cycle, err)
	}

	start, end, err := PeriodForCycle(cycle, time.Now().UTC())
	if err != nil {
		return err
	}
	var failures int
	for _, company := range companies {
		run, err := s.payroll.Calculate(ctx, company.ID, start, end)
		if err != nil {
			failures++
			log.Ctx(ctx).Error().Err(err).
				Str("company_id", company.ID.String()).
				Msg("Scheduled payroll run failed for company")
			continue
		}
		log.Ctx(ctx).Info().
			Str("company_id", company.ID.String()).
			Int("payments", len(run.Results)).
			Msg("Scheduled payroll run finished for company")
	}

	if failures > 0 {
		return fmt.Errorf("payroll run failed for %d of %d companies", failures, len(companies))
	}
	return nil
}
