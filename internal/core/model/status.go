package model

import "payroll.service/internal/core/apperr"

// PaymentStatus defines where a payment sits in its payout lifecycle.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentApproved   PaymentStatus = "approved"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// legalTransitions is the single source of truth for the payment state
// machine. Every status change in the system, whether driven by an employer
// action, the payout orchestrator, a webhook or the recovery sweep, has to
// pass through ValidateTransition and the matching conditional write.
//
//	pending    -> approved (employer approval), cancelled (administrative)
//	approved   -> processing (payout dispatch), cancelled (administrative)
//	processing -> completed, failed, cancelled (all gateway-reported),
//	              processing (webhook still-pending no-op)
//	failed     -> pending (bounded retry)
//
// completed is terminal; cancelled is terminal; failed is terminal in
// practice once the retry budget is exhausted.
var legalTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentApproved:  true,
		PaymentCancelled: true,
	},
	PaymentApproved: {
		PaymentProcessing: true,
		PaymentCancelled:  true,
	},
	PaymentProcessing: {
		PaymentProcessing: true,
		PaymentCompleted:  true,
		PaymentFailed:     true,
		PaymentCancelled:  true,
	},
	PaymentFailed: {
		PaymentPending: true,
	},
}

// ValidateTransition rejects every edge not present in the table above.
func ValidateTransition(from, to PaymentStatus) error {
	if legalTransitions[from][to] {
		return nil
	}
	return apperr.Conflictf("illegal payment transition %s -> %s", from, to)
}

// Terminal reports whether no further transition can leave the status.
// A failed payment with budget left is not terminal; the caller checks the
// retry count separately.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentCancelled
}

// ValidStatus reports whether s is one of the known payment statuses, used
// to validate filter input at the API boundary.
func ValidStatus(s PaymentStatus) bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentProcessing,
		PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}
