// Package notification consumes payout-completed events and delivers the
// salary receipt email to the employee.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"payroll.service/internal/core"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/messaging"
	"payroll.service/internal/ports/repository"
)

type EmailProcessor struct {
	emailService core.EmailService
	payments     repository.PaymentRepository
}

// NewProcessor sets up a processor for payout receipt emails. It needs an
// email service to send with and the payment repository to record delivery.
func NewProcessor(emailService core.EmailService, payments repository.PaymentRepository) *EmailProcessor {
	return &EmailProcessor{
		emailService: emailService,
		payments:     payments,
	}
}

// Process handles one payout-completed event. The notified marker on the
// payment is a conditional write, so a redelivered message sends at most one
// email.
func (p *EmailProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	var event messaging.PayoutCompletedEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal payout event")
		return false, 0, err // Do not retry on malformed message
	}

	payment, err := p.payments.GetByID(ctx, event.PaymentID)
	if err != nil {
		// If we can't get the record, retry after a short delay.
		return true, 10, fmt.Errorf("failed to load payment for notification: %w", err)
	}
	if payment == nil {
		log.Ctx(ctx).Warn().Str("payment_id", event.PaymentID.String()).Msg("Payment no longer exists. Skipping.")
		return false, 0, nil
	}

	if payment.Status != model.PaymentCompleted {
		log.Ctx(ctx).Info().Str("payment_id", payment.ID.String()).Str("status", string(payment.Status)).
			Msg("Payment is not completed. Skipping notification.")
		return false, 0, nil
	}

	if payment.NotifiedAt != nil {
		log.Ctx(ctx).Info().Str("payment_id", payment.ID.String()).Msg("Notification already sent. Skipping.")
		return false, 0, nil
	}

	if err := p.emailService.SendPayoutReceipt(ctx, event); err != nil {
		delay := calculateBackoff(approxReceiveCount(msg))
		return true, delay, err
	}

	claimed, err := p.payments.MarkNotified(ctx, payment.ID)
	if err != nil {
		return false, 0, err
	}
	if !claimed {
		log.Ctx(ctx).Info().Str("payment_id", payment.ID.String()).Msg("Notification marker already set by a concurrent delivery")
	}
	return false, 0, nil
}

func approxReceiveCount(msg types.Message) int {
	if v, ok := msg.Attributes["ApproximateReceiveCount"]; ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 1
}

// calculateBackoff determines how long to wait before retrying a failed job.
// It increases the delay exponentially with each retry to avoid overwhelming a struggling service.
func calculateBackoff(retryCount int) int32 {
	backoff := int32(math.Pow(2, float64(retryCount)) * 10)
	if backoff > 3600 { // Cap at 1 hour
		return 3600
	}
	return backoff
}
