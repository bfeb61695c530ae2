package core

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payroll.service/internal/ports/messaging"
	"payroll.service/pkg/telemetry"
)

type EmailService interface {
	SendPayoutReceipt(ctx context.Context, event messaging.PayoutCompletedEvent) error
}

type SESEmailService struct {
	client *ses.Client
	sender string
}

func NewSESEmailService(client *ses.Client, sender string) *SESEmailService {
	return &SESEmailService{client: client, sender: sender}
}

func (s *SESEmailService) SendPayoutReceipt(ctx context.Context, event messaging.PayoutCompletedEvent) error {
	tracer := otel.Tracer("ses-email-service")
	ctx, span := tracer.Start(ctx, "send_email", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// Enrich span with paymentId if available in context
	if paymentID := telemetry.GetPaymentIDFromContext(ctx); paymentID != "" {
		span.SetAttributes(attribute.String("app.paymentId", paymentID))
	}

	body := fmt.Sprintf(
		"Hello %s,\n\nYour salary for the period %s to %s has been paid out to your Telebirr wallet.\n\nAmount: %s ETB\nPayment reference: %s\n",
		event.EmployeeName,
		event.PeriodStart.Format("2006-01-02"),
		event.PeriodEnd.Format("2006-01-02"),
		event.Amount,
		event.PaymentID,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{event.EmployeeEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Salary Payment Confirmation"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	_, err := s.client.SendEmail(ctx, input)
	return err
}
