package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/messaging"
	"payroll.service/internal/ports/repository"
)

// PayoutOptions carries the orchestrator's environment-level settings.
type PayoutOptions struct {
	// CallbackURL is where the gateway posts webhook confirmations.
	CallbackURL string
	// WebhookSecret keys the HMAC over incoming webhook bodies.
	WebhookSecret string
	// DryRun short-circuits gateway calls with a simulated session, for
	// local development.
	DryRun bool
	// GatewayTimeout bounds each gateway call.
	GatewayTimeout time.Duration
}

// PayoutService drives an approved payment through the two-phase payout
// protocol and reconciles the asynchronous webhook confirmations. Gateway
// calls go through a circuit breaker so a struggling provider isn't hammered.
type PayoutService struct {
	payments  repository.PaymentRepository
	employees repository.EmployeeRepository
	companies repository.CompanyRepository
	gateway   PayoutGateway
	producer  messaging.QueueProducer
	cb        *gobreaker.CircuitBreaker
	opts      PayoutOptions
}

// NewPayoutService wires up the orchestrator.
func NewPayoutService(payments repository.PaymentRepository, employees repository.EmployeeRepository,
	companies repository.CompanyRepository, gateway PayoutGateway, producer messaging.QueueProducer,
	opts PayoutOptions) *PayoutService {

	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "Payout-Gateway",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if failure rate exceeds 50% after at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
	}

	return &PayoutService{
		payments:  payments,
		employees: employees,
		companies: companies,
		gateway:   gateway,
		producer:  producer,
		cb:        gobreaker.NewCircuitBreaker(settings),
		opts:      opts,
	}
}

// Dispatch runs the two-phase payout for an approved payment: reserve a
// session, persist its id, then execute the transfer. On success the payment
// sits in processing until the webhook settles it. A timed-out gateway call
// is an unknown outcome: the payment stays in processing for the stuck-sweep
// instead of being failed outright, since the transfer may well have landed.
func (s *PayoutService) Dispatch(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("looking up payment: %w", err)
	}
	if payment == nil {
		return apperr.NotFoundf("payment %s not found", paymentID)
	}
	if payment.Status != model.PaymentApproved {
		return apperr.Conflictf("payment is not approved for payout (status: %s)", payment.Status)
	}

	employee, err := s.employees.GetByID(ctx, payment.EmployeeID)
	if err != nil {
		return fmt.Errorf("looking up employee: %w", err)
	}
	if employee == nil {
		return apperr.NotFoundf("employee %s not found", payment.EmployeeID)
	}
	if employee.TelebirrMSISDN == "" {
		return apperr.Validationf("employee has no Telebirr wallet number")
	}
	if !model.ValidMSISDN(employee.TelebirrMSISDN) {
		return apperr.Validationf("invalid Telebirr phone format, expected 251XXXXXXXXX")
	}

	company, err := s.companies.GetByID(ctx, employee.CompanyID)
	if err != nil {
		return fmt.Errorf("looking up company: %w", err)
	}
	if company == nil {
		return apperr.NotFoundf("company %s not found", employee.CompanyID)
	}

	// Single gate against concurrent dispatch of the same payment.
	ok, err := s.payments.TransitionStatus(ctx, payment.ID, model.PaymentApproved, model.PaymentProcessing, repository.StatusUpdate{})
	if err != nil {
		return fmt.Errorf("moving payment to processing: %w", err)
	}
	if !ok {
		return apperr.Conflictf("payment %s is already being dispatched", payment.ID)
	}

	if s.opts.DryRun {
		sessionID := fmt.Sprintf("dryrun_%s_%d", payment.ID, time.Now().Unix())
		log.Ctx(ctx).Info().Str("payment_id", payment.ID.String()).Str("session_id", sessionID).
			Msg("Dry-run mode, payout simulated")
		return s.payments.SetSessionID(ctx, payment.ID, sessionID)
	}

	// Phase 1: session creation.
	session, err := s.createSession(ctx, payment, employee, company)
	if err != nil {
		return s.failDispatch(ctx, payment.ID, "session creation", err)
	}

	// The session id must hit storage before phase 2 so a crash in between
	// leaves a reference the recovery sweep can use.
	if err := s.payments.SetSessionID(ctx, payment.ID, session.SessionID); err != nil {
		return fmt.Errorf("persisting session id: %w", err)
	}

	// Phase 2: transfer execution.
	if err := s.executeTransfer(ctx, session.SessionID, employee.TelebirrMSISDN, company.MerchantKey); err != nil {
		return s.failDispatch(ctx, payment.ID, "transfer execution", err)
	}

	log.Ctx(ctx).Info().
		Str("payment_id", payment.ID.String()).
		Str("session_id", session.SessionID).
		Msg("Payout dispatched, awaiting webhook confirmation")
	return nil
}

func (s *PayoutService) createSession(ctx context.Context, payment *model.Payment, employee *model.Employee, company *model.Company) (*SessionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.gateway.CreatePayoutSession(callCtx, SessionRequest{
			Amount:      payment.Amount,
			Recipient:   employee.TelebirrMSISDN,
			Reference:   payment.ID.String(),
			CallbackURL: s.opts.CallbackURL,
			MerchantKey: company.MerchantKey,
		})
	})
	if err != nil {
		return nil, err
	}
	return res.(*SessionResponse), nil
}

func (s *PayoutService) executeTransfer(ctx context.Context, sessionID, recipient, merchantKey string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	_, err := s.cb.Execute(func() (interface{}, error) {
		return s.gateway.ExecuteTransfer(callCtx, sessionID, recipient, merchantKey)
	})
	return err
}

// failDispatch settles a gateway failure onto the payment. Unknown outcomes
// (timeouts) are left in processing for the sweep.
func (s *PayoutService) failDispatch(ctx context.Context, paymentID uuid.UUID, phase string, err error) error {
	if timedOut(err) {
		log.Ctx(ctx).Warn().Err(err).Str("payment_id", paymentID.String()).Str("phase", phase).
			Msg("Gateway call timed out, outcome unknown, leaving payment in processing")
		return apperr.TransientGateway(phase+" timed out, outcome unknown", err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		log.Ctx(ctx).Warn().Str("payment_id", paymentID.String()).
			Msg("Circuit breaker is open, skipping gateway call")
	}

	reason := err.Error()
	ok, casErr := s.payments.TransitionStatus(ctx, paymentID, model.PaymentProcessing, model.PaymentFailed,
		repository.StatusUpdate{FailureReason: &reason})
	if casErr != nil {
		return fmt.Errorf("marking payment failed after %s error: %w", phase, casErr)
	}
	if !ok {
		log.Ctx(ctx).Warn().Str("payment_id", paymentID.String()).
			Msg("Payment left processing concurrently, dropping failure write")
	}
	return fmt.Errorf("%s failed: %w", phase, err)
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// webhookPayload tolerates the vendor's payload shape variance: the session
// id arrives under either of two field names and the status may sit at the
// top level or nested under transaction.
type webhookPayload struct {
	SessionID         string `json:"sessionId"`
	UUID              string `json:"uuid"`
	TransactionStatus string `json:"transactionStatus"`
	Transaction       *struct {
		TransactionID     string `json:"transactionId"`
		TransactionStatus string `json:"transactionStatus"`
	} `json:"transaction"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (p *webhookPayload) sessionID() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.UUID
}

func (p *webhookPayload) status() string {
	st := p.TransactionStatus
	if st == "" && p.Transaction != nil {
		st = p.Transaction.TransactionStatus
	}
	return strings.ToUpper(strings.TrimSpace(st))
}

func (p *webhookPayload) transactionID() string {
	if p.Transaction != nil {
		return p.Transaction.TransactionID
	}
	return ""
}

func (p *webhookPayload) failureReason(fallback string) string {
	if p.Reason != "" {
		return p.Reason
	}
	if p.Message != "" {
		return p.Message
	}
	return fallback
}

// CallbackResult reports what a webhook delivery did.
type CallbackResult struct {
	PaymentID uuid.UUID           `json:"paymentId"`
	Status    model.PaymentStatus `json:"status"`
	// Applied is false when the delivery was a no-op: a replayed success,
	// a still-pending heartbeat, or a CAS lost against a concurrent writer.
	Applied bool `json:"applied"`
}

// HandlePayoutCallback verifies and applies one webhook delivery. The
// signature is checked over the raw body before anything is looked up;
// deliveries are idempotent because every write goes through the same CAS as
// the rest of the system, and a replay of a settled status is a plain no-op.
func (s *PayoutService) HandlePayoutCallback(ctx context.Context, rawBody []byte, signature string) (*CallbackResult, error) {
	if !verifySignature(rawBody, signature, s.opts.WebhookSecret) {
		return nil, &apperr.SignatureError{}
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, apperr.Validationf("malformed webhook payload")
	}
	sessionID := payload.sessionID()
	if sessionID == "" {
		return nil, apperr.Validationf("webhook missing session identifier")
	}

	payment, err := s.payments.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("looking up payment by session: %w", err)
	}
	if payment == nil {
		return nil, apperr.NotFoundf("no payment for session %s", sessionID)
	}

	logger := log.Ctx(ctx).With().
		Str("payment_id", payment.ID.String()).
		Str("session_id", sessionID).
		Logger()

	switch status := payload.status(); status {
	case "SUCCESS":
		if payment.Status == model.PaymentCompleted {
			logger.Info().Msg("Success webhook replayed for settled payment, no-op")
			return &CallbackResult{PaymentID: payment.ID, Status: model.PaymentCompleted}, nil
		}
		now := time.Now().UTC()
		txID := payload.transactionID()
		ok, err := s.payments.TransitionStatus(ctx, payment.ID, model.PaymentProcessing, model.PaymentCompleted,
			repository.StatusUpdate{TransactionID: &txID, PaymentDate: &now})
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost against a concurrent writer (late sweep, replay). Drop it.
			logger.Warn().Msg("Completion webhook lost CAS, dropping")
			return s.droppedResult(ctx, payment.ID)
		}
		logger.Info().Str("transaction_id", txID).Msg("Payout completed")
		s.notifyCompleted(ctx, payment)
		return &CallbackResult{PaymentID: payment.ID, Status: model.PaymentCompleted, Applied: true}, nil

	case "PENDING":
		logger.Info().Msg("Payout still processing")
		return &CallbackResult{PaymentID: payment.ID, Status: model.PaymentProcessing}, nil

	case "FAILED", "EXPIRED", "UNAUTHORIZED", "FORBIDDEN":
		reason := payload.failureReason("B2C transfer failed")
		if status == "EXPIRED" {
			reason = "session expired"
		}
		if status == "UNAUTHORIZED" || status == "FORBIDDEN" {
			reason = "authorization error: " + status
		}
		ok, err := s.payments.TransitionStatus(ctx, payment.ID, model.PaymentProcessing, model.PaymentFailed,
			repository.StatusUpdate{FailureReason: &reason})
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Warn().Msg("Failure webhook lost CAS, dropping")
			return s.droppedResult(ctx, payment.ID)
		}
		logger.Info().Str("reason", reason).Msg("Payout failed")
		return &CallbackResult{PaymentID: payment.ID, Status: model.PaymentFailed, Applied: true}, nil

	case "CANCELED", "CANCELLED":
		reason := "transaction cancelled"
		ok, err := s.payments.TransitionStatus(ctx, payment.ID, model.PaymentProcessing, model.PaymentCancelled,
			repository.StatusUpdate{FailureReason: &reason})
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Warn().Msg("Cancellation webhook lost CAS, dropping")
			return s.droppedResult(ctx, payment.ID)
		}
		logger.Info().Msg("Payout cancelled by gateway")
		return &CallbackResult{PaymentID: payment.ID, Status: model.PaymentCancelled, Applied: true}, nil

	default:
		return nil, apperr.Validationf("unknown transaction status %q", status)
	}
}

func (s *PayoutService) droppedResult(ctx context.Context, paymentID uuid.UUID) (*CallbackResult, error) {
	current, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{PaymentID: paymentID, Status: current.Status}, nil
}

// notifyCompleted queues the payout-result email. Delivery is best effort;
// a publish failure never fails the webhook.
func (s *PayoutService) notifyCompleted(ctx context.Context, payment *model.Payment) {
	if s.producer == nil {
		return
	}
	employee, err := s.employees.GetByID(ctx, payment.EmployeeID)
	if err != nil || employee == nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Could not resolve employee for payout notification")
		return
	}
	event := messaging.PayoutCompletedEvent{
		PaymentID:     payment.ID,
		EmployeeID:    employee.ID,
		EmployeeEmail: employee.Email,
		EmployeeName:  employee.Name,
		Amount:        payment.Amount.StringFixed(2),
		PeriodStart:   payment.PeriodStart,
		PeriodEnd:     payment.PeriodEnd,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.producer.PublishNotification(ctx, event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to queue payout notification")
	}
}

// verifySignature checks a hex-encoded HMAC-SHA256 of the exact raw body in
// constant time. Missing signature or secret rejects without detail.
func verifySignature(rawBody []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)
	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
