package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/messaging"
)

const testWebhookSecret = "test-secret"

type payoutFixture struct {
	service   *PayoutService
	payments  *memPaymentRepo
	employees *memEmployeeRepo
	companies *memCompanyRepo
	gateway   *fakeGateway
	producer  *fakeProducer
	company   *model.Company
	employee  *model.Employee
}

func newPayoutFixture(t *testing.T) *payoutFixture {
	t.Helper()

	companies := newMemCompanyRepo()
	employees := newMemEmployeeRepo()
	payments := newMemPaymentRepo()
	gateway := &fakeGateway{}
	producer := &fakeProducer{}

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

	service := NewPayoutService(payments, employees, companies, gateway, producer, PayoutOptions{
		CallbackURL:   "http://localhost:8080/api/v1/webhooks/payout",
		WebhookSecret: testWebhookSecret,
	})

	return &payoutFixture{
		service:   service,
		payments:  payments,
		employees: employees,
		companies: companies,
		gateway:   gateway,
		producer:  producer,
		company:   company,
		employee:  employee,
	}
}

func (f *payoutFixture) seedPayment(t *testing.T, status model.PaymentStatus) *model.Payment {
	t.Helper()
	p := &model.Payment{
		ID:                  uuid.New(),
		EmployeeID:          f.employee.ID,
		PeriodStart:         time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:           time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC),
		RegularHours:        160,
		HourlyRate:          decimal.NewFromInt(100),
		BonusRateMultiplier: decimal.NewFromFloat(1.5),
		Amount:              decimal.NewFromInt(16000),
		Status:              status,
	}
	require.NoError(t, f.payments.Create(context.Background(), p))
	return p
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *payoutFixture) status(t *testing.T, id uuid.UUID) model.PaymentStatus {
	t.Helper()
	p, err := f.payments.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Status
}

func TestDispatchHappyPath(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)

	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))

	assert.Equal(t, model.PaymentProcessing, f.status(t, payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)
	assert.NotEmpty(t, stored.GatewaySessionID)
	assert.Equal(t, []string{stored.GatewaySessionID}, f.gateway.transfers)
}

func TestDispatchUnknownPayment(t *testing.T) {
	f := newPayoutFixture(t)

	err := f.service.Dispatch(context.Background(), uuid.New())

	assert.True(t, apperr.IsNotFound(err))
	assert.Zero(t, f.gateway.sessionCalls)
}

func TestDispatchRequiresApprovedStatus(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentPending)

	err := f.service.Dispatch(context.Background(), payment.ID)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, model.PaymentPending, f.status(t, payment.ID))
	assert.Zero(t, f.gateway.sessionCalls)
}

func TestDispatchBadMSISDNLeavesApproved(t *testing.T) {
	f := newPayoutFixture(t)
	f.employee.TelebirrMSISDN = "0911223344"
	f.employees.employees[f.employee.ID] = f.employee
	payment := f.seedPayment(t, model.PaymentApproved)

	err := f.service.Dispatch(context.Background(), payment.ID)

	assert.True(t, apperr.IsValidation(err))
	// Precondition failures happen before the processing transition.
	assert.Equal(t, model.PaymentApproved, f.status(t, payment.ID))
	assert.Zero(t, f.gateway.sessionCalls)
}

func TestDispatchSessionFailureFailsPayment(t *testing.T) {
	f := newPayoutFixture(t)
	f.gateway.sessionErr = apperr.StructuralGateway("invalid merchant key", nil)
	payment := f.seedPayment(t, model.PaymentApproved)

	err := f.service.Dispatch(context.Background(), payment.ID)

	require.Error(t, err)
	assert.Equal(t, model.PaymentFailed, f.status(t, payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)
	assert.Contains(t, stored.FailureReason, "invalid merchant key")
}

func TestDispatchTransferFailureFailsPayment(t *testing.T) {
	f := newPayoutFixture(t)
	f.gateway.transferErr = apperr.TransientGateway("gateway returned status 502", nil)
	payment := f.seedPayment(t, model.PaymentApproved)

	err := f.service.Dispatch(context.Background(), payment.ID)

	require.Error(t, err)
	assert.Equal(t, model.PaymentFailed, f.status(t, payment.ID))
	// The session id survives for reconciliation.
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)
	assert.NotEmpty(t, stored.GatewaySessionID)
}

func TestDispatchTimeoutLeavesProcessing(t *testing.T) {
	f := newPayoutFixture(t)
	f.gateway.transferErr = context.DeadlineExceeded
	payment := f.seedPayment(t, model.PaymentApproved)

	err := f.service.Dispatch(context.Background(), payment.ID)

	require.Error(t, err)
	// Unknown outcome: the stuck sweep owns it from here.
	assert.Equal(t, model.PaymentProcessing, f.status(t, payment.ID))
}

func TestDispatchConcurrentSecondCallerLoses(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)

	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	err := f.service.Dispatch(context.Background(), payment.ID)

	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, 1, f.gateway.sessionCalls)
}

func TestDispatchDryRun(t *testing.T) {
	f := newPayoutFixture(t)
	f.service.opts.DryRun = true
	payment := f.seedPayment(t, model.PaymentApproved)

	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))

	assert.Equal(t, model.PaymentProcessing, f.status(t, payment.ID))
	assert.Zero(t, f.gateway.sessionCalls, "dry run never touches the gateway")
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)
	assert.Contains(t, stored.GatewaySessionID, "dryrun_")
}

func webhookBody(sessionID, status string) []byte {
	return []byte(fmt.Sprintf(`{"sessionId":%q,"transactionStatus":%q,"transaction":{"transactionId":"TB123","transactionStatus":%q}}`,
		sessionID, status, status))
}

func TestWebhookRejectsBadSignatureBeforeLookup(t *testing.T) {
	f := newPayoutFixture(t)
	body := webhookBody("sess-x", "SUCCESS")

	_, err := f.service.HandlePayoutCallback(context.Background(), body, "deadbeef")
	assert.True(t, apperr.IsSignature(err))

	_, err = f.service.HandlePayoutCallback(context.Background(), body, "")
	assert.True(t, apperr.IsSignature(err))
}

func TestWebhookSuccessCompletesPayment(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)
	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)

	body := webhookBody(stored.GatewaySessionID, "SUCCESS")
	result, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Equal(t, model.PaymentCompleted, f.status(t, payment.ID))
	final, _ := f.payments.GetByID(context.Background(), payment.ID)
	assert.Equal(t, "TB123", final.GatewayTransactionID)
	assert.NotNil(t, final.PaymentDate)

	require.Len(t, f.producer.events, 1)
	event, ok := f.producer.events[0].(messaging.PayoutCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, payment.ID, event.PaymentID)
	assert.Equal(t, f.employee.Email, event.EmployeeEmail)
}

func TestWebhookSuccessReplayIsNoOp(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)
	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)
	body := webhookBody(stored.GatewaySessionID, "SUCCESS")

	_, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	require.NoError(t, err)

	replay, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	require.NoError(t, err)

	assert.False(t, replay.Applied)
	assert.Equal(t, model.PaymentCompleted, replay.Status)
	assert.Len(t, f.producer.events, 1, "no second notification")
}

func TestWebhookToleratesUUIDFieldName(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)
	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)

	body := []byte(fmt.Sprintf(`{"uuid":%q,"transaction":{"transactionStatus":"success"}}`, stored.GatewaySessionID))
	result, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Equal(t, model.PaymentCompleted, f.status(t, payment.ID))
}

func TestWebhookPendingIsHeartbeat(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)
	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)

	body := webhookBody(stored.GatewaySessionID, "PENDING")
	result, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	require.NoError(t, err)

	assert.False(t, result.Applied)
	assert.Equal(t, model.PaymentProcessing, f.status(t, payment.ID))
}

func TestWebhookFailureOutcomes(t *testing.T) {
	for _, status := range []string{"FAILED", "EXPIRED", "UNAUTHORIZED", "FORBIDDEN"} {
		t.Run(status, func(t *testing.T) {
			f := newPayoutFixture(t)
			payment := f.seedPayment(t, model.PaymentApproved)
			require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
			stored, _ := f.payments.GetByID(context.Background(), payment.ID)

			body := webhookBody(stored.GatewaySessionID, status)
			result, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
			require.NoError(t, err)

			assert.True(t, result.Applied)
			assert.Equal(t, model.PaymentFailed, f.status(t, payment.ID))
			assert.Empty(t, f.producer.events)
		})
	}
}

func TestWebhookCancellation(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)
	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)

	body := webhookBody(stored.GatewaySessionID, "CANCELED")
	result, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Equal(t, model.PaymentCancelled, f.status(t, payment.ID))
}

func TestWebhookUnknownSession(t *testing.T) {
	f := newPayoutFixture(t)
	body := webhookBody("sess-unknown", "SUCCESS")

	_, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	assert.True(t, apperr.IsNotFound(err))
}

func TestWebhookUnknownStatus(t *testing.T) {
	f := newPayoutFixture(t)
	payment := f.seedPayment(t, model.PaymentApproved)
	require.NoError(t, f.service.Dispatch(context.Background(), payment.ID))
	stored, _ := f.payments.GetByID(context.Background(), payment.ID)

	body := webhookBody(stored.GatewaySessionID, "SHRUG")
	_, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	assert.True(t, apperr.IsValidation(err))
}

func TestWebhookMissingSessionID(t *testing.T) {
	f := newPayoutFixture(t)
	body := []byte(`{"transactionStatus":"SUCCESS"}`)

	_, err := f.service.HandlePayoutCallback(context.Background(), body, sign(body))
	assert.True(t, apperr.IsValidation(err))
}
