package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"payroll.service/internal/api/handler"
	"payroll.service/internal/core"
)

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(timesheet *core.TimesheetService, payroll *core.PayrollService,
	ledger *core.LedgerService, payout *core.PayoutService, recovery *core.RecoveryService) *mux.Router {

	timesheetHandler := handler.TimesheetHandler{Service: timesheet}
	payrollHandler := handler.PayrollHandler{Service: payroll}
	paymentHandler := handler.PaymentHandler{Ledger: ledger, Payout: payout, Recovery: recovery}

	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	// Timesheets
	api.HandleFunc("/clock-in", timesheetHandler.ClockIn).Methods(http.MethodPost)
	api.HandleFunc("/clock-out", timesheetHandler.ClockOut).Methods(http.MethodPost)
	api.HandleFunc("/entries", timesheetHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/entries/{entryId}/breaks", timesheetHandler.StartBreak).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entryId}/breaks/end", timesheetHandler.EndBreak).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entryId}/review", timesheetHandler.Review).Methods(http.MethodPost)
	api.HandleFunc("/employees/{employeeId}/clock-status", timesheetHandler.ClockStatus).Methods(http.MethodGet)

	// Payroll
	api.HandleFunc("/payroll/run", payrollHandler.Run).Methods(http.MethodPost)
	api.HandleFunc("/payroll/{companyId}/summary", payrollHandler.Summary).Methods(http.MethodGet)

	// Payments
	api.HandleFunc("/payments", paymentHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/payments/retry", paymentHandler.RetryFailed).Methods(http.MethodPost)
	api.HandleFunc("/payments/bulk-approve", paymentHandler.BulkApprove).Methods(http.MethodPost)
	api.HandleFunc("/payments/{paymentId}", paymentHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/payments/{paymentId}/approve", paymentHandler.Approve).Methods(http.MethodPost)
	api.HandleFunc("/payments/{paymentId}/cancel", paymentHandler.Cancel).Methods(http.MethodPost)

	// Gateway callbacks
	api.HandleFunc("/webhooks/payout", paymentHandler.Webhook).Methods(http.MethodPost)

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	return r
}
