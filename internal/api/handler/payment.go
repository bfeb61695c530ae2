package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"payroll.service/internal/core"
	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

// Webhook deliveries carry an HMAC of the raw body on this header.
const signatureHeader = "X-Arifpay-Signature"

type PaymentHandler struct {
	Ledger   *core.LedgerService
	Payout   *core.PayoutService
	Recovery *core.RecoveryService
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathUUID(mux.Vars(r)["paymentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payment, err := h.Ledger.GetPayment(r.Context(), paymentID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := repository.PaymentFilter{Limit: 100}
	q := r.URL.Query()
	if raw := q.Get("employeeId"); raw != "" {
		id, err := pathUUID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.EmployeeID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status := model.PaymentStatus(raw)
		if !model.ValidStatus(status) {
			writeError(w, r, apperr.Validationf("unknown status %q", raw))
			return
		}
		filter.Status = &status
	}

	payments, err := h.Ledger.ListPayments(r.Context(), actor, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathUUID(mux.Vars(r)["paymentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payment, err := h.Ledger.Approve(r.Context(), paymentID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

type bulkApproveRequest struct {
	PeriodStart *time.Time `json:"periodStart"`
	PeriodEnd   *time.Time `json:"periodEnd"`
}

// BulkApprove approves the caller's pending payments server-side; an empty
// body means every pending payment, the optional period narrows the batch.
func (h *PaymentHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bulkApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}

	results, err := h.Ledger.BulkApprove(r.Context(), actor, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathUUID(mux.Vars(r)["paymentId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payment, err := h.Ledger.Cancel(r.Context(), paymentID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	results, err := h.Recovery.RetryFailed(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Webhook receives gateway payout confirmations. The body must be read raw
// before any decoding so the signature check covers the exact bytes sent.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, r, apperr.Validationf("unreadable body"))
		return
	}

	result, err := h.Payout.HandlePayoutCallback(r.Context(), rawBody, r.Header.Get(signatureHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
