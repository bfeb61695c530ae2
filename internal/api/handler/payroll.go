package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"payroll.service/internal/core"
	"payroll.service/internal/core/apperr"
)

type PayrollHandler struct {
	Service *core.PayrollService
}

type payrollRunRequest struct {
	CompanyID   string    `json:"companyId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

func (h *PayrollHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req payrollRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}
	companyID, err := pathUUID(req.CompanyID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	run, err := h.Service.Calculate(r.Context(), companyID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *PayrollHandler) Summary(w http.ResponseWriter, r *http.Request) {
	companyID, err := pathUUID(mux.Vars(r)["companyId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("periodStart"))
	if err != nil {
		writeError(w, r, apperr.Validationf("periodStart must be RFC 3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("periodEnd"))
	if err != nil {
		writeError(w, r, apperr.Validationf("periodEnd must be RFC 3339"))
		return
	}

	summary, err := h.Service.Summary(r.Context(), companyID, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
