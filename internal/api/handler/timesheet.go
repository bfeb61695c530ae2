package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"payroll.service/internal/core"
	"payroll.service/internal/core/apperr"
	"payroll.service/internal/core/model"
	"payroll.service/internal/ports/repository"
)

type TimesheetHandler struct {
	Service *core.TimesheetService
}

type clockRequest struct {
	EmployeeID string `json:"employeeId"`
}

func (h *TimesheetHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}
	employeeID, err := pathUUID(req.EmployeeID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.Service.ClockIn(r.Context(), employeeID, time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *TimesheetHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}
	employeeID, err := pathUUID(req.EmployeeID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.Service.ClockOut(r.Context(), employeeID, time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type breakRequest struct {
	Category string `json:"category"`
}

func (h *TimesheetHandler) StartBreak(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathUUID(mux.Vars(r)["entryId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req breakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}

	entry, err := h.Service.StartBreak(r.Context(), entryID, req.Category, time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *TimesheetHandler) EndBreak(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathUUID(mux.Vars(r)["entryId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.Service.EndBreak(r.Context(), entryID, time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

func (h *TimesheetHandler) Review(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathUUID(mux.Vars(r)["entryId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	reviewer, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validationf("invalid request body"))
		return
	}

	entry, err := h.Service.Review(r.Context(), entryID, reviewer, model.TimeEntryStatus(req.Decision), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *TimesheetHandler) ClockStatus(w http.ResponseWriter, r *http.Request) {
	employeeID, err := pathUUID(mux.Vars(r)["employeeId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry, hoursSoFar, err := h.Service.ClockStatus(r.Context(), employeeID, time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clockedIn":  entry != nil,
		"entry":      entry,
		"hoursSoFar": hoursSoFar,
	})
}

func (h *TimesheetHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.TimeEntryFilter{Limit: 100}

	q := r.URL.Query()
	if raw := q.Get("employeeId"); raw != "" {
		id, err := pathUUID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.EmployeeID = &id
	}
	if raw := q.Get("companyId"); raw != "" {
		id, err := pathUUID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.CompanyID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status := model.TimeEntryStatus(raw)
		filter.Status = &status
	}

	entries, err := h.Service.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
