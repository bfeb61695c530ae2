package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"payroll.service/internal/core/apperr"
)

// Authentication happens upstream (gateway/ingress); the authenticated
// employer account id arrives on this header and ownership checks run in the
// services.
const actorHeader = "X-Employer-ID"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperr.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case apperr.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case apperr.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case apperr.IsForbidden(err):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case apperr.IsSignature(err):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func actorID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(actorHeader)
	if raw == "" {
		return uuid.Nil, apperr.Forbiddenf("missing %s header", actorHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Forbiddenf("malformed %s header", actorHeader)
	}
	return id, nil
}

func pathUUID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperr.Validationf("malformed id %q", value)
	}
	return id, nil
}
