package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/qrbooks/commission-engine/commission"
	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine error kinds to HTTP statuses.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var compliance *commission.ComplianceError
	switch {
	case errors.As(err, &compliance):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "compliance validation failed",
			Code:   "COMPLIANCE_VALIDATION_FAILED",
			Issues: compliance.Issues,
		})
	case errors.Is(err, commission.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, commission.ErrCalculationMismatch):
		writeError(w, http.StatusUnprocessableEntity, "CALCULATION_MISMATCH", err.Error(), nil)
	case errors.Is(err, commission.ErrFilingLocked):
		writeError(w, http.StatusLocked, "FILING_LOCKED", err.Error(), nil)
	case errors.Is(err, commission.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, commission.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// writeValidationError reports validator failures per JSON field.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request", err)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fieldPath(fe.Namespace())] = msg
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  "request validation failed",
		Code:   "INVALID_INPUT",
		Fields: fields,
	})
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
