package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/ingestion"
	"github.com/minewatch/minewatch/internal/services"
)

// Machine-readable error codes.
const (
	CodeValidation   = "validation_error"
	CodePrecondition = "precondition_failed"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal_error"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode JSON response: %v", err)
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error response with a machine-readable code.
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 422 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    CodeValidation,
		Details: fieldErrors,
	})
}

// RespondServiceError maps a service error onto its status code. Unknown
// errors are logged and hidden behind a 500.
func RespondServiceError(w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "" {
			RespondErrorWithCode(w, http.StatusBadRequest, CodeValidation, verr.Reason)
			return
		}
		RespondValidationError(w, map[string]string{verr.Field: verr.Reason})
	case services.IsPrecondition(err), errors.Is(err, ingestion.ErrTaskPending):
		RespondErrorWithCode(w, http.StatusConflict, CodePrecondition, err.Error())
	case services.IsNotFound(err):
		RespondErrorWithCode(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		RespondErrorWithCode(w, http.StatusNotFound, CodeNotFound, "record not found")
	default:
		log.Printf("API: Internal error: %v", err)
		RespondErrorWithCode(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
