package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(validationErr, &fieldErrs) {
			errorResp.Details = make(map[string]string)
			for _, err := range fieldErrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendServiceError maps a ledger-layer error to its HTTP status:
// validation 400, business rule 422, unknown entity 404, imbalance and
// everything else 500.
func SendServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *ValidationError
		notAllowedErr *NotAllowedError
		notFoundErr   *NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		SendErrorResponse(w, validationErr.Msg, http.StatusBadRequest, nil)
	case errors.As(err, &notAllowedErr):
		SendErrorResponse(w, notAllowedErr.Msg, http.StatusUnprocessableEntity, nil)
	case errors.As(err, &notFoundErr):
		SendErrorResponse(w, notFoundErr.Error(), http.StatusNotFound, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
