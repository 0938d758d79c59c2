package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	type request struct {
		Name      string  `validate:"required"`
		Reference string  `validate:"max=10"`
		Items     []int64 `validate:"required,min=1"`
	}

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&request{Name: "ok", Reference: "REF-1", Items: []int64{1}})
		assert.NoError(t, err)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := vh.ValidateStruct(&request{Items: []int64{1}})
		assert.Error(t, err)
	})

	t.Run("empty slice fails min", func(t *testing.T) {
		err := vh.ValidateStruct(&request{Name: "ok", Items: []int64{}})
		assert.Error(t, err)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Something went wrong", http.StatusBadRequest, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Something went wrong", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation details per field", func(t *testing.T) {
		vh := NewValidationHelper()
		type request struct {
			Name string `validate:"required"`
		}
		err := vh.ValidateStruct(&request{})
		assert.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "Name")
	})
}

func TestSendServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation error maps to 400", validationf("bad input"), http.StatusBadRequest},
		{"not allowed maps to 422", notAllowedf("payment exceeds balance due"), http.StatusUnprocessableEntity},
		{"not found maps to 404", &NotFoundError{Entity: "invoice", ID: 4}, http.StatusNotFound},
		{"imbalance maps to 500", &LedgerImbalanceError{Increase: "100", Decrease: "90"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SendServiceError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
