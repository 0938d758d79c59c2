package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/franchisepay/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR issues a pay-by-QR code for an invoice
// @Summary Generate invoice pay code
// @Description Issue a short-lived QR code carrying the invoice's current amount due
// @Tags qr
// @Accept json
// @Produce json
// @Param request body object{invoiceId=int} true "Invoice"
// @Success 200 {object} object{payCode=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /qr/generate [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID int64 `json:"invoiceId" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payCode, qrImage, err := h.service.GenerateInvoicePayCode(r.Context(), req.InvoiceID)
	if err != nil {
		log.Printf("[QR] Generate failed for invoice %d: %v", req.InvoiceID, err)
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"payCode": payCode,
		"qrImage": qrImage,
	})
}

// ProcessQR consumes a scanned pay code
// @Summary Process invoice pay code
// @Description Validate and consume a single-use invoice pay code
// @Tags qr
// @Accept json
// @Produce json
// @Param request body object{payCode=string} true "Scanned code"
// @Success 200 {object} object{invoiceId=int,amountDue=string}
// @Failure 422 {object} services.ErrorResponse
// @Router /qr/process [post]
func (h *QRHandler) ProcessQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayCode string `json:"payCode" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := h.service.ProcessPayCode(r.Context(), req.PayCode)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
