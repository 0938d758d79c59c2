package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/franchisepay/backend/internal/services"
)

type CountersHandler struct {
	service   *services.CountersService
	validator *services.ValidationHelper
}

func NewCountersHandler(service *services.CountersService) *CountersHandler {
	return &CountersHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GetCounters returns the aggregated counter for a type and locations
// @Summary Get dashboard counters
// @Description Sum the cached (count, amount) pair for a counter type across locations, recomputing on any cache miss
// @Tags counters
// @Produce json
// @Param type query string true "Counter type, e.g. invoices:draft"
// @Param locationIds query string true "Comma-separated location IDs"
// @Success 200 {object} object{type=string,count=int,amount=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /counters [get]
func (h *CountersHandler) GetCounters(w http.ResponseWriter, r *http.Request) {
	counterType, err := services.ParseCounterType(r.URL.Query().Get("type"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	locationIDs, err := parseLocationIDs(r.URL.Query().Get("locationIds"))
	if err != nil {
		services.SendErrorResponse(w, "invalid locationIds", http.StatusBadRequest, nil)
		return
	}
	if len(locationIDs) == 0 {
		services.SendErrorResponse(w, "locationIds is required", http.StatusBadRequest, nil)
		return
	}

	item, err := h.service.Get(counterType, locationIDs)
	if err != nil {
		log.Printf("[COUNTERS] Get failed for type %s: %v", counterType, err)
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"type":   counterType,
		"count":  item.Count,
		"amount": item.Amount,
	})
}

// RecalculateCounters refreshes every cached counter for the locations
// @Summary Recalculate dashboard counters
// @Description Re-run all listing queries for the locations and overwrite the cached counters, even to zero
// @Tags counters
// @Accept json
// @Produce json
// @Param request body object{locationIds=[]int} true "Locations to recalculate"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Router /counters/recalculate [post]
func (h *CountersHandler) RecalculateCounters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocationIDs []int64 `json:"locationIds" validate:"required,min=1"`
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

	if err := h.service.Recalculate(req.LocationIDs); err != nil {
		log.Printf("[COUNTERS] Recalculate failed: %v", err)
		services.SendErrorResponse(w, "Failed to recalculate counters", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}

func parseLocationIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
