package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/franchisepay/backend/internal/services"
)

func newCountersHandler(t *testing.T) (*CountersHandler, sqlmock.Sqlmock, redismock.ClientMock, func()) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	redisClient, redisMock := redismock.NewClientMock()
	service := services.NewCountersService(redisClient, services.NewListingService(db))
	return NewCountersHandler(service), dbMock, redisMock, func() { db.Close() }
}

func TestCountersHandler_GetCounters(t *testing.T) {
	handler, dbMock, redisMock, closeDB := newCountersHandler(t)
	defer closeDB()

	t.Run("returns the aggregated counter", func(t *testing.T) {
		redisMock.ExpectGet("counters:invoices:draft:1").
			SetVal(`{"count":2,"amount":"150"}`)
		redisMock.ExpectGet("counters:invoices:draft:2").
			SetVal(`{"count":1,"amount":"200"}`)

		req := httptest.NewRequest(http.MethodGet, "/counters?type=invoices:draft&locationIds=1,2", nil)
		w := httptest.NewRecorder()
		handler.GetCounters(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "invoices:draft", resp["type"])
		assert.Equal(t, float64(3), resp["count"])
		assert.Equal(t, "350", resp["amount"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown counter type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/counters?type=invoices:archived&locationIds=1", nil)
		w := httptest.NewRecorder()
		handler.GetCounters(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing locationIds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/counters?type=invoices:draft", nil)
		w := httptest.NewRecorder()
		handler.GetCounters(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed locationIds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/counters?type=invoices:draft&locationIds=1,abc", nil)
		w := httptest.NewRecorder()
		handler.GetCounters(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCountersHandler_RecalculateCounters(t *testing.T) {
	handler, dbMock, redisMock, closeDB := newCountersHandler(t)
	defer closeDB()

	t.Run("recalculates every counter type", func(t *testing.T) {
		for _, counterType := range services.AllCounterTypes() {
			dbMock.ExpectQuery("SELECT").
				WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"id", "location_id", "amount"}))
			redisMock.ExpectSet("counters:"+string(counterType)+":1", []byte(`{"count":0,"amount":"0"}`), 0).
				SetVal("OK")
		}

		req := httptest.NewRequest(http.MethodPost, "/counters/recalculate",
			strings.NewReader(`{"locationIds":[1]}`))
		w := httptest.NewRecorder()
		handler.RecalculateCounters(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("empty locations are rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/counters/recalculate",
			strings.NewReader(`{"locationIds":[]}`))
		w := httptest.NewRecorder()
		handler.RecalculateCounters(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/counters/recalculate",
			strings.NewReader(`{"locationIds":[1],"extra":true}`))
		w := httptest.NewRecorder()
		handler.RecalculateCounters(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
