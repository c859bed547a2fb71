package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/mrted88/gas-engineer-crm/internal/availability"
	"github.com/mrted88/gas-engineer-crm/internal/customers"
	"github.com/mrted88/gas-engineer-crm/internal/models"
	"github.com/mrted88/gas-engineer-crm/internal/persistence"
	"github.com/mrted88/gas-engineer-crm/internal/reports"
	"github.com/mrted88/gas-engineer-crm/internal/store"
)

type testEnv struct {
	server   *Server
	customer *models.Customer
}

func newTestEnv(t *testing.T, enforce bool) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := persistence.Open(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir, err := customers.NewDirectory(db, &logger)
	assert.NoError(t, err)
	customer, err := dir.Create(context.Background(), models.Customer{Name: "Alice Smith"})
	assert.NoError(t, err)

	events, err := store.New(context.Background(), store.Options{
		Persistence:      persistence.NewMemory(),
		Customers:        dir,
		Logger:           &logger,
		EnforceConflicts: enforce,
	})
	assert.NoError(t, err)

	checker := availability.NewChecker(events)
	server := NewServer(Options{
		Events:       events,
		Customers:    dir,
		Availability: checker,
		Reports:      reports.NewService(events),
		Logger:       logger,
		DaySchedule:  availability.DaySchedule{StartTime: "08:00", EndTime: "18:00", SlotDuration: 30},
	})
	return &testEnv{server: server, customer: customer}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createEvent(t *testing.T, date, clock string, dur int) models.Event {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/events", models.EventDraft{
		Title: "Boiler service", Date: date, StartTime: clock, Duration: dur,
		CustomerID: e.customer.ID,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	var ev models.Event
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	return ev
}

func TestEventEndpoints(t *testing.T) {
	t.Run("CreateAndGet", func(t *testing.T) {
		env := newTestEnv(t, false)
		ev := env.createEvent(t, "2026-03-02", "09:00", 60)

		rec := env.do(t, http.MethodGet, "/api/events/"+ev.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var got models.Event
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "Alice Smith", got.CustomerName)
		assert.Equal(t, models.StatusScheduled, got.Status)
	})

	t.Run("ValidationErrorsNameFields", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, "/api/events", models.EventDraft{Title: "No date"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body struct {
			Fields []string `json:"fields"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Fields, "date")
	})

	t.Run("MalformedBody", func(t *testing.T) {
		env := newTestEnv(t, false)
		req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GetUnknownIs404", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodGet, "/api/events/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ListRange", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.createEvent(t, "2026-03-02", "09:00", 60)
		env.createEvent(t, "2026-04-02", "09:00", 60)

		rec := env.do(t, http.MethodGet, "/api/events?start=2026-03-01&end=2026-03-31", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var list []models.Event
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list, 1)
	})

	t.Run("InvertedRangeIs400", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodGet, "/api/events?start=2026-03-31&end=2026-03-01", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UpdateAndStatus", func(t *testing.T) {
		env := newTestEnv(t, false)
		ev := env.createEvent(t, "2026-03-02", "09:00", 60)

		rec := env.do(t, http.MethodPut, "/api/events/"+ev.ID, map[string]any{"title": "Renamed"})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPatch, "/api/events/"+ev.ID, map[string]any{"duration": 90})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPatch, "/api/events/"+ev.ID+"/status", map[string]string{"status": "completed"})
		assert.Equal(t, http.StatusOK, rec.Code)

		// Completed is terminal.
		rec = env.do(t, http.MethodPatch, "/api/events/"+ev.ID+"/status", map[string]string{"status": "scheduled"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		// PUT stays accepted for older clients.
		rec = env.do(t, http.MethodPut, "/api/events/"+ev.ID+"/status", map[string]string{"status": "scheduled"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ConflictIs409", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.createEvent(t, "2026-03-02", "09:00", 60)

		rec := env.do(t, http.MethodPost, "/api/events", models.EventDraft{
			Title: "Overlap", Date: "2026-03-02", StartTime: "09:30", Duration: 30,
			CustomerID: env.customer.ID,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("DeleteThen404", func(t *testing.T) {
		env := newTestEnv(t, false)
		ev := env.createEvent(t, "2026-03-02", "09:00", 60)

		rec := env.do(t, http.MethodDelete, "/api/events/"+ev.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodDelete, "/api/events/"+ev.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Search", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.createEvent(t, "2026-03-02", "09:00", 60)

		rec := env.do(t, http.MethodGet, "/api/events/search?query=boiler", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var list []models.Event
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list, 1)
	})

	t.Run("RecurringScopedDelete", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, "/api/events", models.EventDraft{
			Title: "Weekly check", Date: "2026-03-02", StartTime: "09:00", Duration: 60,
			CustomerID: env.customer.ID,
			Recurrence: &models.Recurrence{Frequency: models.FrequencyWeekly, Interval: 1, EndAfterOccurrences: 5},
		})
		assert.Equal(t, http.StatusCreated, rec.Code)
		var root models.Event
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))

		occID := models.OccurrenceID(root.ID, "2026-03-16")
		rec = env.do(t, http.MethodDelete, "/api/events/"+occID+"?scope=future", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/events?start=2026-03-01&end=2026-04-30", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var list []models.Event
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list, 2)
	})
}

func TestConflictAndAvailabilityEndpoints(t *testing.T) {
	env := newTestEnv(t, false)
	env.createEvent(t, "2026-03-02", "09:00", 60)

	t.Run("Conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/events/conflicts?date=2026-03-02&time=09:30&duration=30", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			HasConflict bool `json:"hasConflict"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.HasConflict)
	})

	t.Run("NoConflictAdjacent", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/events/conflicts?date=2026-03-02&time=10:00&duration=30", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			HasConflict bool `json:"hasConflict"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.HasConflict)
	})

	t.Run("BadDuration", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/events/conflicts?date=2026-03-02&time=09:00&duration=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DaySlots", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/availability?date=2026-03-02", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var slots []models.TimeSlot
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
		assert.Len(t, slots, 20)
		for _, s := range slots {
			if s.Start == "09:00" || s.Start == "09:30" {
				assert.False(t, s.Available, s.Start)
			}
		}
	})
}

func TestCustomerEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("CreateAndSearch", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/customers", models.Customer{Name: "Bob Jones"})
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/customers/search?q=jones", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var hits []models.Customer
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hits))
		assert.Len(t, hits, 1)
	})

	t.Run("MissingNameIs400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/customers", models.Customer{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DeleteUnknownIs404", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/customers/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReportEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.createEvent(t, "2026-03-02", "09:00", 60)

	rec := env.do(t, http.MethodGet, "/api/reports/events?start=2026-03-01&end=2026-03-31", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, rec.Body.Len())
}

func TestRateLimit(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := persistence.Open(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dir, err := customers.NewDirectory(db, &logger)
	assert.NoError(t, err)
	events, err := store.New(context.Background(), store.Options{
		Persistence: persistence.NewMemory(), Customers: dir, Logger: &logger,
	})
	assert.NoError(t, err)

	server := NewServer(Options{
		Events: events, Customers: dir,
		Availability:      availability.NewChecker(events),
		Reports:           reports.NewService(events),
		Logger:            logger,
		RequestsPerSecond: 1,
		Burst:             1,
	})

	first := httptest.NewRecorder()
	server.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/customers", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	server.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/customers", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// A fractional rate with no explicit burst still lets a request through.
	t.Run("FractionalRateAllowsFirstRequest", func(t *testing.T) {
		slow := NewServer(Options{
			Events: events, Customers: dir,
			Availability:      availability.NewChecker(events),
			Reports:           reports.NewService(events),
			Logger:            logger,
			RequestsPerSecond: 0.5,
		})

		rec := httptest.NewRecorder()
		slow.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/customers", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
