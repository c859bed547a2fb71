// Package api exposes the scheduling CRM over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/availability"
	"github.com/mrted88/gas-engineer-crm/internal/customers"
	"github.com/mrted88/gas-engineer-crm/internal/metrics"
	"github.com/mrted88/gas-engineer-crm/internal/reports"
	"github.com/mrted88/gas-engineer-crm/internal/store"
)

// Options carries the server's collaborators and tunables.
type Options struct {
	Events       *store.EventStore
	Customers    *customers.Directory
	Availability *availability.Checker
	Reports      *reports.Service
	Logger       zerolog.Logger

	DaySchedule availability.DaySchedule

	// Rate limiting across all API requests. Zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// Server is the HTTP front of the CRM.
type Server struct {
	opts    Options
	limiter *rate.Limiter
	mux     *http.ServeMux
}

// NewServer wires the routes and returns the server.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			// Fractional rates truncate to zero, which would reject everything.
			burst = int(opts.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET /api/events", "events_list", s.handleListEvents)
	s.handle("POST /api/events", "events_create", s.handleCreateEvent)
	s.handle("GET /api/events/search", "events_search", s.handleSearchEvents)
	s.handle("GET /api/events/conflicts", "events_conflicts", s.handleCheckConflicts)
	s.handle("GET /api/events/{id}", "events_get", s.handleGetEvent)
	s.handle("PUT /api/events/{id}", "events_update", s.handleUpdateEvent)
	s.handle("PATCH /api/events/{id}", "events_update", s.handleUpdateEvent)
	s.handle("DELETE /api/events/{id}", "events_delete", s.handleDeleteEvent)
	s.handle("PATCH /api/events/{id}/status", "events_status", s.handleUpdateStatus)
	s.handle("PUT /api/events/{id}/status", "events_status", s.handleUpdateStatus)

	s.handle("GET /api/availability", "availability", s.handleAvailability)
	s.handle("GET /api/reports/events", "reports_events", s.handleEventReport)

	s.handle("GET /api/customers", "customers_list", s.handleListCustomers)
	s.handle("POST /api/customers", "customers_create", s.handleCreateCustomer)
	s.handle("GET /api/customers/search", "customers_search", s.handleSearchCustomers)
	s.handle("GET /api/customers/{id}", "customers_get", s.handleGetCustomer)
	s.handle("PUT /api/customers/{id}", "customers_update", s.handleUpdateCustomer)
	s.handle("DELETE /api/customers/{id}", "customers_delete", s.handleDeleteCustomer)
}

func (s *Server) handle(pattern, name string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(name)
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		h(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.opts.Logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Dur("took", time.Since(start)).
		Msg("request handled")
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, fields []string) {
	writeJSON(w, status, errorBody{Error: msg, Fields: fields})
}

// respondError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind, known := apperr.KindOf(err)
	if !known {
		s.opts.Logger.Error().Err(err).Msg("unhandled error")
		writeError(w, status, err.Error(), nil)
		return
	}
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidRange:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
		metrics.IncEventConflict()
	case apperr.KindPersistence:
		s.opts.Logger.Error().Err(err).Msg("persistence failure")
	}
	writeError(w, status, err.Error(), apperr.FieldsOf(err))
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation(fmt.Sprintf("malformed request body: %v", err))
	}
	return nil
}
