package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/models"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.opts.Events.List(r.Context(), q.Get("start"), q.Get("end"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var draft models.EventDraft
	if err := decodeBody(r, &draft); err != nil {
		s.respondError(w, err)
		return
	}
	ev, err := s.opts.Events.Create(r.Context(), draft)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.opts.Events.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch models.EventPatch
	if err := decodeBody(r, &patch); err != nil {
		s.respondError(w, err)
		return
	}
	ev, err := s.opts.Events.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	scope := models.UpdateScope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = models.ScopeSingle
	}
	if err := s.opts.Events.Delete(r.Context(), r.PathValue("id"), scope); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.Status `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.respondError(w, err)
		return
	}
	ev, err := s.opts.Events.UpdateStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := models.SearchParams{
		Query:      q.Get("query"),
		Status:     models.Status(q.Get("status")),
		CustomerID: q.Get("customerId"),
		StartDate:  q.Get("startDate"),
		EndDate:    q.Get("endDate"),
	}
	list, err := s.opts.Events.Search(r.Context(), params)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration, err := strconv.Atoi(q.Get("duration"))
	if err != nil {
		s.respondError(w, apperr.Validation("duration must be an integer", "duration"))
		return
	}
	conflicts, err := s.opts.Availability.CheckConflicts(
		r.Context(), q.Get("date"), q.Get("time"), duration, q.Get("excludeId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hasConflict": len(conflicts) > 0,
		"conflicts":   conflicts,
	})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	slots, err := s.opts.Availability.DaySlots(r.Context(), date, s.opts.DaySchedule)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) handleEventReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")

	var buf bytes.Buffer
	if err := s.opts.Reports.Export(r.Context(), start, end, &buf); err != nil {
		s.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "events_"+start+"_"+end+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Customers.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var c models.Customer
	if err := decodeBody(r, &c); err != nil {
		s.respondError(w, err)
		return
	}
	created, err := s.opts.Customers.Create(r.Context(), c)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := s.opts.Customers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var patch models.Customer
	if err := decodeBody(r, &patch); err != nil {
		s.respondError(w, err)
		return
	}
	c, err := s.opts.Customers.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Customers.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Customers.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
