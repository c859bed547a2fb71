package models

import (
	"strings"
	"time"
)

const (
	// DateLayout is the calendar-date format used on the wire and in storage.
	DateLayout = "2006-01-02"
	// TimeLayout is the start-time format (24h clock).
	TimeLayout = "15:04"
)

// Event represents one scheduled appointment.
type Event struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Date          string      `json:"date"` // YYYY-MM-DD
	StartTime     string      `json:"time"` // HH:MM
	Duration      int         `json:"duration"` // minutes
	CustomerID    string      `json:"customerId"`
	CustomerName  string      `json:"customerName"`
	Status        Status      `json:"status"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Version       int64       `json:"version"`
	Recurrence    *Recurrence `json:"recurrence,omitempty"`
	SeriesID      string      `json:"seriesId,omitempty"`
	ParentEventID string      `json:"parentEventId,omitempty"`
}

// StartAt returns the event start as an instant. Times are kept in UTC;
// the presentation layer owns timezone display.
func (e *Event) StartAt() (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.StartTime, time.UTC)
}

// EndAt returns the exclusive end of the event interval.
func (e *Event) EndAt() (time.Time, error) {
	start, err := e.StartAt()
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(e.Duration) * time.Minute), nil
}

// Overlaps reports whether the event's [start, start+duration) interval
// overlaps [from, to). Two intervals [a,b) and [c,d) overlap iff a < d && c < b.
func (e *Event) Overlaps(from, to time.Time) bool {
	start, err := e.StartAt()
	if err != nil {
		return false
	}
	end := start.Add(time.Duration(e.Duration) * time.Minute)
	return start.Before(to) && from.Before(end)
}

// IsRecurring reports whether the event is a series root.
func (e *Event) IsRecurring() bool {
	return e.Recurrence != nil
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	out := *e
	if e.Recurrence != nil {
		rec := *e.Recurrence
		rec.ExceptionDates = append([]string(nil), e.Recurrence.ExceptionDates...)
		out.Recurrence = &rec
	}
	return &out
}

// OccurrenceID builds the deterministic id of a lazily resolved occurrence.
func OccurrenceID(rootID, date string) string {
	return rootID + "@" + date
}

// SplitOccurrenceID splits a lazily resolved occurrence id back into the
// series root id and the occurrence date. ok is false for plain ids.
func SplitOccurrenceID(id string) (rootID, date string, ok bool) {
	i := strings.LastIndex(id, "@")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	rootID, date = id[:i], id[i+1:]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", "", false
	}
	return rootID, date, true
}

// EventDraft carries the caller-supplied fields for a new event.
type EventDraft struct {
	Title      string      `json:"title"`
	Date       string      `json:"date"`
	StartTime  string      `json:"time"`
	Duration   int         `json:"duration"`
	CustomerID string      `json:"customerId"`
	Notes      string      `json:"notes,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
}

// UpdateScope is the breadth of a recurring-series edit or delete.
type UpdateScope string

const (
	ScopeSingle UpdateScope = "single"
	ScopeFuture UpdateScope = "future"
	ScopeAll    UpdateScope = "all"
)

// Valid reports whether the scope is one of the known values.
func (s UpdateScope) Valid() bool {
	switch s {
	case ScopeSingle, ScopeFuture, ScopeAll:
		return true
	}
	return false
}

// EventPatch carries a partial update. Nil fields are left untouched.
type EventPatch struct {
	Title      *string     `json:"title,omitempty"`
	Date       *string     `json:"date,omitempty"`
	StartTime  *string     `json:"time,omitempty"`
	Duration   *int        `json:"duration,omitempty"`
	CustomerID *string     `json:"customerId,omitempty"`
	Notes      *string     `json:"notes,omitempty"`
	Status     *Status     `json:"status,omitempty"`
	Scope      UpdateScope `json:"recurringUpdate,omitempty"`
	// ExpectedVersion, when non-zero, makes the update conditional: the
	// mutation is rejected with a Conflict error if the stored version differs.
	ExpectedVersion int64 `json:"expectedVersion,omitempty"`
}

// IsEmpty reports whether the patch carries no field changes.
func (p *EventPatch) IsEmpty() bool {
	return p.Title == nil && p.Date == nil && p.StartTime == nil &&
		p.Duration == nil && p.CustomerID == nil && p.Notes == nil && p.Status == nil
}

// TouchesTime reports whether the patch changes the event's scheduled interval.
func (p *EventPatch) TouchesTime() bool {
	return p.Date != nil || p.StartTime != nil || p.Duration != nil
}

// SearchParams describes an in-memory filter over the event set.
// All provided predicates are ANDed.
type SearchParams struct {
	Query      string `json:"query,omitempty"`
	Status     Status `json:"status,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	StartDate  string `json:"startDate,omitempty"`
	EndDate    string `json:"endDate,omitempty"`
}

// TimeSlot is one bookable slot of a day, annotated with availability.
type TimeSlot struct {
	Start     string `json:"start"` // "09:00"
	End       string `json:"end"`   // "09:30"
	Available bool   `json:"available"`
}
