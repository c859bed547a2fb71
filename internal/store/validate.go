package store

import (
	"strings"
	"time"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/models"
)

func validDate(s string) bool {
	_, err := time.Parse(models.DateLayout, s)
	return err == nil
}

func validClock(s string) bool {
	_, err := time.Parse(models.TimeLayout, s)
	return err == nil
}

// draftFields returns the names of missing or malformed draft fields.
func draftFields(d *models.EventDraft) []string {
	var fields []string
	if strings.TrimSpace(d.Title) == "" {
		fields = append(fields, "title")
	}
	if !validDate(d.Date) {
		fields = append(fields, "date")
	}
	if !validClock(d.StartTime) {
		fields = append(fields, "time")
	}
	if d.Duration <= 0 {
		fields = append(fields, "duration")
	}
	if strings.TrimSpace(d.CustomerID) == "" {
		fields = append(fields, "customerId")
	}
	if d.Recurrence != nil {
		fields = append(fields, d.Recurrence.FieldErrors()...)
	}
	return fields
}

// patchFields returns the names of malformed patch fields. Unset fields are
// not validated.
func patchFields(p *models.EventPatch) []string {
	var fields []string
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		fields = append(fields, "title")
	}
	if p.Date != nil && !validDate(*p.Date) {
		fields = append(fields, "date")
	}
	if p.StartTime != nil && !validClock(*p.StartTime) {
		fields = append(fields, "time")
	}
	if p.Duration != nil && *p.Duration <= 0 {
		fields = append(fields, "duration")
	}
	if p.CustomerID != nil && strings.TrimSpace(*p.CustomerID) == "" {
		fields = append(fields, "customerId")
	}
	if p.Status != nil && !p.Status.Valid() {
		fields = append(fields, "status")
	}
	if p.Scope != "" && !p.Scope.Valid() {
		fields = append(fields, "scope")
	}
	return fields
}

// validateEvent re-checks record invariants after a merge.
func validateEvent(ev *models.Event) error {
	var fields []string
	if strings.TrimSpace(ev.Title) == "" {
		fields = append(fields, "title")
	}
	if !validDate(ev.Date) {
		fields = append(fields, "date")
	}
	if !validClock(ev.StartTime) {
		fields = append(fields, "time")
	}
	if ev.Duration <= 0 {
		fields = append(fields, "duration")
	}
	if strings.TrimSpace(ev.CustomerID) == "" {
		fields = append(fields, "customerId")
	}
	if !ev.Status.Valid() {
		fields = append(fields, "status")
	}
	if ev.Recurrence != nil {
		fields = append(fields, ev.Recurrence.FieldErrors()...)
	}
	if len(fields) > 0 {
		return apperr.Validation("event failed validation", fields...)
	}
	return nil
}
