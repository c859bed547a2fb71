package models

import "time"

// Frequency is the cadence of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Recurrence is the rule attached to a series root. At most one of EndDate
// and EndAfterOccurrences may be set; neither means the series is unbounded.
type Recurrence struct {
	Frequency           Frequency `json:"frequency"`
	Interval            int       `json:"interval"`
	EndDate             string    `json:"endDate,omitempty"` // YYYY-MM-DD, inclusive
	EndAfterOccurrences int       `json:"endAfterOccurrences,omitempty"`
	// ExceptionDates lists occurrence dates excluded from expansion, either
	// deleted singles or dates replaced by a materialized exception record.
	ExceptionDates []string `json:"exceptionDates,omitempty"`
}

// FieldErrors returns the names of malformed rule fields, empty when valid.
func (r *Recurrence) FieldErrors() []string {
	var fields []string
	if !r.Frequency.Valid() {
		fields = append(fields, "recurrence.frequency")
	}
	if r.Interval <= 0 {
		fields = append(fields, "recurrence.interval")
	}
	if r.EndDate != "" && r.EndAfterOccurrences > 0 {
		fields = append(fields, "recurrence.endDate", "recurrence.endAfterOccurrences")
	}
	if r.EndDate != "" {
		if _, err := time.Parse(DateLayout, r.EndDate); err != nil {
			fields = append(fields, "recurrence.endDate")
		}
	}
	if r.EndAfterOccurrences < 0 {
		fields = append(fields, "recurrence.endAfterOccurrences")
	}
	return fields
}

// HasException reports whether date is excluded from expansion.
func (r *Recurrence) HasException(date string) bool {
	for _, d := range r.ExceptionDates {
		if d == date {
			return true
		}
	}
	return false
}

// AddException records date as excluded, keeping the list free of duplicates.
func (r *Recurrence) AddException(date string) {
	if !r.HasException(date) {
		r.ExceptionDates = append(r.ExceptionDates, date)
	}
}
