// Package availability answers "is this slot free" questions against the
// event store, including slot-grid generation for a working day.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// EventLister supplies the day's bookings, with recurring series expanded.
type EventLister interface {
	List(ctx context.Context, start, end string) ([]models.Event, error)
}

// DaySchedule describes the bookable window of a working day.
type DaySchedule struct {
	StartTime    string // "08:00"
	EndTime      string // "18:00"
	SlotDuration int    // minutes
}

// Checker reports overlapping bookings and annotates candidate slots.
type Checker struct {
	events EventLister
}

// NewChecker creates a Checker over the given lister.
func NewChecker(events EventLister) *Checker {
	return &Checker{events: events}
}

// CheckConflicts returns the existing non-cancelled events on date whose
// [start, start+duration) interval overlaps the queried interval, excluding
// excludeID (used when checking a move of an event against itself).
// Overlap test: [a,b) and [c,d) overlap iff a < d && c < b.
func (c *Checker) CheckConflicts(ctx context.Context, date, startTime string, duration int, excludeID string) ([]models.Event, error) {
	if duration <= 0 {
		return nil, apperr.Validation("duration must be positive", "duration")
	}
	from, err := parseOnDate(date, startTime)
	if err != nil {
		return nil, err
	}
	to := from.Add(time.Duration(duration) * time.Minute)

	day, err := c.events.List(ctx, date, date)
	if err != nil {
		return nil, err
	}

	var conflicts []models.Event
	for i := range day {
		ev := &day[i]
		if ev.ID == excludeID {
			continue
		}
		if !ev.Status.Blocking() {
			continue
		}
		if ev.Overlaps(from, to) {
			conflicts = append(conflicts, *ev)
		}
	}
	return conflicts, nil
}

// CheckAvailability annotates each candidate slot with whether any existing
// blocking event overlaps it. Slots come back in the order given.
func (c *Checker) CheckAvailability(ctx context.Context, date string, slots []models.TimeSlot) ([]models.TimeSlot, error) {
	day, err := c.events.List(ctx, date, date)
	if err != nil {
		return nil, err
	}

	out := make([]models.TimeSlot, len(slots))
	for i, slot := range slots {
		from, err := parseOnDate(date, slot.Start)
		if err != nil {
			return nil, err
		}
		to, err := parseOnDate(date, slot.End)
		if err != nil {
			return nil, err
		}
		slot.Available = true
		for j := range day {
			ev := &day[j]
			if !ev.Status.Blocking() {
				continue
			}
			if ev.Overlaps(from, to) {
				slot.Available = false
				break
			}
		}
		out[i] = slot
	}
	return out, nil
}

// DaySlots generates the slot grid for a working day and annotates it.
func (c *Checker) DaySlots(ctx context.Context, date string, schedule DaySchedule) ([]models.TimeSlot, error) {
	if schedule.SlotDuration <= 0 {
		schedule.SlotDuration = 30
	}
	start, err := parseOnDate(date, schedule.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseOnDate(date, schedule.EndTime)
	if err != nil {
		return nil, err
	}

	step := time.Duration(schedule.SlotDuration) * time.Minute
	var slots []models.TimeSlot
	for cursor := start; !cursor.Add(step).After(end); cursor = cursor.Add(step) {
		slots = append(slots, models.TimeSlot{
			Start: cursor.Format(models.TimeLayout),
			End:   cursor.Add(step).Format(models.TimeLayout),
		})
	}
	return c.CheckAvailability(ctx, date, slots)
}

func parseOnDate(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("malformed date or time %q %q", date, clock), "date", "time")
	}
	return t, nil
}
