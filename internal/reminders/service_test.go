package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/mrted88/gas-engineer-crm/internal/events"
	"github.com/mrted88/gas-engineer-crm/internal/models"
)

type staticLister struct {
	events []models.Event
	start  string
	end    string
}

func (s *staticLister) List(ctx context.Context, start, end string) ([]models.Event, error) {
	s.start, s.end = start, end
	return s.events, nil
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
}

func TestCheckNow(t *testing.T) {
	logger := zerolog.New(io.Discard)

	newService := func(lister *staticLister, bus Publisher) *Service {
		svc := NewService(Config{DaysOut: 2}, lister, bus, &logger)
		svc.now = fixedClock
		return svc
	}

	t.Run("PublishesUpcomingAppointments", func(t *testing.T) {
		lister := &staticLister{events: []models.Event{
			{ID: "e1", Title: "Boiler service", Date: "2026-03-02", StartTime: "09:00", Status: models.StatusScheduled},
			{ID: "e2", Title: "Cancelled visit", Date: "2026-03-02", StartTime: "11:00", Status: models.StatusCancelled},
		}}
		bus := events.NewEventBus()
		var got []Reminder
		bus.Subscribe(TopicReminderDue, func(e events.Event) error {
			var r Reminder
			if err := json.Unmarshal(e.Payload, &r); err != nil {
				return err
			}
			got = append(got, r)
			return nil
		})

		svc := newService(lister, bus)
		assert.NoError(t, svc.CheckNow(context.Background()))

		assert.Equal(t, "2026-03-02", lister.start)
		assert.Equal(t, "2026-03-03", lister.end)
		assert.Len(t, got, 1)
		assert.Equal(t, "e1", got[0].EventID)
	})

	t.Run("DoesNotRepeatForSameDate", func(t *testing.T) {
		lister := &staticLister{events: []models.Event{
			{ID: "e1", Title: "Boiler service", Date: "2026-03-02", StartTime: "09:00", Status: models.StatusScheduled},
		}}
		bus := events.NewEventBus()
		var count int
		bus.Subscribe(TopicReminderDue, func(events.Event) error { count++; return nil })

		svc := newService(lister, bus)
		assert.NoError(t, svc.CheckNow(context.Background()))
		assert.NoError(t, svc.CheckNow(context.Background()))
		assert.Equal(t, 1, count)

		// A moved appointment is reminded again for its new date.
		lister.events[0].Date = "2026-03-03"
		assert.NoError(t, svc.CheckNow(context.Background()))
		assert.Equal(t, 2, count)
	})

	t.Run("RetriesAfterFailedPublish", func(t *testing.T) {
		lister := &staticLister{events: []models.Event{
			{ID: "e1", Title: "Boiler service", Date: "2026-03-02", StartTime: "09:00", Status: models.StatusScheduled},
		}}
		bus := &flakyPublisher{failures: 1}

		svc := newService(lister, bus)
		assert.NoError(t, svc.CheckNow(context.Background()))
		assert.Empty(t, svc.sent)

		// The failed reminder goes out on the next scan, once.
		assert.NoError(t, svc.CheckNow(context.Background()))
		assert.NoError(t, svc.CheckNow(context.Background()))
		assert.Equal(t, 2, bus.calls)
		assert.Equal(t, "2026-03-02", svc.sent["e1"])
	})
}

// flakyPublisher fails the first n publishes, then succeeds.
type flakyPublisher struct {
	failures int
	calls    int
}

func (p *flakyPublisher) PublishJSON(string, any) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	return nil
}
