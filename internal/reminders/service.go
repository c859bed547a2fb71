// Package reminders scans the schedule for upcoming appointments and
// publishes reminder events on the bus.
package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// TopicReminderDue is published once per upcoming appointment per scan.
const TopicReminderDue = "reminder.due"

// EventLister supplies the events of a date range, recurrences expanded.
type EventLister interface {
	List(ctx context.Context, start, end string) ([]models.Event, error)
}

// Publisher is the bus surface the service needs.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Config tunes the scan window.
type Config struct {
	// DaysOut is how many days ahead of today the scan covers. Default 1.
	DaysOut int
}

// Service publishes reminders for appointments inside the scan window.
// Scheduling is owned by the caller (cron in cmd/server).
type Service struct {
	config Config
	store  EventLister
	bus    Publisher
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]string // event id -> date last reminded for
}

// Reminder is the payload published under TopicReminderDue.
type Reminder struct {
	EventID      string `json:"eventId"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	CustomerID   string `json:"customerId,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
}

// NewService creates a reminder service.
func NewService(cfg Config, store EventLister, bus Publisher, logger *zerolog.Logger) *Service {
	if cfg.DaysOut <= 0 {
		cfg.DaysOut = 1
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Service{
		config: cfg,
		store:  store,
		bus:    bus,
		logger: l,
		now:    time.Now,
		sent:   make(map[string]string),
	}
}

// Run performs one scan. Used as a cron job.
func (s *Service) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.CheckNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Reminder scan failed")
	}
}

// CheckNow scans [tomorrow, today+DaysOut] and publishes a reminder for each
// scheduled appointment not already reminded for its date.
func (s *Service) CheckNow(ctx context.Context) error {
	today := s.now().UTC()
	start := today.AddDate(0, 0, 1).Format(models.DateLayout)
	end := today.AddDate(0, 0, s.config.DaysOut).Format(models.DateLayout)

	upcoming, err := s.store.List(ctx, start, end)
	if err != nil {
		return err
	}

	var published int
	for i := range upcoming {
		ev := &upcoming[i]
		if !ev.Status.Blocking() || ev.Status == models.StatusCompleted {
			continue
		}
		if s.alreadySent(ev.ID, ev.Date) {
			continue
		}
		err := s.bus.PublishJSON(TopicReminderDue, Reminder{
			EventID:      ev.ID,
			Title:        ev.Title,
			Date:         ev.Date,
			Time:         ev.StartTime,
			CustomerID:   ev.CustomerID,
			CustomerName: ev.CustomerName,
		})
		if err != nil {
			// Not marked sent, so the next scan retries it.
			s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to publish reminder")
			continue
		}
		s.markSent(ev.ID, ev.Date)
		published++
	}

	if published > 0 {
		s.logger.Info().Int("count", published).Str("from", start).Str("to", end).Msg("Reminders published")
	}
	return nil
}

// alreadySent reports whether a reminder for this (event, date) pair went out.
// Rescheduled events get a fresh reminder for their new date.
func (s *Service) alreadySent(id, date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[id] == date
}

// markSent records a delivered reminder. Only successful publishes are
// recorded so failed ones are retried on the next scan.
func (s *Service) markSent(id, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[id] = date
}
