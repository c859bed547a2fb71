// Package store is the single source of truth for event records. It is
// explicitly constructed with an injected persistence collaborator and a
// customer directory; every mutation writes through to the backing store
// before returning.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/models"
	"github.com/mrted88/gas-engineer-crm/internal/persistence"
	"github.com/mrted88/gas-engineer-crm/internal/recurrence"
)

// Bus topics published on mutations.
const (
	TopicEventCreated       = "event.created"
	TopicEventUpdated       = "event.updated"
	TopicEventDeleted       = "event.deleted"
	TopicEventStatusChanged = "event.status_changed"
)

// CustomerDirectory resolves customer references when denormalizing
// customerName at write time.
type CustomerDirectory interface {
	Resolve(ctx context.Context, id string) (*models.Customer, error)
}

// Publisher notifies interested parties of committed mutations.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Options configures a new EventStore.
type Options struct {
	Persistence persistence.Store
	Customers   CustomerDirectory
	Logger      *zerolog.Logger
	// Bus is optional; mutations are published after they commit.
	Bus Publisher
	// EnforceConflicts rejects creates and single-record time changes that
	// overlap an existing non-cancelled booking.
	EnforceConflicts bool
	// Now overrides the clock, for tests.
	Now func() time.Time
	// NewID overrides id generation, for tests.
	NewID func() string
}

// EventStore holds the event collection in memory and writes through to the
// persistence collaborator on every mutation. A single mutex guards the
// collection; concurrent clients additionally get optimistic version checks
// on update (see models.EventPatch.ExpectedVersion).
type EventStore struct {
	mu       sync.RWMutex
	events   map[string]*models.Event
	persist  persistence.Store
	customer CustomerDirectory
	resolver *recurrence.Resolver
	bus      Publisher
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
	enforce  bool
}

// New loads the persisted collection and returns a ready store.
func New(ctx context.Context, opts Options) (*EventStore, error) {
	if opts.Persistence == nil {
		return nil, fmt.Errorf("store: persistence is required")
	}
	if opts.Customers == nil {
		return nil, fmt.Errorf("store: customer directory is required")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	newID := defaultNewID
	if opts.NewID != nil {
		newID = opts.NewID
	}

	col, err := opts.Persistence.Load(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "load event collection")
	}
	events := make(map[string]*models.Event, len(col.Events))
	for i := range col.Events {
		ev := col.Events[i]
		events[ev.ID] = &ev
	}

	return &EventStore{
		events:   events,
		persist:  opts.Persistence,
		customer: opts.Customers,
		resolver: recurrence.New(),
		bus:      opts.Bus,
		logger:   logger,
		now:      now,
		newID:    newID,
		enforce:  opts.EnforceConflicts,
	}, nil
}

// List returns all non-deleted events whose date falls within the inclusive
// [start, end] range, with recurring series expanded into concrete
// occurrences. Ordered ascending by (date, startTime), ties broken by id.
func (s *EventStore) List(ctx context.Context, start, end string) ([]models.Event, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(s.events, start, end)
}

func (s *EventStore) listLocked(events map[string]*models.Event, start, end string) ([]models.Event, error) {
	var out []models.Event
	for _, ev := range events {
		if ev.Status == models.StatusDeleted {
			continue
		}
		if ev.IsRecurring() {
			occ, err := s.resolver.Expand(ev, start, end)
			if err != nil {
				return nil, err
			}
			out = append(out, occ...)
			continue
		}
		if ev.Date >= start && ev.Date <= end {
			out = append(out, *ev.Clone())
		}
	}
	sortEvents(out)
	return out, nil
}

// Get returns the event with the given id, resolving lazily expanded
// occurrence ids of the form "<rootID>@YYYY-MM-DD".
func (s *EventStore) Get(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(s.events, id)
}

func (s *EventStore) getLocked(events map[string]*models.Event, id string) (*models.Event, error) {
	if ev, ok := events[id]; ok && ev.Status != models.StatusDeleted {
		return ev.Clone(), nil
	}
	if rootID, date, ok := models.SplitOccurrenceID(id); ok {
		root, exists := events[rootID]
		if exists && root.IsRecurring() && root.Status != models.StatusDeleted {
			on, err := s.resolver.OccursOn(root, date)
			if err != nil {
				return nil, err
			}
			if on {
				return recurrence.Occurrence(root, date), nil
			}
		}
	}
	return nil, apperr.NotFound("event %s not found", id)
}

// Search filters the full record set. All provided predicates are ANDed:
// case-insensitive substring match on title or customerName, exact status
// and customer id, inclusive date bounds.
func (s *EventStore) Search(ctx context.Context, params models.SearchParams) ([]models.Event, error) {
	if params.StartDate != "" && params.EndDate != "" {
		if err := validateRange(params.StartDate, params.EndDate); err != nil {
			return nil, err
		}
	}
	query := strings.ToLower(params.Query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, ev := range s.events {
		if ev.Status == models.StatusDeleted {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(ev.Title), query) &&
			!strings.Contains(strings.ToLower(ev.CustomerName), query) {
			continue
		}
		if params.Status != "" && ev.Status != params.Status {
			continue
		}
		if params.CustomerID != "" && ev.CustomerID != params.CustomerID {
			continue
		}
		if params.StartDate != "" && ev.Date < params.StartDate {
			continue
		}
		if params.EndDate != "" && ev.Date > params.EndDate {
			continue
		}
		out = append(out, *ev.Clone())
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []models.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		if events[i].StartTime != events[j].StartTime {
			return events[i].StartTime < events[j].StartTime
		}
		return events[i].ID < events[j].ID
	})
}

func validateRange(start, end string) error {
	if _, err := time.Parse(models.DateLayout, start); err != nil {
		return apperr.Validation("malformed start date, expected YYYY-MM-DD", "start")
	}
	if _, err := time.Parse(models.DateLayout, end); err != nil {
		return apperr.Validation("malformed end date, expected YYYY-MM-DD", "end")
	}
	if start > end {
		return apperr.InvalidRange(fmt.Sprintf("start %s is after end %s", start, end))
	}
	return nil
}
