package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/metrics"
	"github.com/mrted88/gas-engineer-crm/internal/models"
	"github.com/mrted88/gas-engineer-crm/internal/persistence"
	"github.com/mrted88/gas-engineer-crm/internal/recurrence"
)

func defaultNewID() string { return uuid.NewString() }

// Create validates the draft, resolves the customer reference and persists a
// new event with default status scheduled.
func (s *EventStore) Create(ctx context.Context, draft models.EventDraft) (*models.Event, error) {
	if fields := draftFields(&draft); len(fields) > 0 {
		return nil, apperr.Validation("missing or malformed event fields", fields...)
	}

	customer, err := s.customer.Resolve(ctx, draft.CustomerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ev := &models.Event{
		ID:           s.newID(),
		Title:        draft.Title,
		Date:         draft.Date,
		StartTime:    draft.StartTime,
		Duration:     draft.Duration,
		CustomerID:   draft.CustomerID,
		CustomerName: customer.Name,
		Status:       models.StatusScheduled,
		Notes:        draft.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if draft.Recurrence != nil {
		rec := *draft.Recurrence
		rec.ExceptionDates = append([]string(nil), draft.Recurrence.ExceptionDates...)
		ev.Recurrence = &rec
		ev.SeriesID = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enforce {
		conflicts, err := s.overlappingLocked(s.events, ev.Date, ev.StartTime, ev.Duration, skipSameSeries(ev))
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, apperr.Conflict("slot %s %s overlaps %d existing booking(s)", ev.Date, ev.StartTime, len(conflicts))
		}
	}

	if err := s.stage(ctx, func(next map[string]*models.Event) error {
		next[ev.ID] = ev
		return nil
	}); err != nil {
		return nil, err
	}

	metrics.IncEventMutation("create")
	s.publish(TopicEventCreated, ev)
	return ev.Clone(), nil
}

// Update merges the patch into the event, re-validates and bumps the
// version. When the target belongs to a recurring series and the patch
// carries a scope, the edit is delegated to the recurrence resolver. A
// lazily resolved occurrence id without a scope defaults to scope single.
func (s *EventStore) Update(ctx context.Context, id string, patch models.EventPatch) (*models.Event, error) {
	return s.updateWith(ctx, id, patch, TopicEventUpdated)
}

// UpdateStatus is the convenience mutation restricted to the status field.
func (s *EventStore) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.Event, error) {
	st := status
	return s.updateWith(ctx, id, models.EventPatch{Status: &st}, TopicEventStatusChanged)
}

func (s *EventStore) updateWith(ctx context.Context, id string, patch models.EventPatch, topic string) (*models.Event, error) {
	if fields := patchFields(&patch); len(fields) > 0 {
		return nil, apperr.Validation("malformed patch fields", fields...)
	}

	var customerName string
	if patch.CustomerID != nil {
		customer, err := s.customer.Resolve(ctx, *patch.CustomerID)
		if err != nil {
			return nil, err
		}
		customerName = customer.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.getLocked(s.events, id)
	if err != nil {
		return nil, err
	}

	root := s.rootOfLocked(target)
	_, virtual := s.events[id]
	virtual = !virtual
	if virtual && patch.Scope == "" {
		patch.Scope = models.ScopeSingle
	}
	scoped := patch.Scope != "" && root != nil

	// Optimistic concurrency: the version lives on the stored record; for a
	// lazily resolved occurrence that is the series root.
	if patch.ExpectedVersion != 0 {
		authoritative := s.events[id]
		if authoritative == nil {
			authoritative = root
		}
		if authoritative.Version != patch.ExpectedVersion {
			return nil, apperr.Conflict("stale write: version %d, expected %d",
				authoritative.Version, patch.ExpectedVersion)
		}
	}

	// An empty patch is a no-op: no version bump, no write-through.
	if patch.IsEmpty() {
		return target, nil
	}

	if target.Status.Terminal() && patch.TouchesTime() {
		return nil, apperr.Validation(
			fmt.Sprintf("event is %s; its schedule can no longer change", target.Status), "status")
	}
	if scoped && patch.Scope != models.ScopeSingle && patch.Date != nil {
		return nil, apperr.Validation("date cannot be applied to multiple occurrences", "date")
	}

	merge := s.mergeFunc(&patch, customerName)
	now := s.now()
	var updated *models.Event

	if scoped {
		err = s.stage(ctx, func(next map[string]*models.Event) error {
			stagedRoot, ok := next[root.ID]
			if !ok {
				return apperr.NotFound("series root %s not found", root.ID)
			}
			stagedTarget, ok := next[id]
			if !ok {
				stagedTarget = recurrence.Occurrence(stagedRoot, target.Date)
			}
			result, err := s.resolver.ApplyUpdate(mapSeries(next), stagedRoot, stagedTarget, patch.Scope, merge, now, s.newID)
			if err != nil {
				return err
			}
			if s.enforce && patch.TouchesTime() {
				if err := s.seriesConflictsLocked(next, result, target.Date); err != nil {
					return err
				}
			}
			updated = result.Clone()
			return nil
		})
	} else {
		err = s.stage(ctx, func(next map[string]*models.Event) error {
			ev, ok := next[id]
			if !ok {
				return apperr.NotFound("event %s not found", id)
			}
			if err := merge(ev); err != nil {
				return err
			}
			ev.UpdatedAt = now
			ev.Version++
			if s.enforce && patch.TouchesTime() {
				conflicts, err := s.overlappingLocked(next, ev.Date, ev.StartTime, ev.Duration, skipSameSeries(ev))
				if err != nil {
					return err
				}
				if len(conflicts) > 0 {
					return apperr.Conflict("slot %s %s overlaps %d existing booking(s)", ev.Date, ev.StartTime, len(conflicts))
				}
			}
			updated = ev.Clone()
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	if topic == TopicEventStatusChanged {
		metrics.IncEventMutation("status")
	} else {
		metrics.IncEventMutation("update")
	}
	s.publish(topic, updated)
	return updated, nil
}

// Delete removes the event. Scope defaults to single and is ignored for
// non-recurring events. Delete is not idempotent: a second call reports
// NotFound.
func (s *EventStore) Delete(ctx context.Context, id string, scope models.UpdateScope) error {
	if scope == "" {
		scope = models.ScopeSingle
	}
	if !scope.Valid() {
		return apperr.Validation("unknown delete scope", "scope")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.getLocked(s.events, id)
	if err != nil {
		return err
	}
	root := s.rootOfLocked(target)
	now := s.now()

	if root != nil {
		err = s.stage(ctx, func(next map[string]*models.Event) error {
			stagedRoot, ok := next[root.ID]
			if !ok {
				return apperr.NotFound("series root %s not found", root.ID)
			}
			stagedTarget, ok := next[id]
			if !ok {
				stagedTarget = recurrence.Occurrence(stagedRoot, target.Date)
			}
			return s.resolver.ApplyDelete(mapSeries(next), stagedRoot, stagedTarget, scope, now)
		})
	} else {
		err = s.stage(ctx, func(next map[string]*models.Event) error {
			delete(next, id)
			return nil
		})
	}
	if err != nil {
		return err
	}

	metrics.IncEventMutation("delete")
	s.publish(TopicEventDeleted, map[string]any{"id": id, "scope": scope})
	return nil
}

// rootOfLocked returns the series root governing target, or nil for plain
// events (and orphaned children, which degrade to plain records).
func (s *EventStore) rootOfLocked(target *models.Event) *models.Event {
	if target.IsRecurring() {
		return s.events[target.ID]
	}
	if target.ParentEventID != "" {
		if root, ok := s.events[target.ParentEventID]; ok && root.IsRecurring() {
			return root
		}
	}
	return nil
}

// stage applies fn to a deep copy of the collection, writes the result
// through to persistence and installs it only when the save succeeds, so a
// persistence failure never leaves memory and backing store diverged.
func (s *EventStore) stage(ctx context.Context, fn func(next map[string]*models.Event) error) error {
	next := make(map[string]*models.Event, len(s.events)+1)
	for k, v := range s.events {
		next[k] = v.Clone()
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persist.Save(ctx, collectionOf(next)); err != nil {
		return apperr.Persistence(err, "write-through to backing store failed")
	}
	s.events = next
	return nil
}

func (s *EventStore) publish(topic string, payload any) {
	if s.bus == nil {
		return
	}
	// Notification failures do not fail the committed mutation.
	if err := s.bus.PublishJSON(topic, payload); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("publish domain event")
	}
}

// overlappingLocked returns blocking events on date whose interval overlaps
// [startTime, startTime+duration), after recurrence expansion.
func (s *EventStore) overlappingLocked(events map[string]*models.Event, date, startTime string, duration int, skip func(*models.Event) bool) ([]models.Event, error) {
	from, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+startTime, time.UTC)
	if err != nil {
		return nil, apperr.Validation("malformed date or time", "date", "time")
	}
	to := from.Add(time.Duration(duration) * time.Minute)

	day, err := s.listLocked(events, date, date)
	if err != nil {
		return nil, err
	}
	var out []models.Event
	for i := range day {
		ev := &day[i]
		if !ev.Status.Blocking() {
			continue
		}
		if skip != nil && skip(ev) {
			continue
		}
		if ev.Overlaps(from, to) {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// seriesConflictsLocked rejects a scoped time change that double-books a
// slot. Candidate dates are the targeted occurrence's date plus the dates of
// every concrete blocking record; for each date where the updated record
// occurs, the staged day is checked for overlaps.
func (s *EventStore) seriesConflictsLocked(events map[string]*models.Event, updated *models.Event, targetDate string) error {
	dates := map[string]struct{}{}
	if updated.IsRecurring() {
		dates[targetDate] = struct{}{}
		for _, ev := range events {
			if ev.ID == updated.ID || ev.IsRecurring() || !ev.Status.Blocking() {
				continue
			}
			dates[ev.Date] = struct{}{}
		}
	} else {
		dates[updated.Date] = struct{}{}
	}

	for date := range dates {
		if updated.IsRecurring() {
			on, err := s.resolver.OccursOn(updated, date)
			if err != nil {
				return err
			}
			if !on {
				continue
			}
		}
		conflicts, err := s.overlappingLocked(events, date, updated.StartTime, updated.Duration, skipSameSeries(updated))
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return apperr.Conflict("slot %s %s overlaps %d existing booking(s)", date, updated.StartTime, len(conflicts))
		}
	}
	return nil
}

// skipSameSeries excludes the event itself and its own series occurrences
// from a conflict check.
func skipSameSeries(ev *models.Event) func(*models.Event) bool {
	return func(other *models.Event) bool {
		if other.ID == ev.ID || other.ParentEventID == ev.ID {
			return true
		}
		if ev.SeriesID != "" && other.SeriesID == ev.SeriesID {
			return true
		}
		if ev.ParentEventID != "" && (other.ID == ev.ParentEventID || other.ParentEventID == ev.ParentEventID) {
			return true
		}
		return false
	}
}

func (s *EventStore) mergeFunc(patch *models.EventPatch, customerName string) func(*models.Event) error {
	return func(ev *models.Event) error {
		if ev.Status.Terminal() && patch.TouchesTime() {
			return apperr.Validation(
				fmt.Sprintf("event is %s; its schedule can no longer change", ev.Status), "status")
		}
		if patch.Status != nil {
			if !ev.Status.CanTransitionTo(*patch.Status) {
				return apperr.Validation(
					fmt.Sprintf("status cannot change from %s to %s", ev.Status, *patch.Status), "status")
			}
			ev.Status = *patch.Status
		}
		if patch.Title != nil {
			ev.Title = *patch.Title
		}
		if patch.Date != nil {
			ev.Date = *patch.Date
		}
		if patch.StartTime != nil {
			ev.StartTime = *patch.StartTime
		}
		if patch.Duration != nil {
			ev.Duration = *patch.Duration
		}
		if patch.Notes != nil {
			ev.Notes = *patch.Notes
		}
		if patch.CustomerID != nil {
			ev.CustomerID = *patch.CustomerID
			ev.CustomerName = customerName
		}
		return validateEvent(ev)
	}
}

// mapSeries adapts the staged collection to recurrence.SeriesStore.
type mapSeries map[string]*models.Event

func (m mapSeries) Put(ev *models.Event) { m[ev.ID] = ev }

func (m mapSeries) Remove(id string) { delete(m, id) }

func (m mapSeries) ChildrenOf(rootID string) []*models.Event {
	var out []*models.Event
	for _, ev := range m {
		if ev.ParentEventID == rootID && !ev.IsRecurring() {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func collectionOf(events map[string]*models.Event) *persistence.Collection {
	col := &persistence.Collection{Events: make([]models.Event, 0, len(events))}
	for _, ev := range events {
		col.Events = append(col.Events, *ev)
	}
	sort.Slice(col.Events, func(i, j int) bool {
		if col.Events[i].Date != col.Events[j].Date {
			return col.Events[i].Date < col.Events[j].Date
		}
		if col.Events[i].StartTime != col.Events[j].StartTime {
			return col.Events[i].StartTime < col.Events[j].StartTime
		}
		return col.Events[i].ID < col.Events[j].ID
	})
	return col
}
