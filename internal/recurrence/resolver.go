// Package recurrence expands recurrence rules into concrete occurrences and
// applies scoped edits (single/future/all) across a series.
//
// Occurrences are resolved lazily from the series root; editing a single
// occurrence materializes it as an exception record that shadows the
// generated instance for its original date.
package recurrence

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// maxOccurrences caps expansion of unbounded rules over huge ranges.
const maxOccurrences = 5000

// SeriesStore is the mutable view of the event set a scoped edit operates
// on. The event store passes its staged state so the whole edit commits or
// rolls back as one write.
type SeriesStore interface {
	Put(ev *models.Event)
	Remove(id string)
	// ChildrenOf returns materialized exception records referencing rootID.
	ChildrenOf(rootID string) []*models.Event
}

// Resolver translates recurrence rules into dated occurrences.
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Expand produces the concrete occurrences of the series root whose dates
// fall within [startDate, endDate] inclusive. It is a pure function of the
// rule and the range: calling it again yields the same sequence. Exception
// dates are omitted, never an error. The root's own date is emitted as the
// root record itself; later instances are virtual occurrences carrying a
// deterministic composite id.
func (r *Resolver) Expand(root *models.Event, startDate, endDate string) ([]models.Event, error) {
	times, err := r.occurrenceTimes(root, startDate, endDate)
	if err != nil {
		return nil, err
	}

	out := make([]models.Event, 0, len(times))
	for _, t := range times {
		date := t.Format(models.DateLayout)
		if root.Recurrence.HasException(date) {
			continue
		}
		if date == root.Date {
			out = append(out, *root.Clone())
			continue
		}
		out = append(out, *Occurrence(root, date))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// OccursOn reports whether expansion of root yields an occurrence on date.
func (r *Resolver) OccursOn(root *models.Event, date string) (bool, error) {
	occ, err := r.Expand(root, date, date)
	if err != nil {
		return false, err
	}
	return len(occ) > 0, nil
}

// Occurrence synthesizes the virtual occurrence of root on date.
func Occurrence(root *models.Event, date string) *models.Event {
	occ := root.Clone()
	occ.ID = models.OccurrenceID(root.ID, date)
	occ.Date = date
	occ.Recurrence = nil
	occ.ParentEventID = root.ID
	return occ
}

// ApplyUpdate applies merge to the targeted occurrence with the given scope
// and returns the record that now represents that occurrence.
//
//   - single: only the target; a lazily resolved target is first materialized
//     as an exception record.
//   - future: the target and every same-series occurrence on or after its
//     date; the series is split at the target date.
//   - all: every occurrence including the root.
func (r *Resolver) ApplyUpdate(
	ss SeriesStore,
	root *models.Event,
	target *models.Event,
	scope models.UpdateScope,
	merge func(*models.Event) error,
	now time.Time,
	newID func() string,
) (*models.Event, error) {
	switch scope {
	case models.ScopeSingle:
		return r.updateSingle(ss, root, target, merge, now, newID)
	case models.ScopeFuture:
		if target.Date == root.Date {
			return r.updateAll(ss, root, merge, now)
		}
		return r.updateFuture(ss, root, target, merge, now, newID)
	case models.ScopeAll:
		return r.updateAll(ss, root, merge, now)
	default:
		return nil, apperr.Validation("unknown update scope", "scope")
	}
}

func (r *Resolver) updateSingle(
	ss SeriesStore,
	root *models.Event,
	target *models.Event,
	merge func(*models.Event) error,
	now time.Time,
	newID func() string,
) (*models.Event, error) {
	// Already materialized exception record: edit in place.
	if _, _, virtual := models.SplitOccurrenceID(target.ID); !virtual && target.ID != root.ID {
		if err := merge(target); err != nil {
			return nil, err
		}
		target.UpdatedAt = now
		target.Version++
		ss.Put(target)
		return target, nil
	}

	originalDate := target.Date
	child := target.Clone()
	child.ID = newID()
	child.Recurrence = nil
	child.ParentEventID = root.ID
	child.SeriesID = root.SeriesID
	if err := merge(child); err != nil {
		return nil, err
	}
	child.CreatedAt = now
	child.UpdatedAt = now
	child.Version = 1

	root.Recurrence.AddException(originalDate)
	root.UpdatedAt = now
	root.Version++

	ss.Put(child)
	ss.Put(root)
	return child, nil
}

func (r *Resolver) updateFuture(
	ss SeriesStore,
	root *models.Event,
	target *models.Event,
	merge func(*models.Event) error,
	now time.Time,
	newID func() string,
) (*models.Event, error) {
	cutoff := target.Date
	emitted, err := r.occurrencesBefore(root, cutoff)
	if err != nil {
		return nil, err
	}

	newRoot := root.Clone()
	newRoot.ID = newID()
	newRoot.Date = cutoff
	newRoot.ParentEventID = ""
	newRoot.Recurrence.ExceptionDates = datesFrom(root.Recurrence.ExceptionDates, cutoff)
	if newRoot.Recurrence.EndAfterOccurrences > 0 {
		newRoot.Recurrence.EndAfterOccurrences -= emitted
	}
	if err := merge(newRoot); err != nil {
		return nil, err
	}
	newRoot.CreatedAt = now
	newRoot.UpdatedAt = now
	newRoot.Version = 1

	truncateBefore(root, cutoff, emitted)
	root.UpdatedAt = now
	root.Version++

	for _, child := range ss.ChildrenOf(root.ID) {
		if child.Date < cutoff {
			continue
		}
		child.ParentEventID = newRoot.ID
		if err := merge(child); err != nil {
			return nil, err
		}
		child.UpdatedAt = now
		child.Version++
		ss.Put(child)
	}

	ss.Put(newRoot)
	ss.Put(root)
	return newRoot, nil
}

func (r *Resolver) updateAll(
	ss SeriesStore,
	root *models.Event,
	merge func(*models.Event) error,
	now time.Time,
) (*models.Event, error) {
	if err := merge(root); err != nil {
		return nil, err
	}
	root.UpdatedAt = now
	root.Version++
	for _, child := range ss.ChildrenOf(root.ID) {
		if err := merge(child); err != nil {
			return nil, err
		}
		child.UpdatedAt = now
		child.Version++
		ss.Put(child)
	}
	ss.Put(root)
	return root, nil
}

// ApplyDelete removes the targeted occurrence with the given scope.
// A lazily resolved single delete becomes an exception date on the rule
// rather than a record removal.
func (r *Resolver) ApplyDelete(
	ss SeriesStore,
	root *models.Event,
	target *models.Event,
	scope models.UpdateScope,
	now time.Time,
) error {
	switch scope {
	case models.ScopeSingle:
		if _, _, virtual := models.SplitOccurrenceID(target.ID); !virtual && target.ID != root.ID {
			ss.Remove(target.ID)
			return nil
		}
		root.Recurrence.AddException(target.Date)
		root.UpdatedAt = now
		root.Version++
		ss.Put(root)
		return nil

	case models.ScopeFuture:
		if target.Date == root.Date {
			return r.ApplyDelete(ss, root, target, models.ScopeAll, now)
		}
		cutoff := target.Date
		emitted, err := r.occurrencesBefore(root, cutoff)
		if err != nil {
			return err
		}
		truncateBefore(root, cutoff, emitted)
		root.UpdatedAt = now
		root.Version++
		for _, child := range ss.ChildrenOf(root.ID) {
			if child.Date >= cutoff {
				ss.Remove(child.ID)
			}
		}
		ss.Put(root)
		return nil

	case models.ScopeAll:
		for _, child := range ss.ChildrenOf(root.ID) {
			ss.Remove(child.ID)
		}
		ss.Remove(root.ID)
		return nil

	default:
		return apperr.Validation("unknown delete scope", "scope")
	}
}

// occurrenceTimes generates the raw rule instants intersecting the range,
// before exception filtering.
func (r *Resolver) occurrenceTimes(root *models.Event, startDate, endDate string) ([]time.Time, error) {
	rule, err := r.ruleOf(root)
	if err != nil {
		return nil, err
	}
	from, err := time.ParseInLocation(models.DateLayout, startDate, time.UTC)
	if err != nil {
		return nil, apperr.Validation("malformed range start", "start")
	}
	to, err := time.ParseInLocation(models.DateLayout, endDate, time.UTC)
	if err != nil {
		return nil, apperr.Validation("malformed range end", "end")
	}
	// Whole-day inclusive window.
	to = to.Add(24*time.Hour - time.Nanosecond)

	times := rule.Between(from, to, true)
	if len(times) > maxOccurrences {
		times = times[:maxOccurrences]
	}
	return times, nil
}

// occurrencesBefore counts base-rule occurrences strictly before cutoff date.
func (r *Resolver) occurrencesBefore(root *models.Event, cutoff string) (int, error) {
	rule, err := r.ruleOf(root)
	if err != nil {
		return 0, err
	}
	start, err := root.StartAt()
	if err != nil {
		return 0, apperr.Validation("series root has malformed date or time", "date", "time")
	}
	day, err := time.ParseInLocation(models.DateLayout, cutoff, time.UTC)
	if err != nil {
		return 0, apperr.Validation("malformed occurrence date", "date")
	}
	return len(rule.Between(start, day.Add(-time.Nanosecond), true)), nil
}

// ruleOf builds the rrule for the root's recurrence metadata.
func (r *Resolver) ruleOf(root *models.Event) (*rrule.RRule, error) {
	rec := root.Recurrence
	if rec == nil {
		return nil, apperr.Validation("event has no recurrence rule", "recurrence")
	}
	if fields := rec.FieldErrors(); len(fields) > 0 {
		return nil, apperr.Validation("malformed recurrence rule", fields...)
	}
	start, err := root.StartAt()
	if err != nil {
		return nil, apperr.Validation("series root has malformed date or time", "date", "time")
	}

	opt := rrule.ROption{
		Freq:     freqOf(rec.Frequency),
		Interval: rec.Interval,
		Dtstart:  start,
	}
	if rec.EndDate != "" {
		until, err := time.ParseInLocation(models.DateLayout, rec.EndDate, time.UTC)
		if err != nil {
			return nil, apperr.Validation("malformed recurrence end date", "recurrence.endDate")
		}
		// Inclusive of any occurrence on the end date itself.
		opt.Until = until.Add(24*time.Hour - time.Nanosecond)
	}
	if rec.EndAfterOccurrences > 0 {
		opt.Count = rec.EndAfterOccurrences
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, apperr.Validation("malformed recurrence rule: "+err.Error(), "recurrence")
	}
	return rule, nil
}

func freqOf(f models.Frequency) rrule.Frequency {
	switch f {
	case models.FrequencyDaily:
		return rrule.DAILY
	case models.FrequencyWeekly:
		return rrule.WEEKLY
	case models.FrequencyMonthly:
		return rrule.MONTHLY
	default:
		return rrule.YEARLY
	}
}

// truncateBefore bounds the root's rule so it stops producing occurrences on
// or after cutoff. Count-bounded rules keep their bound kind.
func truncateBefore(root *models.Event, cutoff string, emitted int) {
	rec := root.Recurrence
	if rec.EndAfterOccurrences > 0 {
		rec.EndAfterOccurrences = emitted
	} else {
		day, _ := time.ParseInLocation(models.DateLayout, cutoff, time.UTC)
		rec.EndDate = day.AddDate(0, 0, -1).Format(models.DateLayout)
	}
	rec.ExceptionDates = datesBefore(rec.ExceptionDates, cutoff)
}

func datesBefore(dates []string, cutoff string) []string {
	var out []string
	for _, d := range dates {
		if d < cutoff {
			out = append(out, d)
		}
	}
	return out
}

func datesFrom(dates []string, cutoff string) []string {
	var out []string
	for _, d := range dates {
		if d >= cutoff {
			out = append(out, d)
		}
	}
	return out
}
