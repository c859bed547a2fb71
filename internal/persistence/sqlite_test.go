package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mrted88/gas-engineer-crm/internal/models"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := Open(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLite(db)
	assert.NoError(t, err)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	col := &Collection{Events: []models.Event{
		{
			ID: "e1", Title: "Boiler service", Date: "2026-03-02", StartTime: "09:00",
			Duration: 60, CustomerID: "c1", CustomerName: "Alice Smith",
			Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now, Version: 1,
		},
		{
			ID: "e2", Title: "Weekly check", Date: "2026-03-03", StartTime: "10:00",
			Duration: 30, CustomerID: "c2", CustomerName: "Bob Jones",
			Status: models.StatusScheduled, CreatedAt: now, UpdatedAt: now, Version: 2,
			SeriesID: "s1",
			Recurrence: &models.Recurrence{
				Frequency: models.FrequencyWeekly, Interval: 1,
				ExceptionDates: []string{"2026-03-10"},
			},
		},
	}}

	assert.NoError(t, store.Save(ctx, col))

	loaded, err := store.Load(ctx)
	assert.NoError(t, err)
	assert.Len(t, loaded.Events, 2)
	assert.Equal(t, "e1", loaded.Events[0].ID)
	assert.Nil(t, loaded.Events[0].Recurrence)

	recurring := loaded.Events[1]
	assert.Equal(t, "s1", recurring.SeriesID)
	assert.NotNil(t, recurring.Recurrence)
	assert.Equal(t, models.FrequencyWeekly, recurring.Recurrence.Frequency)
	assert.Equal(t, []string{"2026-03-10"}, recurring.Recurrence.ExceptionDates)

	t.Run("SaveReplacesCollection", func(t *testing.T) {
		assert.NoError(t, store.Save(ctx, &Collection{Events: col.Events[:1]}))
		loaded, err := store.Load(ctx)
		assert.NoError(t, err)
		assert.Len(t, loaded.Events, 1)
	})
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	mem.FailNextSave = assert.AnError
	err := mem.Save(ctx, &Collection{Events: []models.Event{{ID: "e1"}}})
	assert.Error(t, err)

	// The failure is one-shot.
	assert.NoError(t, mem.Save(ctx, &Collection{Events: []models.Event{{ID: "e1"}}}))
	col, err := mem.Load(ctx)
	assert.NoError(t, err)
	assert.Len(t, col.Events, 1)
}
