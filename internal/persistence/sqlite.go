package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// Open opens (or creates) the sqlite database at path and runs migrations.
// The returned handle is shared with the customer directory.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// SQLiteStore persists the event collection into a sqlite table. Save
// replaces the whole collection inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates the events table if needed and returns the store.
func NewSQLite(db *sql.DB) (*SQLiteStore, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			duration INTEGER NOT NULL,
			customer_id TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			status TEXT NOT NULL,
			notes TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			recurrence TEXT,
			series_id TEXT,
			parent_event_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_date ON events(date, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("exec migration: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the full collection.
func (s *SQLiteStore) Load(ctx context.Context) (*Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, date, start_time, duration, customer_id, customer_name,
		       status, notes, created_at, updated_at, version, recurrence,
		       series_id, parent_event_id
		FROM events
		ORDER BY date, start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	col := &Collection{}
	for rows.Next() {
		var ev models.Event
		var notes, recurrence, seriesID, parentID sql.NullString
		if err := rows.Scan(
			&ev.ID, &ev.Title, &ev.Date, &ev.StartTime, &ev.Duration,
			&ev.CustomerID, &ev.CustomerName, &ev.Status, &notes,
			&ev.CreatedAt, &ev.UpdatedAt, &ev.Version, &recurrence,
			&seriesID, &parentID,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Notes = notes.String
		ev.SeriesID = seriesID.String
		ev.ParentEventID = parentID.String
		if recurrence.Valid && recurrence.String != "" {
			var rec models.Recurrence
			if err := json.Unmarshal([]byte(recurrence.String), &rec); err != nil {
				return nil, fmt.Errorf("decode recurrence for %s: %w", ev.ID, err)
			}
			ev.Recurrence = &rec
		}
		col.Events = append(col.Events, ev)
	}
	return col, rows.Err()
}

// Save replaces the stored collection. The delete plus inserts run inside a
// single transaction; a failure rolls everything back.
func (s *SQLiteStore) Save(ctx context.Context, c *Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (
			id, title, date, start_time, duration, customer_id, customer_name,
			status, notes, created_at, updated_at, version, recurrence,
			series_id, parent_event_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range c.Events {
		ev := &c.Events[i]
		var recurrence any
		if ev.Recurrence != nil {
			data, err := json.Marshal(ev.Recurrence)
			if err != nil {
				return fmt.Errorf("encode recurrence for %s: %w", ev.ID, err)
			}
			recurrence = string(data)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.Title, ev.Date, ev.StartTime, ev.Duration,
			ev.CustomerID, ev.CustomerName, string(ev.Status), ev.Notes,
			ev.CreatedAt, ev.UpdatedAt, ev.Version, recurrence,
			ev.SeriesID, ev.ParentEventID,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}
