// Package persistence owns durable storage of the event collection. The
// store writes through on every mutation; Save must be all-or-nothing so the
// in-memory state and the backing store never diverge.
package persistence

import (
	"context"

	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// Collection is the persisted event set.
type Collection struct {
	Events []models.Event `json:"events"`
}

// Store loads and saves the full event collection.
type Store interface {
	Load(ctx context.Context) (*Collection, error)
	Save(ctx context.Context, c *Collection) error
}
