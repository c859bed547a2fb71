package persistence

import (
	"context"
	"sync"

	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// MemoryStore keeps the collection in process memory. Used by tests and as
// the zero-setup fallback when no database path is configured.
type MemoryStore struct {
	mu  sync.Mutex
	col Collection

	// FailNextSave, when set, makes the next Save return that error once.
	// Lets tests exercise write-through rollback.
	FailNextSave error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored collection.
func (m *MemoryStore) Load(ctx context.Context) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Collection{Events: append([]models.Event(nil), m.col.Events...)}, nil
}

// Save replaces the stored collection.
func (m *MemoryStore) Save(ctx context.Context, c *Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextSave != nil {
		err := m.FailNextSave
		m.FailNextSave = nil
		return err
	}
	m.col = Collection{Events: append([]models.Event(nil), c.Events...)}
	return nil
}
