// Package customers owns the customer records and resolves customer
// references for the event store.
package customers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mrted88/gas-engineer-crm/internal/apperr"
	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// Directory is the sqlite-backed customer store.
type Directory struct {
	db     *sql.DB
	logger zerolog.Logger

	cache    *redis.Client
	cacheTTL time.Duration
}

// NewDirectory creates the customers table if needed and returns the
// directory.
func NewDirectory(db *sql.DB, logger *zerolog.Logger) (*Directory, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			address TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(name)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("exec migration: %w", err)
		}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Directory{db: db, logger: l}, nil
}

// UseRedisCache configures optional read-through caching for Resolve.
func (d *Directory) UseRedisCache(client *redis.Client, ttl time.Duration) {
	d.cache = client
	d.cacheTTL = ttl
}

// Resolve returns the customer for id, consulting the cache first. The
// cached name is what the event store denormalizes at write time.
func (d *Directory) Resolve(ctx context.Context, id string) (*models.Customer, error) {
	key := "customer:" + id
	if c, ok := d.readCache(ctx, key); ok {
		return c, nil
	}
	c, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d.writeCache(ctx, key, c)
	return c, nil
}

// Get returns the customer by id.
func (d *Directory) Get(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	var email, phone, address sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &email, &phone, &address, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("customer %s not found", id)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "read customer")
	}
	c.Email = email.String
	c.Phone = phone.String
	c.Address = address.String
	return &c, nil
}

// Create validates and inserts a new customer.
func (d *Directory) Create(ctx context.Context, c models.Customer) (*models.Customer, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("customer name is required", "name")
	}
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, apperr.Persistence(err, "insert customer")
	}
	return &c, nil
}

// Update merges the non-empty fields into the customer record.
func (d *Directory) Update(ctx context.Context, id string, patch models.Customer) (*models.Customer, error) {
	current, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != "" {
		current.Name = patch.Name
	}
	if patch.Email != "" {
		current.Email = patch.Email
	}
	if patch.Phone != "" {
		current.Phone = patch.Phone
	}
	if patch.Address != "" {
		current.Address = patch.Address
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = d.db.ExecContext(ctx, `
		UPDATE customers SET name = ?, email = ?, phone = ?, address = ?, updated_at = ?
		WHERE id = ?`,
		current.Name, current.Email, current.Phone, current.Address, current.UpdatedAt, id)
	if err != nil {
		return nil, apperr.Persistence(err, "update customer")
	}
	d.invalidate(ctx, "customer:"+id)
	return current, nil
}

// Delete removes the customer. A second delete reports NotFound.
func (d *Directory) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	if err != nil {
		return apperr.Persistence(err, "delete customer")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence(err, "delete customer")
	}
	if n == 0 {
		return apperr.NotFound("customer %s not found", id)
	}
	d.invalidate(ctx, "customer:"+id)
	return nil
}

// List returns all customers ordered by name.
func (d *Directory) List(ctx context.Context) ([]models.Customer, error) {
	return d.query(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers ORDER BY name, id`)
}

// Search returns customers whose name, email or phone contains the query,
// case-insensitively.
func (d *Directory) Search(ctx context.Context, query string) ([]models.Customer, error) {
	like := "%" + strings.ToLower(query) + "%"
	return d.query(ctx, `
		SELECT id, name, email, phone, address, created_at, updated_at
		FROM customers
		WHERE lower(name) LIKE ? OR lower(email) LIKE ? OR phone LIKE ?
		ORDER BY name, id`, like, like, like)
}

func (d *Directory) query(ctx context.Context, q string, args ...any) ([]models.Customer, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err, "query customers")
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		var c models.Customer
		var email, phone, address sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &email, &phone, &address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apperr.Persistence(err, "scan customer")
		}
		c.Email = email.String
		c.Phone = phone.String
		c.Address = address.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "query customers")
	}
	return out, nil
}

func (d *Directory) readCache(ctx context.Context, key string) (*models.Customer, bool) {
	if d.cache == nil || d.cacheTTL <= 0 {
		return nil, false
	}
	val, err := d.cache.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var c models.Customer
	if err := json.Unmarshal([]byte(val), &c); err != nil {
		return nil, false
	}
	return &c, true
}

func (d *Directory) writeCache(ctx context.Context, key string, c *models.Customer) {
	if d.cache == nil || d.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, data, d.cacheTTL).Err(); err != nil {
		d.logger.Debug().Err(err).Str("key", key).Msg("customer cache write failed")
	}
}

func (d *Directory) invalidate(ctx context.Context, key string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Del(ctx, key).Err(); err != nil {
		d.logger.Debug().Err(err).Str("key", key).Msg("customer cache invalidation failed")
	}
}
