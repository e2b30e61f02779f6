// Package store keeps compiled records so they can be listed, reloaded and
// instantiated again later.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
)

// Store persists records keyed by their UUID.
type Store interface {
	// Save inserts the record or replaces the one with the same UUID.
	Save(ctx context.Context, rec *model.Record) error
	// Load returns the record with the given UUID or ErrRecordNotFound.
	Load(ctx context.Context, id uuid.UUID) (*model.Record, error)
	// List returns every stored record ordered by flow name then UUID.
	List(ctx context.Context) ([]*model.Record, error)
	// Delete removes the record with the given UUID or returns ErrRecordNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the store selected by driver. An empty driver opens a memory store.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := NewPostgresStore(PostgresConfig{ConnectionString: dsn})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// encode checks the record is storable and returns its JSON body.
func encode(rec *model.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("store: record is nil")
	}
	if rec.UUID == uuid.Nil {
		return nil, fmt.Errorf("store: record %q has no uuid", rec.Flow)
	}
	return rec.ToJSON()
}

func notFound(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", errspkg.ErrRecordNotFound, id)
}
