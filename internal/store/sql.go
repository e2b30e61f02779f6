package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/drblury/flowplan/internal/model"
)

// queries holds the dialect specific statements of a SQL store.
type queries struct {
	save   string
	load   string
	list   string
	delete string
}

// sqlStore implements Store on top of database/sql. The table has the columns
// uuid, flow, body and updated_at.
type sqlStore struct {
	db *sql.DB
	q  queries
}

func (s *sqlStore) Save(ctx context.Context, rec *model.Record) error {
	body, err := encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.save, rec.UUID.String(), rec.Flow, string(body)); err != nil {
		return fmt.Errorf("store: save %s: %w", rec.UUID, err)
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.q.load, id.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}
	return model.RecordFromJSON(body)
}

func (s *sqlStore) List(ctx context.Context) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		rec, err := model.RecordFromJSON(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.q.delete, id.String())
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
