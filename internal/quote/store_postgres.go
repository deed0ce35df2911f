package quote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quotefeed/pkg/platform/sentinel"
)

// Postgres persists quotes in PostgreSQL. Id assignment rides on the
// sequence behind the id column, so concurrent creates cannot collide.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed store. The schema must already
// be migrated.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, q *Quote) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO quotes (message, created_at) VALUES ($1, $2) RETURNING id`,
		q.Message, q.CreatedAt,
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("create quote: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id int64) (*Quote, error) {
	var q Quote
	err := s.db.QueryRowContext(ctx,
		`SELECT id, message, created_at FROM quotes WHERE id = $1`,
		id,
	).Scan(&q.ID, &q.Message, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quote %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find quote %d: %w", id, err)
	}
	return &q, nil
}
