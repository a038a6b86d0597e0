package results

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore inserts prediction records into a Postgres table.
type PostgresStore struct {
	db    execer
	query string
}

// NewPostgresStore creates a store writing to table (default "predictions").
// db is usually a *pgxpool.Pool.
func NewPostgresStore(db execer, table string) *PostgresStore {
	if db == nil {
		panic("results: postgres db required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = "predictions"
	}
	return &PostgresStore{
		db: db,
		query: fmt.Sprintf(
			"INSERT INTO %s (id, disease, confidence, language, created_at) VALUES ($1, $2, $3, $4, $5)",
			pgx.Identifier{table}.Sanitize(),
		),
	}
}

// Record inserts one row.
func (s *PostgresStore) Record(ctx context.Context, rec PredictionRecord) error {
	tag, err := s.db.Exec(ctx, s.query,
		pgtype.UUID{Bytes: rec.ID, Valid: true},
		rec.Disease,
		rec.RoundedConfidence(),
		string(rec.Language),
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return rejected("postgres", fmt.Errorf("%s: %s", pgErr.Code, pgErr.Message))
		}
		return unavailable("postgres", err)
	}
	if tag.RowsAffected() != 1 {
		return rejected("postgres", fmt.Errorf("inserted %d rows", tag.RowsAffected()))
	}
	return nil
}
