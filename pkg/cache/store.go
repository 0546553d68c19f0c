package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Row is one CompletionCache row.
type Row struct {
	ModelID    string
	Prompt     string
	PromptHash string
	ParamsFP   string
	Output     string
}

// Store is the durable row tier of the completion cache.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a row-tier Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Find looks up a cached row by its fingerprint, returning (row, true, nil)
// on a hit or (zero, false, nil) on a clean miss.
func (s *Store) Find(ctx context.Context, modelID, promptHash, paramsFP string) (Row, bool, error) {
	var row Row
	err := s.pool.QueryRow(ctx, `
		SELECT model_id, prompt, prompt_hash, params_fingerprint, output
		FROM completion_cache
		WHERE model_id = $1 AND prompt_hash = $2 AND params_fingerprint = $3
	`, modelID, promptHash, paramsFP).Scan(&row.ModelID, &row.Prompt, &row.PromptHash, &row.ParamsFP, &row.Output)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("cache: row lookup: %w", err)
	}
	return row, true, nil
}

// Insert writes a new row. A unique-constraint violation (another request
// won the race for this fingerprint) is swallowed and reported as
// (inserted=false, err=nil).
func (s *Store) Insert(ctx context.Context, row Row) (inserted bool, err error) {
	_, err = s.pool.Exec(ctx, `
		INSERT INTO completion_cache (model_id, prompt, prompt_hash, params_fingerprint, output)
		VALUES ($1, $2, $3, $4, $5)
	`, row.ModelID, row.Prompt, row.PromptHash, row.ParamsFP, row.Output)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, nil
	}
	return false, fmt.Errorf("cache: row insert: %w", err)
}
