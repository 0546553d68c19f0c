package apikey

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectColumns = `
	k.id, k.key_hash, k.key_prefix, k.label, k.active, k.role_id,
	coalesce(r.name, ''), coalesce(r.rate_per_minute, 0),
	k.quota_monthly, k.quota_used, k.quota_reset_at, k.created_at, k.disabled_at
`

const selectFrom = `FROM api_keys k LEFT JOIN roles r ON r.id = k.role_id`

// Store provides database operations for API keys and roles.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an API key Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanApiKey(row pgx.Row) (ApiKey, error) {
	var k ApiKey
	err := row.Scan(
		&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Label, &k.Active, &k.RoleID,
		&k.RoleName, &k.RatePerMinute,
		&k.QuotaMonthly, &k.QuotaUsed, &k.QuotaResetAt, &k.CreatedAt, &k.DisabledAt,
	)
	return k, err
}

// FindByHash looks up an active or inactive key by its SHA-256 hash,
// joined with its role for rate-limit and admin-gate purposes.
func (s *Store) FindByHash(ctx context.Context, hash string) (ApiKey, error) {
	query := `SELECT ` + selectColumns + ` ` + selectFrom + ` WHERE k.key_hash = $1`
	return scanApiKey(s.pool.QueryRow(ctx, query, hash))
}

// List returns API keys ordered by creation time, most recent first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]ApiKey, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM api_keys`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting api keys: %w", err)
	}

	query := `SELECT ` + selectColumns + ` ` + selectFrom + ` ORDER BY k.created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var items []ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning api key row: %w", err)
		}
		items = append(items, k)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating api key rows: %w", err)
	}
	return items, total, nil
}

// CreateParams holds parameters for creating an API key.
type CreateParams struct {
	KeyHash      string
	KeyPrefix    string
	Label        string
	RoleID       uuid.UUID
	QuotaMonthly *int64
}

// Create inserts a new, active API key and returns the created row.
func (s *Store) Create(ctx context.Context, p CreateParams) (ApiKey, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, label, active, role_id, quota_monthly, quota_used)
		VALUES ($1, $2, $3, true, $4, $5, 0)
		RETURNING id
	`, p.KeyHash, p.KeyPrefix, p.Label, p.RoleID, p.QuotaMonthly).Scan(&id)
	if err != nil {
		return ApiKey{}, fmt.Errorf("creating api key: %w", err)
	}
	return s.FindByHash(ctx, p.KeyHash)
}

// Disable soft-disables a key; it is never deleted.
func (s *Store) Disable(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET active = false, disabled_at = now() WHERE id = $1 AND active = true
	`, id)
	if err != nil {
		return fmt.Errorf("disabling api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FindRoleByName looks up a role by its unique name.
func (s *Store) FindRoleByName(ctx context.Context, name string) (Role, error) {
	var r Role
	err := s.pool.QueryRow(ctx, `SELECT id, name, rate_per_minute FROM roles WHERE name = $1`, name).
		Scan(&r.ID, &r.Name, &r.RatePerMinute)
	return r, err
}

// TryIncrementQuota atomically increments quota_used by one if the key is
// active and (quota_monthly is unlimited or quota_used is still under it).
// It returns ok=false when the key is inactive or the quota is exhausted,
// without mutating anything; the check and the increment are the same
// statement, so concurrent requests against the same key never overspend.
func (s *Store) TryIncrementQuota(ctx context.Context, id uuid.UUID) (ok bool, err error) {
	var newUsed int64
	err = s.pool.QueryRow(ctx, `
		UPDATE api_keys
		SET quota_used = quota_used + 1
		WHERE id = $1
		  AND active = true
		  AND (quota_monthly IS NULL OR quota_used < quota_monthly)
		RETURNING quota_used
	`, id).Scan(&newUsed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("incrementing api key quota: %w", err)
	}
	return true, nil
}
