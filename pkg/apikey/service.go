package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service encapsulates API key business logic on top of Store.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates an API key Service backed by the given pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{store: NewStore(pool), logger: logger}
}

// List returns a page of API keys.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Response, int, error) {
	rows, total, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing api keys: %w", err)
	}

	items := make([]Response, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToResponse())
	}
	return items, total, nil
}

// Create generates a new API key, stores its hash, and returns the raw key
// once. req.Role must name an existing role.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	role, err := s.store.FindRoleByName(ctx, req.Role)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("looking up role %q: %w", req.Role, err)
	}

	raw, hash, prefix := generateAPIKey()

	row, err := s.store.Create(ctx, CreateParams{
		KeyHash:      hash,
		KeyPrefix:    prefix,
		Label:        req.Label,
		RoleID:       role.ID,
		QuotaMonthly: req.QuotaMonthly,
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{Response: row.ToResponse(), RawKey: raw}, nil
}

// Disable soft-disables an API key by ID.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Disable(ctx, id); err != nil {
		return fmt.Errorf("disabling api key: %w", err)
	}
	return nil
}

// generateAPIKey creates a random opaque key with a "llmg_" prefix, its
// SHA-256 hash for storage, and a short display prefix.
func generateAPIKey() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("llmg_%x", b)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	prefix = raw[:12]
	return
}

// HashKey returns the SHA-256 hex digest of a raw presented key, used by
// the gate to look the key up without ever storing the raw value.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
