// Package apikey implements the gateway's authentication, rate-limit, and
// quota gate: opaque bearer keys, a per-key monthly quota enforced
// atomically against Postgres, and a per-role per-minute rate window
// enforced over Redis.
package apikey

import (
	"time"

	"github.com/google/uuid"
)

// Well-known role names. Additional roles may exist in the roles table;
// only "admin" has gateway-side meaning (it gates /v1/admin/*).
const (
	RoleAdmin    = "admin"
	RoleStandard = "standard"
	RoleFree     = "free"
)

// Role gates admin endpoints and carries a per-minute rate bucket.
type Role struct {
	ID            uuid.UUID
	Name          string
	RatePerMinute int
}

// ApiKey is an opaque bearer credential. It is never deleted, only
// soft-disabled (DisabledAt set, Active flipped to false).
type ApiKey struct {
	ID            uuid.UUID
	KeyHash       string
	KeyPrefix     string
	Label         string
	Active        bool
	RoleID        *uuid.UUID
	RoleName      string // populated by a join; empty when RoleID is nil
	RatePerMinute int    // populated from the joined role, falls back to the gate default
	QuotaMonthly  *int64
	QuotaUsed     int64
	QuotaResetAt  *time.Time
	CreatedAt     time.Time
	DisabledAt    *time.Time
}

// IsAdmin reports whether this key's role grants admin access.
func (k ApiKey) IsAdmin() bool {
	return k.RoleName == RoleAdmin
}

// QuotaExhausted reports whether the key has hit its monthly cap. A nil
// QuotaMonthly means unlimited.
func (k ApiKey) QuotaExhausted() bool {
	return k.QuotaMonthly != nil && k.QuotaUsed >= *k.QuotaMonthly
}

// CreateRequest is the admin JSON body for POST /v1/admin/keys.
type CreateRequest struct {
	Label        string `json:"label" validate:"omitempty"`
	Role         string `json:"role" validate:"required"`
	QuotaMonthly *int64 `json:"quota_monthly" validate:"omitempty,gte=0"`
}

// Response is the JSON shape of an API key, without its raw key or hash.
type Response struct {
	ID           uuid.UUID  `json:"id"`
	KeyPrefix    string     `json:"key_prefix"`
	Label        string     `json:"label,omitempty"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	QuotaMonthly *int64     `json:"quota_monthly,omitempty"`
	QuotaUsed    int64      `json:"quota_used"`
	QuotaResetAt *time.Time `json:"quota_reset_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DisabledAt   *time.Time `json:"disabled_at,omitempty"`
}

// CreateResponse additionally carries the raw key, shown exactly once.
type CreateResponse struct {
	Response
	RawKey string `json:"raw_key"`
}

// ToResponse converts an ApiKey row to its public DTO.
func (k ApiKey) ToResponse() Response {
	return Response{
		ID:           k.ID,
		KeyPrefix:    k.KeyPrefix,
		Label:        k.Label,
		Role:         k.RoleName,
		Active:       k.Active,
		QuotaMonthly: k.QuotaMonthly,
		QuotaUsed:    k.QuotaUsed,
		QuotaResetAt: k.QuotaResetAt,
		CreatedAt:    k.CreatedAt,
		DisabledAt:   k.DisabledAt,
	}
}
