package apikey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaExhausted(t *testing.T) {
	unlimited := ApiKey{QuotaMonthly: nil, QuotaUsed: 1_000_000}
	assert.False(t, unlimited.QuotaExhausted())

	limit := int64(100)
	underLimit := ApiKey{QuotaMonthly: &limit, QuotaUsed: 99}
	assert.False(t, underLimit.QuotaExhausted())

	atLimit := ApiKey{QuotaMonthly: &limit, QuotaUsed: 100}
	assert.True(t, atLimit.QuotaExhausted())

	overLimit := ApiKey{QuotaMonthly: &limit, QuotaUsed: 101}
	assert.True(t, overLimit.QuotaExhausted())
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, ApiKey{RoleName: RoleAdmin}.IsAdmin())
	assert.False(t, ApiKey{RoleName: RoleStandard}.IsAdmin())
}

func TestGenerateAPIKeyShapeAndUniqueness(t *testing.T) {
	raw1, hash1, prefix1 := generateAPIKey()
	raw2, hash2, _ := generateAPIKey()

	assert.NotEqual(t, raw1, raw2, "raw keys must be unique")
	assert.NotEqual(t, hash1, hash2)
	assert.Regexp(t, `^llmg_[0-9a-f]{64}$`, raw1)
	assert.Equal(t, raw1[:12], prefix1)
	assert.Equal(t, HashKey(raw1), hash1, "stored hash must match HashKey of the raw key")
}

func TestHashKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, HashKey("same-input"), HashKey("same-input"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}
