// Package cache implements the gateway's two-tier completion cache:
// a fast Redis KV tier backed by a durable Postgres row store, addressed by
// a fingerprint derived from the model id, prompt, and non-identity params.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Kind distinguishes the two fingerprint namespaces sharing this cache's
// machinery: plain generation and schema-constrained extraction.
type Kind string

const (
	KindGenerate Kind = "cache"
	KindExtract  Kind = "extract"
)

// hexPrefix32 returns the first 32 hex characters (16 bytes) of the
// SHA-256 digest of data.
func hexPrefix32(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

// PromptHash computes prompt_hash for a plain generation request.
func PromptHash(prompt string) string {
	return hexPrefix32([]byte(prompt))
}

// ExtractPromptHash computes prompt_hash for an extraction request, which
// is fingerprinted over the schema id and the input text together so the
// same text under a different schema never collides.
func ExtractPromptHash(schemaID, text string) string {
	return hexPrefix32([]byte(schemaID + "\n" + text))
}

// ParamsFingerprint computes params_fp: the canonical-JSON hash of params
// with identity fields (prompt/text, model, cache, repair) removed and
// null-valued fields dropped, keys sorted.
func ParamsFingerprint(params map[string]any) (string, error) {
	for _, identityField := range []string{"prompt", "text", "model", "cache", "repair"} {
		delete(params, identityField)
	}
	for k, v := range params {
		if v == nil {
			delete(params, k)
		}
	}

	// encoding/json already renders map[string]any keys in sorted order,
	// so marshaling directly gives the canonical byte representation.
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalizing params: %w", err)
	}
	return hexPrefix32(canonical), nil
}

// RedisKey builds the Redis key for a cache lookup.
func RedisKey(kind Kind, modelID, promptHash, paramsFP string) string {
	return fmt.Sprintf("llm:%s:%s:%s:%s", kind, modelID, promptHash, paramsFP)
}
