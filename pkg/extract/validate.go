package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wisbric/llmgate/internal/apperror"
	"github.com/wisbric/llmgate/pkg/schema"
)

// previewLen bounds the raw_preview extra attached to invalid_json and
// schema_validation_failed errors.
const previewLen = 500

// Stage labels the pipeline step that rejected a candidate.
type Stage string

const (
	StageParse          Stage = "parse"
	StageValidate       Stage = "validate"
	StageRepairParse    Stage = "repair_parse"
	StageRepairValidate Stage = "repair_validate"
)

// ValidateFirstMatching is the validate-first-matching scan: strip
// whitespace, try the delimited fast path, then fall back to scanning the
// raw output for every
// JSON object it contains and returning the first one that validates
// against sch. The returned *apperror.Error is always InvalidJSON (no
// object could be located) or SchemaValidationFailed (objects were found
// but none validated), never anything else.
func ValidateFirstMatching(raw string, sch *schema.Schema) (map[string]any, *apperror.Error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, apperror.InvalidJSON
	}

	if obj, ok := tryDelimited(s, sch); ok {
		return obj, nil
	}

	candidates := scanJSONObjects(s)
	if len(candidates) == 0 {
		return nil, apperror.InvalidJSON.WithExtra(map[string]any{"raw_preview": preview(s)})
	}

	var lastErr error
	for _, c := range candidates {
		if err := sch.Validate(c); err == nil {
			return c, nil
		} else {
			lastErr = err
		}
	}

	return nil, apperror.SchemaValidationFailed.WithExtra(map[string]any{
		"errors":      validationErrorPaths(lastErr),
		"raw_preview": preview(s),
	})
}

// tryDelimited is the delimited fast path: if both literal
// delimiters are present, extract the inner slice, strip an optional
// surrounding code fence, decode it as a single JSON object, and validate.
// Any failure along this path falls through to the scanning algorithm
// rather than being reported directly.
func tryDelimited(s string, sch *schema.Schema) (map[string]any, bool) {
	openIdx := strings.Index(s, delimOpen)
	if openIdx < 0 {
		return nil, false
	}
	closeIdx := strings.Index(s[openIdx+len(delimOpen):], delimClose)
	if closeIdx < 0 {
		return nil, false
	}
	inner := s[openIdx+len(delimOpen) : openIdx+len(delimOpen)+closeIdx]
	inner = stripCodeFence(strings.TrimSpace(inner))

	obj, ok := decodeObject(inner)
	if !ok {
		return nil, false
	}
	if sch.Validate(obj) != nil {
		return nil, false
	}
	return obj, true
}

// decodeObject decodes s as exactly one JSON value, requiring it to be a
// JSON object (array- or scalar-rooted values are rejected here, not
// collected by the caller).
func decodeObject(s string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// scanJSONObjects repeatedly locates the next '{' and attempts to decode
// a single JSON value starting there, collecting
// every object-rooted result (arrays and scalars are ignored) and skipping
// past whatever span was consumed. A decode failure at a given '{' just
// advances the scan by one character.
func scanJSONObjects(s string) []map[string]any {
	var out []map[string]any

	i := 0
	for i < len(s) {
		rel := strings.IndexByte(s[i:], '{')
		if rel < 0 {
			break
		}
		start := i + rel

		dec := json.NewDecoder(strings.NewReader(s[start:]))
		var v any
		if err := dec.Decode(&v); err != nil {
			i = start + 1
			continue
		}

		end := start + int(dec.InputOffset())
		if obj, ok := v.(map[string]any); ok {
			out = append(out, obj)
		}

		if end <= start {
			end = start + 1
		}
		i = end
	}

	return out
}

// stripCodeFence strips a single surrounding markdown code fence
// (```json ... ``` or ``` ... ```), if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < 20 {
		// Drop an optional language tag on the fence's opening line (e.g. "json").
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimRight(s, "\n\t "), "```")
	return strings.TrimSpace(s)
}

// preview bounds a raw string to previewLen runes for inclusion in an
// error's extra payload.
func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "…"
}

// validationErrorPaths flattens a jsonschema validation error tree into the
// list of instance-location paths that failed, innermost causes first.
func validationErrorPaths(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		if err == nil {
			return nil
		}
		return []string{err.Error()}
	}

	var paths []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			paths = append(paths, e.InstanceLocation)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return paths
}

// StrictDecode is the strict JSON helper used where a caller demands a
// clean payload: it rejects a payload containing a code fence marker
// anywhere, requires a single top-level JSON object, and rejects trailing
// non-whitespace data after that object. NaN/Infinity literals are
// rejected implicitly: encoding/json's decoder has no grammar production
// for them, so they fail to parse as JSON at all.
func StrictDecode(raw string) (map[string]any, error) {
	if strings.Contains(raw, "```") {
		return nil, apperror.InvalidJSON.WithExtra(map[string]any{"reason": "code fence present"})
	}

	s := strings.TrimSpace(raw)
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apperror.InvalidJSON.Wrap(err)
	}
	if int(dec.InputOffset()) < len(s) {
		return nil, apperror.InvalidJSON.WithExtra(map[string]any{"reason": "trailing data after JSON value"})
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, apperror.InvalidJSON.WithExtra(map[string]any{"reason": "top-level value is not an object"})
	}
	return obj, nil
}
