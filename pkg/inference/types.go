// Package inference implements the gateway's request coordinator:
// the per-request routing, gating, caching, and validate/repair state
// machine wired to the HTTP surface at /v1/generate,
// /v1/generate/batch, and /v1/extract.
package inference

// GenerateRequest is the decoded body of POST /v1/generate and one element
// of POST /v1/generate/batch's expansion.
type GenerateRequest struct {
	Prompt       string   `json:"prompt" validate:"required"`
	Model        string   `json:"model,omitempty"`
	Cache        *bool    `json:"cache,omitempty"`
	MaxNewTokens int      `json:"max_new_tokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

// cacheEnabled returns the request's cache flag, defaulting to true when
// unset ("cache=true" is the documented default).
func (r GenerateRequest) cacheEnabled() bool {
	if r.Cache == nil {
		return true
	}
	return *r.Cache
}

// BatchGenerateRequest is the decoded body of POST /v1/generate/batch: the
// same generation parameters applied independently to every prompt.
type BatchGenerateRequest struct {
	Prompts      []string `json:"prompts" validate:"required,min=1"`
	Model        string   `json:"model,omitempty"`
	Cache        *bool    `json:"cache,omitempty"`
	MaxNewTokens int      `json:"max_new_tokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

func (r BatchGenerateRequest) cacheEnabled() bool {
	if r.Cache == nil {
		return true
	}
	return *r.Cache
}

func (r BatchGenerateRequest) item(prompt string) GenerateRequest {
	return GenerateRequest{
		Prompt:       prompt,
		Model:        r.Model,
		Cache:        r.Cache,
		MaxNewTokens: r.MaxNewTokens,
		Temperature:  r.Temperature,
		TopP:         r.TopP,
		TopK:         r.TopK,
		Stop:         r.Stop,
	}
}

// GenerateResponse is the JSON shape returned by a successful generate.
type GenerateResponse struct {
	Model  string `json:"model"`
	Output string `json:"output"`
	Cached bool   `json:"cached"`
}

// BatchGenerateResponse preserves the request's prompt ordering; a prompt
// whose own pipeline failed reports its error inline rather than failing
// the whole batch, so one bad prompt never discards the rest.
type BatchGenerateResponse struct {
	Results []BatchResult `json:"results"`
}

// BatchResult is one element of a batch response: either Output/Cached is
// populated, or Error is, never both.
type BatchResult struct {
	Model  string      `json:"model,omitempty"`
	Output string      `json:"output,omitempty"`
	Cached bool        `json:"cached,omitempty"`
	Error  *BatchError `json:"error,omitempty"`
}

// BatchError mirrors the canonical error envelope's shape for one item of
// a batch that otherwise returns 200.
type BatchError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// ExtractRequest is the decoded body of POST /v1/extract.
type ExtractRequest struct {
	SchemaID     string  `json:"schema_id" validate:"required"`
	Text         string  `json:"text" validate:"required"`
	Model        string  `json:"model,omitempty"`
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	Temperature  float64 `json:"temperature"`
	Cache        *bool   `json:"cache,omitempty"`
	Repair       *bool   `json:"repair,omitempty"`
}

func (r ExtractRequest) cacheEnabled() bool {
	if r.Cache == nil {
		return true
	}
	return *r.Cache
}

func (r ExtractRequest) repairEnabled() bool {
	if r.Repair == nil {
		return true
	}
	return *r.Repair
}

// withDefaults fills in the documented defaults for fields the caller left
// zero. max_new_tokens=512 and temperature=0.0 are defaults, not
// validation requirements, so a literal 0 temperature is indistinguishable
// from "unset" and both mean greedy decoding.
func (r ExtractRequest) withDefaults() ExtractRequest {
	if r.MaxNewTokens == 0 {
		r.MaxNewTokens = 512
	}
	return r
}

// ExtractResponse is the JSON shape returned by a successful extraction.
type ExtractResponse struct {
	SchemaID        string         `json:"schema_id"`
	Model           string         `json:"model"`
	Data            map[string]any `json:"data"`
	Cached          bool           `json:"cached"`
	RepairAttempted bool           `json:"repair_attempted"`
}
