package extract

import (
	"encoding/json"

	"github.com/wisbric/llmgate/internal/apperror"
)

// errorHint is the JSON shape serialized into the repair prompt's "Error:"
// section: {code, message, extra}.
type errorHint struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// ErrorHint renders the serialized error hint the repair prompt embeds so
// the model sees exactly why its previous output was rejected.
func ErrorHint(err *apperror.Error) string {
	h := errorHint{Code: err.Code, Message: err.Message, Extra: err.Extra}
	b, marshalErr := json.Marshal(h)
	if marshalErr != nil {
		return err.Error()
	}
	return string(b)
}
