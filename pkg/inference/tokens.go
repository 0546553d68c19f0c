package inference

import "unicode/utf8"

// charsPerToken is a best-effort approximation used when no real tokenizer
// is wired in; it tracks roughly what common BPE tokenizers average for
// English prose. It is never meant to match a model's real tokenizer
// exactly; deployments that need exact counts disable TOKEN_COUNTING and
// meter upstream.
const charsPerToken = 4

// CountTokens estimates the token count of s by rune length over
// charsPerToken, rounding up so a nonempty string never counts as zero
// tokens. Returns 0 for an empty string.
func CountTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}
