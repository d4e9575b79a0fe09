// Package truncation bounds tool results to a model input budget while
// keeping the original result available for display.
//
// Results are measured in approximate tokens (EstimateTokens). Structured
// results have every array windowed to a maximum item count; anything still
// over budget, and any plain text result, is clamped by character count.
package truncation

// CharsPerToken is the fixed average characters-per-token ratio used for
// estimating and for converting a token budget back into characters.
const CharsPerToken = 4

// EstimateTokens returns the approximate token cost of text.
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}
