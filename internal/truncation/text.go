package truncation

import (
	"fmt"
	"regexp"
)

const textMarkerFormat = "\n\n... [Truncated. Original length: %d chars, showing first %d chars]"

var textMarkerPattern = regexp.MustCompile(`\n\n\.\.\. \[Truncated\. Original length: \d+ chars, showing first \d+ chars\]$`)

// TruncateText clamps text to maxTokens*CharsPerToken bytes and appends a
// marker with the original and shown lengths. The cut is byte based, so a
// multi-byte character at the boundary may be split.
func TruncateText(text string, maxTokens int) string {
	maxChars := maxTokens * CharsPerToken
	if maxChars < 0 {
		maxChars = 0
	}
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + fmt.Sprintf(textMarkerFormat, len(text), maxChars)
}

// contentTokens estimates text without a trailing TruncateText marker, so a
// clamped result still fits the budget it was clamped to.
func contentTokens(text string) int {
	if loc := textMarkerPattern.FindStringIndex(text); loc != nil {
		return EstimateTokens(text[:loc[0]])
	}
	return EstimateTokens(text)
}
