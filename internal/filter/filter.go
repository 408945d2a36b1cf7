// Package filter cleans streamed assistant text for display.
package filter

import (
	"regexp"
	"strings"
)

// ThinkingMarker is the literal token some providers emit ahead of an
// inline reasoning block.
const ThinkingMarker = "> Thinking"

var (
	timestampRe = regexp.MustCompile(`\d{4}/\d{1,2}/\d{1,2} \d{1,2}:\d{1,2}:\d{1,2}`)

	// A block-quoted bold lead-in paragraph: consecutive "> " lines starting
	// with a bold token, up to the next blank or non-quoted line.
	quotedReasoningRe = regexp.MustCompile(`(?m)^>\s*\*\*[^\n]*\n(?:>[^\n]*\n?)*`)

	multiBreakRe = regexp.MustCompile(`\n{3,}`)
)

// Clean strips provider noise from streamed text: timestamp tokens, the
// thinking marker and its block-quoted reasoning paragraph, and runs of
// blank lines. Clean is idempotent — the stream ingestor re-applies it over
// the full accumulator on every delta, so Clean(Clean(s)) must equal
// Clean(s).
func Clean(s string) string {
	s = timestampRe.ReplaceAllString(s, "")
	// Removing one marker can splice a new one out of the surrounding
	// text, so strip to a fixpoint.
	for strings.Contains(s, ThinkingMarker) {
		s = strings.ReplaceAll(s, ThinkingMarker, "")
	}
	s = quotedReasoningRe.ReplaceAllString(s, "")
	s = multiBreakRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
