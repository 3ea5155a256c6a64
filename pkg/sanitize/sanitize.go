// Package sanitize strips structural markers from untrusted worker output.
//
// Agent workers echo model output verbatim, and that output is later spliced
// into a parent conversation. Anything in it that the downstream prompt
// format would read as a role or turn boundary must be removed before the
// splice, and removed visibly: silent deletion would let truncated text
// masquerade as the worker's own words.
package sanitize

import (
	"regexp"
	"strings"
)

// Replacement marks each removed region. It contains none of the recognized
// markers, which is what makes Clean idempotent.
const Replacement = "[agent output continues]"

// TruncationMarker is appended when output exceeds the byte cap.
const TruncationMarker = "\n[TRUNCATED]"

var structuralMarkers = []*regexp.Regexp{
	// Line-anchored role prefixes the chat transcript format treats as turns.
	regexp.MustCompile(`(?m)^[ \t]*(?:Human|Assistant|System)[ \t]*:`),
	// Special-token spans, e.g. <|im_start|>, <|endoftext|>.
	regexp.MustCompile(`<\|[^|>]*\|>`),
}

// Clean removes role/turn delimiters from text, replacing each removed region
// with Replacement. All other bytes are preserved exactly. Text without
// markers is returned unchanged.
//
// Replacement runs to a fixpoint: stripping an inner span can expose an
// enclosing one (`<|<|x|>|>`), and a single pass would hand that survivor to
// the splice. Replacement contains no marker bytes, so each pass strictly
// shrinks the marker count and the loop terminates.
func Clean(text string) string {
	for {
		cleaned := text
		for _, re := range structuralMarkers {
			cleaned = re.ReplaceAllString(cleaned, Replacement)
		}
		if cleaned == text {
			return cleaned
		}
		text = cleaned
	}
}

// Truncate caps text at max bytes, appending TruncationMarker when anything
// was dropped. A non-positive max disables truncation.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}

	// ToValidUTF8 drops a rune split by the byte cap.
	return strings.ToValidUTF8(text[:max], "") + TruncationMarker
}
