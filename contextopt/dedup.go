package contextopt

import (
	"regexp"
	"strings"
)

// roleLabelRe matches a line that opens a transcript-style role label, the
// telltale of a prompt that accidentally embeds a serialized conversation
// inside itself.
var roleLabelRe = regexp.MustCompile(`(?i)^\s*(user|human|assistant|ai|system)\s*:\s?(.*)$`)

// userLabels are the labels whose content counts as user-authored.
var userLabels = map[string]bool{"user": true, "human": true}

// StripNestedTranscript removes an embedded transcript from text, keeping the
// surviving user-authored material. The detection is a line heuristic, best
// effort:
//
//   - text with no role-label lines is returned unchanged
//   - text before the first role-label line wins when it is non-blank
//   - text that opens directly with a transcript yields the first
//     user-labeled line's content, re-stripped in case that content embeds
//     a transcript of its own
//   - a transcript with no user-labeled line is returned unchanged, there
//     is nothing confidently extractable
//
// The function is pure and idempotent: applying it twice gives the same
// result as applying it once.
func StripNestedTranscript(text string) string {
	// Each strip pass either leaves text alone or returns something strictly
	// shorter, so iterating to the fixed point terminates and makes the
	// result stable under re-application.
	for {
		next := stripNestedOnce(text)
		if next == text {
			return text
		}
		text = next
	}
}

func stripNestedOnce(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	first := -1
	for i, line := range lines {
		if roleLabelRe.MatchString(line) {
			first = i
			break
		}
	}
	if first < 0 {
		return text
	}

	if prefix := strings.TrimRight(strings.Join(lines[:first], "\n"), " \t\n"); strings.TrimSpace(prefix) != "" {
		return prefix
	}

	for _, line := range lines[first:] {
		m := roleLabelRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if userLabels[strings.ToLower(m[1])] {
			return strings.TrimSpace(m[2])
		}
	}
	return text
}
