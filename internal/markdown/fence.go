// Package markdown holds text clean-up applied to agent-generated markdown
// before it is shown to an operator.
package markdown

import (
	"regexp"
	"strings"
)

var (
	openingFence = regexp.MustCompile("(?i)^```markdown\\s*")
	closingFence = regexp.MustCompile("```\\s*$")
)

// StripFences removes a leading ```markdown fence and a trailing ``` fence
// and trims the remaining text. Text with neither fence is returned
// unchanged, so StripFences(StripFences(s)) == StripFences(s) for any
// single-fenced s.
func StripFences(s string) string {
	out := s
	stripped := false
	if loc := openingFence.FindStringIndex(out); loc != nil {
		out = out[loc[1]:]
		stripped = true
	}
	if loc := closingFence.FindStringIndex(out); loc != nil {
		out = out[:loc[0]]
		stripped = true
	}
	if !stripped {
		return s
	}
	return strings.TrimSpace(out)
}
