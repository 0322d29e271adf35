package output

import (
	"sort"
	"strings"
)

var redactionLabels = map[string]string{
	CheckCredential: "[REDACTED:AWS_KEY]",
	CheckEmail:      "[REDACTED:EMAIL]",
}

// redact replaces credential and e-mail spans in text with fixed labels.
// Overlapping spans are merged under the label of the earliest one.
func redact(text string, findings []Finding) string {
	spans := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if _, ok := redactionLabels[f.Check]; ok {
			spans = append(spans, f)
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, s := range spans {
		if s.End <= pos {
			continue
		}
		start := max(s.Start, pos)
		b.WriteString(text[pos:start])
		if start == s.Start {
			b.WriteString(redactionLabels[s.Check])
		}
		pos = s.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
