package classify

import "strings"

// MatchForbidden returns the patterns contained in prompt, compared
// case-insensitively, in policy order and without duplicates.
func MatchForbidden(prompt string, patterns []string) []string {
	if prompt == "" || len(patterns) == 0 {
		return nil
	}
	lower := strings.ToLower(prompt)
	var matched []string
	seen := make(map[string]struct{})
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			seen[p] = struct{}{}
			matched = append(matched, p)
		}
	}
	return matched
}

// ApplyForbidden merges local pattern matches into v. A match always makes
// the verdict malicious with a score of at least ForbiddenPatternScore.
func ApplyForbidden(v Verdict, matched []string) Verdict {
	if len(matched) == 0 {
		return v
	}
	out := v.Clone()
	out.IsMalicious = true
	out.RiskScore = ClampScore(max(out.RiskScore, ForbiddenPatternScore))
	out.RecommendedAction = ActionBlock
	out.DetectedPatterns = dedupe(append(out.DetectedPatterns, matched...))
	out.Reasons = append(out.Reasons, "Forbidden patterns detected: "+strings.Join(matched, ", "))
	return out
}
