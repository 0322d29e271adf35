// Package classify holds the input classifier's verdict model, the
// extraction of a verdict from free-form evaluator text and the local
// forbidden-pattern matcher.
package classify

import "slices"

// Action is the classifier's recommended handling of a prompt.
type Action string

const (
	// ActionAllow lets the prompt through.
	ActionAllow Action = "ALLOW"
	// ActionBlock rejects the prompt.
	ActionBlock Action = "BLOCK"
	// ActionSanitize is advisory; the pipeline treats it like ALLOW unless
	// the score or malicious flag say otherwise.
	ActionSanitize Action = "SANITIZE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionSanitize:
		return true
	}
	return false
}

const (
	// MinRiskScore and MaxRiskScore bound every verdict's score.
	MinRiskScore = 0
	MaxRiskScore = 100

	// ForbiddenPatternScore is the floor applied when a forbidden pattern matches.
	ForbiddenPatternScore = 85
	// FallbackScore is the score of the verdict used when the evaluator
	// answered without a parseable JSON object.
	FallbackScore = 30
)

// Verdict is the unified result of input classification.
type Verdict struct {
	IsMalicious       bool     `json:"is_malicious"`
	RiskScore         int      `json:"risk_score"`
	Reasons           []string `json:"reasons"`
	DetectedPatterns  []string `json:"detected_patterns"`
	RecommendedAction Action   `json:"recommended_action"`
}

// FallbackVerdict is returned when the evaluator's text holds no JSON object.
func FallbackVerdict() Verdict {
	return Verdict{
		IsMalicious:       false,
		RiskScore:         FallbackScore,
		Reasons:           []string{"Classification completed"},
		DetectedPatterns:  []string{},
		RecommendedAction: ActionAllow,
	}
}

// FailOpenVerdict is returned when the evaluator call fails and the
// classifier is configured to fail open.
func FailOpenVerdict() Verdict {
	return Verdict{
		IsMalicious:       false,
		RiskScore:         MinRiskScore,
		Reasons:           []string{"Classification service error"},
		DetectedPatterns:  []string{},
		RecommendedAction: ActionAllow,
	}
}

// FailClosedVerdict is returned when the evaluator call fails and the
// classifier is configured to fail closed.
func FailClosedVerdict() Verdict {
	return Verdict{
		IsMalicious:       true,
		RiskScore:         MaxRiskScore,
		Reasons:           []string{"Classification service unavailable"},
		DetectedPatterns:  []string{},
		RecommendedAction: ActionBlock,
	}
}

// Clone returns a copy that shares no slices with v.
func (v Verdict) Clone() Verdict {
	c := v
	c.Reasons = slices.Clone(v.Reasons)
	c.DetectedPatterns = slices.Clone(v.DetectedPatterns)
	if c.Reasons == nil {
		c.Reasons = []string{}
	}
	if c.DetectedPatterns == nil {
		c.DetectedPatterns = []string{}
	}
	return c
}

// Blocks reports whether the verdict must stop the request at threshold.
func (v Verdict) Blocks(threshold int) bool {
	return v.IsMalicious || v.RiskScore >= threshold
}

// ClampScore bounds score to [MinRiskScore, MaxRiskScore].
func ClampScore(score int) int {
	return min(max(score, MinRiskScore), MaxRiskScore)
}
