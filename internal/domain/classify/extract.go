package classify

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ExtractVerdict finds the first well-formed JSON object in text and
// converts it into a Verdict. Every '{' is tried in order and the first one
// that decodes as a complete object wins; trailing text is ignored.
// When no object decodes, the fixed FallbackVerdict is returned and ok is false.
func ExtractVerdict(text string) (v Verdict, ok bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var raw map[string]any
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		return verdictFromMap(raw), true
	}
	return FallbackVerdict(), false
}

// verdictFromMap normalizes loosely typed evaluator output. Missing or
// mistyped fields take their zero value.
func verdictFromMap(raw map[string]any) Verdict {
	v := Verdict{
		IsMalicious:      toBool(raw["is_malicious"]),
		RiskScore:        ClampScore(toScore(raw["risk_score"])),
		Reasons:          toStrings(raw["reasons"]),
		DetectedPatterns: dedupe(toStrings(raw["detected_patterns"])),
	}

	action := Action(strings.ToUpper(strings.TrimSpace(toString(raw["recommended_action"]))))
	switch {
	case action.Valid():
		v.RecommendedAction = action
	case v.IsMalicious:
		v.RecommendedAction = ActionBlock
	default:
		v.RecommendedAction = ActionAllow
	}
	return v
}

func toBool(x any) bool {
	switch b := x.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	}
	return false
}

func toScore(x any) int {
	var f float64
	switch n := x.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	if f > MaxRiskScore {
		return MaxRiskScore
	}
	if f < MinRiskScore {
		return MinRiskScore
	}
	return int(math.Round(f))
}

func toString(x any) string {
	if s, ok := x.(string); ok {
		return s
	}
	return ""
}

func toStrings(x any) []string {
	switch vals := x.(type) {
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case json.Number:
				out = append(out, s.String())
			}
		}
		return out
	case string:
		if vals == "" {
			return []string{}
		}
		return []string{vals}
	}
	return []string{}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
