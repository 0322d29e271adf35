package tool

import "strings"

var (
	criticalPatterns = []string{
		"delete", "remove", "drop", "destroy", "execute", "exec",
		"shell", "command", "admin", "sudo", "truncate",
	}
	highPatterns = []string{
		"write", "create", "update", "modify", "send", "post",
		"upload", "deploy", "install", "transfer", "pay",
	}
	mediumPatterns = []string{
		"fetch", "download", "export", "query", "read", "get",
	}
)

// ClassifyName returns the risk level of a tool by name. Matching is
// case-insensitive substring matching, highest level first.
func ClassifyName(name string) RiskLevel {
	lower := strings.ToLower(name)
	for _, level := range []struct {
		level    RiskLevel
		patterns []string
	}{
		{RiskLevelCritical, criticalPatterns},
		{RiskLevelHigh, highPatterns},
		{RiskLevelMedium, mediumPatterns},
	} {
		for _, p := range level.patterns {
			if strings.Contains(lower, p) {
				return level.level
			}
		}
	}
	return RiskLevelLow
}
