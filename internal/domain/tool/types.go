// Package tool enforces the tool-call policy.
package tool

// RiskLevel is the inherent risk of a tool, derived from its name.
type RiskLevel string

const (
	// RiskLevelLow covers informational operations such as search or summarize.
	RiskLevelLow RiskLevel = "LOW"
	// RiskLevelMedium covers reads with potential sensitivity.
	RiskLevelMedium RiskLevel = "MEDIUM"
	// RiskLevelHigh covers writes, messaging and money movement.
	RiskLevelHigh RiskLevel = "HIGH"
	// RiskLevelCritical covers destructive operations and command execution.
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Assessment is the enforcer's view of a single tool call.
type Assessment struct {
	Name      string    `json:"name"`
	RiskLevel RiskLevel `json:"risk_level"`
	Approved  bool      `json:"approved"`
}

// Verdict is the result of verifying a batch of tool calls.
type Verdict struct {
	Approved bool
	// Reasons is never empty.
	Reasons []string
	// RequiresHumanApproval is true when any call names a tool on the
	// require-approval list, independent of the other checks.
	RequiresHumanApproval bool
	// Assessments holds one entry per call, in input order.
	Assessments []Assessment
}

// ReasonApproved is reported when every call passes.
const ReasonApproved = "All tool calls approved"

// TransferTool is the tool whose amount parameter is capped.
const TransferTool = "transfer_money"
