// Package output verifies model output before it is returned to the caller.
package output

import (
	"regexp"
	"strings"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
)

// Check names used in findings.
const (
	CheckCredential   = "credential"
	CheckEmail        = "email"
	CheckSystemPrompt = "system_prompt"
	CheckAdversarial  = "adversarial"
)

// Reasons reported by the verifier.
const (
	ReasonCredential   = "Potential AWS access key detected in output"
	ReasonEmail        = "Email address detected in output"
	ReasonSystemPrompt = "Potential system prompt leakage"
	ReasonAdversarial  = "Adversarial content in output"
	ReasonSafe         = "Output verified safe"
)

var (
	awsKeyPattern = regexp.MustCompile(`AKIA[0-9A-Z]{16}`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	systemPromptKeywords = []string{"system prompt", "instructions:", "you are an ai", "your role is"}
	adversarialPhrases   = []string{"ignore this", "disregard previous", "new instructions"}
)

// Finding is one matched span in the verified text.
type Finding struct {
	// Check is the name of the check that fired.
	Check string
	// Start and End are byte offsets of the match.
	Start, End int
}

// Verdict is the result of output verification.
type Verdict struct {
	IsSafe bool
	// Reasons is never empty.
	Reasons []string
	// Sanitized is the text with credential and e-mail spans redacted.
	Sanitized string
	Findings  []Finding
}

// Verifier runs the output checks enabled by a policy's sensitivity rules.
// A Verifier is stateless and safe for concurrent use.
type Verifier struct {
	rules policy.SensitivityRules
}

// NewVerifier creates a Verifier for the given sensitivity rules.
func NewVerifier(rules policy.SensitivityRules) *Verifier {
	return &Verifier{rules: rules}
}

// Verify runs every enabled check against text. Checks never short-circuit
// each other; each failing check contributes one reason. The credential
// check always runs; BlockSecretOutput only decides whether credential spans
// are redacted in Sanitized.
// tools is accepted for parity with the tool stage and currently unused.
func (v *Verifier) Verify(text string, tools []request.ToolRequest) Verdict {
	var (
		reasons  []string
		findings []Finding
	)

	if spans := spansOf(CheckCredential, awsKeyPattern.FindAllStringIndex(text, -1)); len(spans) > 0 {
		reasons = append(reasons, ReasonCredential)
		findings = append(findings, spans...)
	}

	if v.rules.BlockPIIOutput {
		if spans := spansOf(CheckEmail, emailPattern.FindAllStringIndex(text, -1)); len(spans) > 0 {
			reasons = append(reasons, ReasonEmail)
			findings = append(findings, spans...)
		}
	}

	lower := strings.ToLower(text)

	if v.rules.BlockSystemPromptReveal {
		if spans := keywordSpans(CheckSystemPrompt, lower, systemPromptKeywords); len(spans) > 0 {
			reasons = append(reasons, ReasonSystemPrompt)
			findings = append(findings, spans...)
		}
	}

	if spans := keywordSpans(CheckAdversarial, lower, adversarialPhrases); len(spans) > 0 {
		reasons = append(reasons, ReasonAdversarial)
		findings = append(findings, spans...)
	}

	verdict := Verdict{
		IsSafe:    len(reasons) == 0,
		Reasons:   reasons,
		Sanitized: redact(text, v.redactable(findings)),
		Findings:  findings,
	}
	if verdict.IsSafe {
		verdict.Reasons = []string{ReasonSafe}
	}
	return verdict
}

func (v *Verifier) redactable(findings []Finding) []Finding {
	if v.rules.BlockSecretOutput {
		return findings
	}
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Check != CheckCredential {
			out = append(out, f)
		}
	}
	return out
}

func spansOf(check string, locs [][]int) []Finding {
	out := make([]Finding, 0, len(locs))
	for _, loc := range locs {
		out = append(out, Finding{Check: check, Start: loc[0], End: loc[1]})
	}
	return out
}

// keywordSpans reports the first occurrence of each keyword. Offsets refer
// to lower, which has the same length as the original text for ASCII input.
func keywordSpans(check, lower string, keywords []string) []Finding {
	var out []Finding
	for _, k := range keywords {
		if i := strings.Index(lower, k); i >= 0 {
			out = append(out, Finding{Check: check, Start: i, End: i + len(k)})
		}
	}
	return out
}
