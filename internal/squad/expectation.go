package squad

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// expectation captures which verifiable side-effects a worker instruction
// implies. Inference is intentionally coarse: it combines intent keywords
// in the instruction with the tools the worker actually holds, so a
// research-only worker is never expected to produce file effects.
type expectation struct {
	FileEffects   bool
	ShellEffects  bool
	ToolExecution bool
}

var (
	fileIntentRe  = regexp.MustCompile(`(?i)\b(write|create|save|generate|produce|draft|edit|update|append)\b.*\b(file|document|script|code|report|artifact|\.[a-z]{1,4})\b`)
	shellIntentRe = regexp.MustCompile(`(?i)\b(run|execute|build|compile|test|install|invoke)\b`)
	readIntentRe  = regexp.MustCompile(`(?i)\b(read|inspect|review|search|look up|research|fetch|browse)\b`)
)

// inferExpectation derives the postconditions for one instruction given the
// worker's normalized tool grants.
func inferExpectation(instruction string, toolIDs []string) expectation {
	grants := tools.NormalizeToolIDs(toolIDs)
	hasFiles := tools.GrantsTool(grants, tools.MCPAllToolID)
	hasShell := tools.GrantsTool(grants, tools.ShellExecuteToolID)
	hasWeb := tools.GrantsTool(grants, tools.WebSearchToolID)

	var exp expectation
	exp.FileEffects = hasFiles && fileIntentRe.MatchString(instruction)
	exp.ShellEffects = hasShell && shellIntentRe.MatchString(instruction)
	exp.ToolExecution = exp.FileEffects || exp.ShellEffects ||
		((hasFiles || hasWeb) && readIntentRe.MatchString(instruction))
	return exp
}

// verify checks a worker's execution summary against the inferred
// postconditions, returning a human-readable reason on failure.
func (e expectation) verify(summary *models.ToolExecutionSummary) (string, bool) {
	if !e.ToolExecution {
		return "", true
	}
	if summary == nil || summary.Attempted == 0 || summary.Succeeded == 0 {
		return "the instruction requires at least one successful tool call, but none were executed", false
	}
	if e.FileEffects && summary.VerifiedFileEffects == 0 {
		return "the instruction requires a verified file write, but no file effect was produced", false
	}
	if e.ShellEffects && summary.VerifiedShellEffects == 0 {
		return "the instruction requires a verified shell execution, but no shell effect was produced", false
	}
	return "", true
}

// retryMessage is the one-shot corrective turn sent to a worker whose
// output failed postcondition verification.
func retryMessage(reason string) string {
	return fmt.Sprintf("Validation failed: %s. Re-run the instruction and satisfy all required postconditions via actual tool calls before finalizing your response.", reason)
}

// blockedResponse is the squad-level terminal message after a second
// verification failure.
func blockedResponse(workerName, reason string) string {
	return fmt.Sprintf("%s failed tool execution validation: %s", workerName, strings.TrimSpace(reason))
}
