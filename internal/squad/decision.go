package squad

import (
	"github.com/crewline/crewline/internal/jsonx"
	"github.com/crewline/crewline/pkg/models"
)

// invalidDecision is the fail-closed result for payloads that do not parse
// or do not normalize into a valid decision.
func invalidDecision() models.DirectorDecision {
	return models.DirectorDecision{
		Status:  models.DecisionBlocked,
		Summary: "Orchestrator decision schema was invalid.",
	}
}

// ParseDirectorDecision extracts a decision from raw model output. The
// director is instructed to answer with a bare JSON object, but real
// responses arrive fenced, prefixed with prose, or with raw newlines inside
// strings; the jsonx recovery chain absorbs all of that. Anything that
// still fails normalizes to a blocked decision rather than an error.
func ParseDirectorDecision(raw string) models.DirectorDecision {
	obj, err := jsonx.DecodeObject(jsonx.StripMarkdownFences(raw))
	if err != nil {
		return invalidDecision()
	}
	return normalizeDecision(obj)
}

func normalizeDecision(obj map[string]any) models.DirectorDecision {
	status, _ := obj["status"].(string)
	summary, _ := obj["summary"].(string)

	switch models.DecisionStatus(status) {
	case models.DecisionContinue, models.DecisionComplete,
		models.DecisionNeedsUserInput, models.DecisionBlocked:
	default:
		return invalidDecision()
	}
	if summary == "" {
		return invalidDecision()
	}

	d := models.DirectorDecision{
		Status:  models.DecisionStatus(status),
		Summary: summary,
	}
	d.TargetAgentID = optionalString(obj, "targetAgentId")
	d.Instruction = optionalString(obj, "instruction")
	d.ResponseToUser = optionalString(obj, "responseToUser")
	d.UserQuestion = optionalString(obj, "userQuestion")
	d.BlockerReason = optionalString(obj, "blockerReason")
	return d
}

// optionalString keeps a field only when it decoded as a string.
func optionalString(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
