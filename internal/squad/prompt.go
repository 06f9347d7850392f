package squad

import (
	"fmt"
	"strings"

	"github.com/crewline/crewline/pkg/models"
)

const (
	directorTemperature = 0.2
	directorMaxTokens   = 1200
)

const decisionSchemaBlock = `Respond with a single JSON object and nothing else:
{
  "status": "continue" | "complete" | "needs_user_input" | "blocked",
  "summary": "<one-sentence summary of your reasoning, required>",
  "targetAgentId": "<worker id, required when status is continue>",
  "instruction": "<concrete task for that worker, required when status is continue>",
  "responseToUser": "<final answer, required when status is complete>",
  "userQuestion": "<question for the user, when status is needs_user_input>",
  "blockerReason": "<what is blocking progress, when status is blocked>"
}
Never target yourself. Do not wrap the object in markdown fences.`

// buildDirectorPrompt assembles the director's system prompt: goal,
// context, worker roster, interaction-mode rules, the user-turn policy,
// and the strict decision schema.
func buildDirectorPrompt(cfg *models.SquadConfig, workers []*models.AgentConfig) string {
	var b strings.Builder

	b.WriteString("You are the director of a squad of specialist agents. Each iteration you either delegate one concrete instruction to one worker or end the run.\n\n")
	fmt.Fprintf(&b, "## Goal\n%s\n", cfg.Goal)
	if cfg.Context != "" {
		fmt.Fprintf(&b, "\n## Context\n%s\n", cfg.Context)
	}

	b.WriteString("\n## Workers\n")
	for _, w := range workers {
		fmt.Fprintf(&b, "- id=%s name=%s", w.ID, w.Name)
		if w.Role != "" {
			fmt.Fprintf(&b, " role=%s", w.Role)
		}
		if len(w.Tools) > 0 {
			fmt.Fprintf(&b, " tools=%s", strings.Join(w.Tools, ","))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Conduct\n")
	switch cfg.Interaction.Mode {
	case models.InteractionLiveCampaign:
		b.WriteString("Pace the squad like a game master running a live session: keep momentum, narrate transitions briefly, and give each worker a clear scene objective.\n")
	default:
		b.WriteString("Stay task-focused and concise. Summaries are log lines, not prose.\n")
	}
	if cfg.Interaction.UserTurnPolicy == models.UserTurnEveryRound {
		b.WriteString("The user reviews progress after every worker turn; keep each instruction small enough to finish in one turn.\n")
	}

	b.WriteString("\n## Decision format\n")
	b.WriteString(decisionSchemaBlock)
	return b.String()
}

// buildWorkerPrompt assembles one worker task turn: squad goal and context,
// the director's instruction, and the workspace rules that apply to workers
// with file tools.
func buildWorkerPrompt(cfg *models.SquadConfig, worker *models.AgentConfig, instruction, workspace string, hasFileTools bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a member of squad '%s'.\n\n", worker.Name, cfg.Name)
	fmt.Fprintf(&b, "Squad goal: %s\n", cfg.Goal)
	if cfg.Context != "" {
		fmt.Fprintf(&b, "Squad context: %s\n", cfg.Context)
	}
	if worker.Role != "" {
		fmt.Fprintf(&b, "Your role: %s\n", worker.Role)
	}
	fmt.Fprintf(&b, "\nInstruction from the director:\n%s\n", instruction)

	if hasFileTools {
		fmt.Fprintf(&b, "\nWorkspace: write all file artifacts under %q. ", workspace)
		b.WriteString("Write incrementally: create or update real files through your tools rather than pasting full file contents into chat.\n")
	}
	b.WriteString("\nComplete the instruction now using your tools where required, then report what you did.")
	return b.String()
}
