package history

import (
	"fmt"

	"github.com/crewline/crewline/pkg/models"
)

// RepairOrphanToolResults injects a synthetic failed tool result for every
// assistant tool call that never received a tool-role answer. Providers
// reject transcripts with dangling call ids, so this keeps an interrupted
// run resumable. Returns the (possibly extended) messages and the number
// of injected results; the engine counts those as failures.
func RepairOrphanToolResults(msgs []models.Message) ([]models.Message, int) {
	answered := make(map[string]bool)
	for _, msg := range msgs {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			answered[msg.ToolCallID] = true
		}
	}

	var out []models.Message
	injected := 0
	for _, msg := range msgs {
		out = append(out, msg)
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" || answered[tc.ID] {
				continue
			}
			name := tc.Name
			if name == "" {
				name = tc.ID
			}
			out = append(out, models.Message{
				Role:       models.RoleTool,
				Name:       name,
				ToolCallID: tc.ID,
				Content:    fmt.Sprintf("Error: Missing tool result for '%s' (%s). Treat this tool call as failed.", name, tc.ID),
			})
			answered[tc.ID] = true
			injected++
		}
	}
	return out, injected
}
