package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crewline/crewline/pkg/models"
)

// NewSubAgentsTool builds the built-in "subagents" tool. All four actions
// route through the function handles on the execution context; an agent
// whose runtime has no coordinator wired gets a plain error result.
func NewSubAgentsTool() Tool {
	return Tool{
		ID:          SubAgentsToolID,
		Name:        "subagents",
		Description: "Delegate work to child agents: spawn a focused sub-agent run, await or cancel a run, or list your runs.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{"spawn", "await", "list", "cancel"},
					"description": "Operation to perform.",
				},
				"agent_id": map[string]any{
					"type":        "string",
					"description": "Agent to run the task (spawn).",
				},
				"task": map[string]any{
					"type":        "string",
					"description": "Focused task text for the child (spawn).",
				},
				"provider": map[string]any{
					"type":        "string",
					"description": "Provider override for the child (spawn, optional).",
				},
				"model": map[string]any{
					"type":        "string",
					"description": "Model override for the child (spawn, optional).",
				},
				"await_completion": map[string]any{
					"type":        "boolean",
					"description": "Block until the spawned run finishes (spawn, optional).",
				},
				"run_id": map[string]any{
					"type":        "string",
					"description": "Target run (await, cancel).",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Wait budget in milliseconds (spawn with await_completion, await).",
				},
			},
			"required": []string{"action"},
		},
		Execute: executeSubAgents,
	}
}

func executeSubAgents(ctx context.Context, args map[string]any, ec *ExecutionContext) (*models.ToolResult, error) {
	action, _ := args["action"].(string)
	switch action {
	case "spawn":
		return subAgentSpawn(ctx, args, ec)
	case "await":
		return subAgentAwait(ctx, args, ec)
	case "list":
		return subAgentList(ctx, ec)
	case "cancel":
		return subAgentCancel(ctx, args, ec)
	default:
		return toolFailure(fmt.Sprintf("unknown subagents action %q", action)), nil
	}
}

func subAgentSpawn(ctx context.Context, args map[string]any, ec *ExecutionContext) (*models.ToolResult, error) {
	if ec.SpawnSubAgent == nil {
		return toolFailure("sub-agent runtime is not available for this agent"), nil
	}
	req := models.SubAgentSpawnRequest{
		AgentID:  stringArg(args, "agent_id"),
		Task:     stringArg(args, "task"),
		Provider: stringArg(args, "provider"),
		Model:    stringArg(args, "model"),
		Timeout:  timeoutArg(args),
	}
	req.AwaitCompletion, _ = args["await_completion"].(bool)

	run, err := ec.SpawnSubAgent(ctx, req)
	if err != nil {
		return toolFailure(err.Error()), nil
	}
	if run.Status == models.RunFailed {
		return toolFailure(run.Error), nil
	}
	return &models.ToolResult{OK: true, Output: formatRunState(run)}, nil
}

func subAgentAwait(ctx context.Context, args map[string]any, ec *ExecutionContext) (*models.ToolResult, error) {
	if ec.AwaitSubAgentRun == nil {
		return toolFailure("sub-agent runtime is not available for this agent"), nil
	}
	runID := stringArg(args, "run_id")
	if runID == "" {
		return toolFailure("run_id is required for await"), nil
	}
	run, err := ec.AwaitSubAgentRun(ctx, runID, timeoutArg(args))
	if err != nil {
		return toolFailure(err.Error()), nil
	}
	return &models.ToolResult{OK: true, Output: formatRunState(run)}, nil
}

func subAgentList(ctx context.Context, ec *ExecutionContext) (*models.ToolResult, error) {
	if ec.ListSubAgentRuns == nil {
		return toolFailure("sub-agent runtime is not available for this agent"), nil
	}
	runs := ec.ListSubAgentRuns(ctx)
	if len(runs) == 0 {
		return &models.ToolResult{OK: true, Output: "No sub-agent runs."}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d sub-agent run(s), newest first:\n", len(runs))
	for _, run := range runs {
		fmt.Fprintf(&b, "- %s [%s] agent=%s task=%s\n",
			run.RunID, run.Status, run.AgentID, clipTask(run.Task, 60))
	}
	return &models.ToolResult{OK: true, Output: strings.TrimRight(b.String(), "\n")}, nil
}

func subAgentCancel(ctx context.Context, args map[string]any, ec *ExecutionContext) (*models.ToolResult, error) {
	if ec.CancelSubAgentRun == nil {
		return toolFailure("sub-agent runtime is not available for this agent"), nil
	}
	runID := stringArg(args, "run_id")
	if runID == "" {
		return toolFailure("run_id is required for cancel"), nil
	}
	run, err := ec.CancelSubAgentRun(ctx, runID)
	if err != nil {
		return toolFailure(err.Error()), nil
	}
	return &models.ToolResult{OK: true, Output: formatRunState(run)}, nil
}

func formatRunState(run *models.SubAgentRunState) string {
	if run == nil {
		return "Sub-agent run not found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-agent run %s\nStatus: %s\nAgent: %s\nTask: %s", run.RunID, run.Status, run.AgentID, run.Task)
	if run.Output != "" {
		fmt.Fprintf(&b, "\nOutput:\n%s", run.Output)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", run.Error)
	}
	return b.String()
}

func toolFailure(reason string) *models.ToolResult {
	return &models.ToolResult{OK: false, Error: reason}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// timeoutArg reads timeout_ms; coercion may deliver it as float64 or int.
func timeoutArg(args map[string]any) time.Duration {
	switch v := args["timeout_ms"].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}

func clipTask(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
