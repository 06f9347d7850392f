// Package models defines the shared data model for the crewline runtime:
// conversation messages, tool calls and results, agent and squad
// configuration, and sub-agent run state.
package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one item of conversation.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`

	// ToolExecution summarizes tool activity for the turn that produced
	// this message. Only set on the final assistant message of a run.
	ToolExecution *ToolExecutionSummary `json:"tool_execution,omitempty"`
}

// ToolCall is an assistant request to execute a tool. Arguments is a JSON
// object serialized as text; ID correlates the call with a later tool-role
// result message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArtifactKind classifies a tool side-effect.
type ArtifactKind string

const (
	ArtifactFile  ArtifactKind = "file"
	ArtifactShell ArtifactKind = "shell"
	ArtifactWeb   ArtifactKind = "web"
	ArtifactOther ArtifactKind = "other"
)

// Artifact records one inspectable side-effect of a tool execution.
type Artifact struct {
	Kind      ArtifactKind      `json:"kind"`
	Label     string            `json:"label"`
	Operation string            `json:"operation,omitempty"`
	Path      string            `json:"path,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Check records one postcondition the tool verified (or failed to verify).
type Check struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
}

// ToolResult is the uniform outcome of a tool execution. When OK is false,
// Error carries a non-empty reason.
type ToolResult struct {
	OK        bool       `json:"ok"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Checks    []Check    `json:"checks,omitempty"`
}

// FailedChecks returns true if any check did not pass.
func (r *ToolResult) FailedChecks() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return true
		}
	}
	return false
}

// ToolExecutionSummary aggregates tool activity across one agent turn.
// Verified effect counters only count executions where the result was OK
// and no check failed.
type ToolExecutionSummary struct {
	Attempted            int `json:"attempted"`
	Succeeded            int `json:"succeeded"`
	Failed               int `json:"failed"`
	Malformed            int `json:"malformed"`
	VerifiedFileEffects  int `json:"verified_file_effects"`
	VerifiedShellEffects int `json:"verified_shell_effects"`
}
