// Package tools implements the tool abstraction: the registry, canonical
// tool-id normalization, the provider-facing tool manifest, and argument
// parsing, validation, and coercion against JSON-Schema-flavored input
// schemas.
package tools

import (
	"context"
	"time"

	"github.com/crewline/crewline/internal/hooks"
	"github.com/crewline/crewline/internal/jsonx"
	"github.com/crewline/crewline/pkg/models"
)

// ExecuteFunc is the effect function behind a tool. Tools are modeled as a
// tagged value rather than an interface hierarchy; the function is
// registered at startup and receives the per-run execution context.
type ExecuteFunc func(ctx context.Context, args map[string]any, ec *ExecutionContext) (*models.ToolResult, error)

// Tool is an invocable external capability with a JSON-schema input
// contract. ID is the canonical internal identifier; Name is the
// provider-facing identifier, subject to manifest sanitization.
type Tool struct {
	ID          string
	Name        string
	Description string
	InputSchema map[string]any
	Privileged  bool
	Execute     ExecuteFunc
}

// SpawnFunc enqueues a recursive child agent run.
type SpawnFunc func(ctx context.Context, req models.SubAgentSpawnRequest) (*models.SubAgentRunState, error)

// AwaitFunc waits for a run to reach a terminal status or for the timeout
// to elapse, returning the current state either way.
type AwaitFunc func(ctx context.Context, runID string, timeout time.Duration) (*models.SubAgentRunState, error)

// ListRunsFunc lists the caller's sub-agent runs.
type ListRunsFunc func(ctx context.Context) []*models.SubAgentRunState

// CancelFunc cooperatively cancels a non-terminal run.
type CancelFunc func(ctx context.Context, runID string) (*models.SubAgentRunState, error)

// ExecutionContext is the ambient environment passed into every tool
// execution. It is constructed per run and passed down by value holders;
// sub-agent operations reference the coordinator through function handles
// rather than an embedded pointer.
type ExecutionContext struct {
	RunID      string
	AgentID    string
	AgentName  string
	ProviderID string
	SquadID    string
	SquadName  string

	ToolAccessMode    models.AccessMode
	ToolAccessGranted bool

	// AgentWorkspaceRoot is the agent's isolated directory for file effects.
	AgentWorkspaceRoot string

	SpawnSubAgent     SpawnFunc
	AwaitSubAgentRun  AwaitFunc
	ListSubAgentRuns  ListRunsFunc
	CancelSubAgentRun CancelFunc

	Hooks *hooks.Bus

	// SecretValues maps placeholder keys to secret material. Values are
	// substituted into tool arguments and masked from all outbound strings.
	SecretValues map[string]string
}

// CallSignature produces a stable identity for a tool invocation, used to
// suppress duplicate calls. Two argument objects that differ only in key
// order share a signature.
func CallSignature(toolID string, args map[string]any) string {
	return toolID + ":" + jsonx.StableStringify(args)
}
