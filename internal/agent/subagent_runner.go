package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/internal/subagents"
	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

const subAgentPromptFormat = "You were spawned by parent agent '%s'. Use only the focused task context below; do not assume access to the full parent chat transcript.\n\n%s"

var workspaceKeyRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// AgentResolver looks up a configured agent by id.
type AgentResolver func(agentID string) (*models.AgentConfig, bool)

// SubAgentRunner adapts the turn engine into a coordinator executor: it
// resolves the child agent config, applies provider/model overrides,
// prepares the child's isolated workspace, and runs a single focused turn.
// Bind must be called with the owning coordinator before any run executes;
// the two reference each other, so construction happens in two steps.
type SubAgentRunner struct {
	engine   *Engine
	resolve  AgentResolver
	dataRoot string
	secrets  map[string]string
	coord    *subagents.Coordinator
}

// NewSubAgentRunner creates a runner over the engine. dataRoot is the base
// directory for per-agent workspaces.
func NewSubAgentRunner(engine *Engine, resolve AgentResolver, dataRoot string, secrets map[string]string) *SubAgentRunner {
	return &SubAgentRunner{
		engine:   engine,
		resolve:  resolve,
		dataRoot: dataRoot,
		secrets:  secrets,
	}
}

// Bind attaches the coordinator so children get a runtime one level deeper.
func (r *SubAgentRunner) Bind(coord *subagents.Coordinator) { r.coord = coord }

// Execute is the subagents.Executor behind queued runs.
func (r *SubAgentRunner) Execute(ctx context.Context, run *models.SubAgentRunState, spec subagents.ChildSpec) (string, error) {
	if r.resolve == nil {
		return "", fmt.Errorf("no agent resolver configured")
	}
	cfg, ok := r.resolve(run.AgentID)
	if !ok {
		return "", fmt.Errorf("unknown agent %q", run.AgentID)
	}
	child := cfg.Clone()
	if spec.Provider != "" {
		child.Provider = spec.Provider
	}
	if spec.Model != "" {
		child.Model = spec.Model
	}
	run.AgentName = child.Name

	workspace, err := r.ensureWorkspace(child.ID)
	if err != nil {
		return "", err
	}

	exec := &tools.ExecutionContext{
		RunID:              run.RunID,
		AgentID:            child.ID,
		AgentName:          child.Name,
		ProviderID:         child.Provider,
		ToolAccessMode:     child.AccessMode,
		AgentWorkspaceRoot: workspace,
		Hooks:              r.engine.bus,
		SecretValues:       r.secrets,
	}
	if r.coord != nil {
		rt := r.coord.Runtime(run.RunID, child.ID, spec.Depth)
		exec.SpawnSubAgent = rt.Spawn
		exec.AwaitSubAgentRun = rt.Await
		exec.ListSubAgentRuns = rt.List
		exec.CancelSubAgentRun = rt.Cancel
	}

	history := []models.Message{{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   fmt.Sprintf(subAgentPromptFormat, r.parentName(spec.ParentAgentID), run.Task),
		Timestamp: time.Now(),
	}}

	msg, err := r.engine.Run(ctx, RunInput{Agent: child, History: history, Exec: exec})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func (r *SubAgentRunner) parentName(parentAgentID string) string {
	if cfg, ok := r.resolve(parentAgentID); ok && cfg.Name != "" {
		return cfg.Name
	}
	return parentAgentID
}

// ensureWorkspace creates the child's isolated directory for file effects.
func (r *SubAgentRunner) ensureWorkspace(agentID string) (string, error) {
	key := workspaceKeyRe.ReplaceAllString(strings.ToLower(agentID), "-")
	if key == "" {
		key = "agent"
	}
	dir := filepath.Join(r.dataRoot, "evolution", "agents", key, "workspace")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sub-agent workspace: %w", err)
	}
	return dir, nil
}
