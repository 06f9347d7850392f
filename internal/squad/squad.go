// Package squad runs a squad of specialist agents under a director model.
// Each iteration the director returns a JSON decision; "continue" decisions
// dispatch one instruction to one worker through the agent turn engine, and
// worker output is verified against inferred tool-effect postconditions
// before the loop advances.
package squad

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/provider"
	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

const defaultMaxIterations = 6

// Terminal squad statuses.
const (
	StatusCompleted      = "completed"
	StatusNeedsUserInput = "needs_user_input"
	StatusBlocked        = "blocked"
	StatusMaxIterations  = "max_iterations"
)

// Step records one completed squad iteration.
type Step struct {
	Iteration   int
	AgentID     string
	AgentName   string
	Instruction string
	Summary     string
	Output      string
	Retried     bool
}

// StepFunc observes each completed step together with a snapshot of all
// steps so far.
type StepFunc func(step Step, completed []Step)

// Result is the outcome of one squad run.
type Result struct {
	Status   string
	Response string
	Steps    []Step
}

// Orchestrator drives squad runs. The director model is called directly on
// the provider client; workers go through the turn engine so they get the
// full tool loop.
type Orchestrator struct {
	engine  *agent.Engine
	clients map[string]provider.Client
	resolve agent.AgentResolver
	logger  *slog.Logger

	// OnStep, when set, is invoked after every completed worker step.
	OnStep StepFunc
}

// New creates an orchestrator over the engine and the provider clients the
// process holds API keys for.
func New(engine *agent.Engine, clients map[string]provider.Client, resolve agent.AgentResolver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:  engine,
		clients: clients,
		resolve: resolve,
		logger:  logger.With("component", "squad"),
	}
}

// runtime is the resolved execution plan for one squad run.
type runtime struct {
	workers    []*models.AgentConfig
	byID       map[string]*models.AgentConfig
	provider   string
	model      string
	workspace  string
	iterations int
}

// resolveRuntime normalizes the squad config: dedupe members, drop ids
// missing from the agent registry, and pick the director's provider and
// model. Preference order for the provider: configured, then any worker's
// provider with a client, then the first provider with a client.
func (o *Orchestrator) resolveRuntime(cfg *models.SquadConfig) (*runtime, error) {
	rt := &runtime{
		byID:       make(map[string]*models.AgentConfig),
		workspace:  path.Join("Squads", slug(cfg.Name)),
		iterations: cfg.MaxIterations,
	}
	if rt.iterations <= 0 {
		rt.iterations = defaultMaxIterations
	}

	seen := make(map[string]struct{})
	for _, id := range cfg.Members {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		worker, ok := o.resolve(id)
		if !ok {
			o.logger.Warn("squad member not in agent registry, skipping", "agent_id", id)
			continue
		}
		rt.workers = append(rt.workers, worker)
		rt.byID[worker.ID] = worker
	}
	if len(rt.workers) == 0 {
		return nil, fmt.Errorf("squad %q has no resolvable workers", cfg.Name)
	}

	rt.provider = o.pickProvider(cfg)
	if rt.provider == "" {
		return nil, fmt.Errorf("no provider with an API client is available for squad %q", cfg.Name)
	}
	rt.model = cfg.Orchestrator.Model
	if rt.model == "" {
		for _, w := range rt.workers {
			if strings.EqualFold(w.Provider, rt.provider) {
				rt.model = w.Model
				break
			}
		}
	}
	if rt.model == "" {
		return nil, fmt.Errorf("no orchestrator model resolvable for squad %q on provider %q", cfg.Name, rt.provider)
	}
	return rt, nil
}

func (o *Orchestrator) pickProvider(cfg *models.SquadConfig) string {
	if p := strings.ToLower(cfg.Orchestrator.Provider); p != "" {
		if _, ok := o.clients[p]; ok {
			return p
		}
	}
	for _, id := range cfg.Members {
		if w, ok := o.resolve(strings.TrimSpace(id)); ok {
			if p := strings.ToLower(w.Provider); p != "" {
				if _, ok := o.clients[p]; ok {
					return p
				}
			}
		}
	}
	keys := make([]string, 0, len(o.clients))
	for k := range o.clients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// Run executes the squad loop for one user message.
func (o *Orchestrator) Run(ctx context.Context, cfg *models.SquadConfig, userMessage string) (*Result, error) {
	rt, err := o.resolveRuntime(cfg)
	if err != nil {
		return nil, err
	}
	client := o.clients[rt.provider]

	transcript := []provider.ChatMessage{
		{Role: models.RoleSystem, Content: buildDirectorPrompt(cfg, rt.workers)},
		{Role: models.RoleUser, Content: userMessage},
	}

	var steps []Step
	for iteration := 1; iteration <= rt.iterations; iteration++ {
		resp, err := client.Chat(ctx, &provider.ChatRequest{
			Model:       rt.model,
			Messages:    transcript,
			Temperature: directorTemperature,
			MaxTokens:   directorMaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("director call failed on iteration %d: %w", iteration, err)
		}
		transcript = append(transcript, provider.ChatMessage{Role: models.RoleAssistant, Content: resp.Content})
		decision := ParseDirectorDecision(resp.Content)

		switch decision.Status {
		case models.DecisionComplete:
			return &Result{Status: StatusCompleted, Response: firstNonEmpty(decision.ResponseToUser, decision.Summary), Steps: steps}, nil
		case models.DecisionNeedsUserInput:
			return &Result{Status: StatusNeedsUserInput, Response: firstNonEmpty(decision.UserQuestion, "The squad needs your input to proceed."), Steps: steps}, nil
		case models.DecisionBlocked:
			return &Result{Status: StatusBlocked, Response: firstNonEmpty(decision.BlockerReason, decision.Summary), Steps: steps}, nil
		}

		worker, ok := rt.byID[decision.TargetAgentID]
		if !ok || strings.TrimSpace(decision.Instruction) == "" {
			o.logger.Warn("director issued an undeliverable instruction",
				"squad", cfg.Name, "target", decision.TargetAgentID)
			return &Result{
				Status:   StatusBlocked,
				Response: fmt.Sprintf("The director could not delegate: no valid worker and instruction (target '%s').", decision.TargetAgentID),
				Steps:    steps,
			}, nil
		}

		step, result, err := o.runWorkerStep(ctx, cfg, rt, worker, decision, iteration)
		if err != nil {
			return nil, err
		}
		if result != nil {
			result.Steps = steps
			return result, nil
		}
		steps = append(steps, *step)
		if o.OnStep != nil {
			o.OnStep(*step, append([]Step(nil), steps...))
		}

		transcript = append(transcript, provider.ChatMessage{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("%s completed the instruction. Report:\n%s", worker.Name, step.Output),
		})

		if cfg.Interaction.UserTurnPolicy == models.UserTurnEveryRound && iteration < rt.iterations {
			return &Result{
				Status:   StatusNeedsUserInput,
				Response: fmt.Sprintf("%s completed a turn. What do you do next?", worker.Name),
				Steps:    steps,
			}, nil
		}
	}

	return &Result{
		Status:   StatusMaxIterations,
		Response: fmt.Sprintf("The squad reached its iteration limit (%d) before completion.", rt.iterations),
		Steps:    steps,
	}, nil
}

// runWorkerStep dispatches one instruction to a worker and verifies the
// inferred postconditions, allowing a single corrective retry. A non-nil
// Result short-circuits the squad loop.
func (o *Orchestrator) runWorkerStep(ctx context.Context, cfg *models.SquadConfig, rt *runtime, worker *models.AgentConfig, decision models.DirectorDecision, iteration int) (*Step, *Result, error) {
	grants := tools.NormalizeToolIDs(worker.Tools)
	hasFileTools := tools.GrantsTool(grants, tools.MCPAllToolID)
	task := buildWorkerPrompt(cfg, worker, decision.Instruction, rt.workspace, hasFileTools)

	history := []models.Message{userMessage(task)}
	exec := &tools.ExecutionContext{
		RunID:              uuid.NewString(),
		AgentID:            worker.ID,
		AgentName:          worker.Name,
		ProviderID:         worker.Provider,
		SquadID:            cfg.ID,
		SquadName:          cfg.Name,
		ToolAccessMode:     worker.AccessMode,
		AgentWorkspaceRoot: rt.workspace,
	}

	msg, err := o.engine.Run(ctx, agent.RunInput{Agent: worker, History: history, Exec: exec})
	if err != nil {
		return nil, nil, fmt.Errorf("worker %q failed on iteration %d: %w", worker.ID, iteration, err)
	}

	exp := inferExpectation(decision.Instruction, worker.Tools)
	reason, ok := exp.verify(msg.ToolExecution)
	retried := false
	if !ok {
		retried = true
		o.logger.Warn("worker output failed verification, retrying",
			"agent_id", worker.ID, "reason", reason)
		history = append(history, msg, userMessage(retryMessage(reason)))
		msg, err = o.engine.Run(ctx, agent.RunInput{Agent: worker, History: history, Exec: exec})
		if err != nil {
			return nil, nil, fmt.Errorf("worker %q retry failed on iteration %d: %w", worker.ID, iteration, err)
		}
		if reason, ok = exp.verify(msg.ToolExecution); !ok {
			return nil, &Result{
				Status:   StatusBlocked,
				Response: blockedResponse(worker.Name, reason),
			}, nil
		}
	}

	return &Step{
		Iteration:   iteration,
		AgentID:     worker.ID,
		AgentName:   worker.Name,
		Instruction: decision.Instruction,
		Summary:     decision.Summary,
		Output:      msg.Content,
		Retried:     retried,
	}, nil, nil
}

func userMessage(content string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slug folds a squad name into a filesystem-safe folder segment.
func slug(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "squad"
	}
	return s
}
