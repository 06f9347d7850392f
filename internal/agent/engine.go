// Package agent implements the tool-use turn loop: it drives one agent
// through provider calls and tool executions until the model produces a
// final answer or the tool-call budget runs out.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/internal/agent/history"
	"github.com/crewline/crewline/internal/hooks"
	"github.com/crewline/crewline/internal/provider"
	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// Loop constants. Tool mode tightens temperature and budgets so the model
// spends its window on tool traffic instead of prose.
const (
	MaxToolTurns          = 24
	MaxIdenticalToolCalls = 2

	ReservedResponseTokens    = 5120
	ReservedToolingTokens     = 1200
	ToolModePromptTokenCap    = 5000
	ToolModeMaxResponseTokens = 1536
	chatModeMaxResponseTokens = 4096

	toolModeTemperature = 0.2
	chatModeTemperature = 0.7

	defaultToolTimeout = 30 * time.Second

	// Fallback answers sourced from the last tool output are clipped here.
	fallbackOutputCapChars = 6000
)

const smallWindowWarning = "Note: this model has a limited context window. Older turns may be summarized or dropped; keep answers focused."

const budgetExhaustedPrompt = "Tool-call budget is exhausted. Do not call any tools. Provide the final user-facing answer now."

// Engine runs agent turns against a set of provider clients and a tool
// registry, emitting lifecycle events on the hook bus.
type Engine struct {
	registry    *tools.Registry
	clients     map[string]provider.Client
	bus         *hooks.Bus
	logger      *slog.Logger
	toolTimeout time.Duration
	now         func() time.Time
}

// NewEngine creates an engine. clients maps lowercase provider ids to
// configured adapters.
func NewEngine(registry *tools.Registry, clients map[string]provider.Client, bus *hooks.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = hooks.NewBus(logger)
	}
	return &Engine{
		registry:    registry,
		clients:     clients,
		bus:         bus,
		logger:      logger.With("component", "engine"),
		toolTimeout: defaultToolTimeout,
		now:         time.Now,
	}
}

// RunInput is one agent turn: the configured agent, the conversation so
// far, and the ambient execution context handed to tools.
type RunInput struct {
	Agent   *models.AgentConfig
	History []models.Message
	Exec    *tools.ExecutionContext
}

// runState is the per-run mutable bookkeeping.
type runState struct {
	summary      models.ToolExecutionSummary
	sigCount     map[string]int
	insertedAt   map[string]time.Time
	lastSuccess  string
	prunedCount  int
	startedAt    time.Time
	toolMode     bool
	runID        string
	agentID      string
}

// Run drives one full agent turn and returns the final assistant message.
// Configuration problems (missing client, incompatible model, tiny context
// window) are returned as synthesized assistant error messages, not Go
// errors; provider transport failures are returned as errors.
func (e *Engine) Run(ctx context.Context, in RunInput) (models.Message, error) {
	agent := in.Agent
	exec := in.Exec
	if exec == nil {
		exec = &tools.ExecutionContext{}
	}

	st := &runState{
		sigCount:   make(map[string]int),
		insertedAt: make(map[string]time.Time),
		startedAt:  e.now(),
		runID:      exec.RunID,
		agentID:    agent.ID,
	}

	client, ok := e.clients[strings.ToLower(agent.Provider)]
	if !ok {
		return e.configError(ctx, st, fmt.Sprintf("No API client configured for provider '%s'.", agent.Provider)), nil
	}

	model := agent.Model
	if fallback, deprecated := provider.IsKnownDeprecated(agent.Provider, model); deprecated {
		e.logger.Warn("model is deprecated, rewriting", "model", model, "fallback", fallback)
		model = fallback
	}
	if !provider.IsChatCapable(model) {
		return e.configError(ctx, st, fmt.Sprintf("Model '%s' is not a chat-capable model.", model)), nil
	}

	granted := tools.NormalizeToolIDs(agent.Tools)
	var toolList []tools.Tool
	for _, tool := range e.registry.GetAll() {
		if tools.GrantsTool(granted, tool.ID) {
			toolList = append(toolList, tool)
		}
	}
	st.toolMode = len(toolList) > 0

	if st.toolMode {
		if !client.SupportsNativeToolCalling() {
			return e.configError(ctx, st, fmt.Sprintf("Provider '%s' does not support native tool calling for this runtime", agent.Provider)), nil
		}
		if !provider.SupportsToolUse(agent.Provider, model) {
			return e.configError(ctx, st, fmt.Sprintf("Model '%s' does not support native tool calling", model)), nil
		}
	}

	effort := agent.ReasoningEffort
	if effort != "" && effort != models.ReasoningNone && !provider.SupportsReasoningEffort(agent.Provider, model) {
		effort = models.ReasoningNone
	}

	window := provider.ContextWindow(agent.Provider, model)
	if window < provider.MinUsableContextWindow {
		return e.configError(ctx, st, fmt.Sprintf(
			"Model '%s' context window (%d tokens) is below the %d-token minimum for this runtime.",
			model, window, provider.MinUsableContextWindow)), nil
	}

	system := agent.SystemPrompt
	if window < provider.SmallContextWindow {
		system = joinPrompt(system, smallWindowWarning)
	}
	system = e.assemblePrompt(ctx, st, system, in.History)

	budget := window - history.EstimateTokens(system) - ReservedResponseTokens
	if st.toolMode {
		budget -= ReservedToolingTokens
		if budget > ToolModePromptTokenCap {
			budget = ToolModePromptTokenCap
		}
	}

	manifest := tools.BuildManifest(toolList, e.logger)

	convo := make([]models.Message, len(in.History))
	copy(convo, in.History)

	ttl := time.Duration(provider.CacheTTLMillis(agent.Provider)) * time.Millisecond

	for turn := 0; turn <= MaxToolTurns; turn++ {
		convo = history.BuildManaged(convo, budget)

		var injected int
		convo, injected = history.RepairOrphanToolResults(convo)
		st.summary.Failed += injected

		var pruned int
		convo, pruned = history.PruneExpiredToolResults(convo, st.insertedAt, ttl, e.now(), budget)
		st.prunedCount += pruned

		req := e.buildRequest(model, system, convo, manifest, effort, st.toolMode)
		resp, err := client.Chat(ctx, req)
		if err != nil {
			e.emitRunEnd(ctx, st, "failed", err.Error())
			return models.Message{}, fmt.Errorf("provider chat: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return e.finalize(ctx, st, resp.Content), nil
		}

		convo = append(convo, models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Timestamp: e.now(),
		})
		for _, call := range resp.ToolCalls {
			result := e.dispatchToolCall(ctx, st, manifest, call, exec)
			convo = append(convo, result)
			st.insertedAt[call.ID] = e.now()
		}
	}

	return e.recoverFromExhaustedBudget(ctx, st, client, model, system, convo, effort)
}

// assemblePrompt runs the prompt hooks: prompt_before may append
// appendices or replace the prompt, prompt_after may replace the merged
// result.
func (e *Engine) assemblePrompt(ctx context.Context, st *runState, system string, msgs []models.Message) string {
	var appendices []string
	userPrompt := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			userPrompt = msgs[i].Content
			break
		}
	}

	before := &hooks.Event{
		Topic:                  hooks.TopicPromptBefore,
		RunID:                  st.runID,
		AgentID:                st.agentID,
		SystemPrompt:           &system,
		UserPrompt:             userPrompt,
		ContextMessages:        msgs,
		SystemPromptAppendices: &appendices,
	}
	if err := e.bus.Emit(ctx, before); err != nil {
		e.logger.Warn("prompt_before hook error", "error", err)
	}
	for _, appendix := range appendices {
		system = joinPrompt(system, appendix)
	}

	after := &hooks.Event{
		Topic:   hooks.TopicPromptAfter,
		RunID:   st.runID,
		AgentID: st.agentID,
		Prompt:  &system,
	}
	if err := e.bus.Emit(ctx, after); err != nil {
		e.logger.Warn("prompt_after hook error", "error", err)
	}
	return system
}

func (e *Engine) buildRequest(model, system string, convo []models.Message, manifest *tools.Manifest, effort models.ReasoningEffort, toolMode bool) *provider.ChatRequest {
	msgs := make([]provider.ChatMessage, 0, len(convo)+1)
	if system != "" {
		msgs = append(msgs, provider.ChatMessage{Role: models.RoleSystem, Content: system})
	}
	for _, m := range convo {
		msgs = append(msgs, provider.ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
	}

	req := &provider.ChatRequest{
		Model:           model,
		Messages:        msgs,
		ReasoningEffort: effort,
	}
	if toolMode {
		req.Temperature = toolModeTemperature
		req.MaxTokens = ToolModeMaxResponseTokens
		req.Tools = manifest.Decls()
		req.ToolChoice = provider.ToolChoiceAuto
	} else {
		req.Temperature = chatModeTemperature
		req.MaxTokens = chatModeMaxResponseTokens
	}
	return req
}

// recoverFromExhaustedBudget makes one final no-tools call asking for the
// answer directly. If that fails, the last successful tool output (clipped)
// stands in; with nothing cached, a terminal error message is returned.
func (e *Engine) recoverFromExhaustedBudget(ctx context.Context, st *runState, client provider.Client, model, system string, convo []models.Message, effort models.ReasoningEffort) (models.Message, error) {
	prompt := budgetExhaustedPrompt
	if st.lastSuccess != "" {
		prompt += "\n\nLast successful tool result:\n" + st.lastSuccess
	}
	convo = append(convo, models.Message{Role: models.RoleUser, Content: prompt, Timestamp: e.now()})
	convo = history.BuildManaged(convo, ToolModePromptTokenCap)

	req := e.buildRequest(model, system, convo, nil, effort, false)
	resp, err := client.Chat(ctx, req)
	if err == nil && resp.Content != "" && len(resp.ToolCalls) == 0 {
		return e.finalize(ctx, st, resp.Content), nil
	}
	if err != nil {
		e.logger.Warn("budget recovery call failed", "error", err)
	}

	if st.lastSuccess != "" {
		return e.finalize(ctx, st, clip(st.lastSuccess, fallbackOutputCapChars)), nil
	}
	return e.finalize(ctx, st, "The run exhausted its tool-call budget without producing a final answer."), nil
}

// dispatchToolCall runs one provider tool call end to end and returns the
// tool-role message to append.
func (e *Engine) dispatchToolCall(ctx context.Context, st *runState, manifest *tools.Manifest, call models.ToolCall, exec *tools.ExecutionContext) models.Message {
	reject := func(errText string, malformed bool) models.Message {
		if malformed {
			st.summary.Malformed++
		}
		st.summary.Failed++
		return e.toolMessage(call, "Error: "+errText)
	}

	toolID, ok := manifest.ResolveToolID(call.Name)
	if !ok {
		return reject(fmt.Sprintf("Tool '%s' is not available for this agent.", call.Name), true)
	}
	tool, ok := e.registry.GetByID(toolID)
	if !ok {
		return reject(fmt.Sprintf("Tool '%s' is not available for this agent.", call.Name), true)
	}

	args, err := tools.ParseArguments(call.Arguments)
	if err != nil {
		return reject(err.Error(), true)
	}

	vr := tools.ValidateArgs(tool.InputSchema, args)
	if !vr.OK {
		return reject("Invalid tool arguments: "+strings.Join(vr.Errors, "; "), true)
	}
	args = tools.SubstituteSecrets(vr.NormalizedArgs, exec.SecretValues)

	sig := tools.CallSignature(toolID, args)
	if st.sigCount[sig] >= MaxIdenticalToolCalls {
		return reject(fmt.Sprintf("Duplicate tool call rejected: '%s' already executed %d times with identical arguments.", toolID, st.sigCount[sig]), false)
	}
	st.sigCount[sig]++

	if isPrivileged(tool) && exec.ToolAccessMode == models.AccessAskAlways && !exec.ToolAccessGranted {
		st.summary.Failed++
		result := &models.ToolResult{
			OK:    false,
			Error: fmt.Sprintf("Permission required to run privileged tool '%s'; access mode is ask_always and no grant was given.", toolID),
			Checks: []models.Check{{
				ID:          "permission_required",
				OK:          false,
				Description: "privileged tool access",
				Details:     "tool access was not granted for this run",
			}},
		}
		return e.toolMessage(call, "Error: "+result.Error)
	}

	result := e.executeTool(ctx, st, tool, call, args, exec)

	if result.OK && !result.FailedChecks() {
		st.summary.Succeeded++
		countVerifiedEffects(&st.summary, result.Artifacts)
		st.lastSuccess = result.Output
		return e.toolMessage(call, result.Output)
	}

	st.summary.Failed++
	errText := result.Error
	if errText == "" {
		errText = "tool reported failure"
	}
	return e.toolMessage(call, "Error: "+errText)
}

// executeTool wraps the execution in tool_before/tool_after hooks and a
// per-tool timeout, normalizing panics and bad returns into a failed
// result.
func (e *Engine) executeTool(ctx context.Context, st *runState, tool tools.Tool, call models.ToolCall, args map[string]any, exec *tools.ExecutionContext) *models.ToolResult {
	e.emitHook(ctx, &hooks.Event{
		Topic:    hooks.TopicToolBefore,
		RunID:    st.runID,
		AgentID:  st.agentID,
		ToolID:   tool.ID,
		ToolName: call.Name,
		Args:     args,
	})

	st.summary.Attempted++
	started := e.now()

	toolCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	result, err := func() (result *models.ToolResult, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("tool panicked: %v", p)
			}
		}()
		return tool.Execute(toolCtx, args, exec)
	}()
	cancel()

	switch {
	case err != nil:
		result = &models.ToolResult{OK: false, Error: err.Error()}
	case result == nil:
		result = &models.ToolResult{OK: false, Error: "tool returned no result"}
	case !result.OK && result.Error == "":
		result.Error = "tool reported failure"
	}

	e.emitHook(ctx, &hooks.Event{
		Topic:    hooks.TopicToolAfter,
		RunID:    st.runID,
		AgentID:  st.agentID,
		ToolID:   tool.ID,
		ToolName: call.Name,
		Args:     args,
		Result:   result,
		Duration: e.now().Sub(started),
	})
	return result
}

// countVerifiedEffects credits file and shell effects from artifacts of a
// fully successful call.
func countVerifiedEffects(summary *models.ToolExecutionSummary, artifacts []models.Artifact) {
	for _, artifact := range artifacts {
		op := strings.ToLower(artifact.Operation)
		switch artifact.Kind {
		case models.ArtifactFile:
			switch op {
			case "write", "append", "overwrite", "create", "update":
				summary.VerifiedFileEffects++
			}
		case models.ArtifactShell:
			switch op {
			case "execute", "run":
				summary.VerifiedShellEffects++
			}
		}
	}
}

func isPrivileged(tool tools.Tool) bool {
	return tool.Privileged || tool.ID == tools.ShellExecuteToolID
}

func (e *Engine) finalize(ctx context.Context, st *runState, content string) models.Message {
	e.emitHook(ctx, &hooks.Event{
		Topic:   hooks.TopicResponseStream,
		RunID:   st.runID,
		AgentID: st.agentID,
		Chunk:   content,
	})
	e.emitRunEnd(ctx, st, "completed", content)

	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: e.now(),
	}
	if st.toolMode {
		summary := st.summary
		msg.ToolExecution = &summary
	}
	return msg
}

// configError surfaces a construction-time problem as a terminal assistant
// message with a zeroed execution summary.
func (e *Engine) configError(ctx context.Context, st *runState, text string) models.Message {
	e.emitRunEnd(ctx, st, "failed", text)
	return models.Message{
		ID:            uuid.NewString(),
		Role:          models.RoleAssistant,
		Content:       text,
		Timestamp:     e.now(),
		ToolExecution: &models.ToolExecutionSummary{},
	}
}

func (e *Engine) emitRunEnd(ctx context.Context, st *runState, status, output string) {
	e.emitHook(ctx, &hooks.Event{
		Topic:    hooks.TopicRunEnd,
		RunID:    st.runID,
		AgentID:  st.agentID,
		Status:   status,
		Output:   output,
		Duration: e.now().Sub(st.startedAt),
	})
}

func (e *Engine) emitHook(ctx context.Context, event *hooks.Event) {
	if err := e.bus.Emit(ctx, event); err != nil {
		e.logger.Warn("hook error", "topic", event.Topic, "error", err)
	}
}

func (e *Engine) toolMessage(call models.ToolCall, content string) models.Message {
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    content,
		Timestamp:  e.now(),
	}
}

func joinPrompt(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "\n\n" + extra
}

func clip(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}
