package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/crewline/crewline/internal/hooks"
	"github.com/crewline/crewline/internal/provider"
	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// fakeClient replays scripted responses, or defers to a behavior function
// when one is set. It records every request it sees.
type fakeClient struct {
	name      string
	responses []*provider.ChatResponse
	behave    func(req *provider.ChatRequest) (*provider.ChatResponse, error)
	calls     []*provider.ChatRequest
}

func (f *fakeClient) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.calls = append(f.calls, req)
	if f.behave != nil {
		return f.behave(req)
	}
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeClient) Name() string {
	if f.name != "" {
		return f.name
	}
	return "openai"
}

func (f *fakeClient) SupportsNativeToolCalling() bool { return true }

func textResponse(content string) *provider.ChatResponse {
	return &provider.ChatResponse{Content: content}
}

func toolCallResponse(calls ...models.ToolCall) *provider.ChatResponse {
	return &provider.ChatResponse{ToolCalls: calls}
}

func echoTool(executed *int) tools.Tool {
	return tools.Tool{
		ID:          tools.WebSearchToolID,
		Name:        "echo",
		Description: "echoes text",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required":             []any{"text"},
			"additionalProperties": false,
		},
		Execute: func(_ context.Context, args map[string]any, _ *tools.ExecutionContext) (*models.ToolResult, error) {
			if executed != nil {
				*executed++
			}
			text, _ := args["text"].(string)
			return &models.ToolResult{OK: true, Output: text}, nil
		},
	}
}

func newTestEngine(t *testing.T, client *fakeClient, toolList ...tools.Tool) *Engine {
	t.Helper()
	registry := tools.NewRegistry(nil)
	for _, tool := range toolList {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.ID, err)
		}
	}
	providerName := client.Name()
	return NewEngine(registry, map[string]provider.Client{providerName: client}, hooks.NewBus(nil), nil)
}

func testAgent(toolIDs ...string) *models.AgentConfig {
	return &models.AgentConfig{
		ID:       "a1",
		Name:     "tester",
		Provider: "openai",
		Model:    "gpt-4o",
		Tools:    toolIDs,
	}
}

func TestRun_BasicToolLoop(t *testing.T) {
	executed := 0
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, echoTool(&executed))

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "say hi"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.Content != "done" {
		t.Errorf("Content = %q", msg.Content)
	}
	if executed != 1 {
		t.Errorf("tool executed %d times", executed)
	}
	want := models.ToolExecutionSummary{Attempted: 1, Succeeded: 1}
	if msg.ToolExecution == nil || *msg.ToolExecution != want {
		t.Errorf("summary = %+v, want %+v", msg.ToolExecution, want)
	}

	// The second request must carry the tool result back to the model.
	if len(client.calls) != 2 {
		t.Fatalf("provider called %d times", len(client.calls))
	}
	second := client.calls[1].Messages
	last := second[len(second)-1]
	if last.Role != models.RoleTool || last.Content != "hi" || last.ToolCallID != "c1" {
		t.Errorf("tool result not threaded back: %+v", last)
	}
	if last.Timestamp.IsZero() {
		t.Error("tool result message should carry a timestamp")
	}
}

func TestRun_OrphanRepairCountsAsFailure(t *testing.T) {
	client := &fakeClient{responses: []*provider.ChatResponse{textResponse("ok")}}
	e := newTestEngine(t, client, echoTool(nil))

	history := []models.Message{
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c9", Name: "echo", Arguments: "{}"}}},
	}
	msg, err := e.Run(context.Background(), RunInput{Agent: testAgent(tools.WebSearchToolID), History: history})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.ToolExecution == nil || msg.ToolExecution.Failed != 1 {
		t.Errorf("summary = %+v, want failed=1", msg.ToolExecution)
	}

	msgs := client.calls[0].Messages
	found := false
	for _, m := range msgs {
		if m.Role == models.RoleTool && m.ToolCallID == "c9" &&
			strings.HasPrefix(m.Content, "Error: Missing tool result for 'echo'") {
			found = true
		}
	}
	if !found {
		t.Error("synthetic tool result not injected before provider call")
	}
}

func TestRun_UnknownToolContinuesLoop(t *testing.T) {
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "never_heard_of_it", Arguments: "{}"}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, echoTool(nil))

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.Content != "done" {
		t.Errorf("loop should continue past unknown tool, got %q", msg.Content)
	}
	s := msg.ToolExecution
	if s.Malformed != 1 || s.Failed != 1 || s.Attempted != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRun_SchemaFailureSkipsExecution(t *testing.T) {
	executed := 0
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "echo", Arguments: `{"bogus":1}`}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, echoTool(&executed))

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if executed != 0 {
		t.Error("tool must not execute on schema failure")
	}
	s := msg.ToolExecution
	if s.Attempted != 0 || s.Malformed != 1 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRun_ThirdIdenticalCallRejected(t *testing.T) {
	executed := 0
	same := models.ToolCall{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(
			same,
			models.ToolCall{ID: "c2", Name: "echo", Arguments: `{"text":"hi"}`},
			models.ToolCall{ID: "c3", Name: "echo", Arguments: `{"text":"hi"}`},
		),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, echoTool(&executed))

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if executed != 2 {
		t.Errorf("executed = %d, want first two only", executed)
	}
	s := msg.ToolExecution
	if s.Attempted != 2 || s.Succeeded != 2 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}

	second := client.calls[1].Messages
	dup := second[len(second)-1]
	if !strings.Contains(dup.Content, "Duplicate tool call rejected") {
		t.Errorf("third call error = %q", dup.Content)
	}
}

func TestRun_PrivilegeGate(t *testing.T) {
	executed := 0
	shell := tools.Tool{
		ID:   tools.ShellExecuteToolID,
		Name: "shell_execute",
		Execute: func(context.Context, map[string]any, *tools.ExecutionContext) (*models.ToolResult, error) {
			executed++
			return &models.ToolResult{OK: true, Output: "ran"}, nil
		},
	}
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "shell_execute", Arguments: "{}"}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, shell)

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.ShellExecuteToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "run it"}},
		Exec:    &tools.ExecutionContext{ToolAccessMode: models.AccessAskAlways},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if executed != 0 {
		t.Error("privileged tool must not run without a grant")
	}
	s := msg.ToolExecution
	if s.Failed != 1 || s.Attempted != 0 || s.VerifiedShellEffects != 0 {
		t.Errorf("summary = %+v", s)
	}

	second := client.calls[1].Messages
	denial := second[len(second)-1]
	if !strings.Contains(denial.Content, "Permission required") {
		t.Errorf("denial = %q", denial.Content)
	}
}

func TestRun_PrivilegeGrantAllowsExecution(t *testing.T) {
	shell := tools.Tool{
		ID:   tools.ShellExecuteToolID,
		Name: "shell_execute",
		Execute: func(context.Context, map[string]any, *tools.ExecutionContext) (*models.ToolResult, error) {
			return &models.ToolResult{
				OK:     true,
				Output: "ran",
				Artifacts: []models.Artifact{
					{Kind: models.ArtifactShell, Label: "cmd", Operation: "execute"},
				},
			}, nil
		},
	}
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "shell_execute", Arguments: "{}"}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, shell)

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.ShellExecuteToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "run it"}},
		Exec:    &tools.ExecutionContext{ToolAccessMode: models.AccessAskAlways, ToolAccessGranted: true},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	s := msg.ToolExecution
	if s.Succeeded != 1 || s.VerifiedShellEffects != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRun_SmallContextWindowBlocks(t *testing.T) {
	client := &fakeClient{name: "custom", responses: []*provider.ChatResponse{textResponse("never")}}
	e := newTestEngine(t, client)

	agent := &models.AgentConfig{ID: "a1", Provider: "custom", Model: "tiny-8k-chat"}
	msg, err := e.Run(context.Background(), RunInput{
		Agent:   agent,
		History: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(msg.Content, "context window") {
		t.Errorf("Content = %q", msg.Content)
	}
	if len(client.calls) != 0 {
		t.Error("no provider call may happen on a blocked window")
	}
}

func TestRun_NoToolsEmitsNoToolHooks(t *testing.T) {
	client := &fakeClient{responses: []*provider.ChatResponse{textResponse("hello")}}
	registry := tools.NewRegistry(nil)
	bus := hooks.NewBus(nil)
	toolHookFired := false
	bus.Subscribe(hooks.TopicToolBefore, func(context.Context, *hooks.Event) error {
		toolHookFired = true
		return nil
	})
	bus.Subscribe(hooks.TopicToolAfter, func(context.Context, *hooks.Event) error {
		toolHookFired = true
		return nil
	})
	e := NewEngine(registry, map[string]provider.Client{"openai": client}, bus, nil)

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(),
		History: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.ToolExecution != nil {
		t.Error("chat mode should not attach an execution summary")
	}
	if toolHookFired {
		t.Error("tool hooks must not fire without tools")
	}

	req := client.calls[0]
	if req.Temperature != chatModeTemperature || req.MaxTokens != chatModeMaxResponseTokens {
		t.Errorf("chat mode request = temp %v, maxTokens %d", req.Temperature, req.MaxTokens)
	}
	if len(req.Tools) != 0 {
		t.Error("chat mode must not declare tools")
	}
}

func TestRun_PromptHooksShapeSystemPrompt(t *testing.T) {
	client := &fakeClient{responses: []*provider.ChatResponse{textResponse("ok")}}
	registry := tools.NewRegistry(nil)
	bus := hooks.NewBus(nil)
	bus.Subscribe(hooks.TopicPromptBefore, func(_ context.Context, ev *hooks.Event) error {
		*ev.SystemPromptAppendices = append(*ev.SystemPromptAppendices, "appendix one")
		return nil
	})
	bus.Subscribe(hooks.TopicPromptAfter, func(_ context.Context, ev *hooks.Event) error {
		final := *ev.Prompt + "\n\nfinal word"
		*ev.Prompt = final
		return nil
	})
	e := NewEngine(registry, map[string]provider.Client{"openai": client}, bus, nil)

	agent := testAgent()
	agent.SystemPrompt = "base prompt"
	if _, err := e.Run(context.Background(), RunInput{
		Agent:   agent,
		History: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	system := client.calls[0].Messages[0]
	if system.Role != models.RoleSystem {
		t.Fatalf("first message role = %q", system.Role)
	}
	for _, want := range []string{"base prompt", "appendix one", "final word"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q: %q", want, system.Content)
		}
	}
}

func TestRun_BudgetExhaustionRecovery(t *testing.T) {
	executed := 0
	calls := 0
	client := &fakeClient{behave: func(req *provider.ChatRequest) (*provider.ChatResponse, error) {
		if len(req.Tools) == 0 {
			return textResponse("final answer"), nil
		}
		calls++
		return toolCallResponse(models.ToolCall{
			ID:        fmt.Sprintf("c%d", calls),
			Name:      "echo",
			Arguments: fmt.Sprintf(`{"text":"step %d"}`, calls),
		}), nil
	}}
	e := newTestEngine(t, client, echoTool(&executed))

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "loop forever"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.Content != "final answer" {
		t.Errorf("Content = %q", msg.Content)
	}
	if executed != MaxToolTurns+1 {
		t.Errorf("executed = %d, want %d", executed, MaxToolTurns+1)
	}

	// The recovery request must instruct the model to stop calling tools
	// and carry the last successful output.
	recovery := client.calls[len(client.calls)-1]
	if len(recovery.Tools) != 0 {
		t.Error("recovery call must strip tools")
	}
	lastUser := recovery.Messages[len(recovery.Messages)-1]
	if !strings.HasPrefix(lastUser.Content, budgetExhaustedPrompt) {
		t.Errorf("recovery prompt = %q", lastUser.Content)
	}
	if !strings.Contains(lastUser.Content, fmt.Sprintf("step %d", MaxToolTurns+1)) {
		t.Errorf("recovery prompt missing last successful result: %q", lastUser.Content)
	}
}

func TestRun_BudgetExhaustionFallsBackToLastOutput(t *testing.T) {
	calls := 0
	client := &fakeClient{behave: func(req *provider.ChatRequest) (*provider.ChatResponse, error) {
		if len(req.Tools) == 0 {
			return nil, errors.New("provider down")
		}
		calls++
		return toolCallResponse(models.ToolCall{
			ID:        fmt.Sprintf("c%d", calls),
			Name:      "echo",
			Arguments: fmt.Sprintf(`{"text":"step %d"}`, calls),
		}), nil
	}}
	e := newTestEngine(t, client, echoTool(nil))

	msg, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "loop forever"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(msg.Content, fmt.Sprintf("step %d", MaxToolTurns+1)) {
		t.Errorf("fallback should carry last successful output, got %q", msg.Content)
	}
}

func TestRun_MissingProviderClient(t *testing.T) {
	e := newTestEngine(t, &fakeClient{responses: []*provider.ChatResponse{textResponse("x")}})
	agent := testAgent()
	agent.Provider = "nobody"
	msg, err := e.Run(context.Background(), RunInput{
		Agent:   agent,
		History: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(msg.Content, "No API client configured") {
		t.Errorf("Content = %q", msg.Content)
	}
}

func TestRun_SecretSubstitution(t *testing.T) {
	var seen string
	tool := tools.Tool{
		ID:   tools.WebSearchToolID,
		Name: "fetch",
		Execute: func(_ context.Context, args map[string]any, _ *tools.ExecutionContext) (*models.ToolResult, error) {
			seen, _ = args["token"].(string)
			return &models.ToolResult{OK: true, Output: "ok"}, nil
		},
	}
	client := &fakeClient{responses: []*provider.ChatResponse{
		toolCallResponse(models.ToolCall{ID: "c1", Name: "fetch", Arguments: `{"token":"{{API_TOKEN}}"}`}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, tool)

	_, err := e.Run(context.Background(), RunInput{
		Agent:   testAgent(tools.WebSearchToolID),
		History: []models.Message{{Role: models.RoleUser, Content: "fetch"}},
		Exec: &tools.ExecutionContext{
			SecretValues: map[string]string{"{{API_TOKEN}}": "s3cr3t"},
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if seen != "s3cr3t" {
		t.Errorf("tool saw %q, want substituted secret", seen)
	}
}
