package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// Thinking budgets per reasoning effort. The API floor is 1024.
const (
	thinkingBudgetLow    = 2048
	thinkingBudgetMedium = 8192
	thinkingBudgetHigh   = 16384
)

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	client     anthropic.Client
	configured bool
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewAnthropicClient creates an adapter for the Anthropic API. An empty API
// key is allowed for delayed configuration; Chat will fail until one is set.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &AnthropicClient{
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logger.With("provider", "anthropic"),
	}
	if apiKey != "" {
		c.client = anthropic.NewClient(option.WithAPIKey(apiKey))
		c.configured = true
	}
	return c
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) SupportsNativeToolCalling() bool { return true }

// Chat sends a Messages API request and returns the full response. The
// system prompt is carried separately from the turn messages; tool-role
// messages become tool_result blocks inside user turns.
func (c *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !c.configured {
		return nil, errors.New("anthropic API key not configured")
	}

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var message *anthropic.Message
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		message, lastErr = c.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return nil, lastErr
		}
		c.logger.Warn("chat attempt failed, retrying", "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}

	return convertAnthropicResponse(message), nil
}

func (c *AnthropicClient) buildParams(req *ChatRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	system, messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	if len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		converted, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = converted
	}

	if budget := thinkingBudget(req.ReasoningEffort); budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

func thinkingBudget(effort models.ReasoningEffort) int64 {
	switch effort {
	case models.ReasoningLow:
		return thinkingBudgetLow
	case models.ReasoningMedium:
		return thinkingBudgetMedium
	case models.ReasoningHigh:
		return thinkingBudgetHigh
	default:
		return 0
	}
}

// convertAnthropicMessages splits out the system prompt and maps tool turns
// onto Anthropic's block model: assistant tool calls become tool_use blocks
// and tool-role results become tool_result blocks in a user message.
func convertAnthropicMessages(messages []ChatMessage) (string, []anthropic.MessageParam, error) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				return "", nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return system, result, nil
}

func convertAnthropicTools(decls []tools.Decl) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, decl := range decls {
		params := decl.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", decl.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", decl.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, decl.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", decl.Name)
		}
		toolParam.OfTool.Description = anthropic.String(decl.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func convertAnthropicResponse(message *anthropic.Message) *ChatResponse {
	out := &ChatResponse{}
	if message == nil {
		return out
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.Input),
			})
		}
	}
	if total := message.Usage.InputTokens + message.Usage.OutputTokens; total > 0 {
		out.Usage = &Usage{TotalTokens: int(total)}
	}
	return out
}
