package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// OpenAIClient implements Client on top of the OpenAI chat completion API.
// The same adapter serves any OpenAI-compatible endpoint; Groq is just a
// different base URL with its own name and recovery quirks.
type OpenAIClient struct {
	client     *openai.Client
	name       string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenAIClient creates an adapter for api.openai.com. An empty API key is
// allowed for delayed configuration; Chat will fail until one is set.
func NewOpenAIClient(apiKey string, logger *slog.Logger) *OpenAIClient {
	return newCompatClient("openai", apiKey, "", logger)
}

// NewGroqClient creates an adapter for Groq's OpenAI-compatible endpoint.
func NewGroqClient(apiKey string, logger *slog.Logger) *OpenAIClient {
	return newCompatClient("groq", apiKey, "https://api.groq.com/openai/v1", logger)
}

// NewCompatClient creates an adapter for any OpenAI-compatible endpoint under
// the given provider name.
func NewCompatClient(name, apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	return newCompatClient(name, apiKey, baseURL, logger)
}

func newCompatClient(name, apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &OpenAIClient{
		name:       name,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logger.With("provider", name),
	}
	if apiKey == "" {
		return c
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) SupportsNativeToolCalling() bool { return true }

// Chat sends a completion request, retrying transient failures with linear
// backoff. A tool_use_failed rejection is recovered into a structured tool
// call when possible; as a last resort the request is retried once with
// tools stripped.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if c.client == nil {
		return nil, fmt.Errorf("%s API key not configured", c.name)
	}

	chatReq := c.buildRequest(req)
	resp, err := c.send(ctx, chatReq)
	if err != nil {
		if recovered, ok := c.recoverToolUseFailure(err); ok {
			return recovered, nil
		}
		if isToolUseFailure(err) && len(chatReq.Tools) > 0 {
			c.logger.Warn("tool call recovery failed, retrying without tools", "error", err)
			stripped := chatReq
			stripped.Tools = nil
			stripped.ToolChoice = nil
			resp, err = c.send(ctx, stripped)
		}
		if err != nil {
			return nil, err
		}
	}

	return convertResponse(resp), nil
}

func (c *OpenAIClient) buildRequest(req *ChatRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
		switch req.ToolChoice {
		case ToolChoiceNone:
			chatReq.ToolChoice = "none"
		default:
			chatReq.ToolChoice = "auto"
		}
	}
	if req.ReasoningEffort != "" && req.ReasoningEffort != models.ReasoningNone {
		chatReq.ReasoningEffort = string(req.ReasoningEffort)
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_schema":
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   rf.SchemaName,
					Schema: rawSchema(rf.Schema),
					Strict: rf.Strict,
				},
			}
		case "json_object":
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}
	return chatReq
}

func (c *OpenAIClient) send(ctx context.Context, chatReq openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return resp, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = c.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			return resp, nil
		}
		if !isRetryableError(lastErr) {
			return resp, lastErr
		}
		c.logger.Warn("chat attempt failed, retrying", "attempt", attempt+1, "error", lastErr)
	}
	return resp, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// recoverToolUseFailure rebuilds a tool call from the failed_generation text
// some backends attach to a tool_use_failed error.
func (c *OpenAIClient) recoverToolUseFailure(err error) (*ChatResponse, bool) {
	if !isToolUseFailure(err) {
		return nil, false
	}
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return nil, false
	}
	call, ok := RecoverToolCall(apiErr.Message)
	if !ok {
		return nil, false
	}
	c.logger.Info("recovered tool call from failed generation", "tool", call.Name)
	return &ChatResponse{ToolCalls: []models.ToolCall{*call}}, true
}

func isToolUseFailure(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "tool_use_failed" {
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "tool_use_failed")
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// schemaMarshaler adapts a decoded schema map to the json.Marshaler the SDK
// expects for structured output.
type schemaMarshaler map[string]any

func (s schemaMarshaler) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

func rawSchema(schema map[string]any) json.Marshaler {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return schemaMarshaler(schema)
}

func convertMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			Name:    msg.Name,
		}
		if msg.Role == models.RoleTool {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		result = append(result, oaiMsg)
	}
	return result
}

func convertTools(decls []tools.Decl) []openai.Tool {
	result := make([]openai.Tool, len(decls))
	for i, decl := range decls {
		params := decl.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func convertResponse(resp openai.ChatCompletionResponse) *ChatResponse {
	out := &ChatResponse{}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &Usage{TotalTokens: resp.Usage.TotalTokens}
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		if tc.ID == "" || tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
