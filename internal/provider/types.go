// Package provider wraps each LLM backend behind a uniform, capability-aware
// chat interface. Adapters translate the runtime's message and tool shapes
// into SDK wire formats and normalize provider quirks (notably the
// tool_use_failed recovery path) before the engine sees them.
package provider

import (
	"context"

	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// ToolChoice steers native tool calling for one request.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ChatMessage is one message in provider wire order.
type ChatMessage struct {
	Role       models.Role       `json:"role"`
	Content    string            `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
}

// ResponseFormat requests structured output from providers that support it.
type ResponseFormat struct {
	Type       string         `json:"type"` // "json_schema" or "json_object"
	SchemaName string         `json:"name,omitempty"`
	Schema     map[string]any `json:"schema,omitempty"`
	Strict     bool           `json:"strict,omitempty"`
}

// ChatRequest is a uniform completion request.
type ChatRequest struct {
	Model           string
	Messages        []ChatMessage
	Temperature     float32
	MaxTokens       int
	ReasoningEffort models.ReasoningEffort
	Tools           []tools.Decl
	ToolChoice      ToolChoice
	ResponseFormat  *ResponseFormat
}

// Usage reports token consumption when the provider surfaces it.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// ChatResponse is a uniform completion response. ToolCalls carry arguments
// as JSON text; every id must later be answered by a tool-role message.
type ChatResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     *Usage
}

// Client is the capability-aware view of one LLM provider.
//
// Implementations must be safe for concurrent use; the runtime issues
// chats for many runs at once.
type Client interface {
	// Chat sends a completion request and returns the full response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the stable lowercase provider id ("openai", "anthropic", ...).
	Name() string

	// SupportsNativeToolCalling reports whether the provider accepts tool
	// declarations and returns structured tool calls.
	SupportsNativeToolCalling() bool
}
