// Package history keeps a conversation inside a model's context window. It
// estimates token costs, trims oversized message bodies, compacts old turns
// into a staged summary, repairs orphaned tool calls, and prunes tool
// results that have outlived the provider's prompt cache.
package history

import (
	"github.com/crewline/crewline/pkg/models"
)

// Per-message accounting overheads on top of the 4-chars-per-token text
// estimate.
const (
	roleOverheadTokens = 8
	perToolCallTokens  = 10
)

// EstimateTokens approximates the token cost of a text body. It is always
// at least 1 so empty messages still count against the budget.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// MessageTokens estimates the full cost of one message including role
// framing and tool-call envelopes.
func MessageTokens(msg models.Message) int {
	n := EstimateTokens(msg.Content) + roleOverheadTokens
	for _, tc := range msg.ToolCalls {
		n += perToolCallTokens + EstimateTokens(tc.Arguments)
	}
	return n
}

// TotalTokens sums MessageTokens over the slice.
func TotalTokens(msgs []models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += MessageTokens(msg)
	}
	return total
}
