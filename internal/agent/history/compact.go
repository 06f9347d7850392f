package history

import (
	"strconv"
	"strings"

	"github.com/crewline/crewline/pkg/models"
)

const (
	summaryHeader   = "[Context summary generated to fit model window]"
	maxSummaryLines = 14
	snippetMaxChars = 100
)

// BuildManaged prepares a conversation for a provider call: oversized
// bodies are trimmed first, then whole turns are compacted to the budget.
func BuildManaged(msgs []models.Message, budget int) []models.Message {
	return Fit(TrimLongMessages(msgs), budget)
}

// turn is a user message and everything up to the next user message.
type turn struct {
	messages []models.Message
	tokens   int
}

func splitTurns(msgs []models.Message) []turn {
	var turns []turn
	var current []models.Message
	flush := func() {
		if len(current) == 0 {
			return
		}
		t := turn{messages: current}
		t.tokens = TotalTokens(current)
		turns = append(turns, t)
		current = nil
	}
	for _, msg := range msgs {
		if msg.Role == models.RoleUser && msg.ToolCallID == "" && len(current) > 0 {
			flush()
		}
		current = append(current, msg)
	}
	flush()
	return turns
}

// Fit compacts a conversation to the token budget. Whole turns are kept
// from newest to oldest while they fit; turns that fall off the window are
// condensed into one staged summary message prepended to the result. If
// the summary itself overflows the budget, messages are dropped from the
// front until the tail fits.
func Fit(msgs []models.Message, budget int) []models.Message {
	if budget <= 0 || TotalTokens(msgs) <= budget {
		return msgs
	}

	turns := splitTurns(msgs)

	kept := len(turns)
	running := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if running+turns[i].tokens > budget {
			break
		}
		running += turns[i].tokens
		kept = i
	}
	dropped := turns[:kept]

	var rest []models.Message
	for _, t := range turns[kept:] {
		rest = append(rest, t.messages...)
	}
	if len(dropped) == 0 {
		return truncateFromHead(rest, budget)
	}

	summary := summarizeTurns(dropped)
	remaining := budget - MessageTokens(summary)
	if remaining <= 0 {
		return truncateFromHead(rest, budget)
	}
	if TotalTokens(rest) > remaining {
		rest = truncateFromHead(rest, remaining)
	}
	return append([]models.Message{summary}, rest...)
}

// summarizeTurns condenses dropped turns into one assistant message of
// staged snippets so the model keeps a thread of what came before.
func summarizeTurns(dropped []turn) models.Message {
	droppedTokens := 0
	for _, t := range dropped {
		droppedTokens += t.tokens
	}
	// Chunk at the average turn cost so each stage covers roughly one
	// turn's worth of history; the line cap below bounds the output.
	chunkBudget := droppedTokens / len(dropped)
	if chunkBudget < 1 {
		chunkBudget = 1
	}

	lines := []string{summaryHeader}
	stage := 0
	i := 0
	for i < len(dropped) && len(lines) < maxSummaryLines {
		start := i
		sum := 0
		for i < len(dropped) {
			sum += dropped[i].tokens
			i++
			if sum >= chunkBudget {
				break
			}
		}
		stage++
		first := dropped[start]
		last := dropped[i-1]
		lines = append(lines, "Stage "+strconv.Itoa(stage)+": "+turnSnippet(first, models.RoleUser))
		if i-1 > start && len(lines) < maxSummaryLines {
			lines = append(lines, "Stage "+strconv.Itoa(stage)+" end: "+turnSnippet(last, models.RoleAssistant))
		}
	}

	return models.Message{
		Role:    models.RoleAssistant,
		Content: strings.Join(lines, "\n"),
	}
}

// turnSnippet returns a one-line digest of the turn, preferring the given
// role's content and falling back to whatever the turn has.
func turnSnippet(t turn, prefer models.Role) string {
	for _, msg := range t.messages {
		if msg.Role == prefer && msg.Content != "" {
			return oneLine(msg.Content)
		}
	}
	for _, msg := range t.messages {
		if msg.Content != "" {
			return oneLine(msg.Content)
		}
	}
	return "(no content)"
}

func oneLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > snippetMaxChars {
		text = text[:snippetMaxChars] + "..."
	}
	return text
}

func truncateFromHead(msgs []models.Message, budget int) []models.Message {
	running := 0
	cut := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := MessageTokens(msgs[i])
		if running+cost > budget {
			break
		}
		running += cost
		cut = i
	}
	return dropStrandedToolResults(msgs[cut:])
}

// dropStrandedToolResults removes tool-role messages whose assistant
// tool-call parent fell off the front of the window. Providers reject a
// tool message with no preceding assistant carrying the matching call id.
func dropStrandedToolResults(msgs []models.Message) []models.Message {
	declared := make(map[string]bool)
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleAssistant {
			for _, tc := range msg.ToolCalls {
				declared[tc.ID] = true
			}
		}
		if msg.Role == models.RoleTool && msg.ToolCallID != "" && !declared[msg.ToolCallID] {
			continue
		}
		out = append(out, msg)
	}
	return out
}
