package history

import (
	"fmt"

	"github.com/crewline/crewline/pkg/models"
)

const (
	longMessageThreshold = 2800
	trimHeadChars        = 1300
	trimTailChars        = 900
	messageHardCapChars  = 8000
)

// TrimLongBody rewrites an oversized body as head + marker + tail so a
// single verbose tool dump cannot crowd out the rest of the conversation.
// Bodies at or under the threshold pass through untouched.
func TrimLongBody(body string) string {
	if len(body) > messageHardCapChars {
		body = body[:messageHardCapChars]
	}
	if len(body) <= longMessageThreshold {
		return body
	}
	removed := len(body) - trimHeadChars - trimTailChars
	return fmt.Sprintf("%s[... trimmed middle (%d chars) ...]%s",
		body[:trimHeadChars], removed, body[len(body)-trimTailChars:])
}

// TrimLongMessages applies TrimLongBody across a conversation, copying
// only the messages that change.
func TrimLongMessages(msgs []models.Message) []models.Message {
	out := msgs
	copied := false
	for i, msg := range msgs {
		trimmed := TrimLongBody(msg.Content)
		if trimmed == msg.Content {
			continue
		}
		if !copied {
			out = make([]models.Message, len(msgs))
			copy(out, msgs)
			copied = true
		}
		out[i].Content = trimmed
	}
	return out
}
