package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/crewline/crewline/pkg/models"
)

const prunedMarkerPrefix = "[Tool result pruned after cache expiry]"

// PruneExpiredToolResults replaces tool results older than the provider's
// prompt-cache TTL with a short marker, oldest first, until the transcript
// fits the budget. Results still inside the cache window are left alone:
// rewriting them would invalidate the provider's cached prefix for no
// token savings. Returns the messages and the number pruned this pass.
func PruneExpiredToolResults(msgs []models.Message, insertedAt map[string]time.Time, ttl time.Duration, now time.Time, budget int) ([]models.Message, int) {
	if budget <= 0 || TotalTokens(msgs) <= budget {
		return msgs, 0
	}

	out := make([]models.Message, len(msgs))
	copy(out, msgs)

	pruned := 0
	for i := range out {
		if TotalTokens(out) <= budget {
			break
		}
		msg := out[i]
		if msg.Role != models.RoleTool || msg.ToolCallID == "" {
			continue
		}
		if strings.HasPrefix(msg.Content, prunedMarkerPrefix) {
			continue
		}
		inserted, ok := insertedAt[msg.ToolCallID]
		if !ok || now.Sub(inserted) < ttl {
			continue
		}
		out[i].Content = fmt.Sprintf("%s %s (%s); original length=%d chars.",
			prunedMarkerPrefix, msg.Name, msg.ToolCallID, len(msg.Content))
		pruned++
	}
	return out, pruned
}
