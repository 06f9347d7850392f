package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MemoryCapture appends a durable line per completed run to a per-agent
// memory file. Files live under <root>/<agentID>.md and are only ever
// appended to.
type MemoryCapture struct {
	root   string
	logger *slog.Logger
}

// NewMemoryCapture creates a capture writer rooted at dir.
func NewMemoryCapture(dir string, logger *slog.Logger) *MemoryCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryCapture{root: dir, logger: logger.With("component", "memory")}
}

// Attach subscribes the capture writer to run_end at lowest priority so it
// records post-redaction output.
func (c *MemoryCapture) Attach(bus *Bus) string {
	return bus.Subscribe(TopicRunEnd, c.onRunEnd, WithPriority(PriorityLowest), WithName("memory-capture"))
}

func (c *MemoryCapture) onRunEnd(_ context.Context, event *Event) error {
	if event.AgentID == "" {
		return nil
	}
	line := fmt.Sprintf("- %s | run=%s | %s | %s\n",
		time.Now().UTC().Format(time.RFC3339), event.RunID, event.Status, firstLine(event.Output))

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		c.logger.Warn("memory dir create failed", "error", err)
		return err
	}
	path := filepath.Join(c.root, event.AgentID+".md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.logger.Warn("memory file open failed", "path", path, "error", err)
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
