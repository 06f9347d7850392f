package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry manages available tools with thread-safe registration and
// lookup. Tools are keyed by canonical id; re-registering an id overwrites
// the previous tool and logs a warning. Registration is expected to happen
// during initialization; lookups dominate afterwards.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool to the registry. The input schema is compiled once
// here so malformed schemas fail at startup instead of mid-run.
func (r *Registry) Register(tool Tool) error {
	if tool.ID == "" {
		return fmt.Errorf("tool id is empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", tool.ID)
	}
	if tool.InputSchema != nil {
		if err := compileSchema(tool.InputSchema); err != nil {
			return fmt.Errorf("tool %q schema invalid: %w", tool.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.ID]; exists {
		r.logger.Warn("tool re-registered, overwriting", "tool_id", tool.ID)
	}
	r.tools[tool.ID] = tool
	return nil
}

// GetByID returns a tool by canonical id.
func (r *Registry) GetByID(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// GetByIDs returns the tools for the given ids, skipping unknown ids.
func (r *Registry) GetByIDs(ids []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(ids))
	for _, id := range ids {
		if tool, ok := r.tools[id]; ok {
			out = append(out, tool)
		}
	}
	return out
}

// GetAll returns all registered tools.
func (r *Registry) GetAll() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

var schemaCache sync.Map

// compileSchema validates a tool input schema through the jsonschema
// compiler. Compiled schemas are cached by their serialized form.
func compileSchema(schema map[string]any) error {
	payload, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	key := string(payload)
	if _, ok := schemaCache.Load(key); ok {
		return nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return err
	}
	schemaCache.Store(key, compiled)
	return nil
}
