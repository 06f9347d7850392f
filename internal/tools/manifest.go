package tools

import (
	"fmt"
	"log/slog"
	"strings"
)

const maxProviderNameLen = 64

// Decl is a provider-facing tool declaration whose name satisfies
// ^[A-Za-z_][A-Za-z0-9_]{0,63}$.
type Decl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Manifest maps between provider-facing tool names and canonical tool ids
// for one agent run.
type Manifest struct {
	decls    []Decl
	tools    []Tool
	idByName map[string]string
	nameByID map[string]string
}

// BuildManifest produces provider-facing declarations for the given tools,
// sanitizing names and resolving collisions with numeric suffixes. A tool
// for which no valid unique name can be produced is dropped with a warning.
func BuildManifest(toolList []Tool, logger *slog.Logger) *Manifest {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manifest{
		idByName: make(map[string]string, len(toolList)),
		nameByID: make(map[string]string, len(toolList)),
	}

	for _, tool := range toolList {
		base := tool.Name
		if base == "" {
			base = tool.ID
		}
		name, ok := m.uniqueName(SanitizeProviderName(base))
		if !ok {
			logger.Warn("dropping tool, no valid provider name", "tool_id", tool.ID)
			continue
		}
		m.idByName[name] = tool.ID
		m.nameByID[tool.ID] = name
		m.tools = append(m.tools, tool)
		params := tool.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		m.decls = append(m.decls, Decl{
			Name:        name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return m
}

// uniqueName returns an unused name derived from the sanitized base,
// appending _2, _3, ... and shortening the base when the suffix would push
// past the length cap.
func (m *Manifest) uniqueName(base string) (string, bool) {
	if _, taken := m.idByName[base]; !taken {
		return base, true
	}
	for n := 2; n <= 10_000; n++ {
		suffix := fmt.Sprintf("_%d", n)
		stem := base
		if len(stem)+len(suffix) > maxProviderNameLen {
			stem = stem[:maxProviderNameLen-len(suffix)]
			stem = strings.TrimRight(stem, "_")
			if stem == "" {
				return "", false
			}
		}
		candidate := stem + suffix
		if _, taken := m.idByName[candidate]; !taken {
			return candidate, true
		}
	}
	return "", false
}

// Decls returns the provider-facing declarations in registration order.
func (m *Manifest) Decls() []Decl {
	return m.decls
}

// Tools returns the tools that survived manifest construction.
func (m *Manifest) Tools() []Tool {
	return m.tools
}

// ProviderName returns the provider-facing name for a canonical tool id.
func (m *Manifest) ProviderName(toolID string) (string, bool) {
	name, ok := m.nameByID[toolID]
	return name, ok
}

// ResolveToolID maps a provider-returned function name back to a canonical
// tool id. When the name map misses (providers occasionally echo a name
// they were never given), it falls back to matching the raw name against
// tool ids and display names.
func (m *Manifest) ResolveToolID(providerName string) (string, bool) {
	if id, ok := m.idByName[providerName]; ok {
		return id, true
	}
	for _, tool := range m.tools {
		if tool.ID == providerName || tool.Name == providerName {
			return tool.ID, true
		}
	}
	return "", false
}

// SanitizeProviderName rewrites a tool name to satisfy the provider name
// grammar: disallowed characters become underscores, runs of underscores
// collapse, leading and trailing underscores are stripped, a "tool_" prefix
// is added when the first character is not a letter or underscore, and the
// result is truncated to 64 characters. Sanitization is idempotent.
func SanitizeProviderName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		valid := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !valid {
			c = '_'
		}
		if c == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteByte(c)
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "tool"
	}
	if first := out[0]; first >= '0' && first <= '9' {
		out = "tool_" + out
	}
	if len(out) > maxProviderNameLen {
		out = out[:maxProviderNameLen]
		out = strings.TrimRight(out, "_")
	}
	return out
}
