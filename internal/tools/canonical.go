package tools

import "strings"

// Canonical tool ids an agent config may grant. MCPAllToolID additionally
// grants every tool whose id begins with "mcp:".
const (
	WebSearchToolID    = "web_search"
	ShellExecuteToolID = "shell_execute"
	MCPAllToolID       = "mcp_all"
	SubAgentsToolID    = "subagents"
)

// legacyAliases collapses historical tool ids onto their canonical form.
var legacyAliases = map[string]string{
	"fs_read":         MCPAllToolID,
	"fs_write":        MCPAllToolID,
	"fs_list":         MCPAllToolID,
	"read_file":       MCPAllToolID,
	"write_file":      MCPAllToolID,
	"list_directory":  MCPAllToolID,
	"execute_command": ShellExecuteToolID,
	"search_internet": WebSearchToolID,
}

var canonicalIDs = map[string]struct{}{
	WebSearchToolID:    {},
	ShellExecuteToolID: {},
	MCPAllToolID:       {},
	SubAgentsToolID:    {},
}

// NormalizeToolIDs canonicalizes an agent-facing tool id list: lowercase and
// trim, collapse legacy aliases, drop ids outside the canonical set, and
// deduplicate while preserving first-occurrence order.
func NormalizeToolIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.ToLower(strings.TrimSpace(raw))
		if id == "" {
			continue
		}
		if alias, ok := legacyAliases[id]; ok {
			id = alias
		}
		if _, ok := canonicalIDs[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GrantsTool reports whether a normalized grant list covers toolID. The
// mcp_all grant covers any namespaced "mcp:" tool.
func GrantsTool(grants []string, toolID string) bool {
	for _, g := range grants {
		if g == toolID {
			return true
		}
		if g == MCPAllToolID && strings.HasPrefix(toolID, "mcp:") {
			return true
		}
	}
	return false
}
