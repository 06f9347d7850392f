package provider

import (
	"regexp"
	"strconv"
	"strings"
)

// Context-window policy: runs on windows below MinUsableContextWindow are
// blocked with a synthesized error; windows below SmallContextWindow get a
// warning appended to the system prompt.
const (
	MinUsableContextWindow = 16_000
	SmallContextWindow     = 32_000
	defaultContextWindow   = 128_000
)

// modelInfo is one catalog entry. Model ids are matched by prefix so dated
// snapshot suffixes keep working.
type modelInfo struct {
	contextWindow int
	tools         bool
	reasoning     bool
	deprecated    bool
	fallback      string
}

var catalog = map[string]map[string]modelInfo{
	"anthropic": {
		"claude-sonnet-4":   {contextWindow: 200_000, tools: true, reasoning: true},
		"claude-opus-4":     {contextWindow: 200_000, tools: true, reasoning: true},
		"claude-haiku-4":    {contextWindow: 200_000, tools: true, reasoning: true},
		"claude-3-5-sonnet": {contextWindow: 200_000, tools: true},
		"claude-3-5-haiku":  {contextWindow: 200_000, tools: true},
		"claude-3-opus":     {contextWindow: 200_000, tools: true, deprecated: true, fallback: "claude-sonnet-4-20250514"},
		"claude-2":          {contextWindow: 100_000, deprecated: true, fallback: "claude-sonnet-4-20250514"},
	},
	"openai": {
		"gpt-4o-mini":   {contextWindow: 128_000, tools: true},
		"gpt-4o":        {contextWindow: 128_000, tools: true},
		"gpt-4.1":       {contextWindow: 1_000_000, tools: true},
		"o3":            {contextWindow: 200_000, tools: true, reasoning: true},
		"o4-mini":       {contextWindow: 200_000, tools: true, reasoning: true},
		"gpt-4-turbo":   {contextWindow: 128_000, tools: true, deprecated: true, fallback: "gpt-4o"},
		"gpt-3.5-turbo": {contextWindow: 16_385, tools: true, deprecated: true, fallback: "gpt-4o-mini"},
	},
	"groq": {
		"llama-3.3-70b-versatile":   {contextWindow: 128_000, tools: true},
		"llama-3.1-8b-instant":      {contextWindow: 128_000, tools: true},
		"deepseek-r1-distill-llama": {contextWindow: 128_000, tools: true, reasoning: true},
		"mixtral-8x7b-32768":        {contextWindow: 32_768, tools: true, deprecated: true, fallback: "llama-3.3-70b-versatile"},
	},
	"google": {
		"gemini-2.5-pro":   {contextWindow: 1_000_000, tools: true, reasoning: true},
		"gemini-2.5-flash": {contextWindow: 1_000_000, tools: true, reasoning: true},
		"gemini-1.5-pro":   {contextWindow: 1_000_000, tools: true, deprecated: true, fallback: "gemini-2.5-pro"},
	},
}

// nonChatMarkers identify models that can never serve a chat turn.
var nonChatMarkers = []string{
	"whisper", "tts", "embedding", "embed-", "moderation", "guard", "audio",
}

func lookup(providerID, model string) (modelInfo, bool) {
	entries, ok := catalog[strings.ToLower(providerID)]
	if !ok {
		return modelInfo{}, false
	}
	// Longest prefix wins so "gpt-4o-mini" is not shadowed by "gpt-4o".
	best := ""
	var info modelInfo
	for prefix, entry := range entries {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			info = entry
		}
	}
	return info, best != ""
}

// IsKnownDeprecated reports whether the model is retired and, if so, the
// known-good replacement.
func IsKnownDeprecated(providerID, model string) (string, bool) {
	info, ok := lookup(providerID, model)
	if !ok || !info.deprecated {
		return "", false
	}
	return info.fallback, true
}

// IsChatCapable filters out STT/TTS/embedding/moderation/guard models.
func IsChatCapable(model string) bool {
	lower := strings.ToLower(model)
	for _, marker := range nonChatMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// SupportsToolUse reports whether provider+model can do native tool calling.
// Unknown models default to true and let the provider reject at call time.
func SupportsToolUse(providerID, model string) bool {
	info, ok := lookup(providerID, model)
	if !ok {
		return true
	}
	return info.tools
}

// SupportsReasoningEffort reports whether the model accepts a reasoning
// budget. Unknown models default to false so effort degrades to none.
func SupportsReasoningEffort(providerID, model string) bool {
	info, ok := lookup(providerID, model)
	if !ok {
		return false
	}
	return info.reasoning
}

var (
	kSuffixRe  = regexp.MustCompile(`(?i)(\d{1,4})k\b`)
	rawDigitRe = regexp.MustCompile(`\b(\d{4,7})\b`)
)

// ContextWindow resolves the model's context window: the catalog value when
// known, otherwise inferred from the model id ("-32k" style suffixes, or a
// plausible raw token count embedded in the id), otherwise a conservative
// default.
func ContextWindow(providerID, model string) int {
	if info, ok := lookup(providerID, model); ok && info.contextWindow > 0 {
		return info.contextWindow
	}
	if m := kSuffixRe.FindStringSubmatch(model); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n * 1000
		}
	}
	if m := rawDigitRe.FindStringSubmatch(model); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 4096 && n <= 1_000_000 {
			return n
		}
	}
	return defaultContextWindow
}

// CacheTTL returns the provider prompt-cache lifetime used when pruning
// stale tool results, in milliseconds.
func CacheTTLMillis(providerID string) int64 {
	switch strings.ToLower(providerID) {
	case "openai", "anthropic", "google":
		return 300_000
	case "groq":
		return 180_000
	default:
		return 240_000
	}
}
