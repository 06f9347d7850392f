package provider

import "testing"

func TestIsKnownDeprecated(t *testing.T) {
	fallback, deprecated := IsKnownDeprecated("openai", "gpt-3.5-turbo-0125")
	if !deprecated || fallback != "gpt-4o-mini" {
		t.Errorf("gpt-3.5-turbo = %q, %v", fallback, deprecated)
	}
	if _, deprecated := IsKnownDeprecated("openai", "gpt-4o"); deprecated {
		t.Error("gpt-4o should not be deprecated")
	}
	if _, deprecated := IsKnownDeprecated("nobody", "anything"); deprecated {
		t.Error("unknown provider should not report deprecation")
	}
}

func TestIsChatCapable(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4o", true},
		{"claude-sonnet-4-20250514", true},
		{"whisper-large-v3", false},
		{"tts-1-hd", false},
		{"text-embedding-3-small", false},
		{"omni-moderation-latest", false},
		{"llama-guard-3-8b", false},
	}
	for _, tt := range tests {
		if got := IsChatCapable(tt.model); got != tt.want {
			t.Errorf("IsChatCapable(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestSupportsReasoningEffort(t *testing.T) {
	if !SupportsReasoningEffort("openai", "o3-2025-04-16") {
		t.Error("o3 should support reasoning effort")
	}
	if SupportsReasoningEffort("openai", "gpt-4o") {
		t.Error("gpt-4o should not support reasoning effort")
	}
	if SupportsReasoningEffort("openai", "totally-unknown") {
		t.Error("unknown models default to no reasoning effort")
	}
}

func TestContextWindow_CatalogAndInference(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     int
	}{
		{"anthropic", "claude-sonnet-4-20250514", 200_000},
		{"openai", "gpt-4o-mini-2024-07-18", 128_000},
		{"groq", "mixtral-8x7b-32768", 32_768},
		{"other", "custom-32k-chat", 32_000},
		{"other", "custom-131072-instruct", 131_072},
		{"other", "mystery-model", defaultContextWindow},
		// Raw digits outside the plausible token range are ignored.
		{"other", "llama-v2-70", defaultContextWindow},
	}
	for _, tt := range tests {
		if got := ContextWindow(tt.provider, tt.model); got != tt.want {
			t.Errorf("ContextWindow(%q, %q) = %d, want %d", tt.provider, tt.model, got, tt.want)
		}
	}
}

func TestContextWindow_LongestPrefixWins(t *testing.T) {
	// gpt-4o-mini must not resolve through the shorter gpt-4o entry; both are
	// 128k so assert via the catalog lookup directly.
	info, ok := lookup("openai", "gpt-4o-mini-2024-07-18")
	if !ok {
		t.Fatal("lookup missed gpt-4o-mini")
	}
	if info.contextWindow != 128_000 {
		t.Errorf("contextWindow = %d", info.contextWindow)
	}
	if info, _ := lookup("openai", "gpt-4-turbo-2024-04-09"); !info.deprecated {
		t.Error("gpt-4-turbo should resolve to the deprecated entry, not gpt-4")
	}
}

func TestCacheTTLMillis(t *testing.T) {
	tests := []struct {
		provider string
		want     int64
	}{
		{"openai", 300_000},
		{"Anthropic", 300_000},
		{"google", 300_000},
		{"groq", 180_000},
		{"ollama", 240_000},
	}
	for _, tt := range tests {
		if got := CacheTTLMillis(tt.provider); got != tt.want {
			t.Errorf("CacheTTLMillis(%q) = %d, want %d", tt.provider, got, tt.want)
		}
	}
}
