package models

// ReasoningEffort selects how much reasoning budget a provider should spend.
type ReasoningEffort string

const (
	ReasoningNone   ReasoningEffort = "none"
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// AccessMode controls whether privileged tools need explicit approval.
type AccessMode string

const (
	// AccessAskAlways requires an explicit grant before privileged tools run.
	AccessAskAlways AccessMode = "ask_always"
	// AccessFull lets the agent run privileged tools without asking.
	AccessFull AccessMode = "full_access"
)

// AgentConfig is a configured principal: name, role, prompt, model binding,
// and tool grants. Provider and Model are resolved against the capability
// catalog before the first call; incompatible models are rewritten to a
// known-good fallback.
type AgentConfig struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	Role            string          `json:"role,omitempty" yaml:"role"`
	SystemPrompt    string          `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Provider        string          `json:"provider" yaml:"provider"`
	Model           string          `json:"model" yaml:"model"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort,omitempty" yaml:"reasoning_effort"`
	Tools           []string        `json:"tools,omitempty" yaml:"tools"`
	AccessMode      AccessMode      `json:"access_mode,omitempty" yaml:"access_mode"`
	VoiceID         string          `json:"voice_id,omitempty" yaml:"voice_id"`
}

// Clone returns a deep copy of the config.
func (c *AgentConfig) Clone() *AgentConfig {
	out := *c
	if c.Tools != nil {
		out.Tools = make([]string, len(c.Tools))
		copy(out.Tools, c.Tools)
	}
	return &out
}
