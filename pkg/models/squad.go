package models

// InteractionMode controls how squad progress is surfaced to the user.
type InteractionMode string

const (
	// InteractionMasterLog runs the squad task-focused with a terse log.
	InteractionMasterLog InteractionMode = "master_log"
	// InteractionLiveCampaign paces the squad like a game-master session.
	InteractionLiveCampaign InteractionMode = "live_campaign"
)

// UserTurnPolicy controls when the squad yields back to the user.
type UserTurnPolicy string

const (
	UserTurnOnDemand   UserTurnPolicy = "on_demand"
	UserTurnEveryRound UserTurnPolicy = "every_round"
)

// OrchestratorConfig names the director model for a squad.
type OrchestratorConfig struct {
	Name     string `json:"name,omitempty" yaml:"name"`
	Provider string `json:"provider,omitempty" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model"`
	Style    string `json:"style,omitempty" yaml:"style"`
	VoiceID  string `json:"voice_id,omitempty" yaml:"voice_id"`
}

// InteractionConfig tunes how squad activity reaches the chat surface.
type InteractionConfig struct {
	Mode                           InteractionMode `json:"mode,omitempty" yaml:"mode"`
	UserTurnPolicy                 UserTurnPolicy  `json:"user_turn_policy,omitempty" yaml:"user_turn_policy"`
	ShowMasterLog                  bool            `json:"show_master_log,omitempty" yaml:"show_master_log"`
	ShowAgentMessagesInChat        bool            `json:"show_agent_messages_in_chat,omitempty" yaml:"show_agent_messages_in_chat"`
	IncludeDirectorMessagesInChat  bool            `json:"include_director_messages_in_chat,omitempty" yaml:"include_director_messages_in_chat"`
	AutoPlayCharacterVoices        bool            `json:"auto_play_character_voices,omitempty" yaml:"auto_play_character_voices"`
	TypewriterCharacterMessages    bool            `json:"typewriter_character_messages,omitempty" yaml:"typewriter_character_messages"`
}

// SquadConfig describes a squad of specialist agents coordinated by a
// director. Members hold agent ids resolvable in the agent registry.
type SquadConfig struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	Goal          string             `json:"goal" yaml:"goal"`
	Context       string             `json:"context,omitempty" yaml:"context"`
	Members       []string           `json:"members" yaml:"members"`
	MaxIterations int                `json:"max_iterations,omitempty" yaml:"max_iterations"`
	Orchestrator  OrchestratorConfig `json:"orchestrator,omitempty" yaml:"orchestrator"`
	Interaction   InteractionConfig  `json:"interaction,omitempty" yaml:"interaction"`
}

// DecisionStatus is the director's verdict for one squad iteration.
type DecisionStatus string

const (
	DecisionContinue       DecisionStatus = "continue"
	DecisionComplete       DecisionStatus = "complete"
	DecisionNeedsUserInput DecisionStatus = "needs_user_input"
	DecisionBlocked        DecisionStatus = "blocked"
)

// DirectorDecision is the JSON decision the director model returns each
// iteration. Invariants: continue requires TargetAgentID and Instruction;
// complete requires ResponseToUser; the director never targets itself.
type DirectorDecision struct {
	Status         DecisionStatus `json:"status"`
	Summary        string         `json:"summary"`
	TargetAgentID  string         `json:"targetAgentId,omitempty"`
	Instruction    string         `json:"instruction,omitempty"`
	ResponseToUser string         `json:"responseToUser,omitempty"`
	UserQuestion   string         `json:"userQuestion,omitempty"`
	BlockerReason  string         `json:"blockerReason,omitempty"`
}
