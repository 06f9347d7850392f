package models

import "time"

// RunStatus is the lifecycle state of a sub-agent run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// SubAgentRunState is the durable record of one recursive child agent run.
// On process restart any non-terminal run is forcibly transitioned to
// failed with reason "interrupted by process restart".
type SubAgentRunState struct {
	RunID       string     `json:"run_id"`
	ParentRunID string     `json:"parent_run_id,omitempty"`
	Status      RunStatus  `json:"status"`
	AgentID     string     `json:"agent_id"`
	AgentName   string     `json:"agent_name"`
	Task        string     `json:"task"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Clone returns a deep copy so callers never share store-owned memory.
func (r *SubAgentRunState) Clone() *SubAgentRunState {
	out := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// SubAgentSpawnRequest asks the coordinator to enqueue a child agent run.
type SubAgentSpawnRequest struct {
	AgentID         string        `json:"agent_id"`
	Task            string        `json:"task"`
	Provider        string        `json:"provider,omitempty"`
	Model           string        `json:"model,omitempty"`
	AwaitCompletion bool          `json:"await_completion,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}
