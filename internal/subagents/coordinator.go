package subagents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/pkg/models"
)

const restartRecoveryReason = "interrupted by process restart"

// ChildSpec carries the enqueue-time details a run needs at execution that
// are not part of the persisted state: the child's own recursion depth, the
// spawning agent, and optional provider/model overrides.
type ChildSpec struct {
	Depth         int
	ParentAgentID string
	Provider      string
	Model         string
}

// Executor runs the child agent behind one queued run and returns its final
// output.
type Executor func(ctx context.Context, run *models.SubAgentRunState, spec ChildSpec) (string, error)

// Coordinator is the durable, bounded FIFO queue of sub-agent runs. All
// state transitions happen under one mutex and are persisted through the
// store; execution happens on pump goroutines capped by MaxConcurrency.
type Coordinator struct {
	cfg    Config
	store  Store
	exec   Executor
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	runs    map[string]*models.SubAgentRunState
	order   []string
	queue   []string
	specs   map[string]ChildSpec
	active  int
	waiters map[string]chan struct{}
}

// NewCoordinator loads the store, recovers from a previous process, and
// garbage-collects expired runs. Any run that was queued or running when
// the process died is transitioned to failed.
func NewCoordinator(cfg Config, store Store, exec Executor, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Coordinator{
		cfg:     cfg.normalized(),
		store:   store,
		exec:    exec,
		logger:  logger.With("component", "subagents"),
		now:     time.Now,
		runs:    make(map[string]*models.SubAgentRunState),
		specs:   make(map[string]ChildSpec),
		waiters: make(map[string]chan struct{}),
	}

	loaded, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load sub-agent runs: %w", err)
	}
	now := c.now()
	recovered := 0
	for _, run := range loaded {
		if run == nil || run.RunID == "" {
			continue
		}
		run = run.Clone()
		if !run.Status.Terminal() {
			run.Status = models.RunFailed
			run.Error = restartRecoveryReason
			finished := now
			run.FinishedAt = &finished
			recovered++
		}
		if run.FinishedAt != nil && now.Sub(*run.FinishedAt) >= c.cfg.FinishedRunRetention {
			continue
		}
		c.runs[run.RunID] = run
		c.order = append(c.order, run.RunID)
	}
	if recovered > 0 {
		c.logger.Warn("recovered interrupted sub-agent runs", "count", recovered)
	}
	c.mu.Lock()
	c.persistLocked()
	c.mu.Unlock()
	return c, nil
}

// Runtime is the per-parent view of the coordinator, carrying the parent's
// identity and recursion depth. Its methods match the execution-context
// function handles handed to tools.
type Runtime struct {
	c           *Coordinator
	parentRunID string
	agentID     string
	depth       int
}

// Runtime creates a view for a parent run at the given depth. Depth 0 is a
// top-level agent.
func (c *Coordinator) Runtime(parentRunID, agentID string, depth int) *Runtime {
	return &Runtime{c: c, parentRunID: parentRunID, agentID: agentID, depth: depth}
}

// Depth returns the runtime's recursion depth.
func (rt *Runtime) Depth() int { return rt.depth }

// Spawn enqueues a child run. Policy violations (depth, self-spawn, task
// size, per-parent cap) come back as synthetic failed runs rather than
// errors so the calling model sees a structured result.
func (rt *Runtime) Spawn(ctx context.Context, req models.SubAgentSpawnRequest) (*models.SubAgentRunState, error) {
	c := rt.c
	task := strings.TrimSpace(req.Task)

	switch {
	case rt.depth >= c.cfg.MaxDepth:
		return rt.rejected(req, fmt.Sprintf("Sub-agent depth limit reached (%d).", c.cfg.MaxDepth)), nil
	case req.AgentID == rt.agentID:
		return rt.rejected(req, "Spawning the current agent as its own sub-agent is blocked by runtime policy."), nil
	case task == "":
		return rt.rejected(req, "Sub-agent task must not be empty."), nil
	case len(task) > c.cfg.MaxTaskChars:
		return rt.rejected(req, fmt.Sprintf("Sub-agent task exceeds the maximum of %d characters.", c.cfg.MaxTaskChars)), nil
	}

	c.mu.Lock()
	if c.activeForParentLocked(rt.parentRunID) >= c.cfg.MaxActiveRunsPerParent {
		c.mu.Unlock()
		return rt.rejected(req, fmt.Sprintf("Parent already has %d active sub-agent runs.", c.cfg.MaxActiveRunsPerParent)), nil
	}

	run := &models.SubAgentRunState{
		RunID:       uuid.NewString(),
		ParentRunID: rt.parentRunID,
		Status:      models.RunQueued,
		AgentID:     req.AgentID,
		Task:        task,
		CreatedAt:   c.now(),
	}
	c.runs[run.RunID] = run
	c.order = append(c.order, run.RunID)
	c.queue = append(c.queue, run.RunID)
	c.specs[run.RunID] = ChildSpec{
		Depth:         rt.depth + 1,
		ParentAgentID: rt.agentID,
		Provider:      req.Provider,
		Model:         req.Model,
	}
	c.persistLocked()
	c.mu.Unlock()

	c.pump()

	if req.AwaitCompletion {
		return c.Await(ctx, run.RunID, req.Timeout)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[run.RunID].Clone(), nil
}

// Await blocks until the run is terminal or the (clamped) timeout elapses,
// returning the run's current state either way.
func (rt *Runtime) Await(ctx context.Context, runID string, timeout time.Duration) (*models.SubAgentRunState, error) {
	return rt.c.Await(ctx, runID, timeout)
}

// List returns this parent's runs, newest first, capped at MaxListedRuns.
func (rt *Runtime) List(_ context.Context) []*models.SubAgentRunState {
	return rt.c.ListByParent(rt.parentRunID)
}

// Cancel cooperatively cancels a run.
func (rt *Runtime) Cancel(ctx context.Context, runID string) (*models.SubAgentRunState, error) {
	return rt.c.Cancel(ctx, runID)
}

func (rt *Runtime) rejected(req models.SubAgentSpawnRequest, reason string) *models.SubAgentRunState {
	now := rt.c.now()
	return &models.SubAgentRunState{
		RunID:       uuid.NewString(),
		ParentRunID: rt.parentRunID,
		Status:      models.RunFailed,
		AgentID:     req.AgentID,
		Task:        req.Task,
		CreatedAt:   now,
		FinishedAt:  &now,
		Error:       reason,
	}
}

// Await blocks until the run is terminal or the clamped timeout elapses.
func (c *Coordinator) Await(ctx context.Context, runID string, timeout time.Duration) (*models.SubAgentRunState, error) {
	deadline := time.NewTimer(c.cfg.clampTimeout(timeout))
	defer deadline.Stop()

	for {
		c.mu.Lock()
		run, ok := c.runs[runID]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("unknown sub-agent run %q", runID)
		}
		if run.Status.Terminal() {
			state := run.Clone()
			c.mu.Unlock()
			return state, nil
		}
		ch := c.waiters[runID]
		if ch == nil {
			ch = make(chan struct{})
			c.waiters[runID] = ch
		}
		c.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return c.snapshot(runID), nil
		case <-ctx.Done():
			return c.snapshot(runID), ctx.Err()
		}
	}
}

// ListByParent returns a parent's runs, newest first, capped at
// MaxListedRuns.
func (c *Coordinator) ListByParent(parentRunID string) []*models.SubAgentRunState {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*models.SubAgentRunState
	for _, id := range c.order {
		run := c.runs[id]
		if run != nil && run.ParentRunID == parentRunID {
			out = append(out, run.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > c.cfg.MaxListedRuns {
		out = out[:c.cfg.MaxListedRuns]
	}
	return out
}

// Cancel marks a non-terminal run cancelled and removes it from the queue
// if still queued. In-flight work is not interrupted; its output is
// discarded when the executor returns.
func (c *Coordinator) Cancel(_ context.Context, runID string) (*models.SubAgentRunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok {
		return nil, fmt.Errorf("unknown sub-agent run %q", runID)
	}
	if run.Status.Terminal() {
		return run.Clone(), nil
	}

	run.Status = models.RunCancelled
	finished := c.now()
	run.FinishedAt = &finished
	for i, id := range c.queue {
		if id == runID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			delete(c.specs, runID)
			break
		}
	}
	c.notifyLocked(runID)
	c.persistLocked()
	return run.Clone(), nil
}

// pump starts queued runs until the concurrency cap is reached.
func (c *Coordinator) pump() {
	c.mu.Lock()
	for c.active < c.cfg.MaxConcurrency && len(c.queue) > 0 {
		id := c.queue[0]
		c.queue = c.queue[1:]
		run := c.runs[id]
		if run == nil || run.Status != models.RunQueued {
			continue
		}
		started := c.now()
		run.Status = models.RunRunning
		run.StartedAt = &started
		c.active++
		c.persistLocked()
		go c.execute(id, c.specs[id])
	}
	c.mu.Unlock()
}

func (c *Coordinator) execute(runID string, spec ChildSpec) {
	c.mu.Lock()
	snapshot := c.runs[runID].Clone()
	c.mu.Unlock()

	output, err := c.runExecutor(snapshot, spec)

	c.mu.Lock()
	run := c.runs[runID]
	if run != nil && run.AgentName == "" {
		// The executor resolves the agent's display name on its snapshot.
		run.AgentName = snapshot.AgentName
	}
	if run != nil && !run.Status.Terminal() {
		finished := c.now()
		run.FinishedAt = &finished
		if err != nil {
			run.Status = models.RunFailed
			run.Error = err.Error()
		} else {
			run.Status = models.RunCompleted
			run.Output = truncateOutput(output, c.cfg.MaxRunOutputChars)
		}
	}
	delete(c.specs, runID)
	c.active--
	c.notifyLocked(runID)
	c.persistLocked()
	c.mu.Unlock()

	c.pump()
}

// runExecutor isolates executor panics into run failures.
func (c *Coordinator) runExecutor(run *models.SubAgentRunState, spec ChildSpec) (output string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sub-agent executor panicked: %v", p)
		}
	}()
	if c.exec == nil {
		return "", fmt.Errorf("no sub-agent executor configured")
	}
	return c.exec(context.Background(), run, spec)
}

func (c *Coordinator) activeForParentLocked(parentRunID string) int {
	n := 0
	for _, run := range c.runs {
		if run.ParentRunID == parentRunID && !run.Status.Terminal() {
			n++
		}
	}
	return n
}

func (c *Coordinator) notifyLocked(runID string) {
	if ch, ok := c.waiters[runID]; ok {
		close(ch)
		delete(c.waiters, runID)
	}
}

func (c *Coordinator) persistLocked() {
	runs := make([]*models.SubAgentRunState, 0, len(c.order))
	for _, id := range c.order {
		if run, ok := c.runs[id]; ok {
			runs = append(runs, run)
		}
	}
	if err := c.store.Save(runs); err != nil {
		c.logger.Warn("persist sub-agent runs failed", "error", err)
	}
}

func (c *Coordinator) snapshot(runID string) *models.SubAgentRunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run, ok := c.runs[runID]; ok {
		return run.Clone()
	}
	return nil
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n\n[truncated: output exceeded %d chars]", max)
}
