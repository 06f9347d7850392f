// Package hooks provides the in-process runtime hook bus. Subscribers
// observe and, for prompt topics, mutate the lifecycle of an agent run:
// prompt assembly, tool execution, response streaming, and run completion.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crewline/pkg/models"
)

// Topic identifies a hook event stream.
type Topic string

const (
	TopicPromptBefore   Topic = "prompt_before"
	TopicPromptAfter    Topic = "prompt_after"
	TopicToolBefore     Topic = "tool_before"
	TopicToolAfter      Topic = "tool_after"
	TopicResponseStream Topic = "response_stream"
	TopicRunEnd         Topic = "run_end"
)

// Event carries the payload for one hook emission. Which fields are set
// depends on the topic.
type Event struct {
	Topic   Topic
	RunID   string
	AgentID string

	// prompt_before: subscribers may append to SystemPromptAppendices or
	// replace SystemPrompt in place.
	SystemPrompt           *string
	UserPrompt             string
	ContextMessages        []models.Message
	SystemPromptAppendices *[]string

	// prompt_after: subscribers may replace Prompt in place.
	Prompt *string

	// tool_before / tool_after.
	ToolID   string
	ToolName string
	Args     map[string]any
	Result   *models.ToolResult
	Duration time.Duration

	// response_stream.
	Chunk      string
	ChunkIndex int
	Metadata   map[string]any

	// run_end.
	Status string
	Output string
}

// Handler processes one hook event. Handlers on prompt topics may mutate
// the pointer fields of the event.
type Handler func(ctx context.Context, event *Event) error

// Priority determines handler call order; lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is one subscribed handler.
type Registration struct {
	ID       string
	Topic    Topic
	Handler  Handler
	Priority Priority
	Name     string
}

// Bus dispatches hook events to subscribers. Emission snapshots the
// subscriber list so handlers may register or unregister without
// deadlocking the bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
}

// NewBus creates an empty hook bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Topic][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets a handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// Subscribe adds a handler for a topic and returns its registration id.
func (b *Bus) Subscribe(topic Topic, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.NewString(),
		Topic:    topic,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = append(b.handlers[topic], reg)
	b.byID[reg.ID] = reg
	sort.SliceStable(b.handlers[topic], func(i, j int) bool {
		return b.handlers[topic][i].Priority < b.handlers[topic][j].Priority
	})

	b.logger.Debug("subscribed hook", "id", reg.ID, "topic", topic, "name", reg.Name)
	return reg.ID
}

// Unsubscribe removes a handler by registration id.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)

	handlers := b.handlers[reg.Topic]
	for i, h := range handlers {
		if h.ID == id {
			b.handlers[reg.Topic] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

// Emit dispatches an event to all handlers on its topic in priority order.
// Handler errors are logged and do not stop later handlers; the first error
// is returned.
func (b *Bus) Emit(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	b.mu.RLock()
	registered := b.handlers[event.Topic]
	snapshot := make([]*Registration, len(registered))
	copy(snapshot, registered)
	b.mu.RUnlock()

	var firstErr error
	for _, reg := range snapshot {
		if err := b.call(ctx, reg, event); err != nil {
			b.logger.Warn("hook handler error",
				"topic", event.Topic,
				"handler_id", reg.ID,
				"handler_name", reg.Name,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Bus) call(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

// HandlerCount returns the number of handlers on a topic.
func (b *Bus) HandlerCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
