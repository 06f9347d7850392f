package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/crewline/crewline/pkg/models"
)

func TestBus_PriorityOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string

	bus.Subscribe(TopicRunEnd, func(context.Context, *Event) error {
		order = append(order, "normal")
		return nil
	})
	bus.Subscribe(TopicRunEnd, func(context.Context, *Event) error {
		order = append(order, "first")
		return nil
	}, WithPriority(PriorityHighest))
	bus.Subscribe(TopicRunEnd, func(context.Context, *Event) error {
		order = append(order, "last")
		return nil
	}, WithPriority(PriorityLowest))

	if err := bus.Emit(context.Background(), &Event{Topic: TopicRunEnd}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	want := []string{"first", "normal", "last"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBus_ErrorsDoNotStopHandlers(t *testing.T) {
	bus := NewBus(nil)
	ran := false
	bus.Subscribe(TopicToolAfter, func(context.Context, *Event) error {
		return errors.New("boom")
	}, WithPriority(PriorityHighest))
	bus.Subscribe(TopicToolAfter, func(context.Context, *Event) error {
		ran = true
		return nil
	})

	err := bus.Emit(context.Background(), &Event{Topic: TopicToolAfter})
	if err == nil || err.Error() != "boom" {
		t.Errorf("Emit() error = %v, want first handler error", err)
	}
	if !ran {
		t.Error("later handlers must still run")
	}
}

func TestBus_PanicRecovered(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TopicToolBefore, func(context.Context, *Event) error {
		panic("handler bug")
	})
	if err := bus.Emit(context.Background(), &Event{Topic: TopicToolBefore}); err == nil {
		t.Error("panic should surface as an error")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	id := bus.Subscribe(TopicRunEnd, func(context.Context, *Event) error {
		calls++
		return nil
	})
	if bus.HandlerCount(TopicRunEnd) != 1 {
		t.Fatal("expected one handler")
	}
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe should succeed")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should fail")
	}
	bus.Emit(context.Background(), &Event{Topic: TopicRunEnd})
	if calls != 0 {
		t.Error("unsubscribed handler must not run")
	}
}

func TestBus_PromptMutation(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TopicPromptBefore, func(_ context.Context, ev *Event) error {
		*ev.SystemPromptAppendices = append(*ev.SystemPromptAppendices, "extra guidance")
		return nil
	})

	prompt := "base"
	var appendices []string
	ev := &Event{
		Topic:                  TopicPromptBefore,
		SystemPrompt:           &prompt,
		SystemPromptAppendices: &appendices,
	}
	if err := bus.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if len(appendices) != 1 || appendices[0] != "extra guidance" {
		t.Errorf("appendices = %v", appendices)
	}
}

func TestBus_EmitDuringHandlerDoesNotDeadlock(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TopicToolBefore, func(ctx context.Context, _ *Event) error {
		// Subscribing mid-emission must not deadlock the bus.
		bus.Subscribe(TopicToolAfter, func(context.Context, *Event) error { return nil })
		return nil
	})
	if err := bus.Emit(context.Background(), &Event{Topic: TopicToolBefore}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if bus.HandlerCount(TopicToolAfter) != 1 {
		t.Error("nested subscription lost")
	}
}

func TestBus_ToolResultVisibleToHandlers(t *testing.T) {
	bus := NewBus(nil)
	var got string
	bus.Subscribe(TopicToolAfter, func(_ context.Context, ev *Event) error {
		got = ev.Result.Output
		return nil
	})
	bus.Emit(context.Background(), &Event{
		Topic:  TopicToolAfter,
		Result: &models.ToolResult{OK: true, Output: "payload"},
	})
	if got != "payload" {
		t.Errorf("handler saw %q", got)
	}
}
