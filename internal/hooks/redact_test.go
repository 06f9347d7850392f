package hooks

import (
	"context"
	"testing"

	"github.com/crewline/crewline/pkg/models"
)

func TestRedactor_MasksOutboundTopics(t *testing.T) {
	bus := NewBus(nil)
	r := NewRedactor(map[string]string{"API_TOKEN": "s3cr3t-value"})
	r.Attach(bus)

	var seen *Event
	bus.Subscribe(TopicToolAfter, func(_ context.Context, ev *Event) error {
		seen = ev
		return nil
	})

	bus.Emit(context.Background(), &Event{
		Topic: TopicToolAfter,
		Result: &models.ToolResult{
			OK:     false,
			Output: "token is s3cr3t-value here",
			Error:  "auth failed with s3cr3t-value",
			Artifacts: []models.Artifact{
				{Kind: models.ArtifactWeb, Label: "GET https://x?key=s3cr3t-value",
					Metadata: map[string]string{"url": "https://x?key=s3cr3t-value"}},
			},
		},
	})

	if seen == nil {
		t.Fatal("subscriber never ran")
	}
	if seen.Result.Output != "token is [redacted] here" {
		t.Errorf("Output = %q", seen.Result.Output)
	}
	if seen.Result.Error != "auth failed with [redacted]" {
		t.Errorf("Error = %q", seen.Result.Error)
	}
	if seen.Result.Artifacts[0].Label != "GET https://x?key=[redacted]" {
		t.Errorf("Label = %q", seen.Result.Artifacts[0].Label)
	}
	if seen.Result.Artifacts[0].Metadata["url"] != "https://x?key=[redacted]" {
		t.Errorf("Metadata = %q", seen.Result.Artifacts[0].Metadata["url"])
	}
}

func TestRedactor_MasksStreamAndRunEnd(t *testing.T) {
	bus := NewBus(nil)
	NewRedactor(map[string]string{"k": "hunter2"}).Attach(bus)

	var chunk, output string
	bus.Subscribe(TopicResponseStream, func(_ context.Context, ev *Event) error {
		chunk = ev.Chunk
		return nil
	})
	bus.Subscribe(TopicRunEnd, func(_ context.Context, ev *Event) error {
		output = ev.Output
		return nil
	})

	bus.Emit(context.Background(), &Event{Topic: TopicResponseStream, Chunk: "password hunter2"})
	bus.Emit(context.Background(), &Event{Topic: TopicRunEnd, Output: "logged in with hunter2"})

	if chunk != "password [redacted]" {
		t.Errorf("Chunk = %q", chunk)
	}
	if output != "logged in with [redacted]" {
		t.Errorf("Output = %q", output)
	}
}

func TestRedactor_IgnoresBlankSecrets(t *testing.T) {
	r := NewRedactor(map[string]string{"a": "", "b": "   "})
	if got := r.Mask("anything"); got != "anything" {
		t.Errorf("Mask = %q", got)
	}
}
