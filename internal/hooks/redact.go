package hooks

import (
	"context"
	"strings"

	"github.com/crewline/crewline/pkg/models"
)

// Redactor masks configured secret values in every outbound string that
// crosses the hook bus: streamed chunks, tool results, and run output.
// Secret values live only here and in the per-run execution context; they
// never reach the durable store.
type Redactor struct {
	secrets []string
	mask    string
}

// NewRedactor creates a redactor for the given secret values. Empty values
// are ignored.
func NewRedactor(secretValues map[string]string) *Redactor {
	r := &Redactor{mask: "[redacted]"}
	for _, v := range secretValues {
		if strings.TrimSpace(v) == "" {
			continue
		}
		r.secrets = append(r.secrets, v)
	}
	return r
}

// Attach subscribes the redactor to the outbound topics of a bus at highest
// priority so later subscribers only ever see masked values.
func (r *Redactor) Attach(bus *Bus) []string {
	ids := make([]string, 0, 3)
	for _, topic := range []Topic{TopicToolAfter, TopicResponseStream, TopicRunEnd} {
		ids = append(ids, bus.Subscribe(topic, r.handle, WithPriority(PriorityHighest), WithName("secret-redactor")))
	}
	return ids
}

func (r *Redactor) handle(_ context.Context, event *Event) error {
	if len(r.secrets) == 0 {
		return nil
	}
	event.Chunk = r.Mask(event.Chunk)
	event.Output = r.Mask(event.Output)
	if event.Result != nil {
		event.Result.Output = r.Mask(event.Result.Output)
		event.Result.Error = r.Mask(event.Result.Error)
		r.maskArtifacts(event.Result.Artifacts)
	}
	return nil
}

func (r *Redactor) maskArtifacts(artifacts []models.Artifact) {
	for i := range artifacts {
		artifacts[i].Label = r.Mask(artifacts[i].Label)
		for k, v := range artifacts[i].Metadata {
			artifacts[i].Metadata[k] = r.Mask(v)
		}
	}
}

// Mask replaces every occurrence of a secret value in s.
func (r *Redactor) Mask(s string) string {
	if s == "" {
		return s
	}
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, r.mask)
	}
	return s
}
