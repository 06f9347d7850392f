package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/crewline/crewline/internal/jsonx"
	"github.com/crewline/crewline/pkg/models"
)

// Some backends reject a malformed native tool call with a tool_use_failed
// error that carries the model's raw attempt as text. RecoverToolCall tries
// to rebuild a structured call from that text so the turn survives:
//
//  1. a <function=NAME ...> wrapper with a JSON body,
//  2. a JSON object naming the tool under tool/name/function.name with
//     arguments under arguments/args/input,
//  3. the first balanced object embedded in surrounding prose, then (2) again.
//
// Adapters that still fail after this fall back to retrying the chat call
// once with tools stripped.
func RecoverToolCall(failedGeneration string) (*models.ToolCall, bool) {
	text := strings.TrimSpace(failedGeneration)
	if text == "" {
		return nil, false
	}

	if call, ok := parseFunctionWrapper(text); ok {
		return call, true
	}

	obj, err := jsonx.DecodeObject(text)
	if err != nil {
		return nil, false
	}
	return callFromObject(obj)
}

var functionWrapperRe = regexp.MustCompile(`(?s)<function=([A-Za-z0-9_.:\-]+)\s*>?\s*(\{.*?\})?\s*(?:</function>)?`)

func parseFunctionWrapper(text string) (*models.ToolCall, bool) {
	m := functionWrapperRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	name := m[1]
	args := "{}"
	if m[2] != "" {
		obj, err := jsonx.DecodeObject(m[2])
		if err != nil {
			return nil, false
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, false
		}
		args = string(raw)
	}
	return &models.ToolCall{
		ID:        syntheticCallID(),
		Name:      name,
		Arguments: args,
	}, true
}

func callFromObject(obj map[string]any) (*models.ToolCall, bool) {
	name := stringField(obj, "tool")
	if name == "" {
		name = stringField(obj, "name")
	}
	if name == "" {
		if fn, ok := obj["function"].(map[string]any); ok {
			name = stringField(fn, "name")
			if obj["arguments"] == nil && obj["args"] == nil && obj["input"] == nil {
				if inner, ok := fn["arguments"]; ok {
					obj["arguments"] = inner
				}
			}
		}
	}
	if name == "" {
		return nil, false
	}

	var rawArgs any
	for _, key := range []string{"arguments", "args", "input"} {
		if v, ok := obj[key]; ok && v != nil {
			rawArgs = v
			break
		}
	}

	args := "{}"
	switch v := rawArgs.(type) {
	case nil:
	case string:
		parsed, err := jsonx.DecodeObject(v)
		if err != nil {
			return nil, false
		}
		encoded, err := json.Marshal(parsed)
		if err != nil {
			return nil, false
		}
		args = string(encoded)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		args = string(encoded)
	}

	return &models.ToolCall{
		ID:        syntheticCallID(),
		Name:      name,
		Arguments: args,
	}, true
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func syntheticCallID() string {
	return "recovered_" + uuid.NewString()[:8]
}
