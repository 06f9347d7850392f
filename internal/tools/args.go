package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/crewline/crewline/internal/jsonx"
)

// ErrArgsNotObject is the uniform parse failure surfaced to the model.
var ErrArgsNotObject = errors.New("Tool arguments must decode to a JSON object.")

// ParseArguments decodes raw tool-call arguments into an object. Objects
// pass through, strings go through the JSON recovery chain, and nil decodes
// to an empty object. Anything else fails with ErrArgsNotObject.
func ParseArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		obj, err := jsonx.DecodeObject(v)
		if err != nil {
			return nil, ErrArgsNotObject
		}
		return obj, nil
	case json.RawMessage:
		return ParseArguments(string(v))
	default:
		return nil, ErrArgsNotObject
	}
}

// ValidationResult reports schema validation with the coerced argument
// object. NormalizedArgs is only meaningful when OK is true.
type ValidationResult struct {
	OK             bool
	Errors         []string
	NormalizedArgs map[string]any
}

// ValidateArgs checks args against a JSON-Schema-flavored object schema and
// coerces primitive values where the intent is unambiguous: "42" becomes 42
// for a number property, "true" becomes true for a boolean, and stringified
// arrays or objects are parsed as a last resort.
func ValidateArgs(schema map[string]any, args map[string]any) ValidationResult {
	if schema == nil {
		return ValidationResult{OK: true, NormalizedArgs: args}
	}
	normalized, errs := validateObject(schema, args, "")
	return ValidationResult{
		OK:             len(errs) == 0,
		Errors:         errs,
		NormalizedArgs: normalized,
	}
}

func validateObject(schema map[string]any, args map[string]any, path string) (map[string]any, []string) {
	var errs []string
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}

	properties, _ := schema["properties"].(map[string]any)

	for _, req := range toStringSlice(schema["required"]) {
		if _, ok := args[req]; !ok {
			errs = append(errs, fmt.Sprintf("missing required property %q", joinPath(path, req)))
		}
	}

	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		for key := range args {
			if _, declared := properties[key]; !declared {
				errs = append(errs, fmt.Sprintf("unknown property %q", joinPath(path, key)))
			}
		}
	}

	for key, propSchemaAny := range properties {
		propSchema, ok := propSchemaAny.(map[string]any)
		if !ok {
			continue
		}
		value, present := args[key]
		if !present {
			continue
		}
		coerced, propErrs := validateValue(propSchema, value, joinPath(path, key))
		if len(propErrs) > 0 {
			errs = append(errs, propErrs...)
			continue
		}
		normalized[key] = coerced
	}

	return normalized, errs
}

func validateValue(schema map[string]any, value any, path string) (any, []string) {
	typ, _ := schema["type"].(string)

	coerced, ok := coerceType(typ, value)
	if !ok {
		return nil, []string{fmt.Sprintf("property %q: expected %s, got %T", path, typ, value)}
	}

	if enum := enumLiterals(schema["enum"]); len(enum) > 0 {
		matched := false
		for _, allowed := range enum {
			if coerced == allowed {
				matched = true
				break
			}
		}
		if !matched {
			return nil, []string{fmt.Sprintf("property %q: value %v is not one of the allowed literals", path, coerced)}
		}
	}

	switch typ {
	case "object":
		obj, isObj := coerced.(map[string]any)
		if !isObj {
			return nil, []string{fmt.Sprintf("property %q: expected object", path)}
		}
		return validateObject(schema, obj, path)
	case "array":
		arr, isArr := coerced.([]any)
		if !isArr {
			return nil, []string{fmt.Sprintf("property %q: expected array", path)}
		}
		items, hasItems := schema["items"].(map[string]any)
		if !hasItems {
			return arr, nil
		}
		out := make([]any, len(arr))
		var errs []string
		for i, item := range arr {
			v, itemErrs := validateValue(items, item, fmt.Sprintf("%s[%d]", path, i))
			if len(itemErrs) > 0 {
				errs = append(errs, itemErrs...)
				continue
			}
			out[i] = v
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return out, nil
	}

	return coerced, nil
}

// coerceType converts value to the declared primitive type when the
// conversion is unambiguous. An empty type accepts anything.
func coerceType(typ string, value any) (any, bool) {
	switch typ {
	case "", "any":
		return value, true
	case "string":
		s, ok := value.(string)
		return s, ok
	case "number":
		switch v := value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
				return f, true
			}
		}
		return nil, false
	case "integer":
		switch v := value.(type) {
		case float64:
			if v == math.Trunc(v) {
				return v, true
			}
		case int:
			return float64(v), true
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return float64(n), true
			}
		}
		return nil, false
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			switch strings.TrimSpace(v) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
		return nil, false
	case "array":
		switch v := value.(type) {
		case []any:
			return v, true
		case string:
			var arr []any
			if err := json.Unmarshal([]byte(v), &arr); err == nil {
				return arr, true
			}
		}
		return nil, false
	case "object":
		switch v := value.(type) {
		case map[string]any:
			return v, true
		case string:
			if obj, err := jsonx.DecodeObject(v); err == nil {
				return obj, true
			}
		}
		return nil, false
	default:
		return value, true
	}
}

// enumLiterals reads an enum clause whether the schema was decoded from
// JSON ([]any) or authored in Go with a []string literal.
func enumLiterals(v any) []any {
	switch vals := v.(type) {
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	}
	return nil
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
