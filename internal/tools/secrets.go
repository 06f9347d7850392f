package tools

import "strings"

// SubstituteSecrets replaces placeholder occurrences inside every string
// value of args with the corresponding secret material. Replacement is
// verbatim and recursive; the input map is not mutated.
func SubstituteSecrets(args map[string]any, secrets map[string]string) map[string]any {
	if len(secrets) == 0 || len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = substituteValue(v, secrets)
	}
	return out
}

func substituteValue(value any, secrets map[string]string) any {
	switch v := value.(type) {
	case string:
		for placeholder, secret := range secrets {
			if placeholder == "" {
				continue
			}
			v = strings.ReplaceAll(v, placeholder, secret)
		}
		return v
	case map[string]any:
		return SubstituteSecrets(v, secrets)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, secrets)
		}
		return out
	default:
		return value
	}
}
