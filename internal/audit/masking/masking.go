package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = []string{"token", "password", "secret"}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 8 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// Sanitize copies metadata, masking string values stored under keys that
// look like credentials. Nested maps are walked.
func Sanitize(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		out[trimmedKey] = sanitizeValue(trimmedKey, value)
	}
	return out
}

func sanitizeValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if IsSensitiveKey(key) {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		return Sanitize(cast)
	case []any:
		items := make([]any, 0, len(cast))
		for _, item := range cast {
			items = append(items, sanitizeValue(key, item))
		}
		return items
	default:
		return value
	}
}

func IsSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, candidate := range sensitiveKeys {
		if strings.Contains(lowered, candidate) {
			return true
		}
	}
	return false
}
