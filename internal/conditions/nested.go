package conditions

import (
	"strconv"
	"strings"
)

// GetNested extracts the value at a dot-separated path from the evaluation
// context. Numeric segments index into lists. Any missing link returns def;
// extraction is total and never panics.
func GetNested(path string, env map[string]any, def any) any {
	if path == "" || env == nil {
		return def
	}
	var cur any = env
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return def
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return def
			}
			cur = node[idx]
		case []string:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return def
			}
			cur = node[idx]
		default:
			return def
		}
	}
	if cur == nil {
		return def
	}
	return cur
}

// Normalize canonicalizes scalars before comparison: integer kinds widen to
// float64, and strings that look numeric or boolean become the typed value.
// Normalize is idempotent.
func Normalize(v any) any {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return x
		}
		switch strings.ToLower(s) {
		case "true":
			return true
		case "false":
			return false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return x
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// asNumber attempts numeric coercion after normalization.
func asNumber(v any) (float64, bool) {
	f, ok := Normalize(v).(float64)
	return f, ok
}

// asString renders a scalar for string comparisons.
func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

// asList widens any slice shape to []any.
func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
