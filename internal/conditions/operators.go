package conditions

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/convohq/automation/pkg/schema"
)

// Comparison operators for message predicates.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpIContains   = "icontains"
	OpStartsWith  = "starts_with"
	OpIStartsWith = "istarts_with"
	OpEndsWith    = "ends_with"
	OpIEndsWith   = "iends_with"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpIsNull      = "is_null"
	OpIsNotNull   = "is_not_null"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpMatchRegex  = "matches_regex"
	OpGt          = "gt"
	OpLt          = "lt"
	OpGte         = "gte"
	OpLte         = "lte"
	OpBetween     = "between"
	OpNotBetween  = "not_between"
)

// KnownOperator reports whether an operator name is part of the comparison
// vocabulary. Used by authoring-time validation.
func KnownOperator(operator string) bool {
	_, err := Compare(operator, nil, nil)
	return err == nil
}

// Compare applies a message-predicate operator to an extracted value and
// the authored expected value. An unknown operator is an error so the
// caller can log it; every known operator is total and returns false on a
// type mismatch rather than failing.
func Compare(operator string, actual, expected any) (bool, error) {
	switch operator {
	case OpEquals:
		return looseEqual(actual, expected), nil
	case OpNotEquals:
		return !looseEqual(actual, expected), nil

	case OpContains:
		return containsValue(actual, expected, false), nil
	case OpNotContains:
		return !containsValue(actual, expected, false), nil
	case OpIContains:
		return containsValue(actual, expected, true), nil

	case OpStartsWith, OpIStartsWith:
		a, aok := asString(actual)
		e, eok := asString(expected)
		if !aok || !eok {
			return false, nil
		}
		if operator == OpIStartsWith {
			a, e = strings.ToLower(a), strings.ToLower(e)
		}
		return strings.HasPrefix(a, e), nil
	case OpEndsWith, OpIEndsWith:
		a, aok := asString(actual)
		e, eok := asString(expected)
		if !aok || !eok {
			return false, nil
		}
		if operator == OpIEndsWith {
			a, e = strings.ToLower(a), strings.ToLower(e)
		}
		return strings.HasSuffix(a, e), nil

	case OpIn:
		return inList(actual, expected), nil
	case OpNotIn:
		return !inList(actual, expected), nil

	case OpIsNull:
		return actual == nil, nil
	case OpIsNotNull:
		return actual != nil, nil

	case OpIsEmpty:
		return isEmpty(actual), nil
	case OpIsNotEmpty:
		return !isEmpty(actual), nil

	case OpMatchRegex:
		a, aok := asString(actual)
		pattern, eok := expected.(string)
		if !aok || !eok {
			return false, nil
		}
		matched, err := regexp.MatchString(pattern, a)
		if err != nil {
			return false, nil
		}
		return matched, nil

	case OpGt, OpLt, OpGte, OpLte:
		a, aok := asNumber(actual)
		e, eok := asNumber(expected)
		if !aok || !eok {
			return false, nil
		}
		switch operator {
		case OpGt:
			return a > e, nil
		case OpLt:
			return a < e, nil
		case OpGte:
			return a >= e, nil
		default:
			return a <= e, nil
		}

	case OpBetween, OpNotBetween:
		in := betweenInclusive(actual, expected)
		if operator == OpNotBetween {
			return !in, nil
		}
		return in, nil
	}

	return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown operator %q", operator)
}

func looseEqual(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	if reflect.DeepEqual(na, nb) {
		return true
	}
	// Fall back to string rendering so "3" equals 3 and true equals "true".
	sa, aok := asString(na)
	sb, bok := asString(nb)
	return aok && bok && sa == sb
}

func containsValue(actual, expected any, insensitive bool) bool {
	if list, ok := asList(actual); ok {
		for _, item := range list {
			if insensitive {
				si, iok := asString(item)
				se, eok := asString(expected)
				if iok && eok && strings.EqualFold(si, se) {
					return true
				}
				continue
			}
			if looseEqual(item, expected) {
				return true
			}
		}
		return false
	}
	a, aok := asString(actual)
	e, eok := asString(expected)
	if !aok || !eok {
		return false
	}
	if insensitive {
		return strings.Contains(strings.ToLower(a), strings.ToLower(e))
	}
	return strings.Contains(a, e)
}

func inList(actual, expected any) bool {
	list, ok := asList(expected)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(actual, item) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

func betweenInclusive(actual, expected any) bool {
	a, aok := asNumber(actual)
	bounds, bok := asList(expected)
	if !aok || !bok || len(bounds) != 2 {
		return false
	}
	lo, lok := asNumber(bounds[0])
	hi, hok := asNumber(bounds[1])
	if !lok || !hok {
		return false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return a >= lo && a <= hi
}
