package rules

import (
	"regexp"
	"strings"
)

// Combination logic for a condition set
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Condition is one field-level predicate from a rule catalog
type Condition struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// predicate evaluates one operator against a resolved value. found reports
// whether the field path resolved at all; operators other than eq/exists
// treat a missing field as a non-match.
type predicate func(resolved any, found bool, expected any) bool

// operators is the dispatch table keyed by operator name
var operators = map[string]predicate{
	"eq":       opEq,
	"ne":       opNe,
	"gt":       numericOp(func(a, b float64) bool { return a > b }),
	"gte":      numericOp(func(a, b float64) bool { return a >= b }),
	"lt":       numericOp(func(a, b float64) bool { return a < b }),
	"lte":      numericOp(func(a, b float64) bool { return a <= b }),
	"in":       opIn,
	"nin":      opNin,
	"contains": opContains,
	"regex":    opRegex,
	"between":  opBetween,
	"exists":   opExists,
}

// Evaluate applies a condition set against an attribute map. An empty set
// never matches: unconditional rules omit their conditions entirely rather
// than carrying an empty list.
func Evaluate(conditions []Condition, logic string, attrs map[string]any) bool {
	if len(conditions) == 0 {
		return false
	}

	if strings.ToLower(logic) == LogicOr {
		for _, c := range conditions {
			if evaluateOne(c, attrs) {
				return true
			}
		}
		return false
	}

	for _, c := range conditions {
		if !evaluateOne(c, attrs) {
			return false
		}
	}
	return true
}

func evaluateOne(c Condition, attrs map[string]any) bool {
	pred, ok := operators[strings.ToLower(c.Operator)]
	if !ok {
		return false
	}

	resolved, found := ResolvePath(attrs, c.Field)
	return pred(resolved, found, c.Value)
}

// ResolvePath looks up a dot-separated field path in a nested attribute map
func ResolvePath(attrs map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = attrs
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// asFloat converts a resolved value to float64 without string coercion.
// Non-numeric values (including numeric strings) are rejected so that type
// confusion in payloads fails predicates instead of silently matching.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func opEq(resolved any, found bool, expected any) bool {
	if !found {
		// eq against an explicit nil expectation matches a missing field.
		return expected == nil
	}
	return valuesEqual(resolved, expected)
}

func opNe(resolved any, found bool, expected any) bool {
	if !found {
		return false
	}
	return !valuesEqual(resolved, expected)
}

func numericOp(cmp func(a, b float64) bool) predicate {
	return func(resolved any, found bool, expected any) bool {
		if !found {
			return false
		}
		a, ok := asFloat(resolved)
		if !ok {
			return false
		}
		b, ok := asFloat(expected)
		if !ok {
			return false
		}
		return cmp(a, b)
	}
}

func expectedList(expected any) ([]any, bool) {
	switch l := expected.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func opIn(resolved any, found bool, expected any) bool {
	if !found {
		return false
	}
	list, ok := expectedList(expected)
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(resolved, item) {
			return true
		}
	}
	return false
}

func opNin(resolved any, found bool, expected any) bool {
	if !found {
		return false
	}
	list, ok := expectedList(expected)
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(resolved, item) {
			return false
		}
	}
	return true
}

func opContains(resolved any, found bool, expected any) bool {
	if !found {
		return false
	}
	switch r := resolved.(type) {
	case string:
		needle, ok := expected.(string)
		if !ok {
			return false
		}
		return strings.Contains(r, needle)
	case []any:
		for _, item := range r {
			if valuesEqual(item, expected) {
				return true
			}
		}
		return false
	case []string:
		needle, ok := expected.(string)
		if !ok {
			return false
		}
		for _, item := range r {
			if item == needle {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func opRegex(resolved any, found bool, expected any) bool {
	if !found {
		return false
	}
	text, ok := resolved.(string)
	if !ok {
		return false
	}
	pattern, ok := expected.(string)
	if !ok {
		return false
	}
	matched, err := regexp.MatchString(pattern, text)
	if err != nil {
		return false
	}
	return matched
}

func opBetween(resolved any, found bool, expected any) bool {
	if !found {
		return false
	}
	value, ok := asFloat(resolved)
	if !ok {
		return false
	}
	bounds, ok := expectedList(expected)
	if !ok || len(bounds) != 2 {
		return false
	}
	lo, ok := asFloat(bounds[0])
	if !ok {
		return false
	}
	hi, ok := asFloat(bounds[1])
	if !ok {
		return false
	}
	return value >= lo && value <= hi
}

func opExists(_ any, found bool, expected any) bool {
	want := true
	if b, ok := expected.(bool); ok {
		want = b
	}
	return found == want
}
