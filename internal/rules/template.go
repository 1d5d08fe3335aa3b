package rules

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// Interpolate replaces every {{dotted.path}} token in a template with the
// string form of the resolved value from the context map. Unresolved paths
// render as a bracketed echo of the path so misconfigured rules stay visible
// instead of failing the whole rule.
func Interpolate(template string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		path := placeholderPattern.FindStringSubmatch(token)[1]
		value, found := ResolvePath(context, path)
		if !found {
			return "[" + path + "]"
		}
		return stringify(value)
	})
}

func stringify(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}
