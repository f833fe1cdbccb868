package actions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/convohq/automation/internal/conditions"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Interpolate substitutes {{dot.path}} placeholders with values from the
// evaluation context. Unresolvable placeholders render empty; interpolation
// never fails.
func Interpolate(template string, env map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		v := conditions.GetNested(path, env, nil)
		if v == nil {
			return ""
		}
		switch x := v.(type) {
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return fmt.Sprintf("%v", x)
		}
	})
}
