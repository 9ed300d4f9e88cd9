package workflow

import (
	"log/slog"
	"regexp"
)

// Reserved placeholder names available to every task template.
const (
	// VarUserRequest expands to the workflow's original user request.
	VarUserRequest = "user_request"
	// VarPrevOutput expands to the output of the plan-order-latest task
	// completed before the current batch.
	VarPrevOutput = "prev_output"
)

// placeholderPattern matches {{name}} references. Whitespace around the
// name is tolerated; the name itself must be a single token.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_][A-Za-z0-9_.-]*)\s*\}\}`)

// Render substitutes {{name}} placeholders in template from vars. It is a
// single literal pass: substituted values are never re-scanned, there are
// no conditionals or loops. A placeholder with no binding stays in the
// output verbatim and is reported once through the logger.
func Render(template string, vars map[string]string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			logger.Warn("unresolved template placeholder", "placeholder", name)
			return match
		}
		return value
	})
}

// Placeholders returns the distinct placeholder names referenced by
// template, in first-appearance order.
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
