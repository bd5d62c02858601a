package scratchpad

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// maxShortTextLen caps the compact one-line summary.
const maxShortTextLen = 200

// serviceNamePattern matches hyphenated or dotted lowercase identifiers
// that look like service names (checkout-api, orders-db, payments.svc).
var serviceNamePattern = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:[-.][a-z0-9]+)+\b`)

// errorKeywords signal failure when they appear in result text.
var errorKeywords = []string{
	"error", "fail", "exception", "timeout", "refused", "exhausted",
	"panic", "fatal", "unavailable", "denied", "throttl",
}

// Summarize produces the fixed-shape compact summary of a tool result. It is
// pure: the same tool, args and result always produce the same summary.
func Summarize(tool string, args map[string]interface{}, result interface{}) *CompactSummary {
	text := flatten(result)

	summary := &CompactSummary{
		ShortText:    shortText(tool, args, result, text),
		Services:     extractServices(args, text),
		HealthStatus: extractHealth(text),
		HasErrors:    containsErrorKeyword(text),
	}
	return summary
}

// flatten renders a result value as text for keyword and pattern scanning.
func flatten(result interface{}) string {
	if result == nil {
		return ""
	}
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// shortText builds the one-line text. A "summary" field in the result map
// wins; otherwise the rendered result is truncated.
func shortText(tool string, args map[string]interface{}, result interface{}, flat string) string {
	line := ""
	if m, ok := result.(map[string]interface{}); ok {
		if s, ok := m["summary"].(string); ok && s != "" {
			line = s
		}
	}
	if line == "" {
		line = flat
	}
	line = strings.Join(strings.Fields(line), " ")

	prefix := tool
	if svc, ok := args["service"].(string); ok && svc != "" {
		prefix = fmt.Sprintf("%s(%s)", tool, svc)
	}
	line = prefix + ": " + line

	if len(line) > maxShortTextLen {
		line = line[:maxShortTextLen-3] + "..."
	}
	return line
}

// extractServices collects service names from the args and from identifiers
// in the result text, deduplicated and sorted.
func extractServices(args map[string]interface{}, text string) []string {
	seen := make(map[string]bool)
	for _, key := range []string{"service", "database"} {
		if v, ok := args[key].(string); ok && v != "" {
			seen[v] = true
		}
	}
	for _, match := range serviceNamePattern.FindAllString(text, -1) {
		// Skip things that look like domains, timestamps or file names
		if strings.Count(match, ".") > 1 || strings.HasSuffix(match, ".com") {
			continue
		}
		seen[match] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// extractHealth maps status fields and error signals to a coarse health
// state. Explicit status fields win over keyword inference.
func extractHealth(text string) HealthStatus {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, `"status":"critical"`) || strings.Contains(lower, `"health":"critical"`):
		return HealthCritical
	case strings.Contains(lower, `"status":"degraded"`) || strings.Contains(lower, `"health":"degraded"`) || strings.Contains(lower, `"health":"unhealthy"`):
		return HealthDegraded
	case strings.Contains(lower, `"status":"ok"`) || strings.Contains(lower, `"status":"healthy"`) || strings.Contains(lower, `"health":"healthy"`):
		return HealthOK
	}

	if strings.Contains(lower, `"state":"alarm"`) || strings.Contains(lower, `"state":"triggered"`) {
		return HealthCritical
	}
	if containsErrorKeyword(lower) {
		return HealthDegraded
	}
	return HealthUnknown
}

func containsErrorKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
