package logpattern

import (
	"regexp"
	"strings"
)

var (
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	ipv6Pattern = regexp.MustCompile(`\b[0-9a-fA-F:]+:[0-9a-fA-F:]+\b`)

	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

	timestampPattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?\b`)
	unixTimestampPattern = regexp.MustCompile(`\b\d{10,13}\b`)

	hexPattern     = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	longHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)

	filePathPattern    = regexp.MustCompile(`(/[a-zA-Z0-9_.-]+)+`)
	windowsPathPattern = regexp.MustCompile(`[A-Z]:\\[a-zA-Z0-9_.\-\\]+`)

	urlPattern = regexp.MustCompile(`\bhttps?://[a-zA-Z0-9.-]+[a-zA-Z0-9/._?=&-]*\b`)

	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
)

// Mask replaces variable fragments of a template with typed placeholders.
// Specific patterns run before generic ones. HTTP status codes are kept as
// literals so "returned 404" and "returned 500" stay distinct templates.
func Mask(template string) string {
	template = ipv6Pattern.ReplaceAllString(template, "<IP>")
	template = ipv4Pattern.ReplaceAllString(template, "<IP>")
	template = uuidPattern.ReplaceAllString(template, "<UUID>")
	template = timestampPattern.ReplaceAllString(template, "<TIMESTAMP>")
	template = unixTimestampPattern.ReplaceAllString(template, "<TIMESTAMP>")
	template = hexPattern.ReplaceAllString(template, "<HEX>")
	template = longHexPattern.ReplaceAllString(template, "<HEX>")
	template = urlPattern.ReplaceAllString(template, "<URL>")
	template = emailPattern.ReplaceAllString(template, "<EMAIL>")
	template = filePathPattern.ReplaceAllString(template, "<PATH>")
	template = windowsPathPattern.ReplaceAllString(template, "<PATH>")

	return maskNumbersExceptStatusCodes(template)
}

// maskNumbersExceptStatusCodes masks bare numbers unless a nearby token
// suggests an HTTP status code context.
func maskNumbersExceptStatusCodes(template string) string {
	preserveContexts := []string{
		"status", "code", "http", "returned", "response",
	}

	tokens := strings.Fields(template)

	for i, token := range tokens {
		if !isNumber(token) {
			continue
		}
		shouldMask := true

		windowStart := max(0, i-3)
		windowEnd := min(len(tokens), i+4)

		for j := windowStart; j < windowEnd; j++ {
			if j == i {
				continue
			}
			lower := strings.ToLower(tokens[j])
			for _, ctx := range preserveContexts {
				if strings.Contains(lower, ctx) {
					shouldMask = false
					break
				}
			}
			if !shouldMask {
				break
			}
		}

		if shouldMask {
			tokens[i] = "<NUM>"
		}
	}

	return strings.Join(tokens, " ")
}

func isNumber(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
