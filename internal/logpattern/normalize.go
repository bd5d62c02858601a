package logpattern

import (
	"encoding/json"
	"strings"
)

// extractMessage pulls the semantic message out of a log entry. JSON logs
// are reduced to their message field; plain text passes through unchanged.
func extractMessage(rawLog string) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(rawLog), &parsed); err != nil {
		return rawLog
	}

	// Most specific field names first.
	messageFields := []string{
		"message",
		"msg",
		"log",
		"text",
		"event",
	}

	for _, field := range messageFields {
		if value, ok := parsed[field]; ok {
			if msg, ok := value.(string); ok && msg != "" {
				return msg
			}
		}
	}

	// No message field. The whole entry may be a structured event where
	// every field matters.
	return rawLog
}

// preProcess normalizes a line for clustering. Masking is deliberately not
// done here; it runs after clustering.
func preProcess(rawLog string) string {
	message := extractMessage(rawLog)
	message = strings.ToLower(message)
	return strings.TrimSpace(message)
}
