package logpattern

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Template is one clustered log pattern. Templates are scoped per service,
// so the same pattern seen in two services yields two IDs.
type Template struct {
	// ID is a hex-encoded SHA-256 of service|pattern, stable across runs.
	ID string

	// Service is the service the lines were collected from.
	Service string

	// Pattern is the masked pattern, e.g. "connected to <IP>".
	Pattern string

	// Count is the number of lines that matched this template.
	Count int

	FirstSeen time.Time
	LastSeen  time.Time
}

// TemplateID derives the stable hash for a service-scoped pattern.
func TemplateID(service, pattern string) string {
	canonical := fmt.Sprintf("%s|%s", service, pattern)
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// TemplateList is a collection of templates with ranking helpers.
type TemplateList []Template

// SortByCount orders the list most common pattern first.
func (tl TemplateList) SortByCount() {
	sort.Slice(tl, func(i, j int) bool {
		return tl[i].Count > tl[j].Count
	})
}

// FilterByMinCount drops templates seen fewer than minCount times.
func (tl TemplateList) FilterByMinCount(minCount int) TemplateList {
	result := make(TemplateList, 0, len(tl))
	for _, template := range tl {
		if template.Count >= minCount {
			result = append(result, template)
		}
	}
	return result
}
