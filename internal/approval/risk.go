package approval

import "strings"

// criticalVerbs irreversibly destroy state.
var criticalVerbs = []string{"delete", "terminate", "destroy", "truncate", "drop"}

// highVerbs interrupt or reshape a running workload.
var highVerbs = []string{"restart", "reboot", "stop", "scale-down", "scale_down", "deploy", "update-service", "update_service"}

// mediumVerbs mutate configuration without interrupting the workload.
var mediumVerbs = []string{"update", "modify", "scale", "resize", "patch"}

// ClassifyRisk grades a mutation purely lexically from its operation and
// resource. Production-modifying updates escalate to high.
func ClassifyRisk(operation, resource string) RiskLevel {
	subject := strings.ToLower(operation + " " + resource)

	for _, verb := range criticalVerbs {
		if strings.Contains(subject, verb) {
			return RiskCritical
		}
	}
	for _, verb := range highVerbs {
		if strings.Contains(subject, verb) {
			return RiskHigh
		}
	}
	for _, verb := range mediumVerbs {
		if strings.Contains(subject, verb) {
			if strings.Contains(subject, "prod") {
				return RiskHigh
			}
			return RiskMedium
		}
	}
	return RiskLow
}
