// Package approval mediates every state-changing operation the agent wants
// to perform: lexical risk classification, an auditable approval flow with
// interactive and out-of-band channels, and a cooldown for critical
// mutations.
package approval

import "time"

// RiskLevel grades how dangerous a mutation is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// MutationRequest describes a state-changing operation awaiting approval.
type MutationRequest struct {
	ID              string                 `json:"id"`
	Operation       string                 `json:"operation"`
	Resource        string                 `json:"resource"`
	Description     string                 `json:"description,omitempty"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	RiskLevel       RiskLevel              `json:"risk_level"`
	RollbackCommand string                 `json:"rollback_command,omitempty"`
	EstimatedImpact string                 `json:"estimated_impact,omitempty"`
	RequestedAt     time.Time              `json:"requested_at"`
}

// Decision is the recorded outcome of an approval request. Decisions are
// appended to the audit log and never mutated.
type Decision struct {
	MutationID string    `json:"mutation_id"`
	Approved   bool      `json:"approved"`
	ApprovedAt time.Time `json:"approved_at,omitempty"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// CooldownStatus reports whether a critical mutation may run now.
type CooldownStatus struct {
	Allowed     bool
	RemainingMs int64
}
