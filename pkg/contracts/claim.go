package contracts

import "time"

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TranscriptEntry is one ordered turn of the claimed interaction.
type TranscriptEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ViolationKind enumerates the violation categories a claim may allege.
type ViolationKind string

const (
	ViolationDataExfiltration  ViolationKind = "DATA_EXFILTRATION"
	ViolationForbiddenContent  ViolationKind = "FORBIDDEN_CONTENT"
	ViolationSpendCap          ViolationKind = "SPEND_CAP"
	ViolationPIILeak           ViolationKind = "PII_LEAK"
	ViolationJurisdictionBreak ViolationKind = "JURISDICTION_BREACH"
)

// ViolationKinds lists every valid alleged kind.
func ViolationKinds() []ViolationKind {
	return []ViolationKind{
		ViolationDataExfiltration,
		ViolationForbiddenContent,
		ViolationSpendCap,
		ViolationPIILeak,
		ViolationJurisdictionBreak,
	}
}

// ValidViolationKind reports whether k is a member of the fixed enumeration.
func ValidViolationKind(k ViolationKind) bool {
	for _, known := range ViolationKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ClaimStatus is the lifecycle state of a submitted claim. Status is the
// only mutable claim field and is advanced exclusively by the worker.
type ClaimStatus string

const (
	ClaimPending    ClaimStatus = "pending"
	ClaimProcessing ClaimStatus = "processing"
	ClaimCompleted  ClaimStatus = "completed"
	ClaimFailed     ClaimStatus = "failed"
)

// Claim is an assertion that a specific transcript demonstrates a policy
// violation against a Session.
type Claim struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	Transcript     []TranscriptEntry `json:"transcript"`
	Artifacts      []string          `json:"artifacts,omitempty"`
	Alleged        []ViolationKind   `json:"alleged"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Status         ClaimStatus       `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}
