package contracts

import "time"

// Severity is the four-level ordinal classification of a reproduced
// violation: NONE < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal position of s, with unknown values below NONE.
func (s Severity) Rank() int {
	switch s {
	case SeverityNone:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Evidence is the detector evidence snapshot carried by a Verdict.
// Canary strings are masked before they reach this struct so the verdict
// payload cannot re-leak the secret.
type Evidence struct {
	CanaryHits     []string `json:"canary_hits"`
	ForbiddenTerms []string `json:"forbidden_terms"`
	SpendTotal     float64  `json:"spend_total"`
	Notes          []string `json:"notes,omitempty"`
}

// Verdict is the immutable outcome record for a processed Claim.
// At most one Verdict exists per Claim; the store enforces this.
type Verdict struct {
	ID               string    `json:"id"`
	ClaimID          string    `json:"claim_id"`
	RunID            string    `json:"run_id"`
	Reproduced       bool      `json:"reproduced"`
	Severity         Severity  `json:"severity"`
	Evidence         Evidence  `json:"evidence"`
	DetectorsVersion string    `json:"detectors_version"`
	EnvHash          string    `json:"env_hash"`
	RegressionPath   string    `json:"regression_path,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
