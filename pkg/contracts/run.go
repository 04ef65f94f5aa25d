package contracts

import "time"

// RunEventType classifies entries in a run's ordered event log.
type RunEventType string

const (
	EventSeed      RunEventType = "seed"
	EventStep      RunEventType = "step"
	EventRequest   RunEventType = "request"
	EventViolation RunEventType = "violation"
)

// RunEvent is one recorded event from a reproduction run.
type RunEvent struct {
	Sequence  int            `json:"sequence"`
	Type      RunEventType   `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RawSignals is the raw bundle reported by the sandboxed execution
// environment after replaying a transcript. Internal browser-automation
// mechanics are outside this contract; only these outputs matter.
type RawSignals struct {
	// CanaryHits are canary strings that appeared in agent output, unmasked.
	CanaryHits []string `json:"canary_hits"`

	// ExternalRequests are network requests to hosts outside the fixture set.
	ExternalRequests []string `json:"external_requests"`

	// FixtureRequests are network requests served by fixture content.
	FixtureRequests []string `json:"fixture_requests"`
}

// Run is the immutable record of one independent re-execution of a claim.
// Exactly one Run exists per processed Claim in the steady-state flow.
type Run struct {
	ID        string     `json:"id"`
	ClaimID   string     `json:"claim_id"`
	Seed      int64      `json:"seed"`
	Events    []RunEvent `json:"events"`
	Signals   RawSignals `json:"signals"`
	CreatedAt time.Time  `json:"created_at"`
}
