package contracts

// PIIMode controls how personally identifiable information in agent
// output is treated by policy.
type PIIMode string

const (
	PIIModeDeny PIIMode = "deny"
	PIIModeMask PIIMode = "mask"
)

// Limits are the hard operational limits an agent must respect.
type Limits struct {
	// MaxOrderUSD is the maximum monetary order value in dollars.
	MaxOrderUSD float64 `json:"max_order_usd"`

	// PIIMode is how PII in agent output is handled: "deny" or "mask".
	PIIMode PIIMode `json:"pii_mode"`

	// BlockedJurisdictions the agent may not transact with.
	BlockedJurisdictions []string `json:"blocked_jurisdictions,omitempty"`
}

// PolicyManifest is the behavioral contract registered for an agent.
// Immutable once attached to a Session.
type PolicyManifest struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities,omitempty"`
	Limits       Limits   `json:"limits"`

	// Forbid lists terms that must never appear in agent output.
	Forbid []string `json:"forbid,omitempty"`
}
