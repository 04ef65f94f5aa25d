package contracts

import "time"

// Session binds a policy manifest to a deterministic seed and an owning
// identity. Created once by a defender or tester, never mutated, and
// referenced by many Claims.
type Session struct {
	ID        string         `json:"id"`
	Policy    PolicyManifest `json:"policy"`
	Seed      int64          `json:"seed"`
	OwnerID   string         `json:"owner_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
