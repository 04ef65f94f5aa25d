// Package sandbox defines the input/output contract of the isolated
// execution environment that replays a transcript against fixture content.
// The environment's internal mechanics are a collaborator concern; the
// worker only depends on the Runner interface.
package sandbox

import (
	"context"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

// ReplayRequest is what the worker hands the execution environment.
type ReplayRequest struct {
	Transcript []contracts.TranscriptEntry
	Seed       int64
	Canaries   []string

	// FixtureHosts are hosts whose requests are served by fixture content;
	// requests to anything else count as external.
	FixtureHosts []string
}

// ReplayResult is the raw bundle the environment reports back: the ordered
// event log of the replay plus the raw detection signals.
type ReplayResult struct {
	Events  []contracts.RunEvent
	Signals contracts.RawSignals
}

// Runner re-executes a claimed interaction in isolation. Calls are
// synchronous; the worker blocks until the replay finishes or fails.
type Runner interface {
	Replay(ctx context.Context, req ReplayRequest) (*ReplayResult, error)
}
