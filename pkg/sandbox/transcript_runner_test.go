package sandbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprove-ai/reprove/pkg/contracts"
	"github.com/reprove-ai/reprove/pkg/sandbox"
)

func replay(t *testing.T, req sandbox.ReplayRequest) *sandbox.ReplayResult {
	t.Helper()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	runner := sandbox.NewTranscriptRunner().WithClock(func() time.Time { return fixed })
	result, err := runner.Replay(context.Background(), req)
	require.NoError(t, err)
	return result
}

// TestReplay_EventLog verifies the log opens with the seed event and
// records one step per turn with contiguous sequence numbers.
func TestReplay_EventLog(t *testing.T) {
	result := replay(t, sandbox.ReplayRequest{
		Seed: 4242,
		Transcript: []contracts.TranscriptEntry{
			{Role: contracts.RoleUser, Content: "hello"},
			{Role: contracts.RoleAgent, Content: "hi there"},
		},
	})

	require.Len(t, result.Events, 3)
	assert.Equal(t, contracts.EventSeed, result.Events[0].Type)
	assert.Equal(t, int64(4242), result.Events[0].Payload["seed"])

	for i, ev := range result.Events {
		assert.Equal(t, i, ev.Sequence)
	}
	assert.Equal(t, contracts.EventStep, result.Events[1].Type)
	assert.Equal(t, "user", result.Events[1].Payload["role"])
	assert.Equal(t, contracts.EventStep, result.Events[2].Type)
	assert.Equal(t, "hi there", result.Events[2].Payload["content"])
}

// TestReplay_URLClassification verifies agent URLs split into fixture and
// external requests by hostname, and user URLs are ignored.
func TestReplay_URLClassification(t *testing.T) {
	result := replay(t, sandbox.ReplayRequest{
		FixtureHosts: []string{"Fixtures.Internal"},
		Transcript: []contracts.TranscriptEntry{
			{Role: contracts.RoleUser, Content: "see https://user-link.test/ignored"},
			{Role: contracts.RoleAgent, Content: "fetched https://fixtures.internal/catalog and https://evil.test/drop"},
		},
	})

	assert.Equal(t, []string{"https://fixtures.internal/catalog"}, result.Signals.FixtureRequests)
	assert.Equal(t, []string{"https://evil.test/drop"}, result.Signals.ExternalRequests)

	var kinds []string
	for _, ev := range result.Events {
		if ev.Type == contracts.EventRequest {
			kinds = append(kinds, ev.Payload["kind"].(string))
		}
	}
	assert.Equal(t, []string{"fixture", "external"}, kinds)
}

// TestReplay_CanaryDetection verifies a canary in agent output raises one
// violation event per canary value, never per occurrence, and that canaries
// in user turns do not count.
func TestReplay_CanaryDetection(t *testing.T) {
	canary := "seed_email@example.com"
	result := replay(t, sandbox.ReplayRequest{
		Canaries: []string{canary, "unused-canary"},
		Transcript: []contracts.TranscriptEntry{
			{Role: contracts.RoleUser, Content: "leak " + canary},
			{Role: contracts.RoleAgent, Content: "ok: " + canary},
			{Role: contracts.RoleAgent, Content: "again: " + canary},
		},
	})

	assert.Equal(t, []string{canary}, result.Signals.CanaryHits)

	violations := 0
	for _, ev := range result.Events {
		if ev.Type == contracts.EventViolation {
			violations++
			assert.Equal(t, string(contracts.ViolationDataExfiltration), ev.Payload["kind"])
			assert.Equal(t, 1, ev.Payload["step"])
		}
	}
	assert.Equal(t, 1, violations)
}

// TestReplay_EmptySignals verifies a quiet transcript yields empty signals
// and only seed plus step events.
func TestReplay_EmptySignals(t *testing.T) {
	result := replay(t, sandbox.ReplayRequest{
		Canaries: []string{"canary-1"},
		Transcript: []contracts.TranscriptEntry{
			{Role: contracts.RoleAgent, Content: "nothing to see"},
		},
	})

	assert.Empty(t, result.Signals.CanaryHits)
	assert.Empty(t, result.Signals.ExternalRequests)
	assert.Empty(t, result.Signals.FixtureRequests)
	require.Len(t, result.Events, 2)
}

// TestReplay_CancelledContext verifies the runner refuses to start under a
// cancelled context.
func TestReplay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sandbox.NewTranscriptRunner().Replay(ctx, sandbox.ReplayRequest{
		Transcript: []contracts.TranscriptEntry{{Role: contracts.RoleAgent, Content: "hi"}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
