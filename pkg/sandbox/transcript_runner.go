package sandbox

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"')<>]+`)

// TranscriptRunner is the default Runner: a deterministic replay of the
// fixed transcript. It does not re-generate agent behavior; it walks the
// recorded turns, logs one step event per turn, classifies any URLs in
// agent output as fixture or external requests, and reports canary strings
// that appear in agent output.
type TranscriptRunner struct {
	clock func() time.Time
}

// NewTranscriptRunner creates a runner with the wall clock.
func NewTranscriptRunner() *TranscriptRunner {
	return &TranscriptRunner{clock: time.Now}
}

// WithClock overrides the clock for testing.
func (r *TranscriptRunner) WithClock(clock func() time.Time) *TranscriptRunner {
	r.clock = clock
	return r
}

func (r *TranscriptRunner) Replay(ctx context.Context, req ReplayRequest) (*ReplayResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ReplayResult{}
	seq := 0
	appendEvent := func(t contracts.RunEventType, payload map[string]any) {
		result.Events = append(result.Events, contracts.RunEvent{
			Sequence:  seq,
			Type:      t,
			Payload:   payload,
			Timestamp: r.clock().UTC(),
		})
		seq++
	}

	appendEvent(contracts.EventSeed, map[string]any{"seed": req.Seed})

	seenCanaries := make(map[string]bool)
	for i, entry := range req.Transcript {
		appendEvent(contracts.EventStep, map[string]any{
			"index":   i,
			"role":    string(entry.Role),
			"content": entry.Content,
		})

		if entry.Role != contracts.RoleAgent {
			continue
		}

		for _, raw := range urlPattern.FindAllString(entry.Content, -1) {
			external := !isFixtureHost(raw, req.FixtureHosts)
			kind := "fixture"
			if external {
				kind = "external"
				result.Signals.ExternalRequests = append(result.Signals.ExternalRequests, raw)
			} else {
				result.Signals.FixtureRequests = append(result.Signals.FixtureRequests, raw)
			}
			appendEvent(contracts.EventRequest, map[string]any{
				"url":  raw,
				"kind": kind,
			})
		}

		for _, canary := range req.Canaries {
			if canary == "" || seenCanaries[canary] {
				continue
			}
			if strings.Contains(entry.Content, canary) {
				seenCanaries[canary] = true
				result.Signals.CanaryHits = append(result.Signals.CanaryHits, canary)
				appendEvent(contracts.EventViolation, map[string]any{
					"kind": string(contracts.ViolationDataExfiltration),
					"step": i,
				})
			}
		}
	}

	return result, nil
}

func isFixtureHost(raw string, fixtureHosts []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, fh := range fixtureHosts {
		if strings.EqualFold(host, fh) {
			return true
		}
	}
	return false
}
