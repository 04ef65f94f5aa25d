// Package regression serializes the minimal reproducing steps of a run
// plus its detector snapshot into a versioned, replayable artifact.
package regression

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

// SchemaVersion tags the regression pack format.
const SchemaVersion = "1.0"

// Metadata describes an export.
type Metadata struct {
	ExportedAt       time.Time `json:"exported_at"`
	TotalLogs        int       `json:"total_logs"`
	CanaryHits       int       `json:"canary_hits"`
	ExternalRequests int       `json:"external_requests"`
	FixtureRequests  int       `json:"fixture_requests"`
}

// Pack is the exported artifact.
type Pack struct {
	Version      string               `json:"version"`
	Seed         int64                `json:"seed"`
	MinimalSteps []contracts.RunEvent `json:"minimal_steps"`
	Detectors    contracts.RawSignals `json:"detectors"`
	Metadata     Metadata             `json:"metadata"`
}

// Exporter writes regression packs into a directory. Exports are not
// idempotent: each call writes a new file named by the export timestamp,
// so exporting the same run twice produces two distinct artifacts.
type Exporter struct {
	dir   string
	clock func() time.Time
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Build assembles the pack for a run without writing it.
func (e *Exporter) Build(run *contracts.Run) *Pack {
	var steps []contracts.RunEvent
	for _, ev := range run.Events {
		if ev.Type == contracts.EventStep {
			steps = append(steps, ev)
		}
	}
	if steps == nil {
		steps = []contracts.RunEvent{}
	}

	return &Pack{
		Version:      SchemaVersion,
		Seed:         run.Seed,
		MinimalSteps: steps,
		Detectors:    run.Signals,
		Metadata: Metadata{
			ExportedAt:       e.clock().UTC(),
			TotalLogs:        len(run.Events),
			CanaryHits:       len(run.Signals.CanaryHits),
			ExternalRequests: len(run.Signals.ExternalRequests),
			FixtureRequests:  len(run.Signals.FixtureRequests),
		},
	}
}

// Export writes the pack for a run and returns the normalized artifact
// path. Bytes on disk are RFC 8785 canonical JSON, so identical runs under
// identical fingerprints produce byte-identical packs apart from the
// export metadata.
func (e *Exporter) Export(run *contracts.Run) (string, error) {
	pack := e.Build(run)

	raw, err := json.Marshal(pack)
	if err != nil {
		return "", fmt.Errorf("marshal regression pack: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize regression pack: %w", err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := fmt.Sprintf("regression_%d.json", pack.Metadata.ExportedAt.UnixNano())
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, canonical, 0o644); err != nil {
		return "", fmt.Errorf("write regression pack: %w", err)
	}

	return NormalizePath(path), nil
}

// NormalizePath strips leading "./", "/", and backslashes so the path is
// safe to expose as a public URL suffix.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for {
		switch {
		case strings.HasPrefix(path, "./"):
			path = path[2:]
		case strings.HasPrefix(path, "/"):
			path = path[1:]
		default:
			return path
		}
	}
}
