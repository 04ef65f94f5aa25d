// Package worker is the single-flight reproduction loop. It dequeues the
// oldest pending claim, replays it through the sandbox contract, composes
// detector signals into a verdict, and persists the outcome. One claim is
// in flight at a time; the loop never overlaps ticks. Running two workers
// against one store is unsupported — the compare-and-swap status
// transition makes the loser fail fast instead of double-processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reprove-ai/reprove/pkg/contracts"
	"github.com/reprove-ai/reprove/pkg/detector"
	"github.com/reprove-ai/reprove/pkg/observability"
	"github.com/reprove-ai/reprove/pkg/regression"
	"github.com/reprove-ai/reprove/pkg/sandbox"
	"github.com/reprove-ai/reprove/pkg/store"
	"github.com/reprove-ai/reprove/pkg/webhook"
)

// DefaultInterval is the polling interval when none is configured.
const DefaultInterval = 5 * time.Second

// Options wires the worker's collaborators.
type Options struct {
	Store        store.Store
	Runner       sandbox.Runner
	Exporter     *regression.Exporter
	Dispatcher   *webhook.Dispatcher
	Telemetry    *observability.Provider
	Interval     time.Duration
	Canaries     []string
	FixtureHosts []string

	// DetectorsVersion and EnvHash are computed once at startup and
	// stamped on every verdict this worker writes.
	DetectorsVersion string
	EnvHash          string
}

// Worker polls the claim queue and processes claims to completion.
type Worker struct {
	opts   Options
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a worker. Interval defaults to DefaultInterval.
func New(opts Options) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Worker{
		opts:   opts,
		logger: slog.Default().With("component", "worker"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// Run polls until ctx is cancelled. Each tick drains at most one claim and
// finishes it before the next tick is considered.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "interval", w.opts.Interval)
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick processes the oldest pending claim, if any. It is exported so tests
// can single-step the scheduler deterministically. The returned bool
// reports whether a claim was picked up.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	claim, err := w.opts.Store.NextPendingClaim(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if claim == nil {
		return false, nil
	}

	w.processClaim(ctx, claim)
	return true, nil
}

func (w *Worker) processClaim(ctx context.Context, claim *contracts.Claim) {
	started := w.clock()
	ctx, span := w.opts.Telemetry.StartClaimSpan(ctx, claim.ID)
	defer span.End()

	logger := w.logger.With("claim", claim.ID)

	if err := w.opts.Store.TransitionClaim(ctx, claim.ID, contracts.ClaimPending, contracts.ClaimProcessing); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another writer got here first; leave the claim alone.
			logger.Warn("claim already taken", "error", err)
			return
		}
		logger.Error("claim transition failed", "error", err)
		return
	}

	verdict, err := w.reproduce(ctx, claim)
	if err != nil {
		logger.Error("reproduction failed", "error", err)
		if terr := w.opts.Store.TransitionClaim(ctx, claim.ID, contracts.ClaimProcessing, contracts.ClaimFailed); terr != nil {
			logger.Error("failed-state transition failed", "error", terr)
		}
		w.opts.Telemetry.RecordClaim(ctx, true, w.clock().Sub(started))
		return
	}

	if err := w.opts.Store.TransitionClaim(ctx, claim.ID, contracts.ClaimProcessing, contracts.ClaimCompleted); err != nil {
		logger.Error("completed-state transition failed", "error", err)
	}

	if verdict.Reproduced {
		w.notify(ctx, claim, verdict)
	}

	w.opts.Telemetry.RecordClaim(ctx, false, w.clock().Sub(started))
	logger.Info("claim processed",
		"reproduced", verdict.Reproduced,
		"severity", verdict.Severity,
		"verdict", verdict.ID,
	)
}

// reproduce runs steps 2-6 of the processing contract: resolve policy,
// replay, compose, persist run + verdict, and attempt the export. Any
// error before the verdict is written aborts the claim with no Verdict.
func (w *Worker) reproduce(ctx context.Context, claim *contracts.Claim) (*contracts.Verdict, error) {
	session, err := w.opts.Store.GetSession(ctx, claim.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", claim.SessionID, err)
	}

	result, err := w.opts.Runner.Replay(ctx, sandbox.ReplayRequest{
		Transcript:   claim.Transcript,
		Seed:         session.Seed,
		Canaries:     w.opts.Canaries,
		FixtureHosts: w.opts.FixtureHosts,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox replay: %w", err)
	}

	outcome := detector.Compose(session.Policy, claim.Transcript, result.Signals)

	run := &contracts.Run{
		ID:        uuid.NewString(),
		ClaimID:   claim.ID,
		Seed:      session.Seed,
		Events:    result.Events,
		Signals:   result.Signals,
		CreatedAt: w.clock().UTC(),
	}
	if err := w.opts.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	verdict := &contracts.Verdict{
		ID:               uuid.NewString(),
		ClaimID:          claim.ID,
		RunID:            run.ID,
		Reproduced:       outcome.Reproduced,
		Severity:         outcome.Severity,
		Evidence:         outcome.Evidence,
		DetectorsVersion: w.opts.DetectorsVersion,
		EnvHash:          w.opts.EnvHash,
		CreatedAt:        w.clock().UTC(),
	}
	if err := w.opts.Store.CreateVerdict(ctx, verdict); err != nil {
		return nil, fmt.Errorf("persist verdict: %w", err)
	}

	// Export failure is isolated: the verdict stands with a null path.
	if outcome.Reproduced && w.opts.Exporter != nil {
		path, err := w.opts.Exporter.Export(run)
		if err != nil {
			w.logger.Error("regression export failed", "claim", claim.ID, "error", err)
		} else if err := w.opts.Store.AttachArtifact(ctx, verdict.ID, path); err != nil {
			w.logger.Error("artifact attach failed", "claim", claim.ID, "error", err)
		} else {
			verdict.RegressionPath = path
		}
	}

	return verdict, nil
}

func (w *Worker) notify(ctx context.Context, claim *contracts.Claim, verdict *contracts.Verdict) {
	if w.opts.Dispatcher == nil {
		return
	}
	subs, err := w.opts.Store.ListSubscriptions(ctx, contracts.EventConfirmedClaim)
	if err != nil {
		w.logger.Error("subscription load failed", "claim", claim.ID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload := map[string]any{
		"claim_id":        claim.ID,
		"verdict_id":      verdict.ID,
		"reproduced":      verdict.Reproduced,
		"severity":        verdict.Severity,
		"regression_path": verdict.RegressionPath,
		"timestamp":       w.clock().UTC().Format(time.RFC3339Nano),
	}
	delivered := w.opts.Dispatcher.Notify(ctx, subs, contracts.EventConfirmedClaim, payload)
	w.logger.Info("webhooks dispatched", "claim", claim.ID, "delivered", delivered, "subscribers", len(subs))
}
