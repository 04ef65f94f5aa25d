// Package store is the durable record of sessions, claims, runs, verdicts,
// and webhook subscriptions. The claim queue lives here too: claims are
// status-tagged rows, and the worker advances them through a compare-and-swap
// transition so a second accidental worker loses the race cleanly instead of
// double-processing.
package store

import (
	"context"
	"errors"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by TransitionClaim when the claim is not in
	// the expected source status.
	ErrConflict = errors.New("store: status conflict")

	// ErrDuplicateVerdict is returned when a verdict already exists for the
	// claim. One verdict per claim is a hard storage constraint.
	ErrDuplicateVerdict = errors.New("store: verdict already exists for claim")
)

// Store is the single mutable shared resource of the pipeline. The HTTP
// surface writes new sessions, claims, and subscriptions; the worker is the
// only writer of claim status transitions, runs, and verdicts.
type Store interface {
	CreateSession(ctx context.Context, s *contracts.Session) error
	GetSession(ctx context.Context, id string) (*contracts.Session, error)

	// CreateClaim stores a new pending claim. When the claim carries an
	// idempotency key that already exists, the stored claim is returned
	// with created=false and no write occurs.
	CreateClaim(ctx context.Context, c *contracts.Claim) (claim *contracts.Claim, created bool, err error)
	GetClaim(ctx context.Context, id string) (*contracts.Claim, error)

	// NextPendingClaim returns the oldest pending claim (FIFO by creation
	// time), or nil when the queue is empty.
	NextPendingClaim(ctx context.Context) (*contracts.Claim, error)

	// TransitionClaim advances a claim's status from exactly `from` to `to`.
	// ErrConflict is returned when the row is not in `from`. Terminal
	// transitions record the processed timestamp.
	TransitionClaim(ctx context.Context, id string, from, to contracts.ClaimStatus) error

	CreateRun(ctx context.Context, r *contracts.Run) error
	GetRun(ctx context.Context, id string) (*contracts.Run, error)

	CreateVerdict(ctx context.Context, v *contracts.Verdict) error
	GetVerdictByClaim(ctx context.Context, claimID string) (*contracts.Verdict, error)

	// AttachArtifact records the regression pack path on a verdict. This is
	// the only verdict field written after creation, and only by the worker
	// in the same processing pass.
	AttachArtifact(ctx context.Context, verdictID, path string) error

	CreateSubscription(ctx context.Context, s *contracts.Subscription) error
	ListSubscriptions(ctx context.Context, event string) ([]*contracts.Subscription, error)
}
