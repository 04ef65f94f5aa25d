package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reprove-ai/reprove/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store backed by a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer at a time keeps the CAS transition semantics simple.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		policy JSON NOT NULL,
		seed INTEGER NOT NULL,
		owner_id TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		transcript JSON NOT NULL,
		artifacts JSON,
		alleged JSON NOT NULL,
		idempotency_key TEXT UNIQUE,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		processed_at TEXT
	);
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		claim_id TEXT NOT NULL,
		seed INTEGER NOT NULL,
		events JSON NOT NULL,
		signals JSON NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS verdicts (
		id TEXT PRIMARY KEY,
		claim_id TEXT NOT NULL UNIQUE,
		run_id TEXT NOT NULL,
		reproduced INTEGER NOT NULL,
		severity TEXT NOT NULL,
		evidence JSON NOT NULL,
		detectors_version TEXT NOT NULL,
		env_hash TEXT NOT NULL,
		regression_path TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		events JSON NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_claims_status_created ON claims(status, created_at);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *contracts.Session) error {
	policyJSON, err := json.Marshal(sess.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, policy, seed, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(policyJSON), sess.Seed, sess.OwnerID, formatTime(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*contracts.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, policy, seed, owner_id, created_at FROM sessions WHERE id = ?`, id)

	var (
		sess       contracts.Session
		policyJSON string
		ownerID    sql.NullString
		createdAt  string
	)
	err := row.Scan(&sess.ID, &policyJSON, &sess.Seed, &ownerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(policyJSON), &sess.Policy); err != nil {
		return nil, fmt.Errorf("corrupt policy JSON in session %s: %w", id, err)
	}
	sess.OwnerID = ownerID.String
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, c *contracts.Claim) (*contracts.Claim, bool, error) {
	if c.IdempotencyKey != "" {
		existing, err := s.getClaimByKey(ctx, c.IdempotencyKey)
		if err != nil && err != ErrNotFound {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	transcriptJSON, _ := json.Marshal(c.Transcript)
	artifactsJSON, _ := json.Marshal(c.Artifacts)
	allegedJSON, _ := json.Marshal(c.Alleged)

	var key any
	if c.IdempotencyKey != "" {
		key = c.IdempotencyKey
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, session_id, transcript, artifacts, alleged, idempotency_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, string(transcriptJSON), string(artifactsJSON), string(allegedJSON),
		key, string(c.Status), formatTime(c.CreatedAt),
	)
	if err != nil {
		// Lost a race on the idempotency key: the earlier row wins.
		if c.IdempotencyKey != "" && isUniqueViolation(err) {
			existing, selErr := s.getClaimByKey(ctx, c.IdempotencyKey)
			if selErr != nil {
				return nil, false, selErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert claim: %w", err)
	}
	return c, true, nil
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id string) (*contracts.Claim, error) {
	row := s.db.QueryRowContext(ctx, claimSelect+` WHERE id = ?`, id)
	return scanClaim(row)
}

func (s *SQLiteStore) getClaimByKey(ctx context.Context, key string) (*contracts.Claim, error) {
	row := s.db.QueryRowContext(ctx, claimSelect+` WHERE idempotency_key = ?`, key)
	return scanClaim(row)
}

func (s *SQLiteStore) NextPendingClaim(ctx context.Context) (*contracts.Claim, error) {
	row := s.db.QueryRowContext(ctx,
		claimSelect+` WHERE status = ? ORDER BY created_at ASC LIMIT 1`, string(contracts.ClaimPending))
	c, err := scanClaim(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) TransitionClaim(ctx context.Context, id string, from, to contracts.ClaimStatus) error {
	var processedAt any
	if to == contracts.ClaimCompleted || to == contracts.ClaimFailed {
		processedAt = formatTime(time.Now().UTC())
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE claims SET status = ?, processed_at = COALESCE(?, processed_at) WHERE id = ? AND status = ?`,
		string(to), processedAt, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetClaim(ctx, id); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *contracts.Run) error {
	eventsJSON, _ := json.Marshal(r.Events)
	signalsJSON, _ := json.Marshal(r.Signals)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, claim_id, seed, events, signals, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClaimID, r.Seed, string(eventsJSON), string(signalsJSON), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*contracts.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, claim_id, seed, events, signals, created_at FROM runs WHERE id = ?`, id)

	var (
		r           contracts.Run
		eventsJSON  string
		signalsJSON string
		createdAt   string
	)
	err := row.Scan(&r.ID, &r.ClaimID, &r.Seed, &eventsJSON, &signalsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &r.Events); err != nil {
		return nil, fmt.Errorf("corrupt events JSON in run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(signalsJSON), &r.Signals); err != nil {
		return nil, fmt.Errorf("corrupt signals JSON in run %s: %w", id, err)
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func (s *SQLiteStore) CreateVerdict(ctx context.Context, v *contracts.Verdict) error {
	evidenceJSON, _ := json.Marshal(v.Evidence)
	reproduced := 0
	if v.Reproduced {
		reproduced = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (id, claim_id, run_id, reproduced, severity, evidence, detectors_version, env_hash, regression_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ClaimID, v.RunID, reproduced, string(v.Severity), string(evidenceJSON),
		v.DetectorsVersion, v.EnvHash, nullable(v.RegressionPath), formatTime(v.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVerdict
		}
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetVerdictByClaim(ctx context.Context, claimID string) (*contracts.Verdict, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, claim_id, run_id, reproduced, severity, evidence, detectors_version, env_hash, regression_path, created_at
		 FROM verdicts WHERE claim_id = ?`, claimID)

	var (
		v            contracts.Verdict
		reproduced   int
		evidenceJSON string
		regPath      sql.NullString
		createdAt    string
	)
	err := row.Scan(&v.ID, &v.ClaimID, &v.RunID, &reproduced, &v.Severity, &evidenceJSON,
		&v.DetectorsVersion, &v.EnvHash, &regPath, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &v.Evidence); err != nil {
		return nil, fmt.Errorf("corrupt evidence JSON in verdict for claim %s: %w", claimID, err)
	}
	v.Reproduced = reproduced != 0
	v.RegressionPath = regPath.String
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

func (s *SQLiteStore) AttachArtifact(ctx context.Context, verdictID, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verdicts SET regression_path = ? WHERE id = ?`, path, verdictID)
	if err != nil {
		return fmt.Errorf("attach artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *contracts.Subscription) error {
	eventsJSON, _ := json.Marshal(sub.Events)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, url, secret, events, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.URL, sub.Secret, string(eventsJSON), formatTime(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, event string) ([]*contracts.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, secret, events, created_at FROM webhooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []*contracts.Subscription
	for rows.Next() {
		var (
			sub        contracts.Subscription
			eventsJSON string
			createdAt  string
		)
		if err := rows.Scan(&sub.ID, &sub.URL, &sub.Secret, &eventsJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(eventsJSON), &sub.Events); err != nil {
			return nil, fmt.Errorf("corrupt events JSON in subscription %s: %w", sub.ID, err)
		}
		sub.CreatedAt = parseTime(createdAt)
		if event == "" || sub.SubscribedTo(event) {
			subs = append(subs, &sub)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

const claimSelect = `SELECT id, session_id, transcript, artifacts, alleged, idempotency_key, status, created_at, processed_at FROM claims`

func scanClaim(row *sql.Row) (*contracts.Claim, error) {
	var (
		c              contracts.Claim
		transcriptJSON string
		artifactsJSON  sql.NullString
		allegedJSON    string
		key            sql.NullString
		status         string
		createdAt      string
		processedAt    sql.NullString
	)
	err := row.Scan(&c.ID, &c.SessionID, &transcriptJSON, &artifactsJSON, &allegedJSON,
		&key, &status, &createdAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &c.Transcript); err != nil {
		return nil, fmt.Errorf("corrupt transcript JSON in claim %s: %w", c.ID, err)
	}
	if artifactsJSON.Valid && artifactsJSON.String != "" {
		_ = json.Unmarshal([]byte(artifactsJSON.String), &c.Artifacts)
	}
	if err := json.Unmarshal([]byte(allegedJSON), &c.Alleged); err != nil {
		return nil, fmt.Errorf("corrupt alleged JSON in claim %s: %w", c.ID, err)
	}
	c.IdempotencyKey = key.String
	c.Status = contracts.ClaimStatus(status)
	c.CreatedAt = parseTime(createdAt)
	if processedAt.Valid && processedAt.String != "" {
		t := parseTime(processedAt.String)
		c.ProcessedAt = &t
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
