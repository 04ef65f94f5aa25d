package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

// MemoryStore is an in-memory Store for tests and local experiments. It
// honors the same idempotency and single-verdict constraints as the sqlite
// backend.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*contracts.Session
	claims    map[string]*contracts.Claim
	claimKeys map[string]string // idempotency key -> claim id
	runs      map[string]*contracts.Run
	verdicts  map[string]*contracts.Verdict // keyed by claim id
	webhooks  []*contracts.Subscription
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*contracts.Session),
		claims:    make(map[string]*contracts.Claim),
		claimKeys: make(map[string]string),
		runs:      make(map[string]*contracts.Run),
		verdicts:  make(map[string]*contracts.Verdict),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *contracts.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*contracts.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateClaim(ctx context.Context, c *contracts.Claim) (*contracts.Claim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.IdempotencyKey != "" {
		if id, ok := m.claimKeys[c.IdempotencyKey]; ok {
			cp := *m.claims[id]
			return &cp, false, nil
		}
	}
	cp := *c
	m.claims[c.ID] = &cp
	if c.IdempotencyKey != "" {
		m.claimKeys[c.IdempotencyKey] = c.ID
	}
	out := cp
	return &out, true, nil
}

func (m *MemoryStore) GetClaim(ctx context.Context, id string) (*contracts.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) NextPendingClaim(ctx context.Context) (*contracts.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*contracts.Claim
	for _, c := range m.claims {
		if c.Status == contracts.ClaimPending {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	cp := *pending[0]
	return &cp, nil
}

func (m *MemoryStore) TransitionClaim(ctx context.Context, id string, from, to contracts.ClaimStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != from {
		return ErrConflict
	}
	c.Status = to
	if to == contracts.ClaimCompleted || to == contracts.ClaimFailed {
		now := time.Now().UTC()
		c.ProcessedAt = &now
	}
	return nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, r *contracts.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id string) (*contracts.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateVerdict(ctx context.Context, v *contracts.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.verdicts[v.ClaimID]; exists {
		return ErrDuplicateVerdict
	}
	cp := *v
	m.verdicts[v.ClaimID] = &cp
	return nil
}

func (m *MemoryStore) GetVerdictByClaim(ctx context.Context, claimID string) (*contracts.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verdicts[claimID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) AttachArtifact(ctx context.Context, verdictID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.verdicts {
		if v.ID == verdictID {
			v.RegressionPath = path
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, s *contracts.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.webhooks = append(m.webhooks, &cp)
	return nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, event string) ([]*contracts.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Subscription
	for _, s := range m.webhooks {
		if event == "" || s.SubscribedTo(event) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
