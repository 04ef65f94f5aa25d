package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/reprove-ai/reprove/pkg/contracts"
	"github.com/reprove-ai/reprove/pkg/detector"
	"github.com/reprove-ai/reprove/pkg/store"
)

// CreateSessionRequest registers a policy manifest under a new session.
type CreateSessionRequest struct {
	Policy  json.RawMessage `json:"policy" validate:"required"`
	Seed    *int64          `json:"seed,omitempty"`
	OwnerID string          `json:"owner_id,omitempty"`
}

// CreateSessionResponse returns the new session id.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Seed      int64  `json:"seed"`
}

// HandleCreateSession creates a Session from a policy manifest. The seed
// defaults to the submission time when absent.
func (s *Server) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.checks.Struct(req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	policy, err := s.validator.ValidateManifest(req.Policy)
	if err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}

	now := time.Now().UTC()
	seed := now.Unix()
	if req.Seed != nil {
		seed = *req.Seed
	}

	session := &contracts.Session{
		ID:        uuid.NewString(),
		Policy:    *policy,
		Seed:      seed,
		OwnerID:   req.OwnerID,
		CreatedAt: now,
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(CreateSessionResponse{SessionID: session.ID, Seed: seed})
}

// SubmitClaimResponse acknowledges a queued claim.
type SubmitClaimResponse struct {
	Status  string `json:"status"`
	ClaimID string `json:"claim_id"`
}

// HandleSubmitClaim validates and enqueues a claim. A duplicate
// idempotency key returns the existing claim id and triggers no new work.
func (s *Server) HandleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unreadable request body")
		return
	}

	payload, err := s.validator.ValidateClaim(raw)
	if err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}

	if _, err := s.store.GetSession(r.Context(), payload.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Unknown session: "+payload.SessionID)
			return
		}
		WriteInternal(w, err)
		return
	}

	key := payload.IdempotencyKey
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		key = header
	}

	claim := &contracts.Claim{
		ID:             uuid.NewString(),
		SessionID:      payload.SessionID,
		Transcript:     payload.Transcript,
		Artifacts:      payload.Artifacts,
		Alleged:        payload.Alleged,
		IdempotencyKey: key,
		Status:         contracts.ClaimPending,
		CreatedAt:      time.Now().UTC(),
	}

	stored, created, err := s.store.CreateClaim(r.Context(), claim)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !created {
		s.logger.Info("idempotent resubmission", "claim", stored.ID, "key", key)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitClaimResponse{Status: "queued", ClaimID: stored.ID})
}

// VerdictResponse is the polled verdict payload. Verdict fields are
// omitted while the claim is still pending or processing; claim_status is
// always present so failures surface to the poller. Once a verdict
// exists, regression_path is always present and explicitly null when no
// artifact was exported.
type VerdictResponse struct {
	VerdictID        string                   `json:"verdict_id,omitempty"`
	ClaimID          string                   `json:"claim_id"`
	ClaimStatus      contracts.ClaimStatus    `json:"claim_status"`
	Reproduced       *bool                    `json:"reproduced,omitempty"`
	Severity         contracts.Severity       `json:"severity,omitempty"`
	RegressionPath   json.RawMessage          `json:"regression_path,omitempty"`
	CreatedAt        *time.Time               `json:"created_at,omitempty"`
	DetectorsVersion string                   `json:"detectors_version,omitempty"`
	EnvHash          string                   `json:"env_hash,omitempty"`
	Evidence         *contracts.Evidence      `json:"evidence,omitempty"`
	TranscriptHits   []detector.TranscriptHit `json:"transcript_hits"`
}

// HandleGetVerdict returns the verdict for a claim, or just the claim
// status while no verdict exists yet.
func (s *Server) HandleGetVerdict(w http.ResponseWriter, r *http.Request) {
	claimID := r.PathValue("id")

	claim, err := s.store.GetClaim(r.Context(), claimID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Unknown claim: "+claimID)
			return
		}
		WriteInternal(w, err)
		return
	}

	resp := VerdictResponse{
		ClaimID:        claim.ID,
		ClaimStatus:    claim.Status,
		TranscriptHits: []detector.TranscriptHit{},
	}

	verdict, err := s.store.GetVerdictByClaim(r.Context(), claimID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		WriteInternal(w, err)
		return
	}
	if verdict != nil {
		resp.VerdictID = verdict.ID
		resp.Reproduced = &verdict.Reproduced
		resp.Severity = verdict.Severity
		resp.CreatedAt = &verdict.CreatedAt
		resp.DetectorsVersion = verdict.DetectorsVersion
		resp.EnvHash = verdict.EnvHash
		resp.Evidence = &verdict.Evidence
		resp.RegressionPath = json.RawMessage("null")
		if verdict.RegressionPath != "" {
			if encoded, err := json.Marshal(verdict.RegressionPath); err == nil {
				resp.RegressionPath = encoded
			}
		}
		if hits := detector.TranscriptHits(claim.Transcript, s.canaries); hits != nil {
			resp.TranscriptHits = hits
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// RegisterWebhookRequest registers a subscriber endpoint.
type RegisterWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Secret string   `json:"secret" validate:"required,min=8"`
	Events []string `json:"events" validate:"required,min=1,dive,required"`
}

// RegisterWebhookResponse returns the subscription id.
type RegisterWebhookResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// HandleRegisterWebhook stores a webhook subscription.
func (s *Server) HandleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RegisterWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.checks.Struct(req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	sub := &contracts.Subscription{
		ID:        uuid.NewString(),
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSubscription(r.Context(), sub); err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(RegisterWebhookResponse{SubscriptionID: sub.ID})
}
