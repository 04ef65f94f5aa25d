package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/reprove-ai/reprove/pkg/manifest"
	"github.com/reprove-ai/reprove/pkg/store"
)

// Server is the HTTP-facing collaborator of the pipeline. It is the only
// writer of new sessions, claims, and subscriptions; claim status belongs
// to the worker.
type Server struct {
	store     store.Store
	validator *manifest.Validator
	checks    *validator.Validate
	canaries  []string
	logger    *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(st store.Store, mv *manifest.Validator, canaries []string) *Server {
	return &Server{
		store:     st,
		validator: mv,
		checks:    validator.New(validator.WithRequiredStructEnabled()),
		canaries:  canaries,
		logger:    slog.Default().With("component", "api"),
	}
}

// Routes registers all handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.HandleCreateSession)
	mux.HandleFunc("POST /v1/claims", s.HandleSubmitClaim)
	mux.HandleFunc("GET /v1/claims/{id}/verdict", s.HandleGetVerdict)
	mux.HandleFunc("POST /v1/webhooks", s.HandleRegisterWebhook)
	mux.HandleFunc("GET /healthz", s.HandleHealth)
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
