package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/metrics"
	"github.com/JakeFAU/discussion-harvester/internal/orchestrator"
	"github.com/JakeFAU/discussion-harvester/internal/session"
	"github.com/JakeFAU/discussion-harvester/internal/verify"
)

// Harvester runs one harvest to completion.
type Harvester interface {
	Harvest(ctx context.Context, req orchestrator.Request) (harvest.Result, error)
}

// ProgressReader looks up session state.
type ProgressReader interface {
	Get(id string) (session.Entry, error)
}

// Downloads opens written exports by file name.
type Downloads interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// CookieVerifier resolves the user behind a credential.
type CookieVerifier interface {
	Verify(ctx context.Context, credential string) (verify.User, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Harvester Harvester
	Progress  ProgressReader
	Downloads Downloads
	Verifier  CookieVerifier
	// Ready is optional; nil means always ready.
	Ready func(ctx context.Context) error
}

// Options tune the HTTP surface.
type Options struct {
	// APIKey enables X-API-Key checks on /api routes when non-empty.
	APIKey string
	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 1 << 20

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{deps: deps, opts: opts, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/harvest", s.submitHarvest)
		r.Get("/progress/{session_id}", s.getProgress)
		r.Get("/download/{filename}", s.download)
		r.Post("/verify-cookie", s.verifyCookie)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "message": msg})
}
