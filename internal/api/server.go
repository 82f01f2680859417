// Package api is the webhook/tool gateway: it translates telephony
// provider callbacks and AI tool calls into operations on the routing,
// dial, and transfer engines, and answers with call-control documents.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/dial"
	"github.com/voxgate/voxgate/internal/provider"
	"github.com/voxgate/voxgate/internal/transfer"
)

// CallControl is the slice of the provider client the gateway drives
// live legs with.
type CallControl interface {
	RedirectCall(ctx context.Context, callSid, docURL string) error
	HangupCall(ctx context.Context, callSid string) error
}

// Deps carries the engine components the gateway operates on.
type Deps struct {
	Config       *config.Config
	Logger       *slog.Logger
	Routing      database.RoutingConfigRepository
	Targets      database.ForwardTargetsRepository
	Recorder     *audit.Recorder
	Sessions     *transfer.Manager
	Plans        *dial.PlanStore
	Orchestrator *dial.Orchestrator
	Calls        CallControl
	Waiters      *provider.StatusWaiters
	Metrics      http.Handler // promhttp handler, may be nil
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	routing      database.RoutingConfigRepository
	targets      database.ForwardTargetsRepository
	recorder     *audit.Recorder
	sessions     *transfer.Manager
	plans        *dial.PlanStore
	orchestrator *dial.Orchestrator
	calls        CallControl
	waiters      *provider.StatusWaiters
	metrics      http.Handler

	webhookLimiter *middleware.IPRateLimiter
	toolLimiter    *middleware.IPRateLimiter

	// agentDials cancels the in-flight agent leg dial for a caller
	// callSid when the caller hangs up mid-transfer.
	mu         sync.Mutex
	agentDials map[string]context.CancelFunc
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		cfg:            d.Config,
		logger:         d.Logger.With("subsystem", "api"),
		routing:        d.Routing,
		targets:        d.Targets,
		recorder:       d.Recorder,
		sessions:       d.Sessions,
		plans:          d.Plans,
		orchestrator:   d.Orchestrator,
		calls:          d.Calls,
		waiters:        d.Waiters,
		metrics:        d.Metrics,
		webhookLimiter: middleware.NewIPRateLimiter(middleware.WebhookRateLimitConfig()),
		toolLimiter:    middleware.NewIPRateLimiter(middleware.ToolRateLimitConfig()),
		agentDials:     make(map[string]context.CancelFunc),
	}

	// The whisper deadline timer resolves the live legs through the
	// same provider client the handlers use.
	s.sessions.SetOnTimeout(s.onWhisperTimeout)

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.webhookLimiter.Stop()
	s.toolLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	// Provider webhook surface: signature-validated, form-encoded in,
	// call-control documents out.
	r.Route("/voice", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.webhookLimiter))
		r.Use(middleware.RequireSignature(s.cfg.WebhookSecret, s.cfg.PublicBaseURL))

		r.Post("/inbound", s.handleInbound)
		r.Post("/forward-next", s.handleForwardNext)
		r.Get("/whisper", s.handleWhisper)
		r.Post("/whisper", s.handleWhisper)
		r.Post("/whisper-result", s.handleWhisperResult)
		r.Get("/fallback", s.handleFallback)
		r.Post("/fallback", s.handleFallback)
		r.Get("/bridge", s.handleBridge)
		r.Post("/bridge", s.handleBridge)
		r.Get("/ai", s.handleAIConnect)
		r.Post("/ai", s.handleAIConnect)
		r.Post("/status", s.handleStatus)
	})

	// AI tool-call surface: JWT bearer, JSON in and out.
	r.Route("/tools", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.toolLimiter))
		r.Use(middleware.RequireToolAuth([]byte(s.cfg.ToolSecret)))

		r.Post("/warm-transfer", s.handleWarmTransfer)
	})

	// Ops/audit read API, same auth as the tool surface.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.toolLimiter))
		r.Use(middleware.RequireToolAuth([]byte(s.cfg.ToolSecret)))

		r.Get("/calls/active", s.handleActiveCalls)
		r.Get("/transfer-log/{tenantID}/{callSid}", s.handleTransferLog)
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	s.logger.Info("routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerAgentDial stores the cancel func for an in-flight agent dial.
func (s *Server) registerAgentDial(callSid string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.agentDials[callSid] = cancel
	s.mu.Unlock()
}

// cancelAgentDial cancels and forgets the agent dial for a call, if any.
func (s *Server) cancelAgentDial(callSid string) {
	s.mu.Lock()
	cancel, ok := s.agentDials[callSid]
	if ok {
		delete(s.agentDials, callSid)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// dropAgentDial forgets a finished dial without cancelling.
func (s *Server) dropAgentDial(callSid string) {
	s.mu.Lock()
	delete(s.agentDials, callSid)
	s.mu.Unlock()
}
