// Package api exposes the decision engine over HTTP: instruction
// execution and validation, decision reads, replay and verification,
// artifact lifecycle, and audit pack export.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/organiq/eve-core/pkg/artifacts"
	"github.com/organiq/eve-core/pkg/audit"
	"github.com/organiq/eve-core/pkg/auth"
	"github.com/organiq/eve-core/pkg/engine"
	"github.com/organiq/eve-core/pkg/observability"
	"github.com/organiq/eve-core/pkg/projects"
	"github.com/organiq/eve-core/pkg/registry"
	"github.com/organiq/eve-core/pkg/vault"

	"go.opentelemetry.io/otel/attribute"
)

// Version is reported by /status.
const Version = "1.0.0"

// Server wires the engine and its collaborators behind the HTTP mux.
type Server struct {
	engine   *engine.Engine
	ledger   *vault.Ledger
	arts     *artifacts.Store
	projects *projects.Registry
	exporter *audit.Exporter
	auditLog audit.Logger
	trust    *registry.Registry
	logger   *slog.Logger

	validator   *auth.JWTValidator
	limiter     *auth.Limiter
	corsOrigins []string
	obs         *observability.Provider

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithArtifacts wires the artifact store and its endpoints.
func WithArtifacts(a *artifacts.Store) Option {
	return func(s *Server) { s.arts = a }
}

// WithProjects wires the project registry served at /api/projects.
func WithProjects(p *projects.Registry) Option {
	return func(s *Server) { s.projects = p }
}

// WithExporter wires the audit pack exporter behind /export.
func WithExporter(e *audit.Exporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithAuditLog wires the operational audit logger.
func WithAuditLog(l audit.Logger) Option {
	return func(s *Server) { s.auditLog = l }
}

// WithRegistry wires the approver trust registry and its endpoints.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.trust = r }
}

// WithValidator wires JWT authentication. A nil validator rejects every
// non-public request.
func WithValidator(v *auth.JWTValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithLimiter wires per-actor rate limiting.
func WithLimiter(l *auth.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithCORSOrigins sets the allowed CORS origins. Empty falls back to
// the CORS_ORIGINS environment variable.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithObservability wires request tracing and RED metrics.
func WithObservability(p *observability.Provider) Option {
	return func(s *Server) { s.obs = p }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds a Server around the engine and ledger.
func NewServer(eng *engine.Engine, ledger *vault.Ledger, opts ...Option) *Server {
	s := &Server{
		engine:   eng,
		ledger:   ledger,
		projects: projects.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auditLog == nil {
		s.auditLog = audit.NewLogger()
	}
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/execute_ecl", s.handleExecute)
	mux.HandleFunc("/validate_ecl", s.handleValidate)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/replay", s.handleReplay)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/decisions", s.handleDecisions)
	mux.HandleFunc("/decision/", s.handleDecision)
	mux.HandleFunc("/artifacts", s.handleArtifacts)
	mux.HandleFunc("/artifact/create", s.handleArtifactCreate)
	mux.HandleFunc("/artifact/propose", s.handleArtifactPropose)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/projects/", s.handleProject)
	mux.HandleFunc("/registry/approvers", s.handleApprovers)
	mux.HandleFunc("/registry/revoke", s.handleRevoke)

	var h http.Handler = mux
	h = auth.RateLimitMiddleware(s.limiter)(h)
	h = auth.NewMiddleware(s.validator)(h)
	h = auth.CORSMiddleware(s.corsOrigins)(h)
	h = s.traceMiddleware(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

// traceMiddleware spans every request when observability is wired.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	if s.obs == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, done := s.obs.TrackOperation(r.Context(), "http "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
		done(nil)
	})
}

// Start runs the HTTP server until the context is canceled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("api server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
