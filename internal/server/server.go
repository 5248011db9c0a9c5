package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/purrrlove/perch/internal/audit"
	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/handler"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/openapi"
	"github.com/purrrlove/perch/internal/ratelimit"
	"github.com/purrrlove/perch/internal/server/middleware"
	"github.com/purrrlove/perch/internal/service"
	"github.com/purrrlove/perch/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	BurstPerMinute  int // per-IP flood guard in front of the tier limiter
	DevMode         bool
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"https://purrr.love", "https://app.purrr.love"},
		BurstPerMinute:  600,
	}
}

// Server is the top-level HTTP gateway. It owns the Chi router, the
// dispatch table, and the services behind it.
type Server struct {
	cfg        Config
	router     chi.Router
	registry   *gateway.Registry
	store      *store.Store
	limiter    *ratelimit.Limiter
	auth       *service.AuthService
	sessions   *service.SessionService
	keys       *service.KeyService
	oauth      *service.OAuthService
	sink       audit.Sink
	httpServer *http.Server
	logger     *slog.Logger
}

// Deps carries the wired services the server routes to.
type Deps struct {
	Store    *store.Store
	Limiter  *ratelimit.Limiter
	Auth     *service.AuthService
	Sessions *service.SessionService
	Keys     *service.KeyService
	OAuth    *service.OAuthService
	Sink     audit.Sink
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: gateway.NewRegistry(),
		store:    deps.Store,
		limiter:  deps.Limiter,
		auth:     deps.Auth,
		sessions: deps.Sessions,
		keys:     deps.Keys,
		oauth:    deps.OAuth,
		sink:     deps.Sink,
		logger:   logger,
	}
	handler.DevMode = cfg.DevMode
	handler.NewKeyHandler(s.keys).Register(s.registry)
	handler.NewSessionHandler(s.sessions).Register(s.registry)
	s.setupRouter()
	return s
}

// Registry exposes the dispatch table so callers can mount additional
// resources before the server starts.
func (s *Server) Registry() *gateway.Registry {
	return s.registry
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.SecureHeaders)
	r.Use(s.corsAudit)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(s.cfg.BurstPerMinute, time.Minute))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", openapi.NewHandler(s.registry).ServeSpec)

	// --- API routes ---
	sessionHandler := handler.NewSessionHandler(s.sessions)
	oauthHandler := handler.NewOAuthHandler(s.oauth)
	anonLimit := middleware.RateLimit(s.limiter, s.sink, s.cfg.DevMode)

	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {

			// OAuth flows and login carry their own credentials, so they
			// bypass gateway authentication. They still count against the
			// per-IP anonymous bucket.
			r.Group(func(r chi.Router) {
				r.Use(anonLimit)
				r.Post("/oauth/authorize", oauthHandler.Authorize)
				r.Post("/oauth/token", oauthHandler.Token)
				r.Post("/oauth/revoke", oauthHandler.Revoke)
				r.Get("/oauth/userinfo", oauthHandler.UserInfo)
				r.Post("/auth/login", sessionHandler.Login)
			})

			// Everything else authenticates first. Routing happens after
			// auth and rate limiting, so NotFound is only ever seen by a
			// caller who has already proven an identity.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.auth, s.cfg.DevMode))
				r.Use(middleware.RateLimit(s.limiter, s.sink, s.cfg.DevMode))
				r.HandleFunc("/*", s.dispatch)
			})
		})

		// Any other version segment fails before touching the table.
		r.HandleFunc("/*", s.unsupportedVersion)
	})

	s.router = r
}

// dispatch normalizes the request and runs it through the dispatch table.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/")
	req, gerr := gateway.ParseFrom(r, trimmed)
	if gerr != nil {
		handler.WriteError(w, r, gerr)
		return
	}

	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		handler.WriteError(w, r, gateway.ErrUnauthenticated("no principal in context"))
		return
	}

	data, err := s.registry.Dispatch(r.Context(), req, r.Method, p)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	handler.WriteData(w, r, status, data)
}

func (s *Server) unsupportedVersion(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/")
	version := trimmed
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		version = trimmed[:i]
	}
	handler.WriteError(w, r, gateway.ErrUnsupportedVersion(version))
}

// corsAudit records a security event for cross-origin requests from
// origins outside the allowlist. The request itself is left to the CORS
// handler; the browser enforces the missing grant.
func (s *Server) corsAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !s.originAllowed(origin) {
			s.sink.Record(r.Context(), model.EventCORSViolation, r.RemoteAddr, map[string]any{
				"origin": origin,
				"path":   r.URL.Path,
			})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// and the rate-limit counter store are both reachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}
	if err := s.limiter.Ping(r.Context()); err != nil {
		checks["counters"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["counters"] = "ok"
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or
// SIGTERM is received. It then performs a graceful shutdown, draining
// in-flight requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
