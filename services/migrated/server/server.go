package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendmigrate/native/migration"
	"lendmigrate/services/migrated/chain"
	"lendmigrate/services/migrated/middleware"
	"lendmigrate/services/migrated/storage"
)

// Options wires the server's collaborators. Audit, Auth, Limiter and
// Observability are optional.
type Options struct {
	// Deployment is the template every simulation sandbox is built from. Its
	// fee rate and owner are replaced by Admin's current values.
	Deployment    migration.SandboxConfig
	Admin         *migration.Admin
	Audit         *storage.AuditStore
	Hub           *Hub
	Auth          *middleware.Authenticator
	AdminScope    string
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

// Server serves the migration planning, simulation and fee administration
// API.
type Server struct {
	deployment migration.SandboxConfig
	admin      *migration.Admin
	audit      *storage.AuditStore
	hub        *Hub
	contracts  *chain.Contracts
	auth       *middleware.Authenticator
	adminScope string
	limiter    *middleware.RateLimiter
	obs        *middleware.Observability
	logger     *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Admin == nil {
		return nil, fmt.Errorf("server: fee admin required")
	}
	contracts, err := chain.LoadContracts()
	if err != nil {
		return nil, err
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := opts.AdminScope
	if scope == "" {
		scope = "migration:admin"
	}
	return &Server{
		deployment: opts.Deployment,
		admin:      opts.Admin,
		audit:      opts.Audit,
		hub:        hub,
		contracts:  contracts,
		auth:       opts.Auth,
		adminScope: scope,
		limiter:    opts.Limiter,
		obs:        opts.Observability,
		logger:     logger,
	}, nil
}

// Hub returns the committed event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(s.route("plan", "plan")...).Post("/migrations/plan", s.handlePlan)
		v1.With(s.route("simulate", "simulate")...).Post("/migrations/simulate", s.handleSimulate)
		v1.With(s.route("migration", "")...).Get("/migrations/{id}", s.handleGetMigration)
		v1.With(s.route("fee", "")...).Get("/fee", s.handleGetFee)
		v1.With(append(s.route("fee_update", "admin"), s.auth.Middleware(s.adminScope))...).Put("/fee", s.handlePutFee)
		v1.With(s.route("events", "")...).Get("/events", s.handleEvents)
	})

	if s.obs != nil {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}
	return r
}

func (s *Server) route(name, limitKey string) []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if s.obs != nil {
		chain = append(chain, s.obs.Middleware(name))
	}
	if s.limiter != nil && limitKey != "" {
		chain = append(chain, s.limiter.Middleware(limitKey))
	}
	return chain
}
