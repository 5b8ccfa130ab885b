package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orphi/audit"
	"orphi/config"
	"orphi/core"
	"orphi/gateway/middleware"
)

// Server exposes the compensation engine over HTTP. Query routes are open
// (subject to rate limiting); mutating routes require a bearer token when
// auth is enabled, and distribution routes additionally require the admin
// scope.
type Server struct {
	node       *core.Node
	audit      *audit.Store
	auth       *middleware.Authenticator
	limiter    *middleware.RateLimiter
	adminScope string
	log        *slog.Logger
}

// NewServer wires the HTTP surface over a running node. The audit store may
// be nil, in which case withdrawal history routes return empty pages.
func NewServer(node *core.Node, store *audit.Store, cfg config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, log)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"query":  {RequestsPerMinute: 600, Burst: 60},
		"mutate": {RequestsPerMinute: 120, Burst: 20},
	})
	adminScope := cfg.Auth.AdminScope
	if adminScope == "" {
		adminScope = "orphi.admin"
	}
	return &Server{
		node:       node,
		audit:      store,
		auth:       auth,
		limiter:    limiter,
		adminScope: adminScope,
		log:        log,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			q.Use(s.limiter.Middleware("query"))
			q.Get("/members/{id}", s.handleGetMember)
			q.Get("/members/{id}/children", s.handleMatrixChildren)
			q.Get("/members/{id}/upline", s.handleUpline)
			q.Get("/members/{id}/rank", s.handleRank)
			q.Get("/members/{id}/withdrawals", s.handleWithdrawalHistory)
			q.Get("/pools", s.handlePoolBalances)
			q.Get("/pools/{name}/readiness", s.handlePoolReadiness)
		})

		v1.Group(func(m chi.Router) {
			m.Use(s.limiter.Middleware("mutate"))
			m.Use(s.auth.Middleware())
			m.Post("/members", s.handleRegister)
			m.Post("/members/{id}/upgrade", s.handleUpgrade)
			m.Post("/members/{id}/withdraw", s.handleWithdraw)
		})

		v1.Group(func(a chi.Router) {
			a.Use(s.limiter.Middleware("mutate"))
			a.Use(s.auth.Middleware(s.adminScope))
			a.Post("/pools/{name}/distribute", s.handleDistribute)
			a.Post("/pools/{name}/accrue", s.handleAccrue)
		})
	})

	return r
}

// ListenAndServe runs the HTTP server until it fails or is shut down.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("gateway listening", "addr", addr)
	return srv.ListenAndServe()
}
