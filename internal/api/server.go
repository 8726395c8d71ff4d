package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/verifier"
)

// Tracker subscribes a tenant to asynchronous submissions.
type Tracker interface {
	Track(tenantID string) error
}

// Deps are the collaborators of the HTTP API. Cache, Bus and Tracker may be nil.
type Deps struct {
	Service *verifier.Service
	Store   domain.SampleStore
	Cache   domain.Cache
	Bus     domain.EventBus
	Tracker Tracker
}

// Server serves the account, verification and policy routes.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// NewServer builds the router. Requests pass CORS, panic recovery,
// tracing and access logging before the tenant is resolved.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	h := NewHandler(deps, version)
	r := chi.NewRouter()
	r.Use(CORSMiddleware, RecoverMiddleware, TracingMiddleware, LoggingMiddleware)
	r.Use(middleware.RealIP, middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware(cfg.DefaultTenant))

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Post("/samples", h.Submit)
			r.Delete("/samples", h.ResetHistory)
			r.Post("/verify", h.Authenticate)
			r.Post("/enroll", h.Enroll)
			r.Get("/profile", h.GetProfile)
		})
		r.Get("/verifications/{id}", h.GetVerification)
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.UpdatePolicy)

		// form endpoints posted by the browser capture page
		r.Post("/addData", h.AddData)
		r.Post("/predict", h.Predict)
	})

	return &Server{
		router: r,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           r,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Start serves on the configured address until Shutdown.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the handler tree to tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
