package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mhutchins/hookline/internal/config"
	"github.com/mhutchins/hookline/internal/delivery"
	"github.com/mhutchins/hookline/internal/metrics"
	"github.com/mhutchins/hookline/internal/storage"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	dispatcher *delivery.Dispatcher
	queue      delivery.Queue
	authToken  string
	maxRetries int
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.Config, store storage.Storage, dispatcher *delivery.Dispatcher, queue delivery.Queue, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg.Server,
		store:      store,
		dispatcher: dispatcher,
		queue:      queue,
		authToken:  cfg.API.AuthToken,
		maxRetries: cfg.Delivery.MaxRetries,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	epHandler := NewEndpointHandler(s.store, s.maxRetries)
	evHandler := NewEventHandler(s.dispatcher)
	dlvHandler := NewDeliveryHandler(s.store, s.queue)
	statsHandler := NewStatsHandler(s.store)

	// Operational surfaces, no auth
	r.Get("/health", statsHandler.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		// Trigger API
		r.Post("/events", evHandler.Dispatch)

		// Endpoint registry
		r.Post("/endpoints", epHandler.Create)
		r.Get("/endpoints", epHandler.List)
		r.Get("/endpoints/{id}", epHandler.Get)
		r.Put("/endpoints/{id}", epHandler.Update)
		r.Delete("/endpoints/{id}", epHandler.Delete)
		r.Patch("/endpoints/{id}/activate", epHandler.Activate)
		r.Patch("/endpoints/{id}/deactivate", epHandler.Deactivate)
		r.Get("/endpoints/{id}/deliveries", epHandler.ListDeliveries)

		// Delivery history
		r.Get("/deliveries/{id}", dlvHandler.Get)
		r.Post("/deliveries/{id}/redeliver", dlvHandler.Redeliver)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
