// Package api wires the HTTP surface: the canonical send endpoint,
// the per-provider webhook routes, and health checks.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httputil"
	"github.com/ignite/mailbridge/internal/relay"
	"github.com/ignite/mailbridge/internal/webhooks"
)

// Server is the HTTP API server.
type Server struct {
	registry *backend.Registry
	sender   *relay.Sender
	hooks    *webhooks.Server
	secrets  []string
	server   *http.Server
}

// NewServer assembles the API server from the wired components.
func NewServer(registry *backend.Registry, sender *relay.Sender, hooks *webhooks.Server, secrets []string) *Server {
	return &Server{
		registry: registry,
		sender:   sender,
		hooks:    hooks,
		secrets:  secrets,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/send/{provider}", s.handleSend)
		r.Get("/providers", s.handleProviders)
	})

	r.Mount("/webhooks", s.hooks.Routes(s.secrets))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"providers": s.registry.Providers()})
}

// handleSend accepts a canonical message and relays it through the
// named provider. Capability violations answer 422 before any
// provider call; provider-level failures answer 502 tagged with the
// error kind.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if _, ok := s.registry.Backend(provider); !ok {
		httputil.NotFound(w, "unknown provider "+provider)
		return
	}

	var msg email.Message
	if !httputil.Decode(w, r, &msg) {
		return
	}

	result, err := s.sender.Send(r.Context(), provider, &msg)
	if err != nil {
		var capErr *email.CapabilityError
		if errors.As(err, &capErr) {
			httputil.UnprocessableEntity(w, capErr.Error())
			return
		}
		var apiErr *email.APIError
		if errors.As(err, &apiErr) {
			httputil.ErrorWithCode(w, http.StatusBadGateway, string(apiErr.Kind), apiErr.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, result)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
