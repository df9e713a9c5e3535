// Package webhooks exposes the per-provider webhook endpoints:
// Basic-Auth with secret rotation, provider payload parsing, and
// dispatch of the resulting canonical events.
package webhooks

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/dispatch"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httputil"
	"github.com/ignite/mailbridge/internal/pkg/logger"
)

// Server handles webhook deliveries for all registered providers.
type Server struct {
	registry   *backend.Registry
	dispatcher *dispatch.Dispatcher
}

func NewServer(registry *backend.Registry, dispatcher *dispatch.Dispatcher) *Server {
	return &Server{registry: registry, dispatcher: dispatcher}
}

// Routes builds the webhook router, guarded by the shared secrets.
func (s *Server) Routes(secrets []string) chi.Router {
	r := chi.NewRouter()
	r.Use(BasicAuth(secrets))
	r.Route("/{provider}", func(r chi.Router) {
		// ESPs probe the endpoint with GET when it is configured.
		r.Get("/tracking", s.handlePing)
		r.Post("/tracking", s.handleTracking)
		r.Get("/inbound", s.handlePing)
		r.Post("/inbound", s.handleInbound)
	})
	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	parser, ok := s.registry.Tracking(provider)
	if !ok {
		httputil.NotFound(w, "no tracking webhook for provider "+provider)
		return
	}

	body, err := readBody(r)
	if err != nil {
		httputil.BadRequest(w, "reading request body failed")
		return
	}

	events, err := parser.ParseTracking(r, body)
	if err != nil {
		if email.IsWebhookAuthError(err) {
			logger.Warn("webhook signature rejected", "provider", provider, "error", err.Error())
			httputil.BadRequest(w, "webhook authentication failed")
			return
		}
		logger.Error("webhook parse failed", "provider", provider, "error", err.Error())
		httputil.BadRequest(w, "unparseable webhook payload")
		return
	}

	s.dispatcher.DispatchTracking(r.Context(), provider, events)
	httputil.OK(w, map[string]int{"received": len(events)})
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	parser, ok := s.registry.Inbound(provider)
	if !ok {
		httputil.NotFound(w, "no inbound webhook for provider "+provider)
		return
	}

	body, err := readBody(r)
	if err != nil {
		httputil.BadRequest(w, "reading request body failed")
		return
	}

	events, err := parser.ParseInbound(r, body)
	if err != nil {
		if email.IsWebhookAuthError(err) {
			logger.Warn("webhook signature rejected", "provider", provider, "error", err.Error())
			httputil.BadRequest(w, "webhook authentication failed")
			return
		}
		logger.Error("inbound parse failed", "provider", provider, "error", err.Error())
		httputil.BadRequest(w, "unparseable webhook payload")
		return
	}

	s.dispatcher.DispatchInbound(r.Context(), provider, events)
	httputil.OK(w, map[string]int{"received": len(events)})
}

// readBody consumes the request body and puts a replayable copy back,
// so parsers that use form decoding still work.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
