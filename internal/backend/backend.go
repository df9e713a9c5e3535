// Package backend defines the provider-facing interfaces and the
// registry that routes sends and webhook payloads to the right
// provider package. Dispatch is data-driven: callers look providers up
// by name, never switch on them.
package backend

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/ignite/mailbridge/internal/email"
)

// Backend sends one canonical message through one ESP. A Send call is
// a single API attempt; transport-level retries live in the HTTP
// client, never here.
type Backend interface {
	Name() string
	Send(ctx context.Context, msg *email.Message) (*email.SendResult, error)
}

// BatchCapable is implemented by backends whose ESP can deliver
// per-recipient merge data in a single API call.
type BatchCapable interface {
	SupportsBatch() bool
}

// TrackingParser authenticates and decodes one ESP's tracking webhook.
// The raw body is read once by the HTTP layer and handed down.
type TrackingParser interface {
	Name() string
	ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error)
}

// InboundParser authenticates and decodes one ESP's inbound-mail webhook.
type InboundParser interface {
	Name() string
	ParseInbound(r *http.Request, body []byte) ([]email.InboundEvent, error)
}

// Registry holds the configured providers. It is populated once at
// startup and read concurrently by the HTTP handlers.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	tracking map[string]TrackingParser
	inbound  map[string]InboundParser
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		tracking: make(map[string]TrackingParser),
		inbound:  make(map[string]InboundParser),
	}
}

func (r *Registry) RegisterBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

func (r *Registry) RegisterTracking(p TrackingParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracking[p.Name()] = p
}

func (r *Registry) RegisterInbound(p InboundParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound[p.Name()] = p
}

func (r *Registry) Backend(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

func (r *Registry) Tracking(name string) (TrackingParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tracking[name]
	return p, ok
}

func (r *Registry) Inbound(name string) (InboundParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.inbound[name]
	return p, ok
}

// Providers returns the names of all registered send backends, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
