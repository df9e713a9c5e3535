// Package dispatch fans parsed webhook events out to registered
// handlers, with Redis-backed de-duplication because ESPs deliver
// webhooks at least once.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/logger"
)

// dedupTTL bounds how long an event id is remembered.
const dedupTTL = 24 * time.Hour

// TrackingHandler consumes one normalized tracking event.
type TrackingHandler func(ctx context.Context, provider string, ev email.TrackingEvent)

// InboundHandler consumes one parsed inbound message.
type InboundHandler func(ctx context.Context, provider string, ev email.InboundEvent)

// Dispatcher routes canonical events to handlers. A nil Redis client
// disables de-duplication.
type Dispatcher struct {
	mu       sync.RWMutex
	tracking []TrackingHandler
	inbound  []InboundHandler
	rdb      *redis.Client
}

func New(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// OnTracking registers a tracking-event handler.
func (d *Dispatcher) OnTracking(h TrackingHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracking = append(d.tracking, h)
}

// OnInbound registers an inbound-message handler.
func (d *Dispatcher) OnInbound(h InboundHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inbound = append(d.inbound, h)
}

// DispatchTracking delivers events to every tracking handler, skipping
// events whose provider event id was already seen.
func (d *Dispatcher) DispatchTracking(ctx context.Context, provider string, events []email.TrackingEvent) {
	d.mu.RLock()
	handlers := d.tracking
	d.mu.RUnlock()

	for _, ev := range events {
		if d.alreadySeen(ctx, provider, ev.EventID) {
			logger.Debug("skipping duplicate webhook event",
				"provider", provider,
				"event_id", ev.EventID)
			continue
		}
		for _, h := range handlers {
			h(ctx, provider, ev)
		}
	}
}

// DispatchInbound delivers inbound events to every inbound handler.
func (d *Dispatcher) DispatchInbound(ctx context.Context, provider string, events []email.InboundEvent) {
	d.mu.RLock()
	handlers := d.inbound
	d.mu.RUnlock()

	for _, ev := range events {
		if d.alreadySeen(ctx, provider, ev.EventID) {
			logger.Debug("skipping duplicate inbound event",
				"provider", provider,
				"event_id", ev.EventID)
			continue
		}
		for _, h := range handlers {
			h(ctx, provider, ev)
		}
	}
}

// alreadySeen marks the event id seen and reports whether it was
// already present. Redis failures count as unseen: duplicate delivery
// beats dropped delivery.
func (d *Dispatcher) alreadySeen(ctx context.Context, provider, eventID string) bool {
	if d.rdb == nil || eventID == "" {
		return false
	}
	key := "webhook:event:" + provider + ":" + eventID
	ok, err := d.rdb.SetNX(ctx, key, 1, dedupTTL).Result()
	if err != nil {
		logger.Warn("event dedup check failed", "error", err.Error())
		return false
	}
	return !ok
}
