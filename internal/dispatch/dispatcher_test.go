package dispatch

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailbridge/internal/email"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func TestDispatchTrackingDeliversToAllHandlers(t *testing.T) {
	d := New(nil)
	var first, second []string
	d.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		first = append(first, ev.EventID)
	})
	d.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		second = append(second, ev.EventID)
	})

	d.DispatchTracking(context.Background(), "mailgun", []email.TrackingEvent{
		{EventID: "ev-1"}, {EventID: "ev-2"},
	})

	if len(first) != 2 || len(second) != 2 {
		t.Errorf("handler calls = %d, %d, want 2 each", len(first), len(second))
	}
}

func TestDispatchTrackingDeduplicates(t *testing.T) {
	d := newTestDispatcher(t)
	var got []string
	d.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		got = append(got, ev.EventID)
	})

	events := []email.TrackingEvent{{EventID: "ev-1", Recipient: "a@example.com"}}
	d.DispatchTracking(context.Background(), "mailgun", events)
	d.DispatchTracking(context.Background(), "mailgun", events)

	if len(got) != 1 {
		t.Errorf("deliveries = %d, want 1", len(got))
	}
}

func TestDispatchTrackingDedupIsPerProvider(t *testing.T) {
	d := newTestDispatcher(t)
	var got int
	d.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		got++
	})

	events := []email.TrackingEvent{{EventID: "ev-1"}}
	d.DispatchTracking(context.Background(), "mailgun", events)
	d.DispatchTracking(context.Background(), "sendgrid", events)

	if got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestDispatchTrackingEmptyEventIDNeverDeduplicated(t *testing.T) {
	d := newTestDispatcher(t)
	var got int
	d.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		got++
	})

	events := []email.TrackingEvent{{Recipient: "a@example.com"}}
	d.DispatchTracking(context.Background(), "mailjet", events)
	d.DispatchTracking(context.Background(), "mailjet", events)

	if got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestDispatchInboundDeduplicates(t *testing.T) {
	d := newTestDispatcher(t)
	var got int
	d.OnInbound(func(ctx context.Context, provider string, ev email.InboundEvent) {
		got++
	})

	events := []email.InboundEvent{{EventID: "in-1", Message: &email.InboundMessage{}}}
	d.DispatchInbound(context.Background(), "ses", events)
	d.DispatchInbound(context.Background(), "ses", events)

	if got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestDispatchRedisDownFallsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := New(rdb)
	mr.Close()

	var got int
	d.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		got++
	})

	events := []email.TrackingEvent{{EventID: "ev-1"}}
	d.DispatchTracking(context.Background(), "mailgun", events)
	d.DispatchTracking(context.Background(), "mailgun", events)

	// With Redis unreachable every delivery goes through.
	if got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}
