package mailjet

import (
	"net/http"
	"testing"

	"github.com/ignite/mailbridge/internal/email"
)

func TestParseTrackingGroupedEvents(t *testing.T) {
	body := `[
		{"event":"sent","time":1730000000,"MessageID":101,"email":"a@example.com","smtp_reply":"250 OK"},
		{"event":"bounce","MessageID":102,"email":"b@example.com","hard_bounce":true,"error":"user unknown"}
	]`

	hook := NewWebhook()
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	first := events[0]
	if first.Type != email.EventDelivered {
		t.Errorf("type = %q", first.Type)
	}
	if first.MessageID != "101" {
		t.Errorf("message id = %q", first.MessageID)
	}
	if first.Timestamp.Unix() != 1730000000 {
		t.Errorf("timestamp = %v", first.Timestamp)
	}

	second := events[1]
	if second.Type != email.EventBounced {
		t.Errorf("type = %q", second.Type)
	}
	if second.RejectReason != email.RejectInvalid {
		t.Errorf("reject reason = %q", second.RejectReason)
	}
	if second.MTAResponse != "user unknown" {
		t.Errorf("mta response = %q", second.MTAResponse)
	}
}

func TestParseTrackingSingleObject(t *testing.T) {
	body := `{"event":"unsub","MessageID":103,"email":"c@example.com","customcampaign":"newsletter"}`

	hook := NewWebhook()
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != email.EventUnsubscribed {
		t.Errorf("type = %q", ev.Type)
	}
	if len(ev.Tags) != 1 || ev.Tags[0] != "newsletter" {
		t.Errorf("tags = %v", ev.Tags)
	}
}

func TestParseTrackingSoftBounceIsDeferred(t *testing.T) {
	body := `{"event":"bounce","email":"d@example.com","hard_bounce":false}`

	hook := NewWebhook()
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if events[0].Type != email.EventDeferred {
		t.Errorf("type = %q, want %q", events[0].Type, email.EventDeferred)
	}
}

func TestParseTrackingEventPayloadMetadata(t *testing.T) {
	body := `{"event":"open","email":"e@example.com","Payload":"{\"order\":\"1234\"}"}`

	hook := NewWebhook()
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if got := events[0].Metadata["order"]; got != "1234" {
		t.Errorf("metadata = %v", events[0].Metadata)
	}
}
