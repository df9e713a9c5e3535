package sparkpost

import (
	"net/http"
	"strings"
	"testing"

	"github.com/ignite/mailbridge/internal/email"
)

func TestParseTrackingBounce(t *testing.T) {
	body := `[{"msys":{"message_event":{
		"type":"bounce",
		"event_id":"ev-1",
		"timestamp":"1730000000",
		"transmission_id":"tx-9",
		"rcpt_to":"rcpt@example.com",
		"bounce_class":"10",
		"raw_reason":"550 unknown user",
		"campaign_id":"welcome",
		"rcpt_meta":{"order":"1234"}
	}}}]`

	hook := NewWebhook()
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Type != email.EventBounced {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.RejectReason != email.RejectInvalid {
		t.Errorf("reject reason = %q", ev.RejectReason)
	}
	if ev.MessageID != "tx-9" {
		t.Errorf("message id = %q", ev.MessageID)
	}
	if ev.Recipient != "rcpt@example.com" {
		t.Errorf("recipient = %q", ev.Recipient)
	}
	if ev.MTAResponse != "550 unknown user" {
		t.Errorf("mta response = %q", ev.MTAResponse)
	}
	if ev.Timestamp.Unix() != 1730000000 {
		t.Errorf("timestamp = %v", ev.Timestamp)
	}
	if len(ev.Tags) != 1 || ev.Tags[0] != "welcome" {
		t.Errorf("tags = %v", ev.Tags)
	}
	if ev.Metadata["order"] != "1234" {
		t.Errorf("metadata = %v", ev.Metadata)
	}
}

func TestParseTrackingClickAndUnknown(t *testing.T) {
	body := `[
		{"msys":{"track_event":{"type":"click","event_id":"ev-2","rcpt_to":"a@example.com","target_link_url":"https://example.com/x","user_agent":"Mozilla/5.0"}}},
		{"msys":{"message_event":{"type":"sms_status","event_id":"ev-3","rcpt_to":"b@example.com"}}}
	]`

	hook := NewWebhook()
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	byID := map[string]email.TrackingEvent{}
	for _, ev := range events {
		byID[ev.EventID] = ev
	}
	if ev := byID["ev-2"]; ev.Type != email.EventClicked || ev.ClickURL != "https://example.com/x" {
		t.Errorf("click event = %+v", ev)
	}
	if ev := byID["ev-3"]; ev.Type != email.EventUnknown {
		t.Errorf("unknown event type = %q", ev.Type)
	}
}

func TestParseInboundRelay(t *testing.T) {
	raw := "From: out@example.org\r\nTo: in@example.com\r\nSubject: Ping\r\nContent-Type: text/plain\r\n\r\nhello\r\n"
	body := `[{"msys":{"relay_message":{
		"event_id":"ev-4",
		"msg_from":"bounce@example.org",
		"rcpt_to":"in@example.com",
		"content":{"email":` + jsonString(raw) + `}
	}}}]`

	hook := NewWebhook()
	events, err := hook.ParseInbound(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	msg := events[0].Message
	if msg.Subject != "Ping" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.EnvelopeSender != "bounce@example.org" {
		t.Errorf("envelope sender = %q", msg.EnvelopeSender)
	}
	if msg.EnvelopeRecipient != "in@example.com" {
		t.Errorf("envelope recipient = %q", msg.EnvelopeRecipient)
	}
	if !strings.Contains(msg.Text, "hello") {
		t.Errorf("text = %q", msg.Text)
	}
}

func jsonString(s string) string {
	replacer := strings.NewReplacer("\r", `\r`, "\n", `\n`, `"`, `\"`)
	return `"` + replacer.Replace(s) + `"`
}
