package unisender

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/ignite/mailbridge/internal/email"
)

const testAPIKey = "us-key"

// signBody fills the auth placeholder with the digest Unisender would
// compute: md5 of the body with the auth value set to the API key.
func signBody(template string) string {
	withKey := strings.Replace(template, "%s", testAPIKey, 1)
	sum := md5.Sum([]byte(withKey))
	return strings.Replace(template, "%s", hex.EncodeToString(sum[:]), 1)
}

func TestParseTrackingVerifiedEvents(t *testing.T) {
	body := signBody(`{"auth":"%s","events_by_user":[{"user_id":1,"events":[
		{"event_name":"transactional_email_status","event_data":{
			"email":"rcpt@example.com","status":"hard_bounced",
			"event_time":"2026-08-25 10:00:00",
			"delivery_info":{"delivery_status":"err_user_unknown","destination_response":"550 unknown user"},
			"metadata":{"bridge_message_id":"uuid-1"}
		}},
		{"event_name":"transactional_spam_block","event_data":{}}
	]}]}`)

	hook := NewWebhook(testAPIKey)
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
	if ev.RejectReason != email.RejectBounced {
		t.Errorf("reject reason = %q", ev.RejectReason)
	}
	if ev.MessageID != "uuid-1" {
		t.Errorf("message id = %q", ev.MessageID)
	}
	if ev.MTAResponse != "550 unknown user" {
		t.Errorf("mta response = %q", ev.MTAResponse)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}
}

func TestParseTrackingSpacedAuthField(t *testing.T) {
	body := signBody(`{"auth" : "%s","events_by_user":[{"user_id":1,"events":[
		{"event_name":"transactional_email_status","event_data":{
			"email":"rcpt@example.com","status":"delivered"
		}}
	]}]}`)

	hook := NewWebhook(testAPIKey)
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if len(events) != 1 || events[0].Type != email.EventDelivered {
		t.Errorf("events = %v", events)
	}
}

func TestParseTrackingBadDigest(t *testing.T) {
	body := `{"auth":"deadbeefdeadbeefdeadbeefdeadbeef","events_by_user":[]}`

	hook := NewWebhook(testAPIKey)
	_, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if !email.IsWebhookAuthError(err) {
		t.Fatalf("err = %v, want WebhookAuthError", err)
	}
}

func TestParseTrackingMissingAuth(t *testing.T) {
	hook := NewWebhook(testAPIKey)
	_, err := hook.ParseTracking(&http.Request{}, []byte(`{"events_by_user":[]}`))
	if !email.IsWebhookAuthError(err) {
		t.Fatalf("err = %v, want WebhookAuthError", err)
	}
}

func TestParseTrackingSpamStatus(t *testing.T) {
	body := signBody(`{"auth":"%s","events_by_user":[{"user_id":1,"events":[
		{"event_name":"transactional_email_status","event_data":{
			"email":"rcpt@example.com","status":"spam"
		}}
	]}]}`)

	hook := NewWebhook(testAPIKey)
	events, err := hook.ParseTracking(&http.Request{}, []byte(body))
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	ev := events[0]
	if ev.Type != email.EventComplained {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.RejectReason != email.RejectSpam {
		t.Errorf("reject reason = %q", ev.RejectReason)
	}
}
