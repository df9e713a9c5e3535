package mailgun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ignite/mailbridge/internal/email"
)

const testSigningKey = "key-test-signing"

func sign(timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(testSigningKey))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

func trackingBody(t *testing.T, event string, extra map[string]any) []byte {
	t.Helper()
	data := map[string]any{
		"event":     event,
		"id":        "ev-1",
		"timestamp": 1730000000.0,
		"recipient": "rcpt@example.com",
		"message": map[string]any{
			"headers": map[string]any{"message-id": "msg-1@mail.example.com"},
		},
	}
	for k, v := range extra {
		data[k] = v
	}
	payload := map[string]any{
		"signature": map[string]string{
			"timestamp": "1730000000",
			"token":     "tok",
			"signature": sign("1730000000", "tok"),
		},
		"event-data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	return body
}

func TestParseTrackingDelivered(t *testing.T) {
	hook := NewWebhook(testSigningKey)
	body := trackingBody(t, "delivered", map[string]any{
		"tags":           []string{"welcome"},
		"user-variables": map[string]any{"order": "1234"},
	})

	events, err := hook.ParseTracking(&http.Request{}, body)
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Type != email.EventDelivered {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.MessageID != "msg-1@mail.example.com" {
		t.Errorf("message id = %q", ev.MessageID)
	}
	if ev.Recipient != "rcpt@example.com" {
		t.Errorf("recipient = %q", ev.Recipient)
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

func TestParseTrackingTemporaryFailure(t *testing.T) {
	hook := NewWebhook(testSigningKey)
	body := trackingBody(t, "failed", map[string]any{"severity": "temporary"})

	events, err := hook.ParseTracking(&http.Request{}, body)
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	if events[0].Type != email.EventDeferred {
		t.Errorf("type = %q, want %q", events[0].Type, email.EventDeferred)
	}
}

func TestParseTrackingPermanentFailure(t *testing.T) {
	hook := NewWebhook(testSigningKey)
	body := trackingBody(t, "failed", map[string]any{"severity": "permanent", "reason": "bounce"})

	events, err := hook.ParseTracking(&http.Request{}, body)
	if err != nil {
		t.Fatalf("ParseTracking: %v", err)
	}
	ev := events[0]
	if ev.Type != email.EventBounced {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.RejectReason != email.RejectBounced {
		t.Errorf("reject reason = %q", ev.RejectReason)
	}
}

func TestParseTrackingBadSignature(t *testing.T) {
	hook := NewWebhook(testSigningKey)
	body := []byte(`{
		"signature": {"timestamp":"1730000000","token":"tok","signature":"deadbeef"},
		"event-data": {"event":"delivered","recipient":"rcpt@example.com"}
	}`)

	_, err := hook.ParseTracking(&http.Request{}, body)
	if !email.IsWebhookAuthError(err) {
		t.Fatalf("err = %v, want WebhookAuthError", err)
	}
}

func TestParseInboundParsedFields(t *testing.T) {
	hook := NewWebhook(testSigningKey)

	form := url.Values{}
	form.Set("timestamp", "1730000000")
	form.Set("token", "tok")
	form.Set("signature", sign("1730000000", "tok"))
	form.Set("sender", "bounce@example.org")
	form.Set("recipient", "in@example.com")
	form.Set("from", "Out <out@example.org>")
	form.Set("subject", "Ping")
	form.Set("body-plain", "hello")
	form.Set("Message-Id", "<abc@example.org>")

	body := form.Encode()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun/inbound", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	events, err := hook.ParseInbound(r, []byte(body))
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
	if msg.Text != "hello" {
		t.Errorf("text = %q", msg.Text)
	}
	if msg.EnvelopeSender != "bounce@example.org" {
		t.Errorf("envelope sender = %q", msg.EnvelopeSender)
	}
	if msg.EnvelopeRecipient != "in@example.com" {
		t.Errorf("envelope recipient = %q", msg.EnvelopeRecipient)
	}
	if events[0].Timestamp.Unix() != 1730000000 {
		t.Errorf("timestamp = %v", events[0].Timestamp)
	}
}

func TestParseInboundBadSignature(t *testing.T) {
	hook := NewWebhook(testSigningKey)

	form := url.Values{}
	form.Set("timestamp", "1730000000")
	form.Set("token", "tok")
	form.Set("signature", "deadbeef")

	body := form.Encode()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun/inbound", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := hook.ParseInbound(r, []byte(body))
	if !email.IsWebhookAuthError(err) {
		t.Fatalf("err = %v, want WebhookAuthError", err)
	}
}
