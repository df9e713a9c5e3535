package unisender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
)

func newTestBackend(url string, permissive bool) *Backend {
	cfg := config.UnisenderConfig{APIKey: "us-key", BaseURL: url}
	return NewBackend(cfg, backend.Caps{Permissive: permissive})
}

func baseMessage() *email.Message {
	return &email.Message{
		From:    email.Address{Email: "sender@example.com", Name: "Sender"},
		To:      []email.Address{{Email: "rcpt@example.com", Name: "Rcpt"}},
		Subject: "Hello",
		Text:    "body",
	}
}

func TestSendBuildsMessage(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/email/send.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-API-key"); got != "us-key" {
			t.Errorf("api key header = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"status":"success","job_id":"job-1","emails":["rcpt@example.com"]}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	result, err := b.Send(context.Background(), baseMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	message := captured["message"].(map[string]any)
	if message["from_email"] != "sender@example.com" {
		t.Errorf("from_email = %v", message["from_email"])
	}
	body := message["body"].(map[string]any)
	if body["plaintext"] != "body" {
		t.Errorf("plaintext = %v", body["plaintext"])
	}

	recipients := message["recipients"].([]any)
	if len(recipients) != 1 {
		t.Fatalf("recipients = %d, want 1", len(recipients))
	}
	rcpt := recipients[0].(map[string]any)
	subs := rcpt["substitutions"].(map[string]any)
	if subs[toNameVar] != "Rcpt" {
		t.Errorf("substitutions = %v", subs)
	}
	meta := rcpt["metadata"].(map[string]any)
	generated := meta[messageIDKey].(string)
	if generated == "" {
		t.Error("metadata missing generated message id")
	}

	if got := result.Recipients["rcpt@example.com"]; got.MessageID != generated || got.Status != email.StatusQueued {
		t.Errorf("recipient status = %+v", got)
	}
}

func TestSendFailedEmails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","job_id":"job-2",
			"emails":["ok@example.com"],
			"failed_emails":{
				"bad@example.com":"invalid",
				"unsub@example.com":"unsubscribed",
				"dup@example.com":"duplicate"
			}}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	msg := baseMessage()
	msg.To = []email.Address{
		{Email: "ok@example.com"},
		{Email: "bad@example.com"},
		{Email: "unsub@example.com"},
		{Email: "dup@example.com"},
	}

	result, err := b.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	cases := map[string]email.SendStatus{
		"ok@example.com":    email.StatusQueued,
		"bad@example.com":   email.StatusInvalid,
		"unsub@example.com": email.StatusRejected,
		"dup@example.com":   email.StatusUnknown,
	}
	for addr, want := range cases {
		if got := result.Recipients[addr].Status; got != want {
			t.Errorf("%s status = %q, want %q", addr, got, want)
		}
	}
}

func TestSendCCUnsupported(t *testing.T) {
	b := newTestBackend("http://unused", false)
	msg := baseMessage()
	msg.CC = []email.Address{{Email: "cc@example.com"}}

	_, err := b.Send(context.Background(), msg)
	if !email.IsCapabilityError(err) {
		t.Fatalf("err = %v, want CapabilityError", err)
	}
}

func TestSendAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","message":"Invalid API key"}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	_, err := b.Send(context.Background(), baseMessage())

	apiErr, ok := err.(*email.APIError)
	if !ok {
		t.Fatalf("err = %T, want *email.APIError", err)
	}
	if apiErr.Kind != email.ErrKindAuth {
		t.Errorf("kind = %q", apiErr.Kind)
	}
}
