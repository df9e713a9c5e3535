package mailgun

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
	cfg := config.MailgunConfig{
		APIKey:         "mg-key",
		BaseURL:        url,
		Domain:         "mail.example.com",
		TimeoutSeconds: 5,
	}
	return NewBackend(cfg, backend.Caps{Permissive: permissive})
}

func baseMessage() *email.Message {
	return &email.Message{
		From:    email.Address{Email: "sender@example.com"},
		To:      []email.Address{{Email: "rcpt@example.com", Name: "Rcpt"}},
		Subject: "Hello",
		Text:    "body",
	}
}

func TestSendWritesFormFields(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail.example.com/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "mg-key" {
			t.Errorf("basic auth = %q:%q", user, pass)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		form = r.MultipartForm.Value
		w.Write([]byte(`{"id":"<msg-1@mail.example.com>","message":"Queued. Thank you."}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	msg := baseMessage()
	msg.Tags = []string{"welcome", "batch"}
	msg.Metadata = map[string]any{"order": "1234"}
	msg.TrackClicks = boolPtr(false)

	result, err := b.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := form["from"]; len(got) != 1 || got[0] != "sender@example.com" {
		t.Errorf("from = %v", got)
	}
	if got := form["to"]; len(got) != 1 || got[0] != "Rcpt <rcpt@example.com>" {
		t.Errorf("to = %v", got)
	}
	if got := form["o:tag"]; len(got) != 2 {
		t.Errorf("o:tag = %v", got)
	}
	if got := form["v:order"]; len(got) != 1 || got[0] != "1234" {
		t.Errorf("v:order = %v", got)
	}
	if got := form["o:tracking-clicks"]; len(got) != 1 || got[0] != "no" {
		t.Errorf("o:tracking-clicks = %v", got)
	}

	if got := result.Recipients["rcpt@example.com"]; got.MessageID != "msg-1@mail.example.com" || got.Status != email.StatusQueued {
		t.Errorf("recipient status = %+v", got)
	}
}

func TestSendRecipientVariables(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		form = r.MultipartForm.Value
		w.Write([]byte(`{"id":"<msg-2@mail.example.com>"}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	msg := baseMessage()
	msg.To = append(msg.To, email.Address{Email: "second@example.com"})
	msg.MergeGlobalData = map[string]any{"company": "Acme"}
	msg.MergeData = map[string]map[string]any{
		"rcpt@example.com": {"name": "Rcpt"},
	}

	if _, err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	raw := form["recipient-variables"]
	if len(raw) != 1 {
		t.Fatalf("recipient-variables = %v", raw)
	}
	var vars map[string]map[string]any
	if err := json.Unmarshal([]byte(raw[0]), &vars); err != nil {
		t.Fatalf("decoding recipient-variables: %v", err)
	}
	if vars["rcpt@example.com"]["name"] != "Rcpt" || vars["rcpt@example.com"]["company"] != "Acme" {
		t.Errorf("rcpt vars = %v", vars["rcpt@example.com"])
	}
	if vars["second@example.com"]["company"] != "Acme" {
		t.Errorf("second vars = %v", vars["second@example.com"])
	}
}

func TestSendTooManyTagsStrict(t *testing.T) {
	b := newTestBackend("http://unused", false)
	msg := baseMessage()
	msg.Tags = []string{"a", "b", "c", "d"}

	_, err := b.Send(context.Background(), msg)
	if !email.IsCapabilityError(err) {
		t.Fatalf("err = %v, want CapabilityError", err)
	}
}

func TestSendTooManyTagsPermissiveTruncates(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		form = r.MultipartForm.Value
		w.Write([]byte(`{"id":"<msg-3@mail.example.com>"}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, true)
	msg := baseMessage()
	msg.Tags = []string{"a", "b", "c", "d"}

	if _, err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := form["o:tag"]; len(got) != 3 {
		t.Errorf("o:tag = %v, want 3 entries", got)
	}
}

func TestSendRejectedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"'to' parameter is not a valid address"}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	_, err := b.Send(context.Background(), baseMessage())

	apiErr, ok := err.(*email.APIError)
	if !ok {
		t.Fatalf("err = %T, want *email.APIError", err)
	}
	if apiErr.Kind != email.ErrKindRejected {
		t.Errorf("kind = %q, want %q", apiErr.Kind, email.ErrKindRejected)
	}
}

func boolPtr(v bool) *bool { return &v }
