package sendgrid

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
	cfg := config.SendGridConfig{APIKey: "sg-key", BaseURL: url}
	return NewBackend(cfg, backend.Caps{Permissive: permissive})
}

func baseMessage() *email.Message {
	return &email.Message{
		From:    email.Address{Email: "sender@example.com"},
		To:      []email.Address{{Email: "rcpt@example.com"}},
		Subject: "Hello",
		Text:    "plain",
		HTML:    "<p>html</p>",
	}
}

func TestSendSinglePersonalization(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mail/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sg-key" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	msg := baseMessage()
	msg.CC = []email.Address{{Email: "cc@example.com"}}

	result, err := b.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	personalizations := captured["personalizations"].([]any)
	if len(personalizations) != 1 {
		t.Fatalf("personalizations = %d, want 1", len(personalizations))
	}

	content := captured["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("content = %d parts, want 2", len(content))
	}
	if first := content[0].(map[string]any); first["type"] != "text/plain" {
		t.Errorf("first content type = %v, want text/plain", first["type"])
	}

	rcpt := result.Recipients["rcpt@example.com"]
	if rcpt.Status != email.StatusQueued || rcpt.MessageID == "" {
		t.Errorf("recipient status = %+v", rcpt)
	}

	args := captured["custom_args"].(map[string]any)
	if args[messageIDArg] != rcpt.MessageID {
		t.Errorf("custom_args[%s] = %v, want %q", messageIDArg, args[messageIDArg], rcpt.MessageID)
	}
}

func TestSendBatchPersonalizations(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	msg := baseMessage()
	msg.To = []email.Address{{Email: "a@example.com"}, {Email: "b@example.com"}}
	msg.TemplateID = "d-template"
	msg.MergeGlobalData = map[string]any{"company": "Acme"}
	msg.MergeData = map[string]map[string]any{
		"a@example.com": {"name": "A"},
	}

	if _, err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	personalizations := captured["personalizations"].([]any)
	if len(personalizations) != 2 {
		t.Fatalf("personalizations = %d, want 2", len(personalizations))
	}

	first := personalizations[0].(map[string]any)
	data := first["dynamic_template_data"].(map[string]any)
	if data["name"] != "A" || data["company"] != "Acme" {
		t.Errorf("template data = %v", data)
	}

	second := personalizations[1].(map[string]any)
	data = second["dynamic_template_data"].(map[string]any)
	if data["company"] != "Acme" {
		t.Errorf("template data = %v", data)
	}
	if _, ok := data["name"]; ok {
		t.Errorf("second recipient got first recipient's data: %v", data)
	}
}

func TestSendSubstitutionsWithoutTemplate(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	msg := baseMessage()
	msg.MergeData = map[string]map[string]any{
		"rcpt@example.com": {"name": "Rcpt"},
	}

	if _, err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	personalizations := captured["personalizations"].([]any)
	subs := personalizations[0].(map[string]any)["substitutions"].(map[string]any)
	if subs[":name"] != "Rcpt" {
		t.Errorf("substitutions = %v", subs)
	}
}

func TestSendTooManyCategoriesStrict(t *testing.T) {
	b := newTestBackend("http://unused", false)
	msg := baseMessage()
	for i := 0; i < maxCategories+1; i++ {
		msg.Tags = append(msg.Tags, "tag")
	}

	_, err := b.Send(context.Background(), msg)
	if !email.IsCapabilityError(err) {
		t.Fatalf("err = %v, want CapabilityError", err)
	}
}

func TestSendProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"The from email does not contain a valid address."}]}`))
	}))
	defer server.Close()

	b := newTestBackend(server.URL, false)
	_, err := b.Send(context.Background(), baseMessage())

	apiErr, ok := err.(*email.APIError)
	if !ok {
		t.Fatalf("err = %T, want *email.APIError", err)
	}
	if apiErr.Kind != email.ErrKindRejected {
		t.Errorf("kind = %q", apiErr.Kind)
	}
}
