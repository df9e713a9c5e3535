package responsys

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
)

type capture struct {
	loginForm url.Values
	path      string
	auth      string
	payload   map[string]any
}

func newTestServer(t *testing.T, triggerStatus int, triggerBody string, cap *capture) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parsing login form: %v", err)
			}
			cap.loginForm = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{
				"authToken": "tok-1",
				"endPoint":  srv.URL,
			})
			return
		}
		cap.path = r.URL.Path
		cap.auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&cap.payload); err != nil {
			t.Errorf("decoding trigger payload: %v", err)
		}
		w.WriteHeader(triggerStatus)
		w.Write([]byte(triggerBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBackend(t *testing.T, srv *httptest.Server, permissive bool) *Backend {
	t.Helper()
	cfg := config.ResponsysConfig{
		Username:       "api-user",
		Password:       "api-pass",
		LoginURL:       srv.URL + "/auth/token",
		TimeoutSeconds: 5,
	}
	b, err := NewBackend(context.Background(), cfg, backend.Caps{Permissive: permissive})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func campaignMessage() *email.Message {
	return &email.Message{
		From:    email.Address{Email: "sender@example.com"},
		To:      []email.Address{{Email: "a@example.com"}, {Email: "b@example.com"}},
		Subject: "Welcome",
		MergeData: map[string]map[string]any{
			"a@example.com": {"name": "Alice"},
		},
		MergeGlobalData: map[string]any{"company": "Acme"},
		ESPExtra:        map[string]any{"campaign_name": "welcome"},
	}
}

func TestSendTriggersCampaign(t *testing.T) {
	var cap capture
	srv := newTestServer(t, http.StatusOK,
		`[{"recipientId":101,"success":true},{"recipientId":102,"success":false,"errorMessage":"RECIPIENT_STATUS_UNDELIVERABLE"}]`,
		&cap)
	b := newTestBackend(t, srv, false)

	result, err := b.Send(context.Background(), campaignMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := cap.loginForm.Get("user_name"); got != "api-user" {
		t.Errorf("login user_name = %q", got)
	}
	if got := cap.loginForm.Get("auth_type"); got != "password" {
		t.Errorf("login auth_type = %q", got)
	}
	if cap.path != "/rest/api/v1.3/campaigns/welcome/email" {
		t.Errorf("path = %q", cap.path)
	}
	if cap.auth != "tok-1" {
		t.Errorf("authorization = %q", cap.auth)
	}

	data := cap.payload["mergeTriggerRecordData"].(map[string]any)
	names := data["fieldNames"].([]any)
	if len(names) != 3 || names[0] != "EMAIL_ADDRESS_" || names[1] != "company" || names[2] != "name" {
		t.Errorf("fieldNames = %v", names)
	}

	records := data["mergeTriggerRecords"].([]any)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	first := records[0].(map[string]any)
	values := first["fieldValues"].([]any)
	if values[0] != "a@example.com" || values[1] != "Acme" || values[2] != "Alice" {
		t.Errorf("first fieldValues = %v", values)
	}
	optional := first["optionalData"].([]any)[0].(map[string]any)
	if optional["name"] != "SUBJECT" || optional["value"] != "Welcome" {
		t.Errorf("optionalData = %v", optional)
	}

	rule := cap.payload["mergeRule"].(map[string]any)
	if rule["matchColumnName1"] != "EMAIL_ADDRESS_" {
		t.Errorf("mergeRule = %v", rule)
	}

	if got := result.Recipients["a@example.com"].Status; got != email.StatusSent {
		t.Errorf("a status = %q, want %q", got, email.StatusSent)
	}
	if got := result.Recipients["b@example.com"].Status; got != email.StatusFailed {
		t.Errorf("b status = %q, want %q", got, email.StatusFailed)
	}
}

func TestSendTemplateIDNamesCampaign(t *testing.T) {
	var cap capture
	srv := newTestServer(t, http.StatusOK, `[{"recipientId":1,"success":true}]`, &cap)
	b := newTestBackend(t, srv, false)

	msg := campaignMessage()
	msg.ESPExtra = nil
	msg.TemplateID = "spring-sale"

	if _, err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if cap.path != "/rest/api/v1.3/campaigns/spring-sale/email" {
		t.Errorf("path = %q", cap.path)
	}
}

func TestSendMissingCampaign(t *testing.T) {
	var cap capture
	srv := newTestServer(t, http.StatusOK, `[]`, &cap)
	b := newTestBackend(t, srv, false)

	msg := campaignMessage()
	msg.ESPExtra = nil

	_, err := b.Send(context.Background(), msg)
	if err == nil || !strings.Contains(err.Error(), "campaign") {
		t.Fatalf("err = %v, want missing-campaign error", err)
	}
	if cap.path != "" {
		t.Errorf("trigger called at %q despite missing campaign", cap.path)
	}
}

func TestSendAttachmentsAreCapabilityError(t *testing.T) {
	var cap capture
	srv := newTestServer(t, http.StatusOK, `[]`, &cap)
	b := newTestBackend(t, srv, false)

	msg := campaignMessage()
	msg.Attachments = []email.Attachment{{Filename: "notes.txt", Content: []byte("hi")}}

	_, err := b.Send(context.Background(), msg)
	if !email.IsCapabilityError(err) {
		t.Fatalf("err = %v, want CapabilityError", err)
	}
}

func TestNewBackendLoginAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorCode":"INVALID_USER_NAME_PASSWORD"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	cfg := config.ResponsysConfig{
		Username:       "api-user",
		Password:       "wrong",
		LoginURL:       srv.URL + "/auth/token",
		TimeoutSeconds: 5,
	}
	_, err := NewBackend(context.Background(), cfg, backend.Caps{})

	var apiErr *email.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != email.ErrKindAuth {
		t.Fatalf("err = %v, want auth APIError", err)
	}
}
