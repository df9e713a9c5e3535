package mailpace

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook verifies and decodes MailPace webhook deliveries. Payloads
// are signed with the account's Ed25519 key; the signature arrives
// base64 encoded in the X-MailPace-Signature header.
type Webhook struct {
	publicKey ed25519.PublicKey
}

// NewWebhook creates a MailPace webhook parser. key is the base64
// encoded verification key from the MailPace dashboard; empty skips
// signature checks (Basic Auth still applies upstream).
func NewWebhook(key string) (*Webhook, error) {
	w := &Webhook{}
	if key != "" {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decoding mailpace webhook key: %w", err)
		}
		if len(decoded) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("mailpace webhook key has %d bytes, want %d", len(decoded), ed25519.PublicKeySize)
		}
		w.publicKey = ed25519.PublicKey(decoded)
	}
	return w, nil
}

func (w *Webhook) Name() string { return providerName }

func (w *Webhook) verify(r *http.Request, body []byte) error {
	if w.publicKey == nil {
		return nil
	}
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get("X-MailPace-Signature"))
	if err != nil {
		return &email.WebhookAuthError{Provider: providerName, Reason: "malformed signature header"}
	}
	if !ed25519.Verify(w.publicKey, body, sig) {
		return &email.WebhookAuthError{Provider: providerName, Reason: "signature mismatch"}
	}
	return nil
}

type webhookEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type trackingPayload struct {
	Status    string      `json:"status"`
	ID        json.Number `json:"id"`
	MessageID string      `json:"message_id"`
	To        string      `json:"to"`
	Tags      any         `json:"tags"`
	CreatedAt string      `json:"created_at"`
}

var eventTypes = map[string]email.EventType{
	"email.queued":    email.EventQueued,
	"email.delivered": email.EventDelivered,
	"email.deferred":  email.EventDeferred,
	"email.bounced":   email.EventBounced,
	"email.spam":      email.EventRejected,
}

// ParseTracking verifies the signature and normalizes one event.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	if err := w.verify(r, body); err != nil {
		return nil, err
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing mailpace webhook: %w", err)
	}
	var payload trackingPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parsing mailpace payload: %w", err)
	}

	etype, ok := eventTypes[env.Event]
	if !ok {
		etype = email.EventUnknown
	}

	ev := email.TrackingEvent{
		Type:      etype,
		MessageID: payload.ID.String(),
		Recipient: payload.To,
		Tags:      normalizeTags(payload.Tags),
		Raw:       env.Payload,
	}
	if ts, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		ev.Timestamp = ts.UTC()
	}
	switch etype {
	case email.EventBounced:
		ev.RejectReason = email.RejectBounced
	case email.EventRejected:
		ev.RejectReason = email.RejectSpam
	}
	return []email.TrackingEvent{ev}, nil
}

// normalizeTags handles MailPace returning either a single string or
// a list.
func normalizeTags(tags any) []string {
	switch v := tags.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

type inboundPayload struct {
	ID        json.Number `json:"id"`
	Raw       string      `json:"raw"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	CreatedAt string      `json:"created_at"`
}

// ParseInbound verifies the signature and parses the raw MIME payload
// of an inbound.email event.
func (w *Webhook) ParseInbound(r *http.Request, body []byte) ([]email.InboundEvent, error) {
	if err := w.verify(r, body); err != nil {
		return nil, err
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing mailpace webhook: %w", err)
	}
	if !strings.HasPrefix(env.Event, "inbound.") {
		return nil, fmt.Errorf("unexpected mailpace event %q", env.Event)
	}
	var payload inboundPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parsing mailpace payload: %w", err)
	}

	msg, err := email.ParseRawMIME(payload.Raw)
	if err != nil {
		return nil, fmt.Errorf("parsing inbound message: %w", err)
	}
	msg.EnvelopeSender = payload.From
	msg.EnvelopeRecipient = payload.To

	ev := email.InboundEvent{
		EventID: payload.ID.String(),
		Message: msg,
		Raw:     env.Payload,
	}
	if ts, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		ev.Timestamp = ts.UTC()
	}
	return []email.InboundEvent{ev}, nil
}
