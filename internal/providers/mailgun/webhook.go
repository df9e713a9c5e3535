package mailgun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook verifies and decodes Mailgun webhook deliveries. Tracking
// events carry an HMAC-SHA256 signature over timestamp+token computed
// with the account's webhook signing key.
type Webhook struct {
	signingKey string
}

func NewWebhook(signingKey string) *Webhook {
	return &Webhook{signingKey: signingKey}
}

func (w *Webhook) Name() string { return providerName }

type webhookSignature struct {
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	Signature string `json:"signature"`
}

type webhookEnvelope struct {
	Signature webhookSignature `json:"signature"`
	EventData json.RawMessage  `json:"event-data"`
}

type eventData struct {
	Event     string   `json:"event"`
	ID        string   `json:"id"`
	Timestamp float64  `json:"timestamp"`
	Recipient string   `json:"recipient"`
	Reason    string   `json:"reason"`
	Severity  string   `json:"severity"`
	Tags      []string `json:"tags"`
	URL       string   `json:"url"`
	Message   struct {
		Headers struct {
			MessageID string `json:"message-id"`
		} `json:"headers"`
	} `json:"message"`
	DeliveryStatus struct {
		Message     string `json:"message"`
		Description string `json:"description"`
		Code        any    `json:"code"`
	} `json:"delivery-status"`
	UserVariables map[string]any `json:"user-variables"`
	ClientInfo    struct {
		UserAgent string `json:"user-agent"`
	} `json:"client-info"`
}

func (w *Webhook) verify(sig webhookSignature) error {
	mac := hmac.New(sha256.New, []byte(w.signingKey))
	mac.Write([]byte(sig.Timestamp + sig.Token))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig.Signature)) {
		return &email.WebhookAuthError{Provider: providerName, Reason: "signature mismatch"}
	}
	return nil
}

// ParseTracking verifies the signature and normalizes one event.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing mailgun webhook: %w", err)
	}
	if err := w.verify(env.Signature); err != nil {
		return nil, err
	}

	var data eventData
	if err := json.Unmarshal(env.EventData, &data); err != nil {
		return nil, fmt.Errorf("parsing mailgun event-data: %w", err)
	}

	ev := email.TrackingEvent{
		EventID:   data.ID,
		Recipient: data.Recipient,
		MessageID: data.Message.Headers.MessageID,
		Tags:      data.Tags,
		Metadata:  data.UserVariables,
		ClickURL:  data.URL,
		UserAgent: data.ClientInfo.UserAgent,
		Raw:       env.EventData,
	}
	if data.Timestamp > 0 {
		ev.Timestamp = time.Unix(int64(data.Timestamp), 0).UTC()
	}
	ev.MTAResponse = data.DeliveryStatus.Message
	if ev.MTAResponse == "" {
		ev.MTAResponse = data.DeliveryStatus.Description
	}

	switch data.Event {
	case "accepted":
		ev.Type = email.EventQueued
	case "rejected":
		ev.Type = email.EventRejected
		ev.RejectReason = email.RejectBlocked
	case "delivered":
		ev.Type = email.EventDelivered
	case "failed":
		if data.Severity == "temporary" {
			ev.Type = email.EventDeferred
		} else {
			ev.Type = email.EventBounced
			ev.RejectReason = failureReason(data.Reason)
		}
	case "opened":
		ev.Type = email.EventOpened
	case "clicked":
		ev.Type = email.EventClicked
	case "complained":
		ev.Type = email.EventComplained
		ev.RejectReason = email.RejectSpam
	case "unsubscribed":
		ev.Type = email.EventUnsubscribed
	default:
		ev.Type = email.EventUnknown
	}
	return []email.TrackingEvent{ev}, nil
}

func failureReason(reason string) email.RejectReason {
	switch reason {
	case "bounce":
		return email.RejectBounced
	case "suppress-bounce", "suppress-complaint", "suppress-unsubscribe":
		return email.RejectBlocked
	case "generic", "":
		return email.RejectOther
	default:
		return email.RejectOther
	}
}

// ParseInbound decodes an inbound route delivery. Mailgun posts either
// fully parsed form fields or, for raw routes, a body-mime field with
// the complete MIME document.
func (w *Webhook) ParseInbound(r *http.Request, body []byte) ([]email.InboundEvent, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parsing mailgun inbound form: %w", err)
		}
	}

	sig := webhookSignature{
		Timestamp: r.FormValue("timestamp"),
		Token:     r.FormValue("token"),
		Signature: r.FormValue("signature"),
	}
	if err := w.verify(sig); err != nil {
		return nil, err
	}

	var msg *email.InboundMessage
	if raw := r.FormValue("body-mime"); raw != "" {
		parsed, err := email.ParseRawMIME(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing inbound mime: %w", err)
		}
		msg = parsed
	} else {
		msg = &email.InboundMessage{
			Subject: r.FormValue("subject"),
			Text:    r.FormValue("body-plain"),
			HTML:    r.FormValue("body-html"),
		}
		if from := r.FormValue("from"); from != "" {
			msg.From = []email.Address{{Email: r.FormValue("sender"), Name: ""}}
			if msg.From[0].Email == "" {
				msg.From = []email.Address{{Email: from}}
			}
		}
		if to := r.FormValue("recipient"); to != "" {
			msg.To = []email.Address{{Email: to}}
		}
		msg.MessageID = r.FormValue("Message-Id")
	}
	msg.EnvelopeSender = r.FormValue("sender")
	msg.EnvelopeRecipient = r.FormValue("recipient")

	ev := email.InboundEvent{Message: msg, Raw: body}
	if ts, err := strconv.ParseInt(sig.Timestamp, 10, 64); err == nil {
		ev.Timestamp = time.Unix(ts, 0).UTC()
	}
	return []email.InboundEvent{ev}, nil
}
