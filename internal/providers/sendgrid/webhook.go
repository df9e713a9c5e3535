package sendgrid

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Signature headers set by SendGrid's signed event webhook.
const (
	signatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	timestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// Webhook verifies and decodes SendGrid event batches and inbound
// parse deliveries. Event payloads are signed with an ECDSA P-256 key
// over timestamp+body.
type Webhook struct {
	publicKey *ecdsa.PublicKey
}

// NewWebhook creates a SendGrid webhook parser. key is the base64
// encoded verification key from the SendGrid dashboard; empty skips
// signature checks (Basic Auth still applies upstream).
func NewWebhook(key string) (*Webhook, error) {
	w := &Webhook{}
	if key != "" {
		der, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decoding sendgrid webhook key: %w", err)
		}
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing sendgrid webhook key: %w", err)
		}
		ecKey, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("sendgrid webhook key is not an ECDSA key")
		}
		w.publicKey = ecKey
	}
	return w, nil
}

func (w *Webhook) Name() string { return providerName }

func (w *Webhook) verify(r *http.Request, body []byte) error {
	if w.publicKey == nil {
		return nil
	}
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get(signatureHeader))
	if err != nil {
		return &email.WebhookAuthError{Provider: providerName, Reason: "malformed signature header"}
	}
	ts := r.Header.Get(timestampHeader)
	digest := sha256.Sum256(append([]byte(ts), body...))
	if !ecdsa.VerifyASN1(w.publicKey, digest[:], sig) {
		return &email.WebhookAuthError{Provider: providerName, Reason: "signature mismatch"}
	}
	return nil
}

type sgEvent struct {
	Event       string          `json:"event"`
	Email       string          `json:"email"`
	Timestamp   int64           `json:"timestamp"`
	SGEventID   string          `json:"sg_event_id"`
	SGMessageID string          `json:"sg_message_id"`
	Reason      string          `json:"reason"`
	Response    string          `json:"response"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
	URL         string          `json:"url"`
	UserAgent   string          `json:"useragent"`
	Category    json.RawMessage `json:"category"`
	MessageID   string          `json:"bridge_message_id"`
}

var eventTypes = map[string]email.EventType{
	"processed":         email.EventQueued,
	"deferred":          email.EventDeferred,
	"delivered":         email.EventDelivered,
	"bounce":            email.EventBounced,
	"dropped":           email.EventRejected,
	"open":              email.EventOpened,
	"click":             email.EventClicked,
	"spamreport":        email.EventComplained,
	"unsubscribe":       email.EventUnsubscribed,
	"group_unsubscribe": email.EventUnsubscribed,
	"group_resubscribe": email.EventSubscribed,
}

// ParseTracking verifies the signature and decodes a batch of events.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	if err := w.verify(r, body); err != nil {
		return nil, err
	}

	var rawEvents []json.RawMessage
	if err := json.Unmarshal(body, &rawEvents); err != nil {
		return nil, fmt.Errorf("parsing sendgrid events: %w", err)
	}

	events := make([]email.TrackingEvent, 0, len(rawEvents))
	for _, raw := range rawEvents {
		var ev sgEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("parsing sendgrid event: %w", err)
		}
		events = append(events, w.normalize(ev, raw))
	}
	return events, nil
}

func (w *Webhook) normalize(ev sgEvent, raw json.RawMessage) email.TrackingEvent {
	etype, ok := eventTypes[ev.Event]
	if !ok {
		etype = email.EventUnknown
	}

	out := email.TrackingEvent{
		Type:      etype,
		EventID:   ev.SGEventID,
		Recipient: ev.Email,
		Tags:      categories(ev.Category),
		ClickURL:  ev.URL,
		UserAgent: ev.UserAgent,
		Raw:       raw,
	}
	if ev.Timestamp > 0 {
		out.Timestamp = time.Unix(ev.Timestamp, 0).UTC()
	}
	out.MessageID = ev.MessageID
	if out.MessageID == "" {
		out.MessageID = strings.SplitN(ev.SGMessageID, ".", 2)[0]
	}
	out.MTAResponse = ev.Response
	if out.MTAResponse == "" {
		out.MTAResponse = ev.Reason
	}

	switch etype {
	case email.EventBounced:
		out.RejectReason = email.RejectBounced
		if ev.Type == "blocked" {
			out.RejectReason = email.RejectBlocked
		}
	case email.EventRejected:
		out.RejectReason = droppedReason(ev.Reason)
	case email.EventComplained:
		out.RejectReason = email.RejectSpam
	}
	return out
}

func droppedReason(reason string) email.RejectReason {
	switch {
	case strings.Contains(reason, "Invalid"):
		return email.RejectInvalid
	case strings.Contains(reason, "Unsubscribed"):
		return email.RejectUnsubscribed
	case strings.Contains(reason, "Bounced"):
		return email.RejectBounced
	case strings.Contains(reason, "Spam"):
		return email.RejectSpam
	default:
		return email.RejectOther
	}
}

// categories handles SendGrid sending either a single string or a list.
func categories(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

// ParseInbound decodes an Inbound Parse delivery. With "POST the raw,
// full MIME message" enabled the form carries a single email field;
// otherwise SendGrid posts pre-parsed fields.
func (w *Webhook) ParseInbound(r *http.Request, body []byte) ([]email.InboundEvent, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("parsing inbound form: %w", err)
	}

	var msg *email.InboundMessage
	if raw := r.FormValue("email"); raw != "" {
		parsed, err := email.ParseRawMIME(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing inbound mime: %w", err)
		}
		msg = parsed
	} else {
		parsed, err := w.parseFields(r)
		if err != nil {
			return nil, err
		}
		msg = parsed
	}

	ev := email.InboundEvent{Message: msg, Raw: body}
	var envelope struct {
		From string   `json:"from"`
		To   []string `json:"to"`
	}
	if err := json.Unmarshal([]byte(r.FormValue("envelope")), &envelope); err == nil {
		msg.EnvelopeSender = envelope.From
		if len(envelope.To) > 0 {
			msg.EnvelopeRecipient = envelope.To[0]
		}
	}
	if score := r.FormValue("spam_score"); score != "" {
		fmt.Sscanf(score, "%f", &ev.SpamScore)
	}
	return []email.InboundEvent{ev}, nil
}

func (w *Webhook) parseFields(r *http.Request) (*email.InboundMessage, error) {
	msg := &email.InboundMessage{
		Subject: r.FormValue("subject"),
		Text:    r.FormValue("text"),
		HTML:    r.FormValue("html"),
	}
	if from := r.FormValue("from"); from != "" {
		msg.From = []email.Address{{Email: from}}
	}
	for _, to := range strings.Split(r.FormValue("to"), ",") {
		to = strings.TrimSpace(to)
		if to != "" {
			msg.To = append(msg.To, email.Address{Email: to})
		}
	}

	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					return nil, fmt.Errorf("opening inbound attachment: %w", err)
				}
				content, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return nil, fmt.Errorf("reading inbound attachment: %w", err)
				}
				msg.Attachments = append(msg.Attachments, email.Attachment{
					Filename:    fh.Filename,
					ContentType: fh.Header.Get("Content-Type"),
					Content:     content,
				})
			}
		}
	}
	return msg, nil
}
