package sparkpost

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook decodes SparkPost message and engagement events. SparkPost
// offers no payload signature; authentication is the shared Basic-Auth
// secret enforced upstream.
type Webhook struct{}

func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) Name() string { return providerName }

// msysEvent is the common shape of message_event and track_event
// records inside the msys envelope.
type msysEvent struct {
	Type           string          `json:"type"`
	EventID        string          `json:"event_id"`
	Timestamp      json.Number     `json:"timestamp"`
	MessageID      string          `json:"message_id"`
	TransmissionID string          `json:"transmission_id"`
	RcptTo         string          `json:"rcpt_to"`
	RcptMeta       map[string]any  `json:"rcpt_meta"`
	CampaignID     string          `json:"campaign_id"`
	Reason         string          `json:"reason"`
	RawReason      string          `json:"raw_reason"`
	BounceClass    string          `json:"bounce_class"`
	TargetLinkURL  string          `json:"target_link_url"`
	UserAgent      string          `json:"user_agent"`
	Content        json.RawMessage `json:"content"`
	MsgFrom        string          `json:"msg_from"`
}

type msysEnvelope struct {
	Msys map[string]json.RawMessage `json:"msys"`
}

var eventTypes = map[string]email.EventType{
	"injection":            email.EventQueued,
	"delivery":             email.EventDelivered,
	"bounce":               email.EventBounced,
	"out_of_band":          email.EventBounced,
	"delay":                email.EventDeferred,
	"policy_rejection":     email.EventRejected,
	"generation_rejection": email.EventRejected,
	"generation_failure":   email.EventFailed,
	"spam_complaint":       email.EventComplained,
	"click":                email.EventClicked,
	"amp_click":            email.EventClicked,
	"open":                 email.EventOpened,
	"initial_open":         email.EventOpened,
	"amp_open":             email.EventOpened,
	"amp_initial_open":     email.EventOpened,
	"link_unsubscribe":     email.EventUnsubscribed,
	"list_unsubscribe":     email.EventUnsubscribed,
}

// ParseTracking decodes a batch of msys event envelopes.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	var envelopes []msysEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("parsing sparkpost events: %w", err)
	}

	var events []email.TrackingEvent
	for _, env := range envelopes {
		for class, raw := range env.Msys {
			if class == "relay_message" {
				// Inbound relay; handled by ParseInbound.
				continue
			}
			var ev msysEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, fmt.Errorf("parsing %s record: %w", class, err)
			}
			events = append(events, w.normalize(ev, raw))
		}
	}
	return events, nil
}

func (w *Webhook) normalize(ev msysEvent, raw json.RawMessage) email.TrackingEvent {
	etype, ok := eventTypes[ev.Type]
	if !ok {
		etype = email.EventUnknown
	}

	out := email.TrackingEvent{
		Type:        etype,
		EventID:     ev.EventID,
		MessageID:   ev.TransmissionID,
		Recipient:   ev.RcptTo,
		MTAResponse: ev.RawReason,
		Metadata:    ev.RcptMeta,
		ClickURL:    ev.TargetLinkURL,
		UserAgent:   ev.UserAgent,
		Raw:         raw,
	}
	if out.MTAResponse == "" {
		out.MTAResponse = ev.Reason
	}
	if secs, err := ev.Timestamp.Int64(); err == nil && secs > 0 {
		out.Timestamp = time.Unix(secs, 0).UTC()
	}
	if ev.CampaignID != "" {
		out.Tags = []string{ev.CampaignID}
	}

	switch etype {
	case email.EventBounced:
		out.RejectReason = bounceReason(ev.BounceClass)
	case email.EventRejected:
		out.RejectReason = email.RejectBlocked
	case email.EventComplained:
		out.RejectReason = email.RejectSpam
	}
	return out
}

// bounceReason maps SparkPost bounce classification codes to the
// canonical reject reasons.
func bounceReason(class string) email.RejectReason {
	switch class {
	case "10", "90":
		return email.RejectInvalid
	case "25":
		return email.RejectOther
	case "51", "52", "53", "54":
		return email.RejectSpam
	case "20", "40":
		return email.RejectTimedOut
	default:
		return email.RejectBounced
	}
}

// relayContent is the inbound message body of a relay_message record.
type relayContent struct {
	Email string `json:"email"`
	To    string `json:"to"`
}

// ParseInbound decodes relay_message envelopes carrying raw MIME.
func (w *Webhook) ParseInbound(r *http.Request, body []byte) ([]email.InboundEvent, error) {
	var envelopes []msysEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("parsing sparkpost relay events: %w", err)
	}

	var events []email.InboundEvent
	for _, env := range envelopes {
		raw, ok := env.Msys["relay_message"]
		if !ok {
			continue
		}
		var ev msysEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("parsing relay_message record: %w", err)
		}
		var content relayContent
		if len(ev.Content) > 0 {
			if err := json.Unmarshal(ev.Content, &content); err != nil {
				return nil, fmt.Errorf("parsing relay content: %w", err)
			}
		}
		msg, err := email.ParseRawMIME(content.Email)
		if err != nil {
			return nil, fmt.Errorf("parsing relayed message: %w", err)
		}
		msg.EnvelopeSender = ev.MsgFrom
		msg.EnvelopeRecipient = ev.RcptTo

		events = append(events, email.InboundEvent{
			EventID: ev.EventID,
			Message: msg,
			Raw:     raw,
		})
	}
	return events, nil
}
