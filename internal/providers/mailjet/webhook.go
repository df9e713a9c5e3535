package mailjet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook decodes Mailjet event callbacks. Mailjet offers no payload
// signature; authentication is the shared Basic-Auth secret enforced
// upstream.
type Webhook struct{}

func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) Name() string { return providerName }

type mjEvent struct {
	Event          string          `json:"event"`
	Time           int64           `json:"time"`
	MessageID      int64           `json:"MessageID"`
	Email          string          `json:"email"`
	Campaign       string          `json:"mj_campaign_id"`
	CustomCampaign string          `json:"customcampaign"`
	SMTPReply      string          `json:"smtp_reply"`
	Error          string          `json:"error"`
	ErrorRelatedTo string          `json:"error_related_to"`
	HardBounce     bool            `json:"hard_bounce"`
	Blocked        bool            `json:"blocked"`
	URL            string          `json:"url"`
	Agent          string          `json:"agent"`
	Payload        json.RawMessage `json:"Payload"`
}

// ParseTracking decodes a callback carrying either a single event
// object or a grouped array of them.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		// Ungrouped callbacks post a single object.
		raw = []json.RawMessage{body}
	}

	events := make([]email.TrackingEvent, 0, len(raw))
	for _, item := range raw {
		var ev mjEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			return nil, fmt.Errorf("parsing mailjet event: %w", err)
		}
		events = append(events, w.normalize(ev, item))
	}
	return events, nil
}

func (w *Webhook) normalize(ev mjEvent, raw json.RawMessage) email.TrackingEvent {
	out := email.TrackingEvent{
		Recipient:   ev.Email,
		MTAResponse: ev.SMTPReply,
		ClickURL:    ev.URL,
		UserAgent:   ev.Agent,
		Raw:         raw,
	}
	if ev.MessageID != 0 {
		out.MessageID = strconv.FormatInt(ev.MessageID, 10)
	}
	if ev.Time > 0 {
		out.Timestamp = time.Unix(ev.Time, 0).UTC()
	}
	if ev.CustomCampaign != "" {
		out.Tags = []string{ev.CustomCampaign}
	}
	if len(ev.Payload) > 0 {
		// The payload echoes Mj-EventPayLoad back as a JSON string.
		raw := []byte(ev.Payload)
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			raw = []byte(encoded)
		}
		var meta map[string]any
		if err := json.Unmarshal(raw, &meta); err == nil {
			out.Metadata = meta
		}
	}

	switch ev.Event {
	case "sent":
		out.Type = email.EventDelivered
	case "open":
		out.Type = email.EventOpened
	case "click":
		out.Type = email.EventClicked
	case "bounce":
		out.Type = email.EventBounced
		if !ev.HardBounce {
			out.Type = email.EventDeferred
		}
		out.RejectReason = bounceReason(ev)
	case "blocked":
		out.Type = email.EventRejected
		out.RejectReason = email.RejectBlocked
	case "spam":
		out.Type = email.EventComplained
		out.RejectReason = email.RejectSpam
	case "unsub":
		out.Type = email.EventUnsubscribed
	default:
		out.Type = email.EventUnknown
	}
	if out.MTAResponse == "" && ev.Error != "" {
		out.MTAResponse = ev.Error
	}
	return out
}

func bounceReason(ev mjEvent) email.RejectReason {
	switch ev.Error {
	case "user unknown", "mailbox inactive":
		return email.RejectInvalid
	case "blacklisted", "spam reporter":
		return email.RejectBlocked
	case "content blocked", "policy issue":
		return email.RejectSpam
	default:
		return email.RejectBounced
	}
}
