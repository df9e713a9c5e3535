package mailtrap

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook decodes Mailtrap event batches. Mailtrap offers no payload
// signature; authentication is the shared Basic-Auth secret enforced
// upstream.
type Webhook struct{}

func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) Name() string { return providerName }

type mtEvent struct {
	Event           string         `json:"event"`
	Email           string         `json:"email"`
	MessageID       string         `json:"message_id"`
	EventID         string         `json:"event_id"`
	Timestamp       int64          `json:"timestamp"`
	Category        string         `json:"category"`
	CustomVariables map[string]any `json:"custom_variables"`
	Reason          string         `json:"reason"`
	Response        string         `json:"response"`
	BounceCategory  string         `json:"bounce_category"`
	UserAgent       string         `json:"user_agent"`
	URL             string         `json:"url"`
}

type eventBatch struct {
	Events []json.RawMessage `json:"events"`
}

var eventTypes = map[string]email.EventType{
	"delivery":    email.EventDelivered,
	"open":        email.EventOpened,
	"click":       email.EventClicked,
	"bounce":      email.EventBounced,
	"soft bounce": email.EventDeferred,
	"suspension":  email.EventDeferred,
	"unsubscribe": email.EventUnsubscribed,
	"spam":        email.EventComplained,
	"reject":      email.EventRejected,
}

// ParseTracking decodes a batch of Mailtrap events.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	var batch eventBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("parsing mailtrap webhook: %w", err)
	}

	events := make([]email.TrackingEvent, 0, len(batch.Events))
	for _, raw := range batch.Events {
		var ev mtEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("parsing mailtrap event: %w", err)
		}
		events = append(events, w.normalize(ev, raw))
	}
	return events, nil
}

func (w *Webhook) normalize(ev mtEvent, raw json.RawMessage) email.TrackingEvent {
	etype, ok := eventTypes[ev.Event]
	if !ok {
		etype = email.EventUnknown
	}

	out := email.TrackingEvent{
		Type:        etype,
		EventID:     ev.EventID,
		MessageID:   ev.MessageID,
		Recipient:   ev.Email,
		MTAResponse: ev.Response,
		Metadata:    ev.CustomVariables,
		ClickURL:    ev.URL,
		UserAgent:   ev.UserAgent,
		Raw:         raw,
	}
	if ev.Timestamp > 0 {
		out.Timestamp = time.Unix(ev.Timestamp, 0).UTC()
	}
	if ev.Category != "" {
		out.Tags = []string{ev.Category}
	}
	if out.MTAResponse == "" {
		out.MTAResponse = ev.Reason
	}

	switch etype {
	case email.EventBounced:
		out.RejectReason = email.RejectBounced
	case email.EventRejected:
		out.RejectReason = email.RejectBlocked
	case email.EventComplained:
		out.RejectReason = email.RejectSpam
	}
	return out
}
