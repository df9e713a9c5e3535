package resend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook decodes Resend event deliveries. Authentication is the
// shared Basic-Auth secret enforced upstream.
type Webhook struct{}

func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) Name() string { return providerName }

type resendEvent struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string   `json:"email_id"`
		To      []string `json:"to"`
		Bounce  struct {
			Message string `json:"message"`
		} `json:"bounce"`
		Click struct {
			Link      string `json:"link"`
			UserAgent string `json:"userAgent"`
		} `json:"click"`
		Tags map[string]string `json:"tags"`
	} `json:"data"`
}

var eventTypes = map[string]email.EventType{
	"email.sent":             email.EventSent,
	"email.delivered":        email.EventDelivered,
	"email.delivery_delayed": email.EventDeferred,
	"email.bounced":          email.EventBounced,
	"email.complained":       email.EventComplained,
	"email.opened":           email.EventOpened,
	"email.clicked":          email.EventClicked,
}

// ParseTracking decodes one Resend event, fanned out per recipient.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	var ev resendEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parsing resend event: %w", err)
	}

	etype, ok := eventTypes[ev.Type]
	if !ok {
		etype = email.EventUnknown
	}

	base := email.TrackingEvent{
		Type:      etype,
		MessageID: ev.Data.EmailID,
		ClickURL:  ev.Data.Click.Link,
		UserAgent: ev.Data.Click.UserAgent,
		Raw:       body,
	}
	if ts, err := time.Parse(time.RFC3339, ev.CreatedAt); err == nil {
		base.Timestamp = ts.UTC()
	}
	if len(ev.Data.Tags) > 0 {
		meta := make(map[string]any, len(ev.Data.Tags))
		for k, v := range ev.Data.Tags {
			meta[k] = v
		}
		base.Metadata = meta
	}
	switch etype {
	case email.EventBounced:
		base.RejectReason = email.RejectBounced
		base.MTAResponse = ev.Data.Bounce.Message
	case email.EventComplained:
		base.RejectReason = email.RejectSpam
	}

	if len(ev.Data.To) == 0 {
		return []email.TrackingEvent{base}, nil
	}
	events := make([]email.TrackingEvent, 0, len(ev.Data.To))
	for _, rcpt := range ev.Data.To {
		e := base
		e.Recipient = rcpt
		events = append(events, e)
	}
	return events, nil
}
