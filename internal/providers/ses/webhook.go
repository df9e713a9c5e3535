package ses

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/logger"
)

// Webhook decodes SES event notifications delivered through SNS.
// Authentication is the shared Basic-Auth secret enforced upstream;
// the SNS envelope itself is not signature-verified here.
type Webhook struct{}

func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) Name() string { return providerName }

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	Timestamp    string `json:"Timestamp"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	DiagnosticCode string `json:"diagnosticCode"`
}

type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID   string              `json:"messageId"`
		Timestamp   string              `json:"timestamp"`
		Destination []string            `json:"destination"`
		Tags        map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce struct {
		BounceType        string         `json:"bounceType"`
		BouncedRecipients []sesRecipient `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients  []sesRecipient `json:"complainedRecipients"`
		ComplaintFeedbackType string         `json:"complaintFeedbackType"`
	} `json:"complaint"`
	Delivery struct {
		Recipients   []string `json:"recipients"`
		SMTPResponse string   `json:"smtpResponse"`
	} `json:"delivery"`
	DeliveryDelay struct {
		DelayType         string         `json:"delayType"`
		DelayedRecipients []sesRecipient `json:"delayedRecipients"`
	} `json:"deliveryDelay"`
	Reject struct {
		Reason string `json:"reason"`
	} `json:"reject"`
	Open struct {
		UserAgent string `json:"userAgent"`
	} `json:"open"`
	Click struct {
		Link      string `json:"link"`
		UserAgent string `json:"userAgent"`
	} `json:"click"`
	Receipt struct {
		Recipients  []string `json:"recipients"`
		SpamVerdict struct {
			Status string `json:"status"`
		} `json:"spamVerdict"`
	} `json:"receipt"`
	Content string `json:"content"`
}

func decodeEnvelope(body []byte) (*snsEnvelope, *sesEvent, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("parsing sns envelope: %w", err)
	}
	if env.Type == "SubscriptionConfirmation" {
		// The operator confirms the subscription out of band.
		logger.Info("sns subscription confirmation received",
			"topic", env.TopicArn,
			"subscribe_url", env.SubscribeURL)
		return &env, nil, nil
	}
	var ev sesEvent
	if err := json.Unmarshal([]byte(env.Message), &ev); err != nil {
		return nil, nil, fmt.Errorf("parsing ses notification: %w", err)
	}
	return &env, &ev, nil
}

// ParseTracking decodes one SES event notification into canonical
// events, one per affected recipient.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	env, ev, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}

	base := email.TrackingEvent{
		MessageID: ev.Mail.MessageID,
		EventID:   env.MessageID,
		Raw:       json.RawMessage(env.Message),
	}
	if ts, err := time.Parse(time.RFC3339, ev.Mail.Timestamp); err == nil {
		base.Timestamp = ts.UTC()
	}
	for name, values := range ev.Mail.Tags {
		if strings.HasPrefix(name, "ses:") {
			continue
		}
		base.Tags = append(base.Tags, values...)
	}

	eventType := ev.EventType
	if eventType == "" {
		eventType = ev.NotificationType
	}

	perRecipient := func(tmpl email.TrackingEvent, recipients []string) []email.TrackingEvent {
		out := make([]email.TrackingEvent, 0, len(recipients))
		for _, rcpt := range recipients {
			e := tmpl
			e.Recipient = rcpt
			out = append(out, e)
		}
		return out
	}

	switch eventType {
	case "Send":
		base.Type = email.EventSent
		return perRecipient(base, ev.Mail.Destination), nil
	case "Delivery":
		base.Type = email.EventDelivered
		base.MTAResponse = ev.Delivery.SMTPResponse
		return perRecipient(base, ev.Delivery.Recipients), nil
	case "Bounce":
		base.Type = email.EventBounced
		if ev.Bounce.BounceType == "Transient" {
			base.Type = email.EventDeferred
		}
		out := make([]email.TrackingEvent, 0, len(ev.Bounce.BouncedRecipients))
		for _, rcpt := range ev.Bounce.BouncedRecipients {
			e := base
			e.Recipient = rcpt.EmailAddress
			e.MTAResponse = rcpt.DiagnosticCode
			e.RejectReason = email.RejectBounced
			out = append(out, e)
		}
		return out, nil
	case "Complaint":
		base.Type = email.EventComplained
		base.RejectReason = email.RejectSpam
		out := make([]email.TrackingEvent, 0, len(ev.Complaint.ComplainedRecipients))
		for _, rcpt := range ev.Complaint.ComplainedRecipients {
			e := base
			e.Recipient = rcpt.EmailAddress
			out = append(out, e)
		}
		return out, nil
	case "Reject":
		base.Type = email.EventRejected
		base.RejectReason = email.RejectBlocked
		base.MTAResponse = ev.Reject.Reason
		return perRecipient(base, ev.Mail.Destination), nil
	case "DeliveryDelay":
		base.Type = email.EventDeferred
		out := make([]email.TrackingEvent, 0, len(ev.DeliveryDelay.DelayedRecipients))
		for _, rcpt := range ev.DeliveryDelay.DelayedRecipients {
			e := base
			e.Recipient = rcpt.EmailAddress
			e.MTAResponse = rcpt.DiagnosticCode
			out = append(out, e)
		}
		return out, nil
	case "Open":
		base.Type = email.EventOpened
		base.UserAgent = ev.Open.UserAgent
		return perRecipient(base, ev.Mail.Destination), nil
	case "Click":
		base.Type = email.EventClicked
		base.ClickURL = ev.Click.Link
		base.UserAgent = ev.Click.UserAgent
		return perRecipient(base, ev.Mail.Destination), nil
	case "Subscription":
		base.Type = email.EventUnsubscribed
		return perRecipient(base, ev.Mail.Destination), nil
	default:
		base.Type = email.EventUnknown
		return perRecipient(base, ev.Mail.Destination), nil
	}
}

// ParseInbound decodes an SES receiving notification whose content is
// the raw MIME document (optionally base64 encoded).
func (w *Webhook) ParseInbound(r *http.Request, body []byte) ([]email.InboundEvent, error) {
	env, ev, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	if ev.NotificationType != "Received" {
		return nil, fmt.Errorf("unexpected ses notification type %q", ev.NotificationType)
	}

	raw := ev.Content
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		raw = string(decoded)
	}
	msg, err := email.ParseRawMIME(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing received message: %w", err)
	}
	if len(ev.Receipt.Recipients) > 0 {
		msg.EnvelopeRecipient = ev.Receipt.Recipients[0]
	}

	event := email.InboundEvent{
		EventID: env.MessageID,
		Message: msg,
		Raw:     json.RawMessage(env.Message),
	}
	if ts, err := time.Parse(time.RFC3339, ev.Mail.Timestamp); err == nil {
		event.Timestamp = ts.UTC()
	}
	return []email.InboundEvent{event}, nil
}
