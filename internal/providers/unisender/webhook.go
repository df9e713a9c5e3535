package unisender

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/ignite/mailbridge/internal/email"
)

// Webhook verifies and decodes Unisender Go event callbacks. The
// payload's auth field holds md5 of the compact JSON body with the
// auth value replaced by the account API key.
type Webhook struct {
	apiKey string
}

func NewWebhook(apiKey string) *Webhook {
	return &Webhook{apiKey: apiKey}
}

func (w *Webhook) Name() string { return providerName }

var authField = regexp.MustCompile(`"auth"\s*:\s*"([0-9a-f]*)"`)

func (w *Webhook) verify(body []byte) error {
	loc := authField.FindSubmatchIndex(body)
	if loc == nil {
		return &email.WebhookAuthError{Provider: providerName, Reason: "missing auth field"}
	}
	claimed := string(body[loc[2]:loc[3]])
	// Splice the API key over the auth value only; every other byte,
	// including whitespace around the field, must hash exactly as sent.
	substituted := make([]byte, 0, len(body)-len(claimed)+len(w.apiKey))
	substituted = append(substituted, body[:loc[2]]...)
	substituted = append(substituted, w.apiKey...)
	substituted = append(substituted, body[loc[3]:]...)
	sum := md5.Sum(substituted)
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) != 1 {
		return &email.WebhookAuthError{Provider: providerName, Reason: "auth digest mismatch"}
	}
	return nil
}

type callback struct {
	Auth         string `json:"auth"`
	EventsByUser []struct {
		UserID int64             `json:"user_id"`
		Events []json.RawMessage `json:"events"`
	} `json:"events_by_user"`
}

type userEvent struct {
	EventName string `json:"event_name"`
	EventData struct {
		Email        string `json:"email"`
		Status       string `json:"status"`
		EventTime    string `json:"event_time"`
		URL          string `json:"url"`
		DeliveryInfo struct {
			DeliveryStatus      string `json:"delivery_status"`
			UserAgent           string `json:"user_agent"`
			DestinationResponse string `json:"destination_response"`
		} `json:"delivery_info"`
		Metadata map[string]any `json:"metadata"`
	} `json:"event_data"`
}

var statusTypes = map[string]email.EventType{
	"sent":         email.EventSent,
	"delivered":    email.EventDelivered,
	"opened":       email.EventOpened,
	"clicked":      email.EventClicked,
	"unsubscribed": email.EventUnsubscribed,
	"subscribed":   email.EventSubscribed,
	"spam":         email.EventComplained,
	"soft_bounced": email.EventDeferred,
	"hard_bounced": email.EventBounced,
}

// rejectReasons maps err_* delivery statuses to canonical reasons.
var rejectReasons = map[string]email.RejectReason{
	"err_user_unknown":      email.RejectBounced,
	"err_user_inactive":     email.RejectBounced,
	"err_mailbox_full":      email.RejectBounced,
	"err_mailbox_discarded": email.RejectBounced,
	"err_no_dns":            email.RejectBounced,
	"err_domain_invalid":    email.RejectInvalid,
	"err_unsubscribed":      email.RejectUnsubscribed,
	"err_skip_letter":       email.RejectBlocked,
	"err_spam_rejected":     email.RejectSpam,
	"err_spam_removed":      email.RejectSpam,
	"err_will_retry":        email.RejectTimedOut,
	"err_resend":            email.RejectTimedOut,
	"err_delivery_failed":   email.RejectOther,
	"err_internal":          email.RejectOther,
}

// ParseTracking verifies the auth digest and decodes all events.
func (w *Webhook) ParseTracking(r *http.Request, body []byte) ([]email.TrackingEvent, error) {
	if err := w.verify(body); err != nil {
		return nil, err
	}

	var cb callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("parsing unisender callback: %w", err)
	}

	var events []email.TrackingEvent
	for _, user := range cb.EventsByUser {
		for _, raw := range user.Events {
			var ev userEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, fmt.Errorf("parsing unisender event: %w", err)
			}
			if ev.EventName != "transactional_email_status" {
				continue
			}
			events = append(events, w.normalize(ev, raw))
		}
	}
	return events, nil
}

func (w *Webhook) normalize(ev userEvent, raw json.RawMessage) email.TrackingEvent {
	etype, ok := statusTypes[ev.EventData.Status]
	if !ok {
		etype = email.EventUnknown
	}

	out := email.TrackingEvent{
		Type:        etype,
		Recipient:   ev.EventData.Email,
		MTAResponse: ev.EventData.DeliveryInfo.DestinationResponse,
		ClickURL:    ev.EventData.URL,
		UserAgent:   ev.EventData.DeliveryInfo.UserAgent,
		Metadata:    ev.EventData.Metadata,
		Raw:         raw,
	}
	if id, ok := ev.EventData.Metadata[messageIDKey].(string); ok {
		out.MessageID = id
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", ev.EventData.EventTime); err == nil {
		out.Timestamp = ts.UTC()
	}
	if reason, ok := rejectReasons[ev.EventData.DeliveryInfo.DeliveryStatus]; ok {
		out.RejectReason = reason
	} else if etype == email.EventBounced {
		out.RejectReason = email.RejectBounced
	} else if etype == email.EventComplained {
		out.RejectReason = email.RejectSpam
	}
	return out
}
