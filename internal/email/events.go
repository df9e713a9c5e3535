package email

import (
	"encoding/json"
	"time"
)

// EventType is the canonical tracking-event vocabulary. Every provider
// webhook vocabulary maps into this fixed set; unmapped subtypes become
// EventUnknown rather than failing the batch.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventRejected     EventType = "rejected"
	EventFailed       EventType = "failed"
	EventBounced      EventType = "bounced"
	EventDeferred     EventType = "deferred"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
	EventSubscribed   EventType = "subscribed"
	EventInbound      EventType = "inbound"
	EventUnknown      EventType = "unknown"
)

// RejectReason classifies why a message was rejected or bounced.
type RejectReason string

const (
	RejectInvalid      RejectReason = "invalid"
	RejectBounced      RejectReason = "bounced"
	RejectTimedOut     RejectReason = "timed_out"
	RejectBlocked      RejectReason = "blocked"
	RejectSpam         RejectReason = "spam"
	RejectUnsubscribed RejectReason = "unsubscribed"
	RejectOther        RejectReason = "other"
)

// TrackingEvent is one normalized delivery-status event decoded from a
// provider webhook. Raw preserves the provider's own record.
type TrackingEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	// MessageID ties the event back to a SendResult recipient status.
	MessageID string `json:"message_id,omitempty"`
	// EventID is the provider's idempotency key for this event, when given.
	EventID      string          `json:"event_id,omitempty"`
	Recipient    string          `json:"recipient,omitempty"`
	RejectReason RejectReason    `json:"reject_reason,omitempty"`
	MTAResponse  string          `json:"mta_response,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	ClickURL     string          `json:"click_url,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// InboundEvent is one inbound-mail delivery decoded from a provider
// webhook.
type InboundEvent struct {
	Timestamp time.Time       `json:"timestamp,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	SpamScore float64         `json:"spam_score,omitempty"`
	Message   *InboundMessage `json:"message"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}
