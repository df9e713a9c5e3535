// Package email defines the canonical, provider-agnostic email model:
// outgoing messages, per-recipient send results, normalized tracking
// events, and parsed inbound mail. Provider packages translate between
// this model and each ESP's wire format.
package email

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Address is an email address with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// String renders the address as RFC 5322 name-addr ("Name <addr>").
func (a Address) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}

// Domain returns the lowercased domain part of the address.
func (a Address) Domain() string {
	at := strings.LastIndex(a.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(a.Email[at+1:])
}

// JoinAddresses renders a list of addresses as a comma-separated header value.
func JoinAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// Attachment is binary content attached to a message. A non-empty
// ContentID marks it as an inline image referenced from the HTML body.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
	ContentID   string `json:"content_id,omitempty"`
}

// Inline reports whether the attachment is an inline (cid-referenced) part.
func (a Attachment) Inline() bool { return a.ContentID != "" }

// B64Content returns the standard base64 encoding of the content,
// which is what every supported ESP accepts on the wire.
func (a Attachment) B64Content() string {
	return base64.StdEncoding.EncodeToString(a.Content)
}

// Message is the canonical representation of one outgoing email send.
// It is constructed by the caller, consumed by exactly one provider
// backend, and discarded. ESP-specific fields live only in ESPExtra,
// which each payload builder merges last.
type Message struct {
	From    Address   `json:"from"`
	To      []Address `json:"to,omitempty"`
	CC      []Address `json:"cc,omitempty"`
	BCC     []Address `json:"bcc,omitempty"`
	ReplyTo []Address `json:"reply_to,omitempty"`

	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`

	Attachments []Attachment      `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`

	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Template and merge fields. MergeData is keyed by recipient email;
	// its presence switches supporting providers into batch mode (each
	// recipient gets an individual message and cannot see the others).
	TemplateID      string                       `json:"template_id,omitempty"`
	MergeData       map[string]map[string]any    `json:"merge_data,omitempty"`
	MergeGlobalData map[string]any               `json:"merge_global_data,omitempty"`
	MergeMetadata   map[string]map[string]any    `json:"merge_metadata,omitempty"`
	MergeHeaders    map[string]map[string]string `json:"merge_headers,omitempty"`

	// Tracking overrides. nil leaves the ESP account default in place.
	TrackOpens  *bool `json:"track_opens,omitempty"`
	TrackClicks *bool `json:"track_clicks,omitempty"`

	SendAt         time.Time `json:"send_at,omitempty"`
	EnvelopeSender string    `json:"envelope_sender,omitempty"`

	// ESPExtra is the escape hatch: provider-specific payload fields
	// merged into the native request body after all canonical fields.
	ESPExtra map[string]any `json:"esp_extra,omitempty"`
}

// AllRecipients returns to, cc, and bcc addresses in that order.
func (m *Message) AllRecipients() []Address {
	out := make([]Address, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	out = append(out, m.BCC...)
	return out
}

// HasMergeData reports whether any per-recipient merge fields are set.
func (m *Message) HasMergeData() bool {
	return len(m.MergeData) > 0 || len(m.MergeMetadata) > 0 || len(m.MergeHeaders) > 0
}

// Validate checks the minimum shape every provider requires.
func (m *Message) Validate() error {
	if m.From.Email == "" {
		return fmt.Errorf("message has no from address")
	}
	if len(m.To)+len(m.CC)+len(m.BCC) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	return nil
}
