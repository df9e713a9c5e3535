package email

import "encoding/json"

// SendStatus is the canonical per-recipient outcome of a send attempt.
type SendStatus string

const (
	// StatusQueued means the ESP accepted the message for delivery.
	StatusQueued SendStatus = "queued"
	// StatusSent means the ESP reports the message as already sent.
	StatusSent SendStatus = "sent"
	// StatusRejected means the ESP refused this recipient (blocked,
	// suppressed, or otherwise disallowed).
	StatusRejected SendStatus = "rejected"
	// StatusInvalid means the recipient address itself was malformed.
	StatusInvalid SendStatus = "invalid"
	// StatusFailed means the send failed for this recipient.
	StatusFailed SendStatus = "failed"
	// StatusUnknown is used when the provider response gave no usable
	// per-recipient information.
	StatusUnknown SendStatus = "unknown"
)

// RecipientStatus is the send outcome for a single recipient.
type RecipientStatus struct {
	MessageID string     `json:"message_id,omitempty"`
	Status    SendStatus `json:"status"`
}

// SendResult is the normalized outcome of one provider send call,
// keyed by recipient address. Raw carries the untouched provider
// response body for callers that need provider-specific detail.
type SendResult struct {
	Provider   string                     `json:"provider"`
	Recipients map[string]RecipientStatus `json:"recipients"`
	Raw        json.RawMessage            `json:"raw,omitempty"`
}

// NewSendResult returns an empty result for the named provider.
func NewSendResult(provider string) *SendResult {
	return &SendResult{
		Provider:   provider,
		Recipients: make(map[string]RecipientStatus),
	}
}

// SetAll assigns the same status and message id to every given address.
func (r *SendResult) SetAll(addrs []Address, id string, status SendStatus) {
	for _, a := range addrs {
		r.Recipients[a.Email] = RecipientStatus{MessageID: id, Status: status}
	}
}

// Merge copies per-recipient statuses from other into r. Used when a
// batch send fans out into one provider call per recipient.
func (r *SendResult) Merge(other *SendResult) {
	if other == nil {
		return
	}
	for addr, st := range other.Recipients {
		r.Recipients[addr] = st
	}
}
