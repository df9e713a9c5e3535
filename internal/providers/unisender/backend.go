// Package unisender adapts the canonical email model to the Unisender
// Go transactional API and normalizes its webhook callbacks.
package unisender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httpretry"
)

const providerName = "unisender"

// messageIDKey is the recipient metadata key carrying our generated
// message id; webhook events echo it back.
const messageIDKey = "bridge_message_id"

// toNameVar is the reserved substitution that sets the recipient's
// display name.
const toNameVar = "to_name"

// Backend sends mail through the Unisender Go email/send API.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

// NewBackend creates a Unisender Go send backend.
func NewBackend(cfg config.UnisenderConfig, caps backend.Caps) *Backend {
	caps.Provider = providerName
	return &Backend{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
		caps: caps,
	}
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is true: per-recipient substitutions and metadata ride
// in a single call.
func (b *Backend) SupportsBatch() bool { return true }

type sendResponse struct {
	Status       string            `json:"status"`
	JobID        string            `json:"job_id"`
	Emails       []string          `json:"emails"`
	FailedEmails map[string]string `json:"failed_emails"`
}

// Send posts one email/send call. Unisender does not return message
// ids, so one is generated per recipient and sent in metadata.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	ids := make(map[string]string, len(msg.To))
	for _, a := range msg.To {
		ids[a.Email] = uuid.NewString()
	}

	payload, err := b.buildPayload(msg, ids)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/email/send.json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &email.APIError{Provider: providerName, Kind: email.ErrKindTransport, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &email.APIError{
			Provider:   providerName,
			Kind:       email.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing send response: %w", err)
	}

	result := email.NewSendResult(providerName)
	result.Raw = respBody
	for _, accepted := range parsed.Emails {
		result.Recipients[accepted] = email.RecipientStatus{
			MessageID: ids[accepted],
			Status:    email.StatusQueued,
		}
	}
	for failed, reason := range parsed.FailedEmails {
		result.Recipients[failed] = email.RecipientStatus{Status: failedStatus(reason)}
	}
	return result, nil
}

// failedStatus maps Unisender's failed_emails reasons to canonical
// per-recipient statuses.
func failedStatus(reason string) email.SendStatus {
	switch reason {
	case "invalid":
		return email.StatusInvalid
	case "unsubscribed", "temporary_unavailable", "permanent_unavailable", "complained", "blocked":
		return email.StatusRejected
	case "duplicate":
		return email.StatusUnknown
	default:
		return email.StatusFailed
	}
}

func (b *Backend) buildPayload(msg *email.Message, ids map[string]string) (map[string]any, error) {
	if len(msg.CC) > 0 || len(msg.BCC) > 0 {
		if err := b.caps.Unsupported("cc/bcc"); err != nil {
			return nil, err
		}
	}

	message := map[string]any{
		"from_email": msg.From.Email,
	}
	if msg.From.Name != "" {
		message["from_name"] = msg.From.Name
	}
	if msg.Subject != "" {
		message["subject"] = msg.Subject
	}

	body := map[string]any{}
	if msg.HTML != "" {
		body["html"] = msg.HTML
	}
	if msg.Text != "" {
		body["plaintext"] = msg.Text
	}
	if len(body) > 0 {
		message["body"] = body
	}
	if msg.TemplateID != "" {
		message["template_id"] = msg.TemplateID
	}

	recipients := make([]map[string]any, 0, len(msg.To))
	for _, a := range msg.To {
		rcpt := map[string]any{"email": a.Email}

		subs := make(map[string]any, len(msg.MergeData[a.Email])+1)
		for k, v := range msg.MergeData[a.Email] {
			subs[k] = v
		}
		if a.Name != "" {
			subs[toNameVar] = a.Name
		}
		if len(subs) > 0 {
			rcpt["substitutions"] = subs
		}

		meta := map[string]any{messageIDKey: ids[a.Email]}
		for k, v := range msg.MergeMetadata[a.Email] {
			meta[k] = v
		}
		rcpt["metadata"] = meta
		recipients = append(recipients, rcpt)
	}
	message["recipients"] = recipients

	if len(msg.MergeGlobalData) > 0 {
		message["global_substitutions"] = msg.MergeGlobalData
	}
	if len(msg.MergeHeaders) > 0 {
		if err := b.caps.Unsupported("merge_headers"); err != nil {
			return nil, err
		}
	}

	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if len(msg.ReplyTo) > 0 {
		if len(msg.ReplyTo) > 1 {
			if err := b.caps.Unsupported("multiple reply_to addresses"); err != nil {
				return nil, err
			}
		}
		message["reply_to"] = msg.ReplyTo[0].Email
		if msg.ReplyTo[0].Name != "" {
			message["reply_to_name"] = msg.ReplyTo[0].Name
		}
	}
	if len(headers) > 0 {
		message["headers"] = headers
	}

	if len(msg.Tags) > 0 {
		message["tags"] = msg.Tags
	}
	if len(msg.Metadata) > 0 {
		message["metadata"] = msg.Metadata
	}
	if msg.TrackOpens != nil {
		message["track_read"] = boolFlag(*msg.TrackOpens)
	}
	if msg.TrackClicks != nil {
		message["track_links"] = boolFlag(*msg.TrackClicks)
	}
	if !msg.SendAt.IsZero() {
		message["options"] = map[string]any{
			"send_at": msg.SendAt.UTC().Format("2006-01-02 15:04:05"),
		}
	}
	if msg.EnvelopeSender != "" {
		if err := b.caps.Unsupported("envelope_sender"); err != nil {
			return nil, err
		}
	}

	var attachments, inline []map[string]any
	for _, att := range msg.Attachments {
		part := map[string]any{
			"type":    att.ContentType,
			"name":    att.Filename,
			"content": att.B64Content(),
		}
		if att.Inline() {
			part["name"] = att.ContentID
			inline = append(inline, part)
		} else {
			attachments = append(attachments, part)
		}
	}
	if len(attachments) > 0 {
		message["attachments"] = attachments
	}
	if len(inline) > 0 {
		message["inline_attachments"] = inline
	}

	backend.MergeExtra(message, msg.ESPExtra)
	return map[string]any{"message": message}, nil
}

func boolFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
