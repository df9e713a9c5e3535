// Package mailtrap adapts the canonical email model to the Mailtrap
// sending API and normalizes Mailtrap webhook events.
package mailtrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httpretry"
)

const providerName = "mailtrap"

// Backend sends mail through the Mailtrap sending API. A configured
// test inbox id routes everything to the sandbox endpoint instead.
type Backend struct {
	baseURL     string
	apiToken    string
	testInboxID string
	httpClient  httpretry.HTTPDoer
	caps        backend.Caps
}

// NewBackend creates a Mailtrap send backend.
func NewBackend(cfg config.MailtrapConfig, caps backend.Caps) *Backend {
	caps.Provider = providerName
	return &Backend{
		baseURL:     cfg.BaseURL,
		apiToken:    cfg.APIToken,
		testInboxID: cfg.TestInboxID,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
		caps: caps,
	}
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is false: template variables are global only, so
// per-recipient merge cannot be expressed.
func (b *Backend) SupportsBatch() bool { return false }

type sendResponse struct {
	Success    bool     `json:"success"`
	MessageIDs []string `json:"message_ids"`
	Errors     []string `json:"errors"`
}

// Send posts one send call. Mailtrap returns one message id per
// recipient, in to+cc+bcc order.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	payload, err := b.buildPayload(msg)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling send payload: %w", err)
	}

	url := b.baseURL + "/send"
	if b.testInboxID != "" {
		url = b.baseURL + "/send/" + b.testInboxID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Api-Token", b.apiToken)
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
	recipients := msg.AllRecipients()
	for i, a := range recipients {
		status := email.RecipientStatus{Status: email.StatusQueued}
		if i < len(parsed.MessageIDs) {
			status.MessageID = parsed.MessageIDs[i]
		}
		result.Recipients[a.Email] = status
	}
	return result, nil
}

func (b *Backend) buildPayload(msg *email.Message) (map[string]any, error) {
	payload := map[string]any{
		"from": addressObject(msg.From),
	}
	if len(msg.To) > 0 {
		payload["to"] = addressObjects(msg.To)
	}
	if len(msg.CC) > 0 {
		payload["cc"] = addressObjects(msg.CC)
	}
	if len(msg.BCC) > 0 {
		payload["bcc"] = addressObjects(msg.BCC)
	}
	if len(msg.ReplyTo) > 0 {
		if len(msg.ReplyTo) > 1 {
			if err := b.caps.Unsupported("multiple reply_to addresses"); err != nil {
				return nil, err
			}
		}
		payload["reply_to"] = addressObject(msg.ReplyTo[0])
	}

	if msg.TemplateID != "" {
		payload["template_uuid"] = msg.TemplateID
		if len(msg.MergeGlobalData) > 0 {
			payload["template_variables"] = msg.MergeGlobalData
		}
	} else {
		if msg.Subject != "" {
			payload["subject"] = msg.Subject
		}
		if msg.Text != "" {
			payload["text"] = msg.Text
		}
		if msg.HTML != "" {
			payload["html"] = msg.HTML
		}
		if len(msg.MergeGlobalData) > 0 {
			if err := b.caps.Unsupported("merge_global_data without template"); err != nil {
				return nil, err
			}
		}
	}
	// Template variables are account-global per send; per-recipient
	// merge has no representation.
	if msg.HasMergeData() {
		if err := b.caps.Unsupported("merge_data"); err != nil {
			return nil, err
		}
	}

	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}
	if len(msg.Tags) > 0 {
		if len(msg.Tags) > 1 {
			if err := b.caps.Unsupported("multiple tags"); err != nil {
				return nil, err
			}
		}
		payload["category"] = msg.Tags[0]
	}
	if len(msg.Metadata) > 0 {
		vars := make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			vars[k] = fmt.Sprintf("%v", v)
		}
		payload["custom_variables"] = vars
	}
	if msg.TrackOpens != nil || msg.TrackClicks != nil {
		if err := b.caps.Unsupported("tracking overrides"); err != nil {
			return nil, err
		}
	}
	if !msg.SendAt.IsZero() {
		if err := b.caps.Unsupported("send_at"); err != nil {
			return nil, err
		}
	}
	if msg.EnvelopeSender != "" {
		if err := b.caps.Unsupported("envelope_sender"); err != nil {
			return nil, err
		}
	}

	var attachments []map[string]any
	for _, att := range msg.Attachments {
		part := map[string]any{
			"content":  att.B64Content(),
			"type":     att.ContentType,
			"filename": att.Filename,
		}
		if att.Inline() {
			part["disposition"] = "inline"
			part["content_id"] = att.ContentID
		}
		attachments = append(attachments, part)
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}

	backend.MergeExtra(payload, msg.ESPExtra)
	return payload, nil
}

func addressObject(a email.Address) map[string]any {
	obj := map[string]any{"email": a.Email}
	if a.Name != "" {
		obj["name"] = a.Name
	}
	return obj
}

func addressObjects(addrs []email.Address) []map[string]any {
	out := make([]map[string]any, len(addrs))
	for i, a := range addrs {
		out[i] = addressObject(a)
	}
	return out
}
