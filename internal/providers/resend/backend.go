// Package resend adapts the canonical email model to the Resend API
// and normalizes Resend webhook events.
package resend

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

const providerName = "resend"

// Backend sends mail through the Resend API.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

// NewBackend creates a Resend send backend.
func NewBackend(cfg config.ResendConfig, caps backend.Caps) *Backend {
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

// SupportsBatch is false: Resend has no merge fields.
func (b *Backend) SupportsBatch() bool { return false }

type sendResponse struct {
	ID string `json:"id"`
}

// Send posts one /emails call covering all recipients.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	payload, err := b.buildPayload(msg)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
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
	result.SetAll(msg.AllRecipients(), parsed.ID, email.StatusQueued)
	return result, nil
}

func (b *Backend) buildPayload(msg *email.Message) (map[string]any, error) {
	payload := map[string]any{
		"from": msg.From.String(),
		"to":   formatAddresses(msg.To),
	}
	if len(msg.CC) > 0 {
		payload["cc"] = formatAddresses(msg.CC)
	}
	if len(msg.BCC) > 0 {
		payload["bcc"] = formatAddresses(msg.BCC)
	}
	if len(msg.ReplyTo) > 0 {
		payload["reply_to"] = formatAddresses(msg.ReplyTo)
	}
	if msg.Subject != "" {
		payload["subject"] = msg.Subject
	}
	if msg.Text != "" {
		payload["text"] = msg.Text
	}
	if msg.HTML != "" {
		payload["html"] = msg.HTML
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	// Metadata and tags both land in Resend's tags list, which only
	// allows ASCII names and values.
	var tags []map[string]string
	for _, tag := range msg.Tags {
		tags = append(tags, map[string]string{"name": "tag", "value": tag})
	}
	for k, v := range msg.Metadata {
		tags = append(tags, map[string]string{"name": k, "value": fmt.Sprintf("%v", v)})
	}
	if len(tags) > 0 {
		payload["tags"] = tags
	}

	if msg.TemplateID != "" {
		if err := b.caps.Unsupported("template_id"); err != nil {
			return nil, err
		}
	}
	if msg.HasMergeData() || len(msg.MergeGlobalData) > 0 {
		if err := b.caps.Unsupported("merge_data"); err != nil {
			return nil, err
		}
	}
	if msg.TrackOpens != nil || msg.TrackClicks != nil {
		if err := b.caps.Unsupported("tracking overrides"); err != nil {
			return nil, err
		}
	}
	if !msg.SendAt.IsZero() {
		payload["scheduled_at"] = msg.SendAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if msg.EnvelopeSender != "" {
		if err := b.caps.Unsupported("envelope_sender"); err != nil {
			return nil, err
		}
	}

	var attachments []map[string]any
	for _, att := range msg.Attachments {
		if att.Inline() {
			if err := b.caps.Unsupported("inline attachments"); err != nil {
				return nil, err
			}
			continue
		}
		attachments = append(attachments, map[string]any{
			"filename": att.Filename,
			"content":  att.B64Content(),
		})
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}

	backend.MergeExtra(payload, msg.ESPExtra)
	return payload, nil
}

func formatAddresses(addrs []email.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
