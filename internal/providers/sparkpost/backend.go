// Package sparkpost adapts the canonical email model to the SparkPost
// Transmissions API and normalizes SparkPost webhook events.
package sparkpost

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

const providerName = "sparkpost"

// Backend sends mail through the SparkPost Transmissions API.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

// NewBackend creates a SparkPost send backend.
func NewBackend(cfg config.SparkPostConfig, caps backend.Caps) *Backend {
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

// SupportsBatch is true: per-recipient substitution_data rides in a
// single transmission call.
func (b *Backend) SupportsBatch() bool { return true }

type transmissionResult struct {
	Results struct {
		ID                      string `json:"id"`
		TotalAcceptedRecipients int    `json:"total_accepted_recipients"`
		TotalRejectedRecipients int    `json:"total_rejected_recipients"`
	} `json:"results"`
}

// Send submits one transmission covering all recipients.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	payload, err := b.buildPayload(msg)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", b.apiKey)
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

	var parsed transmissionResult
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing transmission response: %w", err)
	}

	result := email.NewSendResult(providerName)
	result.Raw = respBody
	status := email.StatusQueued
	if parsed.Results.TotalRejectedRecipients > 0 {
		// SparkPost does not say which recipients were rejected.
		status = email.StatusUnknown
	}
	result.SetAll(msg.AllRecipients(), parsed.Results.ID, status)
	return result, nil
}

func (b *Backend) buildPayload(msg *email.Message) (map[string]any, error) {
	content := map[string]any{
		"from": map[string]any{"email": msg.From.Email, "name": msg.From.Name},
	}
	if msg.TemplateID != "" {
		content["template_id"] = msg.TemplateID
	} else {
		if msg.Subject != "" {
			content["subject"] = msg.Subject
		}
		if msg.Text != "" {
			content["text"] = msg.Text
		}
		if msg.HTML != "" {
			content["html"] = msg.HTML
		}
	}

	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	switch {
	case len(msg.ReplyTo) == 1:
		content["reply_to"] = msg.ReplyTo[0].String()
	case len(msg.ReplyTo) > 1:
		if err := b.caps.Unsupported("multiple reply_to addresses"); err != nil {
			return nil, err
		}
		content["reply_to"] = msg.ReplyTo[0].String()
	}

	var attachments, inlineImages []map[string]any
	for _, att := range msg.Attachments {
		part := map[string]any{
			"name": att.Filename,
			"type": att.ContentType,
			"data": att.B64Content(),
		}
		if att.Inline() {
			part["name"] = att.ContentID
			inlineImages = append(inlineImages, part)
		} else {
			attachments = append(attachments, part)
		}
	}
	if len(attachments) > 0 {
		content["attachments"] = attachments
	}
	if len(inlineImages) > 0 {
		content["inline_images"] = inlineImages
	}

	// All recipients go in one recipient list. cc/bcc entries keep the
	// To header of the primary recipients so clients render them
	// correctly; cc addresses additionally surface in a CC header.
	headerTo := email.JoinAddresses(msg.To)
	recipients := make([]map[string]any, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	for _, a := range msg.To {
		recipients = append(recipients, b.recipient(msg, a, ""))
	}
	for _, a := range msg.CC {
		recipients = append(recipients, b.recipient(msg, a, headerTo))
	}
	for _, a := range msg.BCC {
		recipients = append(recipients, b.recipient(msg, a, headerTo))
	}
	if len(msg.CC) > 0 {
		headers["CC"] = email.JoinAddresses(msg.CC)
	}
	if len(headers) > 0 {
		content["headers"] = headers
	}

	payload := map[string]any{
		"content":    content,
		"recipients": recipients,
	}

	if len(msg.Tags) > 0 {
		if len(msg.Tags) > 1 {
			if err := b.caps.Unsupported("multiple tags"); err != nil {
				return nil, err
			}
		}
		payload["campaign_id"] = msg.Tags[0]
	}
	if len(msg.Metadata) > 0 {
		payload["metadata"] = msg.Metadata
	}
	if len(msg.MergeGlobalData) > 0 {
		payload["substitution_data"] = msg.MergeGlobalData
	}
	if len(msg.MergeHeaders) > 0 {
		if err := b.caps.Unsupported("merge_headers"); err != nil {
			return nil, err
		}
	}
	if msg.EnvelopeSender != "" {
		payload["return_path"] = msg.EnvelopeSender
	}

	options := map[string]any{}
	if msg.TrackOpens != nil {
		options["open_tracking"] = *msg.TrackOpens
	}
	if msg.TrackClicks != nil {
		options["click_tracking"] = *msg.TrackClicks
	}
	if !msg.SendAt.IsZero() {
		options["start_time"] = msg.SendAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	backend.MergeExtra(payload, msg.ESPExtra)
	return payload, nil
}

func (b *Backend) recipient(msg *email.Message, a email.Address, headerTo string) map[string]any {
	address := map[string]any{"email": a.Email}
	if a.Name != "" {
		address["name"] = a.Name
	}
	if headerTo != "" {
		address["header_to"] = headerTo
	}
	rcpt := map[string]any{"address": address}
	if sub, ok := msg.MergeData[a.Email]; ok {
		rcpt["substitution_data"] = sub
	}
	if meta, ok := msg.MergeMetadata[a.Email]; ok {
		rcpt["metadata"] = meta
	}
	return rcpt
}
