// Package mailpace adapts the canonical email model to the MailPace
// API and normalizes MailPace webhook deliveries.
package mailpace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httpretry"
)

const providerName = "mailpace"

// maxRecipients is MailPace's per-field recipient limit.
const maxRecipients = 50

// Backend sends mail through the MailPace send API.
type Backend struct {
	baseURL     string
	serverToken string
	httpClient  httpretry.HTTPDoer
	caps        backend.Caps
}

// NewBackend creates a MailPace send backend.
func NewBackend(cfg config.MailPaceConfig, caps backend.Caps) *Backend {
	caps.Provider = providerName
	return &Backend{
		baseURL:     cfg.BaseURL,
		serverToken: cfg.ServerToken,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
		caps: caps,
	}
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is false: MailPace has no merge fields at all.
func (b *Backend) SupportsBatch() bool { return false }

type sendResponse struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

type errorResponse struct {
	Error  string              `json:"error"`
	Errors map[string][]string `json:"errors"`
}

// Send posts one send call covering all recipients. A 400 response
// with per-field recipient errors is translated into per-recipient
// statuses instead of failing the whole send.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	payload, err := b.buildPayload(msg)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("MailPace-Server-Token", b.serverToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &email.APIError{Provider: providerName, Kind: email.ErrKindTransport, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		if result, ok := b.parseRecipientErrors(msg, respBody); ok {
			return result, nil
		}
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
	result.SetAll(msg.AllRecipients(), parsed.ID.String(), email.StatusQueued)
	return result, nil
}

// parseRecipientErrors extracts per-recipient failures from a 400
// response. "is invalid" marks a malformed address, "contains a
// blocked address" a suppressed one.
func (b *Backend) parseRecipientErrors(msg *email.Message, body []byte) (*email.SendResult, bool) {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Errors) == 0 {
		return nil, false
	}

	result := email.NewSendResult(providerName)
	result.Raw = body
	result.SetAll(msg.AllRecipients(), "", email.StatusQueued)

	matched := false
	for _, messages := range parsed.Errors {
		for _, errMsg := range messages {
			var status email.SendStatus
			switch {
			case strings.Contains(errMsg, "is invalid"):
				status = email.StatusInvalid
			case strings.Contains(errMsg, "contains a blocked address"):
				status = email.StatusRejected
			default:
				continue
			}
			for _, a := range msg.AllRecipients() {
				if strings.Contains(errMsg, a.Email) {
					result.Recipients[a.Email] = email.RecipientStatus{Status: status}
					matched = true
				}
			}
		}
	}
	return result, matched
}

func (b *Backend) buildPayload(msg *email.Message) (map[string]any, error) {
	if len(msg.AllRecipients()) > maxRecipients {
		if err := b.caps.Unsupported(fmt.Sprintf("more than %d recipients", maxRecipients)); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"from": msg.From.String(),
	}
	if len(msg.To) > 0 {
		payload["to"] = email.JoinAddresses(msg.To)
	}
	if len(msg.CC) > 0 {
		payload["cc"] = email.JoinAddresses(msg.CC)
	}
	if len(msg.BCC) > 0 {
		payload["bcc"] = email.JoinAddresses(msg.BCC)
	}
	if msg.Subject != "" {
		payload["subject"] = msg.Subject
	}
	if msg.Text != "" {
		payload["textbody"] = msg.Text
	}
	if msg.HTML != "" {
		payload["htmlbody"] = msg.HTML
	}
	if len(msg.ReplyTo) > 0 {
		if len(msg.ReplyTo) > 1 {
			if err := b.caps.Unsupported("multiple reply_to addresses"); err != nil {
				return nil, err
			}
		}
		payload["replyto"] = msg.ReplyTo[0].String()
	}

	// List-Unsubscribe is the only custom header MailPace accepts.
	for k, v := range msg.Headers {
		if strings.EqualFold(k, "List-Unsubscribe") {
			payload["list_unsubscribe"] = v
			continue
		}
		if err := b.caps.Unsupported("extra header " + k); err != nil {
			return nil, err
		}
	}

	if len(msg.Tags) > 0 {
		payload["tags"] = msg.Tags
	}
	if len(msg.Metadata) > 0 {
		if err := b.caps.Unsupported("metadata"); err != nil {
			return nil, err
		}
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
			"name":         att.Filename,
			"content_type": att.ContentType,
			"content":      att.B64Content(),
		}
		if att.Inline() {
			part["cid"] = att.ContentID
		}
		attachments = append(attachments, part)
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}

	backend.MergeExtra(payload, msg.ESPExtra)
	return payload, nil
}
