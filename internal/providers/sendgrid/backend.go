// Package sendgrid adapts the canonical email model to the SendGrid
// v3 Mail Send API and normalizes SendGrid event and inbound-parse
// webhooks.
package sendgrid

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

const providerName = "sendgrid"

// maxCategories is SendGrid's per-message category limit.
const maxCategories = 10

// messageIDArg is the custom arg carrying our generated message id, so
// webhook events can be tied back to send results.
const messageIDArg = "bridge_message_id"

// Backend sends mail through the SendGrid v3 Mail Send API.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

// NewBackend creates a SendGrid send backend.
func NewBackend(cfg config.SendGridConfig, caps backend.Caps) *Backend {
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

// SupportsBatch is true: one personalization per recipient carries
// individual template data.
func (b *Backend) SupportsBatch() bool { return true }

// Send posts one mail/send call. SendGrid answers 202 with no body;
// the message id is generated here and travels as a custom arg.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	messageID := uuid.NewString()
	payload, err := b.buildPayload(msg, messageID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/mail/send", bytes.NewReader(body))
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

	result := email.NewSendResult(providerName)
	result.SetAll(msg.AllRecipients(), messageID, email.StatusQueued)
	return result, nil
}

func (b *Backend) buildPayload(msg *email.Message, messageID string) (map[string]any, error) {
	payload := map[string]any{
		"from": addressObject(msg.From),
	}
	if msg.Subject != "" {
		payload["subject"] = msg.Subject
	}

	personalizations, err := b.personalizations(msg)
	if err != nil {
		return nil, err
	}
	payload["personalizations"] = personalizations

	customArgs := map[string]string{messageIDArg: messageID}
	for k, v := range msg.Metadata {
		customArgs[k] = fmt.Sprintf("%v", v)
	}
	payload["custom_args"] = customArgs

	// Text part must precede HTML in the content list.
	var content []map[string]string
	if msg.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.Text})
	}
	if msg.HTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})
	}
	if len(content) > 0 {
		payload["content"] = content
	}

	if len(msg.ReplyTo) > 0 {
		replyTos := make([]map[string]any, len(msg.ReplyTo))
		for i, a := range msg.ReplyTo {
			replyTos[i] = addressObject(a)
		}
		payload["reply_to_list"] = replyTos
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}
	if msg.TemplateID != "" {
		payload["template_id"] = msg.TemplateID
	}
	if len(msg.Tags) > 0 {
		if len(msg.Tags) > maxCategories {
			if err := b.caps.Unsupported(fmt.Sprintf("more than %d tags", maxCategories)); err != nil {
				return nil, err
			}
			payload["categories"] = msg.Tags[:maxCategories]
		} else {
			payload["categories"] = msg.Tags
		}
	}
	if !msg.SendAt.IsZero() {
		payload["send_at"] = msg.SendAt.Unix()
	}
	if msg.EnvelopeSender != "" {
		if err := b.caps.Unsupported("envelope_sender"); err != nil {
			return nil, err
		}
	}

	tracking := map[string]any{}
	if msg.TrackOpens != nil {
		tracking["open_tracking"] = map[string]any{"enable": *msg.TrackOpens}
	}
	if msg.TrackClicks != nil {
		tracking["click_tracking"] = map[string]any{"enable": *msg.TrackClicks}
	}
	if len(tracking) > 0 {
		payload["tracking_settings"] = tracking
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

// personalizations builds either one personalization for the whole
// recipient set, or one per To recipient in batch-merge mode.
func (b *Backend) personalizations(msg *email.Message) ([]map[string]any, error) {
	if !msg.HasMergeData() && len(msg.MergeGlobalData) == 0 {
		p := map[string]any{"to": addressObjects(msg.To)}
		if len(msg.CC) > 0 {
			p["cc"] = addressObjects(msg.CC)
		}
		if len(msg.BCC) > 0 {
			p["bcc"] = addressObjects(msg.BCC)
		}
		return []map[string]any{p}, nil
	}

	out := make([]map[string]any, 0, len(msg.To))
	for _, a := range msg.To {
		p := map[string]any{"to": []map[string]any{addressObject(a)}}
		// cc/bcc repeat in every personalization; each copy of the
		// message carries them.
		if len(msg.CC) > 0 {
			p["cc"] = addressObjects(msg.CC)
		}
		if len(msg.BCC) > 0 {
			p["bcc"] = addressObjects(msg.BCC)
		}

		data := make(map[string]any, len(msg.MergeGlobalData))
		for k, v := range msg.MergeGlobalData {
			data[k] = v
		}
		for k, v := range msg.MergeData[a.Email] {
			data[k] = v
		}
		if len(data) > 0 {
			if msg.TemplateID != "" {
				p["dynamic_template_data"] = data
			} else {
				// Legacy substitutions for non-template sends.
				subs := make(map[string]string, len(data))
				for k, v := range data {
					subs[":"+k] = fmt.Sprintf("%v", v)
				}
				p["substitutions"] = subs
			}
		}
		if meta, ok := msg.MergeMetadata[a.Email]; ok {
			args := make(map[string]string, len(meta))
			for k, v := range meta {
				args[k] = fmt.Sprintf("%v", v)
			}
			p["custom_args"] = args
		}
		if hdrs, ok := msg.MergeHeaders[a.Email]; ok {
			p["headers"] = hdrs
		}
		out = append(out, p)
	}
	return out, nil
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
