// Package mailjet adapts the canonical email model to the Mailjet v3
// Send API and normalizes Mailjet event callbacks.
package mailjet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httpretry"
)

const providerName = "mailjet"

// Backend sends mail through the Mailjet v3 Send API.
type Backend struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

// NewBackend creates a Mailjet send backend.
func NewBackend(cfg config.MailjetConfig, caps backend.Caps) *Backend {
	caps.Provider = providerName
	return &Backend{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
		caps: caps,
	}
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is true: a Recipients list with per-entry Vars sends
// an individual message to each recipient.
func (b *Backend) SupportsBatch() bool { return true }

type sendResponse struct {
	Sent []struct {
		Email     string `json:"Email"`
		MessageID int64  `json:"MessageID"`
	} `json:"Sent"`
}

// Send posts one v3 send call. Merge data switches to the Recipients
// list form, which is incompatible with cc/bcc.
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
	req.SetBasicAuth(b.apiKey, b.secretKey)
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
	result.SetAll(msg.AllRecipients(), "", email.StatusUnknown)
	for _, sent := range parsed.Sent {
		result.Recipients[sent.Email] = email.RecipientStatus{
			MessageID: strconv.FormatInt(sent.MessageID, 10),
			Status:    email.StatusQueued,
		}
	}
	return result, nil
}

func (b *Backend) buildPayload(msg *email.Message) (map[string]any, error) {
	payload := map[string]any{
		"FromEmail": msg.From.Email,
	}
	if msg.From.Name != "" {
		payload["FromName"] = msg.From.Name
	}
	if msg.Subject != "" {
		payload["Subject"] = msg.Subject
	}
	if msg.Text != "" {
		payload["Text-part"] = msg.Text
	}
	if msg.HTML != "" {
		payload["Html-part"] = msg.HTML
	}

	if msg.HasMergeData() || len(msg.MergeGlobalData) > 0 {
		// Recipients-list mode: cc/bcc would leak the batch to every
		// recipient, so the combination is refused.
		if len(msg.CC) > 0 || len(msg.BCC) > 0 {
			if err := b.caps.Unsupported("cc/bcc with merge data"); err != nil {
				return nil, err
			}
		}
		if len(msg.MergeHeaders) > 0 {
			if err := b.caps.Unsupported("merge_headers"); err != nil {
				return nil, err
			}
		}
		recipients := make([]map[string]any, 0, len(msg.To))
		for _, a := range msg.To {
			rcpt := map[string]any{"Email": a.Email}
			if a.Name != "" {
				rcpt["Name"] = a.Name
			}
			vars := make(map[string]any, len(msg.MergeGlobalData))
			for k, v := range msg.MergeGlobalData {
				vars[k] = v
			}
			for k, v := range msg.MergeData[a.Email] {
				vars[k] = v
			}
			if len(vars) > 0 {
				rcpt["Vars"] = vars
			}
			recipients = append(recipients, rcpt)
		}
		payload["Recipients"] = recipients
		if len(msg.MergeMetadata) > 0 {
			if err := b.caps.Unsupported("merge_metadata"); err != nil {
				return nil, err
			}
		}
	} else {
		payload["To"] = email.JoinAddresses(msg.To)
		if len(msg.CC) > 0 {
			payload["Cc"] = email.JoinAddresses(msg.CC)
		}
		if len(msg.BCC) > 0 {
			payload["Bcc"] = email.JoinAddresses(msg.BCC)
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
		headers["Reply-To"] = msg.ReplyTo[0].String()
	}
	if len(headers) > 0 {
		payload["Headers"] = headers
	}

	if msg.TemplateID != "" {
		id, err := strconv.ParseInt(msg.TemplateID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mailjet template id must be numeric: %q", msg.TemplateID)
		}
		payload["Mj-TemplateID"] = id
		payload["Mj-TemplateLanguage"] = true
	}

	if len(msg.Tags) > 0 {
		if len(msg.Tags) > 1 {
			if err := b.caps.Unsupported("multiple tags"); err != nil {
				return nil, err
			}
		}
		payload["Mj-campaign"] = msg.Tags[0]
	}
	if len(msg.Metadata) > 0 {
		encoded, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		payload["Mj-EventPayLoad"] = string(encoded)
	}
	if msg.TrackOpens != nil {
		payload["Mj-trackopen"] = trackFlag(*msg.TrackOpens)
	}
	if msg.TrackClicks != nil {
		payload["Mj-trackclick"] = trackFlag(*msg.TrackClicks)
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

	var attachments, inline []map[string]any
	for _, att := range msg.Attachments {
		part := map[string]any{
			"Content-type": att.ContentType,
			"Filename":     att.Filename,
			"content":      att.B64Content(),
		}
		if att.Inline() {
			part["Filename"] = att.ContentID
			inline = append(inline, part)
		} else {
			attachments = append(attachments, part)
		}
	}
	if len(attachments) > 0 {
		payload["Attachments"] = attachments
	}
	if len(inline) > 0 {
		payload["Inline_attachments"] = inline
	}

	backend.MergeExtra(payload, msg.ESPExtra)
	return payload, nil
}

// trackFlag maps a tri-state override to Mailjet's 1=off, 2=on scheme.
func trackFlag(enabled bool) int {
	if enabled {
		return 2
	}
	return 1
}
