// Package mailgun adapts the canonical email model to the Mailgun
// Messages API and normalizes Mailgun webhook events.
package mailgun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httpretry"
)

const providerName = "mailgun"

// maxTags is Mailgun's per-message tag limit.
const maxTags = 3

// Backend sends mail through the Mailgun Messages API.
type Backend struct {
	baseURL    string
	apiKey     string
	domain     string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

// NewBackend creates a Mailgun send backend.
func NewBackend(cfg config.MailgunConfig, caps backend.Caps) *Backend {
	caps.Provider = providerName
	return &Backend{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
		caps: caps,
	}
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is true: recipient-variables turn one API call into
// individual per-recipient messages.
func (b *Backend) SupportsBatch() bool { return true }

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send posts one multipart form covering all recipients.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := b.writeForm(mw, msg); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	url := fmt.Sprintf("%s/v3/%s/messages", b.baseURL, b.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	// Mailgun uses Basic Auth with "api" as username
	req.SetBasicAuth("api", b.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

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
	id := strings.Trim(parsed.ID, "<>")
	result.SetAll(msg.AllRecipients(), id, email.StatusQueued)
	return result, nil
}

func (b *Backend) writeForm(mw *multipart.Writer, msg *email.Message) error {
	mw.WriteField("from", msg.From.String())
	for _, a := range msg.To {
		mw.WriteField("to", a.String())
	}
	for _, a := range msg.CC {
		mw.WriteField("cc", a.String())
	}
	for _, a := range msg.BCC {
		mw.WriteField("bcc", a.String())
	}
	if len(msg.ReplyTo) > 0 {
		if len(msg.ReplyTo) > 1 {
			if err := b.caps.Unsupported("multiple reply_to addresses"); err != nil {
				return err
			}
		}
		mw.WriteField("h:Reply-To", msg.ReplyTo[0].String())
	}
	if msg.Subject != "" {
		mw.WriteField("subject", msg.Subject)
	}
	if msg.Text != "" {
		mw.WriteField("text", msg.Text)
	}
	if msg.HTML != "" {
		mw.WriteField("html", msg.HTML)
	}
	for k, v := range msg.Headers {
		mw.WriteField("h:"+k, v)
	}
	if msg.TemplateID != "" {
		mw.WriteField("template", msg.TemplateID)
	}

	if len(msg.Tags) > maxTags {
		if err := b.caps.Unsupported(fmt.Sprintf("more than %d tags", maxTags)); err != nil {
			return err
		}
	}
	for i, tag := range msg.Tags {
		if i == maxTags {
			break
		}
		mw.WriteField("o:tag", tag)
	}

	for k, v := range msg.Metadata {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding metadata %q: %w", k, err)
		}
		mw.WriteField("v:"+k, strings.Trim(string(encoded), `"`))
	}

	if msg.HasMergeData() {
		vars, err := b.recipientVariables(msg)
		if err != nil {
			return err
		}
		mw.WriteField("recipient-variables", vars)
	}

	if msg.TrackOpens != nil {
		mw.WriteField("o:tracking-opens", yesNo(*msg.TrackOpens))
	}
	if msg.TrackClicks != nil {
		mw.WriteField("o:tracking-clicks", yesNo(*msg.TrackClicks))
	}
	if !msg.SendAt.IsZero() {
		mw.WriteField("o:deliverytime", msg.SendAt.UTC().Format(http.TimeFormat))
	}
	if msg.EnvelopeSender != "" {
		if err := b.caps.Unsupported("envelope_sender"); err != nil {
			return err
		}
	}
	if len(msg.MergeHeaders) > 0 {
		if err := b.caps.Unsupported("merge_headers"); err != nil {
			return err
		}
	}

	for _, att := range msg.Attachments {
		field := "attachment"
		name := att.Filename
		if att.Inline() {
			field = "inline"
			name = att.ContentID
		}
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			return fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := fw.Write(att.Content); err != nil {
			return fmt.Errorf("writing attachment: %w", err)
		}
	}

	for k, v := range msg.ESPExtra {
		switch val := v.(type) {
		case string:
			mw.WriteField(k, val)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding esp_extra %q: %w", k, err)
			}
			mw.WriteField(k, string(encoded))
		}
	}
	return nil
}

// recipientVariables serializes per-recipient merge data, with global
// data merged under each recipient.
func (b *Backend) recipientVariables(msg *email.Message) (string, error) {
	vars := make(map[string]map[string]any, len(msg.To))
	for _, a := range msg.To {
		merged := make(map[string]any, len(msg.MergeGlobalData))
		for k, v := range msg.MergeGlobalData {
			merged[k] = v
		}
		for k, v := range msg.MergeData[a.Email] {
			merged[k] = v
		}
		vars[a.Email] = merged
	}
	encoded, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encoding recipient-variables: %w", err)
	}
	return string(encoded), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
