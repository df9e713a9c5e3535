// Package responsys adapts the canonical email model to the Oracle
// Responsys campaign trigger API. Responsys sends are campaign driven:
// subject lines and merge records ride in the trigger payload while
// the body comes from the campaign itself, so From, Text, HTML,
// ReplyTo and extra headers are carried by the campaign and ignored
// here rather than treated as unsupported features.
package responsys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ignite/mailbridge/internal/backend"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/httpretry"
)

const providerName = "responsys"

const campaignPath = "/rest/api/v1.3/campaigns/"

// Backend sends mail by triggering a Responsys email campaign.
type Backend struct {
	endpoint   string
	authToken  string
	httpClient httpretry.HTTPDoer
	caps       backend.Caps
}

type loginResponse struct {
	AuthToken string `json:"authToken"`
	EndPoint  string `json:"endPoint"`
}

// NewBackend authenticates against the Responsys login service. The
// login response names the per-account API endpoint; the issued token
// authorizes every later campaign trigger call.
func NewBackend(ctx context.Context, cfg config.ResponsysConfig, caps backend.Caps) (*Backend, error) {
	caps.Provider = providerName
	client := httpretry.NewRetryClient(&http.Client{
		Timeout: cfg.Timeout(),
	}, 3)

	form := url.Values{}
	form.Set("user_name", cfg.Username)
	form.Set("password", cfg.Password)
	form.Set("auth_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &email.APIError{Provider: providerName, Kind: email.ErrKindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &email.APIError{
			Provider:   providerName,
			Kind:       email.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing login response: %w", err)
	}
	if parsed.AuthToken == "" || parsed.EndPoint == "" {
		return nil, fmt.Errorf("responsys login response missing authToken or endPoint")
	}

	return &Backend{
		endpoint:   parsed.EndPoint,
		authToken:  parsed.AuthToken,
		httpClient: client,
		caps:       caps,
	}, nil
}

func (b *Backend) Name() string { return providerName }

// SupportsBatch is true: every recipient's merge record rides in one
// trigger call.
func (b *Backend) SupportsBatch() bool { return true }

type triggerResult struct {
	RecipientID  json.Number `json:"recipientId"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"errorMessage"`
}

// Send triggers the campaign named by esp_extra campaign_name (or, as
// a fallback, the message template id) with one merge record per To
// recipient. The response carries one entry per record in order.
func (b *Backend) Send(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	campaign, extra, err := b.campaignName(msg)
	if err != nil {
		return nil, err
	}
	payload, err := b.buildPayload(msg, extra)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling trigger payload: %w", err)
	}

	endpoint := b.endpoint + campaignPath + url.PathEscape(campaign) + "/email"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", b.authToken)
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
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &email.APIError{
			Provider:   providerName,
			Kind:       email.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	var parsed []triggerResult
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing trigger response: %w", err)
	}

	result := email.NewSendResult(providerName)
	result.Raw = respBody
	for i, r := range parsed {
		status := email.StatusSent
		if !r.Success {
			status = email.StatusFailed
		}
		key := r.RecipientID.String()
		if i < len(msg.To) {
			key = msg.To[i].Email
		}
		result.Recipients[key] = email.RecipientStatus{Status: status}
	}
	return result, nil
}

// campaignName resolves the campaign to trigger and returns the
// remaining ESPExtra for payload merging.
func (b *Backend) campaignName(msg *email.Message) (string, map[string]any, error) {
	extra := make(map[string]any, len(msg.ESPExtra))
	for k, v := range msg.ESPExtra {
		extra[k] = v
	}

	if name, ok := extra["campaign_name"].(string); ok && name != "" {
		delete(extra, "campaign_name")
		return name, extra, nil
	}
	if msg.TemplateID != "" {
		return msg.TemplateID, extra, nil
	}
	return "", nil, fmt.Errorf(`responsys needs a campaign: set template_id or esp_extra {"campaign_name": "..."}`)
}

func (b *Backend) buildPayload(msg *email.Message, extra map[string]any) (map[string]any, error) {
	if len(msg.CC) > 0 || len(msg.BCC) > 0 {
		if err := b.caps.Unsupported("cc/bcc recipients"); err != nil {
			return nil, err
		}
	}
	if len(msg.Attachments) > 0 {
		if err := b.caps.Unsupported("attachments"); err != nil {
			return nil, err
		}
	}
	if len(msg.Tags) > 0 {
		if err := b.caps.Unsupported("tags"); err != nil {
			return nil, err
		}
	}
	if len(msg.Metadata) > 0 {
		if err := b.caps.Unsupported("metadata"); err != nil {
			return nil, err
		}
	}
	if len(msg.MergeMetadata) > 0 || len(msg.MergeHeaders) > 0 {
		if err := b.caps.Unsupported("merge_metadata"); err != nil {
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

	keys := make(map[string]struct{})
	for k := range msg.MergeGlobalData {
		keys[k] = struct{}{}
	}
	for _, data := range msg.MergeData {
		for k := range data {
			keys[k] = struct{}{}
		}
	}
	mergeKeys := make([]string, 0, len(keys))
	for k := range keys {
		mergeKeys = append(mergeKeys, k)
	}
	sort.Strings(mergeKeys)

	fieldNames := append([]string{"EMAIL_ADDRESS_"}, mergeKeys...)

	records := make([]map[string]any, 0, len(msg.To))
	for _, rcpt := range msg.To {
		values := make([]any, 0, len(fieldNames))
		values = append(values, rcpt.Email)
		for _, k := range mergeKeys {
			if v, ok := msg.MergeData[rcpt.Email][k]; ok {
				values = append(values, v)
				continue
			}
			if v, ok := msg.MergeGlobalData[k]; ok {
				values = append(values, v)
				continue
			}
			values = append(values, "")
		}
		record := map[string]any{"fieldValues": values}
		if msg.Subject != "" {
			record["optionalData"] = []map[string]any{
				{"name": "SUBJECT", "value": msg.Subject},
			}
		}
		records = append(records, record)
	}

	payload := map[string]any{
		"mergeTriggerRecordData": map[string]any{
			"fieldNames":          fieldNames,
			"mergeTriggerRecords": records,
		},
		"mergeRule": defaultMergeRule(),
	}

	backend.MergeExtra(payload, extra)
	return payload, nil
}

// defaultMergeRule matches profile records on EMAIL_ADDRESS_ and
// inserts unknown recipients as opted-in profiles.
func defaultMergeRule() map[string]any {
	return map[string]any{
		"htmlValue":                  "H",
		"textValue":                  "T",
		"matchColumnName1":           "EMAIL_ADDRESS_",
		"matchColumnName2":           nil,
		"matchOperator":              "NONE",
		"optinValue":                 "I",
		"optoutValue":                "O",
		"insertOnNoMatch":            true,
		"updateOnMatch":              "REPLACE_ALL",
		"defaultPermissionStatus":    "OPTIN",
		"rejectRecordIfChannelEmpty": "E",
	}
}
